// Package keystore encrypts and decrypts opaque secret blobs at rest. The
// CA's private key and any other sensitive material pass through here; the
// encryption key is derived from a deployment-wide secret that is never
// stored alongside the ciphertext. Every record carries its own IV and an
// algorithm identifier so the cipher can be rotated over time without
// breaking old records.
package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/AnathPKI/anath-server-sub001/internal/util"
	"github.com/AnathPKI/anath-server-sub001/storage"
)

var (
	// ErrSecretNotConfigured is returned when the deployment secret is
	// absent. This is a startup-fatal condition.
	ErrSecretNotConfigured = errors.New("deployment secret is not configured")

	// ErrSecretNotFound is returned when the named secret record does not
	// exist in storage.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrUnknownAlgorithm is returned when a stored record uses a cipher
	// this build does not know how to open.
	ErrUnknownAlgorithm = errors.New("unknown secret encryption algorithm")
)

// AlgorithmAES256GCM identifies the only cipher currently written. Older
// records may carry other identifiers once the cipher is rotated.
const AlgorithmAES256GCM = "aes256gcm"

// masterSalt is a fixed application-scoped salt for stretching the
// deployment secret. Record keys are further separated per name via HKDF.
var masterSalt = []byte("anath:keystore:argon2id:v1")

// KeyStore provides encrypted-at-rest storage of named secrets.
//
// The master key derived from the deployment secret lives in a memguard
// Enclave and is opened only for the duration of a single Put or Get.
// Decrypted plaintext is never cached.
type KeyStore struct {
	secrets storage.SecretStore
	master  *memguard.Enclave
}

// New derives the master key from the deployment secret and returns a ready
// KeyStore. It fails with ErrSecretNotConfigured when the secret is empty.
func New(secrets storage.SecretStore, deploymentSecret string) (*KeyStore, error) {
	if deploymentSecret == "" {
		return nil, ErrSecretNotConfigured
	}
	master, err := util.DeriveArgon2idKey(deploymentSecret, masterSalt, util.DefaultArgon2idParams())
	if err != nil {
		return nil, fmt.Errorf("deriving master key: %w", err)
	}
	// NewEnclave wipes the source slice.
	return &KeyStore{
		secrets: secrets,
		master:  memguard.NewEnclave(master),
	}, nil
}

// Put encrypts plaintext under a record key bound to name and persists it.
// An existing record with the same name is replaced.
func (k *KeyStore) Put(ctx context.Context, name string, plaintext []byte) error {
	recordKey, err := k.recordKey(name)
	if err != nil {
		return err
	}
	defer util.WipeBytes(recordKey)

	iv, ciphertext, err := util.EncryptAESGCM(plaintext, recordKey, []byte(name))
	if err != nil {
		return fmt.Errorf("encrypting secret %q: %w", name, err)
	}

	return k.secrets.PutSecret(ctx, &storage.EncryptedSecret{
		Name:       name,
		Algorithm:  AlgorithmAES256GCM,
		IV:         iv,
		Ciphertext: ciphertext,
	})
}

// Get fetches and decrypts the named secret. The caller owns the returned
// plaintext and should wipe it when done; Open is the preferred variant for
// key material.
func (k *KeyStore) Get(ctx context.Context, name string) ([]byte, error) {
	secret, err := k.secrets.GetSecret(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", name, ErrSecretNotFound)
		}
		return nil, fmt.Errorf("loading secret %q: %w", name, err)
	}
	if secret.Algorithm != AlgorithmAES256GCM {
		return nil, fmt.Errorf("%s: %w: %s", name, ErrUnknownAlgorithm, secret.Algorithm)
	}

	recordKey, err := k.recordKey(name)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(recordKey)

	plaintext, err := util.DecryptAESGCM(secret.IV, secret.Ciphertext, recordKey, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("decrypting secret %q: %w", name, err)
	}
	return plaintext, nil
}

// Open is like Get but moves the plaintext straight into a memguard
// LockedBuffer. The caller must Destroy the buffer after use.
func (k *KeyStore) Open(ctx context.Context, name string) (*memguard.LockedBuffer, error) {
	plaintext, err := k.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	// NewBufferFromBytes wipes the source slice.
	return memguard.NewBufferFromBytes(plaintext), nil
}

// recordKey derives the per-record encryption key from the master key.
func (k *KeyStore) recordKey(name string) ([]byte, error) {
	masterBuf, err := k.master.Open()
	if err != nil {
		return nil, fmt.Errorf("opening master key enclave: %w", err)
	}
	defer masterBuf.Destroy()

	recordKey, err := util.HKDF(masterBuf.Bytes(), nil, []byte("anath:secret:"+name))
	if err != nil {
		return nil, fmt.Errorf("deriving record key for %q: %w", name, err)
	}
	return recordKey, nil
}
