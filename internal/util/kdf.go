package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/text/unicode/norm"
)

// Argon2idParams configures Argon2id key derivation.
type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

// DefaultArgon2idParams returns the parameters used to stretch the
// deployment secret into the key-store master key.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      AESKeySize,
	}
}

// DeriveArgon2idKey stretches a passphrase into a 32-byte key. The passphrase
// is NFKD-normalized first so that visually identical secrets typed on
// different platforms derive the same key.
func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if params.KeyLen != AESKeySize {
		return nil, fmt.Errorf("argon2id key length must be %d bytes", AESKeySize)
	}
	normalized := norm.NFKD.String(passphrase)
	return argon2.IDKey([]byte(normalized), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen), nil
}

// HKDFKeyLength is the output length of HKDF derivations.
const HKDFKeyLength = AESKeySize

// HKDF derives a subkey from seed bound to the given info string.
func HKDF(seed, salt, info []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, seed, salt, info)
	k := make([]byte, HKDFKeyLength)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}
