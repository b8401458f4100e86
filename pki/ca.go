package pki

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/AnathPKI/anath-server-sub001/keystore"
)

// Key-store record names for CA material.
const (
	caKeyName  = "ca/private-key"
	caCertName = "ca/certificate"
)

// CertificateAuthority is the process-wide CA identity: certificate and
// subject are loaded once at startup and immutable thereafter; the private
// key stays encrypted in the key store and is decrypted transiently for each
// signing operation.
type CertificateAuthority struct {
	cert    *x509.Certificate
	certPEM []byte
	keys    *keystore.KeyStore
}

// InitCA generates a fresh ECDSA P-256 keypair and self-signed root
// certificate, stores both encrypted in the key store, and returns the
// ready CA. It fails with ErrCAAlreadyInitialized when CA material exists.
func InitCA(ctx context.Context, keys *keystore.KeyStore, subject pkix.Name, validityYears int) (*CertificateAuthority, error) {
	if _, err := keys.Get(ctx, caCertName); err == nil {
		return nil, ErrCAAlreadyInitialized
	} else if !errors.Is(err, keystore.ErrSecretNotFound) {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating CA key: %w", err)
	}

	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               subject,
		NotBefore:             now,
		NotAfter:              now.AddDate(validityYears, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("creating CA certificate: %w", err)
	}

	keyPEM, err := encodeECKeyPEM(key)
	if err != nil {
		return nil, fmt.Errorf("encoding CA key: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	return storeCA(ctx, keys, certPEM, keyPEM)
}

// ImportCA stores externally supplied PEM-encoded CA material. The key must
// match the certificate's public key.
func ImportCA(ctx context.Context, keys *keystore.KeyStore, certPEM, keyPEM []byte) (*CertificateAuthority, error) {
	cert, err := parseCertificatePEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("CA certificate: %w", err)
	}
	if !cert.IsCA {
		return nil, fmt.Errorf("certificate is not a CA certificate")
	}
	key, err := parseECKeyPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("CA private key: %w", err)
	}
	if !key.PublicKey.Equal(cert.PublicKey) {
		return nil, fmt.Errorf("CA private key does not match certificate")
	}
	return storeCA(ctx, keys, certPEM, keyPEM)
}

func storeCA(ctx context.Context, keys *keystore.KeyStore, certPEM, keyPEM []byte) (*CertificateAuthority, error) {
	if err := keys.Put(ctx, caKeyName, keyPEM); err != nil {
		return nil, fmt.Errorf("storing CA private key: %w", err)
	}
	if err := keys.Put(ctx, caCertName, certPEM); err != nil {
		return nil, fmt.Errorf("storing CA certificate: %w", err)
	}
	cert, err := parseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	return &CertificateAuthority{cert: cert, certPEM: certPEM, keys: keys}, nil
}

// OpenCA loads the CA certificate from the key store. The private key stays
// at rest until a signing operation needs it.
func OpenCA(ctx context.Context, keys *keystore.KeyStore) (*CertificateAuthority, error) {
	certPEM, err := keys.Get(ctx, caCertName)
	if err != nil {
		if errors.Is(err, keystore.ErrSecretNotFound) {
			return nil, ErrCANotInitialized
		}
		return nil, fmt.Errorf("loading CA certificate: %w", err)
	}
	cert, err := parseCertificatePEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("CA certificate: %w", err)
	}
	return &CertificateAuthority{cert: cert, certPEM: certPEM, keys: keys}, nil
}

// Certificate returns the CA certificate.
func (ca *CertificateAuthority) Certificate() *x509.Certificate {
	return ca.cert
}

// CertificatePEM returns the PEM encoding of the CA certificate.
func (ca *CertificateAuthority) CertificatePEM() []byte {
	return ca.certPEM
}

// Subject returns the CA subject name.
func (ca *CertificateAuthority) Subject() pkix.Name {
	return ca.cert.Subject
}

// Signer decrypts the CA private key and returns a transient crypto.Signer.
// The caller must invoke release as soon as the signing operation completes;
// the key is never retained across calls.
func (ca *CertificateAuthority) Signer(ctx context.Context) (crypto.Signer, func(), error) {
	keyBuf, err := ca.keys.Open(ctx, caKeyName)
	if err != nil {
		if errors.Is(err, keystore.ErrSecretNotFound) {
			return nil, nil, ErrCANotInitialized
		}
		return nil, nil, fmt.Errorf("loading CA private key: %w", err)
	}
	defer keyBuf.Destroy()

	key, err := parseECKeyPEM(keyBuf.Bytes())
	if err != nil {
		return nil, nil, fmt.Errorf("CA private key: %w", err)
	}
	release := func() {
		// Best-effort scrub of the private scalar.
		key.D.SetInt64(0)
	}
	return key, release, nil
}

// ---------------------------------------------------------------------------
// PEM helpers
// ---------------------------------------------------------------------------

func parseCertificatePEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, ErrInvalidPEM
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	return cert, nil
}

func parseECKeyPEM(keyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, ErrInvalidPEM
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an ECDSA key", ErrInvalidPEM)
		}
		return ecKey, nil
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPEM, block.Type)
	}
}

func encodeECKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
