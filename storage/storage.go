// Package storage defines the persistence contracts for issued certificates,
// encrypted secrets and the cached CRL. The certificate lifecycle engine
// treats these as durable collaborators and never implements storage itself;
// backends live in subpackages.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateSerial is returned by Save when a certificate with the
	// same serial number already exists. Serial uniqueness is enforced
	// here, at the persistence boundary, not by the signing engine.
	ErrDuplicateSerial = errors.New("duplicate certificate serial")

	// ErrAlreadyRevoked is returned by MarkRevoked when the certificate
	// has already transitioned to the revoked status.
	ErrAlreadyRevoked = errors.New("certificate already revoked")

	// ErrNoCRL is returned by LoadCRL when no CRL has been persisted yet.
	ErrNoCRL = errors.New("no CRL has been generated")
)

// CertificateStatus is the lifecycle status of an issued certificate.
// The only legal transition is StatusIssued -> StatusRevoked.
type CertificateStatus string

const (
	StatusIssued  CertificateStatus = "issued"
	StatusRevoked CertificateStatus = "revoked"
)

// CertificateRecord is the persisted form of an issued certificate.
type CertificateRecord struct {
	Serial           string            `json:"serial"`
	Subject          string            `json:"subject"`
	NotBefore        time.Time         `json:"not_before"`
	NotAfter         time.Time         `json:"not_after"`
	PEM              string            `json:"pem"`
	UserID           string            `json:"user_id"`
	Status           CertificateStatus `json:"status"`
	RevokedAt        *time.Time        `json:"revoked_at,omitempty"`
	RevocationReason int               `json:"revocation_reason,omitempty"`
}

// Clone returns an independent copy of the record.
func (r *CertificateRecord) Clone() *CertificateRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.RevokedAt != nil {
		at := *r.RevokedAt
		c.RevokedAt = &at
	}
	return &c
}

// EncryptedSecret is an opaque secret blob encrypted at rest. The encryption
// key is a deployment-wide secret never stored alongside the ciphertext; each
// record carries its own IV and algorithm identifier so the cipher can change
// over time without breaking old records.
type EncryptedSecret struct {
	Name       string `json:"name"`
	Algorithm  string `json:"algorithm"`
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
}

// CertificateStore persists issued certificates and their status.
type CertificateStore interface {
	// Save stores a new certificate record. It fails with
	// ErrDuplicateSerial when the serial is already taken.
	Save(ctx context.Context, rec *CertificateRecord) error

	// FindBySerial returns the record with the given serial, or ErrNotFound.
	FindBySerial(ctx context.Context, serial string) (*CertificateRecord, error)

	// FindAllByUser returns every record owned by userID.
	FindAllByUser(ctx context.Context, userID string) ([]*CertificateRecord, error)

	// FindAllRevoked returns every record in the revoked status.
	FindAllRevoked(ctx context.Context) ([]*CertificateRecord, error)

	// MarkRevoked atomically transitions the record from issued to revoked,
	// stamping the revocation time and reason. It fails with ErrNotFound if
	// the serial does not exist and ErrAlreadyRevoked if the record is
	// already revoked; in the latter case the original revocation timestamp
	// is left untouched.
	MarkRevoked(ctx context.Context, serial string, at time.Time, reason int) (*CertificateRecord, error)

	// DeleteAllByUser removes every record owned by userID. Certificate
	// records are otherwise never deleted.
	DeleteAllByUser(ctx context.Context, userID string) error
}

// SecretStore persists encrypted secret records for the key store.
type SecretStore interface {
	PutSecret(ctx context.Context, secret *EncryptedSecret) error
	GetSecret(ctx context.Context, name string) (*EncryptedSecret, error)
}

// CRLStore persists the most recently generated CRL so retrieval survives
// restarts. The CRL is always replaced wholesale.
type CRLStore interface {
	SaveCRL(ctx context.Context, der []byte) error
	LoadCRL(ctx context.Context) ([]byte, error)
}
