// Package revocation marks issued certificates revoked and maintains the
// Certificate Revocation List derived from them.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AnathPKI/anath-server-sub001/storage"
)

// CRL reason codes from RFC 5280 §5.3.1.
const (
	ReasonUnspecified          = 0
	ReasonKeyCompromise        = 1
	ReasonAffiliationChanged   = 3
	ReasonSuperseded           = 4
	ReasonCessationOfOperation = 5
)

var (
	// ErrCertificateNotFound is returned when no certificate with the
	// given serial exists.
	ErrCertificateNotFound = errors.New("certificate not found")

	// ErrAlreadyRevoked is returned when the certificate was revoked
	// before. The original revocation timestamp is unchanged.
	ErrAlreadyRevoked = errors.New("certificate is already revoked")
)

// Engine transitions certificates from issued to revoked. The transition is
// atomic per serial; concurrent revocations of different serials do not
// contend.
type Engine struct {
	certs  storage.CertificateStore
	now    func() time.Time
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a revocation engine over the given certificate store.
func NewEngine(certs storage.CertificateStore, opts ...EngineOption) *Engine {
	e := &Engine{certs: certs, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return e
}

// Revoke marks the certificate revoked and stamps the revocation time.
// Revoking an unknown serial fails with ErrCertificateNotFound; revoking
// twice fails with ErrAlreadyRevoked.
func (e *Engine) Revoke(ctx context.Context, serial string, reason int) (*storage.CertificateRecord, error) {
	rec, err := e.certs.MarkRevoked(ctx, serial, e.now().UTC(), reason)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("%s: %w", serial, ErrCertificateNotFound)
		case errors.Is(err, storage.ErrAlreadyRevoked):
			return nil, fmt.Errorf("%s: %w", serial, ErrAlreadyRevoked)
		default:
			return nil, fmt.Errorf("revoking %s: %w", serial, err)
		}
	}
	e.logger.InfoContext(ctx, "revoked certificate",
		slog.String("serial", serial),
		slog.Int("reason", reason))
	return rec, nil
}

// RevokeAllByUser revokes every currently-issued certificate owned by
// userID. Each revocation is independent: one failure does not abort the
// others, and the joined error reports every failure that occurred.
func (e *Engine) RevokeAllByUser(ctx context.Context, userID string, reason int) error {
	records, err := e.certs.FindAllByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing certificates for %s: %w", userID, err)
	}

	var failures []error
	for _, rec := range records {
		if rec.Status != storage.StatusIssued {
			continue
		}
		if _, err := e.Revoke(ctx, rec.Serial, reason); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}
