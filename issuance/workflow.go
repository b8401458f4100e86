// Package issuance implements the two-phase certificate issuance workflow:
// a caller obtains a signed but uncommitted certificate together with a
// single-use confirmation token, and the certificate only becomes canonical
// when the token is confirmed before it expires.
package issuance

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/AnathPKI/anath-server-sub001/internal/util"
	"github.com/AnathPKI/anath-server-sub001/pki"
	"github.com/AnathPKI/anath-server-sub001/storage"
)

// tokenBytes is the entropy of a confirmation token; the issued token is its
// 64-character hex encoding.
const tokenBytes = 32

// Workflow wraps a SigningEngine with the tentative/confirm protocol.
// Safe for concurrent use; the pending store provides the atomic
// check-and-consume discipline.
type Workflow struct {
	engine  *pki.SigningEngine
	pending PendingStore
	certs   storage.CertificateStore
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// WorkflowOption configures a Workflow.
type WorkflowOption func(*Workflow)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) WorkflowOption {
	return func(w *Workflow) { w.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) WorkflowOption {
	return func(w *Workflow) { w.logger = logger }
}

// NewWorkflow creates a Workflow. ttl is the confirmation-token validity
// window.
func NewWorkflow(engine *pki.SigningEngine, pending PendingStore, certs storage.CertificateStore, ttl time.Duration, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		engine:  engine,
		pending: pending,
		certs:   certs,
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return w
}

// TentativelySign runs the signing engine and parks the result under a fresh
// single-use token instead of persisting it. The returned record is a
// preview; it becomes canonical only on Confirm.
func (w *Workflow) TentativelySign(ctx context.Context, csr *x509.CertificateRequest, userID string) (token string, rec *storage.CertificateRecord, err error) {
	rec, err = w.engine.Sign(ctx, csr, userID)
	if err != nil {
		return "", nil, err
	}

	token, err = util.RandomToken(tokenBytes)
	if err != nil {
		return "", nil, fmt.Errorf("generating confirmation token: %w", err)
	}
	createdAt := w.now()
	req := &PendingRequest{
		ID:        uuid.NewString(),
		Token:     token,
		Record:    rec,
		UserID:    userID,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(w.ttl),
	}
	if err := w.pending.Put(ctx, req); err != nil {
		return "", nil, fmt.Errorf("parking pending request: %w", err)
	}

	w.logger.InfoContext(ctx, "parked tentative certificate",
		slog.String("request_id", req.ID),
		slog.String("serial", rec.Serial),
		slog.String("user_id", userID),
		slog.Time("expires_at", req.ExpiresAt))
	return token, rec, nil
}

// Confirm consumes the pending entry for token and persists the certificate.
// Exactly one concurrent confirm with the same token succeeds; all others
// fail with ErrTokenNotFound. An expired token is never confirmable.
func (w *Workflow) Confirm(ctx context.Context, token, userID string) (*storage.CertificateRecord, error) {
	req, err := w.pending.TakeValid(ctx, token, userID, w.now())
	if err != nil {
		return nil, err
	}

	if err := w.certs.Save(ctx, req.Record); err != nil {
		// The entry is already consumed; the tentative result is gone and
		// the caller must re-request.
		w.logger.ErrorContext(ctx, "persisting confirmed certificate failed",
			slog.String("request_id", req.ID),
			slog.String("serial", req.Record.Serial),
			slog.Any("error", err))
		return nil, fmt.Errorf("persisting confirmed certificate: %w", err)
	}

	w.logger.InfoContext(ctx, "confirmed certificate",
		slog.String("request_id", req.ID),
		slog.String("serial", req.Record.Serial),
		slog.String("user_id", userID))
	return req.Record, nil
}

// Sweep evicts expired pending entries. Expiry is also checked lazily on
// every confirm, so sweeping is an optimization, not a correctness
// requirement.
func (w *Workflow) Sweep(ctx context.Context) int {
	evicted := w.pending.Sweep(ctx, w.now())
	if evicted > 0 {
		w.logger.InfoContext(ctx, "evicted expired pending requests", slog.Int("count", evicted))
	}
	return evicted
}
