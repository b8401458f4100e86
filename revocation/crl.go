package revocation

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/AnathPKI/anath-server-sub001/pki"
	"github.com/AnathPKI/anath-server-sub001/storage"
)

// Builder regenerates the CRL wholesale from the set of revoked
// certificates. Rebuilds are serialized: a second concurrent rebuild waits
// for the first, then produces the next consistent snapshot.
type Builder struct {
	ca       *pki.CertificateAuthority
	certs    storage.CertificateStore
	crls     storage.CRLStore
	validity time.Duration
	now      func() time.Time

	mu         sync.Mutex
	currentDER []byte
	nextUpdate time.Time
	number     int64
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithBuilderClock replaces the wall clock, for tests.
func WithBuilderClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a CRL builder. validity is the CRL validity window
// (nextUpdate - thisUpdate). A previously persisted CRL, if any, is loaded
// so freshness checks survive restarts.
func NewBuilder(ctx context.Context, ca *pki.CertificateAuthority, certs storage.CertificateStore, crls storage.CRLStore, validity time.Duration, opts ...BuilderOption) *Builder {
	b := &Builder{
		ca:       ca,
		certs:    certs,
		crls:     crls,
		validity: validity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if der, err := crls.LoadCRL(ctx); err == nil {
		b.cacheLocked(der)
	}
	return b
}

// cacheLocked parses der and updates the cached metadata. Callers hold the
// mutex or are still inside the constructor.
func (b *Builder) cacheLocked(der []byte) {
	list, err := x509.ParseRevocationList(der)
	if err != nil {
		return
	}
	b.currentDER = der
	b.nextUpdate = list.NextUpdate
	if list.Number != nil {
		b.number = list.Number.Int64()
	}
}

// Rebuild produces a fresh CRL from a consistent snapshot of the revoked
// certificates: entries whose certificate has itself expired are dropped,
// the rest are ordered by revocation time ascending. The new CRL carries
// thisUpdate = now and nextUpdate = now + validity, is signed with the
// transiently decrypted CA key, persisted, and returned PEM-encoded.
func (b *Builder) Rebuild(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	revoked, err := b.certs.FindAllRevoked(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing revoked certificates: %w", err)
	}

	entries := make([]x509.RevocationListEntry, 0, len(revoked))
	for _, rec := range revoked {
		if !rec.NotAfter.After(now) {
			// Expired certificates need not appear in the CRL.
			continue
		}
		serialBytes, err := hex.DecodeString(rec.Serial)
		if err != nil {
			return nil, fmt.Errorf("certificate %s: malformed serial: %w", rec.Serial, err)
		}
		revokedAt := now
		if rec.RevokedAt != nil {
			revokedAt = *rec.RevokedAt
		}
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   new(big.Int).SetBytes(serialBytes),
			RevocationTime: revokedAt,
			ReasonCode:     rec.RevocationReason,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RevocationTime.Before(entries[j].RevocationTime)
	})

	template := &x509.RevocationList{
		Number:                    big.NewInt(b.number + 1),
		ThisUpdate:                now,
		NextUpdate:                now.Add(b.validity),
		RevokedCertificateEntries: entries,
	}

	signer, release, err := b.ca.Signer(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading CA signer: %w", err)
	}
	defer release()

	der, err := x509.CreateRevocationList(rand.Reader, template, b.ca.Certificate(), signer)
	if err != nil {
		return nil, fmt.Errorf("creating CRL: %w", err)
	}
	if err := b.crls.SaveCRL(ctx, der); err != nil {
		return nil, fmt.Errorf("persisting CRL: %w", err)
	}

	b.currentDER = der
	b.nextUpdate = template.NextUpdate
	b.number = template.Number.Int64()

	return encodeCRLPEM(der), nil
}

// CurrentDER returns the most recently generated CRL in DER form. It fails
// with storage.ErrNoCRL when no CRL exists yet.
func (b *Builder) CurrentDER(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.currentDER == nil {
		der, err := b.crls.LoadCRL(ctx)
		if err != nil {
			return nil, err
		}
		b.cacheLocked(der)
	}
	if b.currentDER == nil {
		return nil, storage.ErrNoCRL
	}
	return append([]byte(nil), b.currentDER...), nil
}

// CurrentPEM is CurrentDER in PEM form.
func (b *Builder) CurrentPEM(ctx context.Context) ([]byte, error) {
	der, err := b.CurrentDER(ctx)
	if err != nil {
		return nil, err
	}
	return encodeCRLPEM(der), nil
}

// NextUpdate reports when the current CRL goes stale. ok is false when no
// CRL has been generated yet.
func (b *Builder) NextUpdate() (next time.Time, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextUpdate, b.currentDER != nil
}

func encodeCRLPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: der})
}
