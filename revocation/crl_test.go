package revocation

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnathPKI/anath-server-sub001/storage"
	"github.com/AnathPKI/anath-server-sub001/storage/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func saveRecord(t *testing.T, store *memory.Store, serial string, userID string, notAfter time.Time) {
	t.Helper()
	err := store.Save(context.Background(), &storage.CertificateRecord{
		Serial:    serial,
		Subject:   "CN=" + userID + ",O=ACME",
		NotBefore: notAfter.Add(-365 * 24 * time.Hour),
		NotAfter:  notAfter,
		PEM:       "-----BEGIN CERTIFICATE-----\n-----END CERTIFICATE-----\n",
		UserID:    userID,
		Status:    storage.StatusIssued,
	})
	require.NoError(t, err)
}

func revokeAt(t *testing.T, store *memory.Store, serial string, at time.Time) {
	t.Helper()
	_, err := store.MarkRevoked(context.Background(), serial, at, ReasonUnspecified)
	require.NoError(t, err)
}

func serialInt(t *testing.T, serial string) *big.Int {
	t.Helper()
	raw, err := hex.DecodeString(serial)
	require.NoError(t, err)
	return new(big.Int).SetBytes(raw)
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	ca := newTestCA(t)
	store := memory.NewStore()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	now := clock.Now()

	// Two live revoked certificates, revoked out of order, one expired
	// revoked certificate and one certificate still in good standing.
	saveRecord(t, store, "0a", "jane", now.Add(200*24*time.Hour))
	saveRecord(t, store, "0b", "jane", now.Add(200*24*time.Hour))
	saveRecord(t, store, "0c", "bob", now.Add(-time.Hour))
	saveRecord(t, store, "0d", "bob", now.Add(200*24*time.Hour))
	revokeAt(t, store, "0b", now.Add(-2*time.Hour))
	revokeAt(t, store, "0a", now.Add(-30*time.Minute))
	revokeAt(t, store, "0c", now.Add(-3*time.Hour))

	builder := NewBuilder(ctx, ca, store, store, 24*time.Hour, WithBuilderClock(clock.Now))
	pemCRL, err := builder.Rebuild(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, pemCRL)

	der, err := builder.CurrentDER(ctx)
	require.NoError(t, err)
	list, err := x509.ParseRevocationList(der)
	require.NoError(t, err)

	require.NoError(t, list.CheckSignatureFrom(ca.Certificate()))
	assert.Equal(t, int64(1), list.Number.Int64())
	assert.True(t, list.ThisUpdate.Before(list.NextUpdate))
	assert.True(t, list.NextUpdate.Equal(now.Add(24*time.Hour)))

	// The expired certificate is excluded and the remaining entries are in
	// ascending revocation-time order.
	require.Len(t, list.RevokedCertificateEntries, 2)
	assert.Equal(t, serialInt(t, "0b"), list.RevokedCertificateEntries[0].SerialNumber)
	assert.Equal(t, serialInt(t, "0a"), list.RevokedCertificateEntries[1].SerialNumber)
	assert.True(t, list.RevokedCertificateEntries[0].RevocationTime.
		Before(list.RevokedCertificateEntries[1].RevocationTime))
}

func TestRebuild_NumberIncrements(t *testing.T) {
	ctx := context.Background()
	ca := newTestCA(t)
	store := memory.NewStore()
	builder := NewBuilder(ctx, ca, store, store, 24*time.Hour)

	for want := int64(1); want <= 3; want++ {
		_, err := builder.Rebuild(ctx)
		require.NoError(t, err)
		der, err := builder.CurrentDER(ctx)
		require.NoError(t, err)
		list, err := x509.ParseRevocationList(der)
		require.NoError(t, err)
		assert.Equal(t, want, list.Number.Int64())
	}
}

func TestBuilder_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	ca := newTestCA(t)
	store := memory.NewStore()

	first := NewBuilder(ctx, ca, store, store, 24*time.Hour)
	_, err := first.Rebuild(ctx)
	require.NoError(t, err)
	der, err := first.CurrentDER(ctx)
	require.NoError(t, err)
	wantNext, ok := first.NextUpdate()
	require.True(t, ok)

	// A fresh builder over the same store picks up the persisted CRL.
	second := NewBuilder(ctx, ca, store, store, 24*time.Hour)
	gotDER, err := second.CurrentDER(ctx)
	require.NoError(t, err)
	assert.Equal(t, der, gotDER)

	gotNext, ok := second.NextUpdate()
	require.True(t, ok)
	assert.True(t, wantNext.Equal(gotNext))

	// And the CRL number continues from where the first builder stopped.
	_, err = second.Rebuild(ctx)
	require.NoError(t, err)
	der2, err := second.CurrentDER(ctx)
	require.NoError(t, err)
	list, err := x509.ParseRevocationList(der2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), list.Number.Int64())
}

func TestCurrentDER_NoCRL(t *testing.T) {
	ctx := context.Background()
	ca := newTestCA(t)
	store := memory.NewStore()
	builder := NewBuilder(ctx, ca, store, store, 24*time.Hour)

	_, err := builder.CurrentDER(ctx)
	assert.ErrorIs(t, err, storage.ErrNoCRL)
	_, err = builder.CurrentPEM(ctx)
	assert.ErrorIs(t, err, storage.ErrNoCRL)
	_, ok := builder.NextUpdate()
	assert.False(t, ok)
}

func TestCurrentPEM_MatchesDER(t *testing.T) {
	ctx := context.Background()
	ca := newTestCA(t)
	store := memory.NewStore()
	builder := NewBuilder(ctx, ca, store, store, 24*time.Hour)

	pemCRL, err := builder.Rebuild(ctx)
	require.NoError(t, err)
	got, err := builder.CurrentPEM(ctx)
	require.NoError(t, err)
	assert.Equal(t, pemCRL, got)
	assert.Contains(t, string(got), "X509 CRL")
}
