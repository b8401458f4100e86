package issuance

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnathPKI/anath-server-sub001/keystore"
	"github.com/AnathPKI/anath-server-sub001/pki"
	"github.com/AnathPKI/anath-server-sub001/storage"
	"github.com/AnathPKI/anath-server-sub001/storage/memory"
)

func newTestEngine(t *testing.T) *pki.SigningEngine {
	t.Helper()
	ks, err := keystore.New(memory.NewStore(), "test-deployment-secret")
	require.NoError(t, err)
	ca, err := pki.InitCA(context.Background(), ks, pkix.Name{
		CommonName:   "ACME Root CA",
		Organization: []string{"ACME"},
	}, 10)
	require.NoError(t, err)
	return pki.NewSigningEngine(ca)
}

func newTestCSR(t *testing.T) *x509.CertificateRequest {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: "Jane Doe", Organization: []string{"ACME"}},
	}, key)
	require.NoError(t, err)
	csr, err := pki.ParseCSR(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}))
	require.NoError(t, err)
	return csr
}

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

func newTestWorkflow(t *testing.T) (*Workflow, *memory.Store, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Now()}
	certs := memory.NewStore()
	w := NewWorkflow(newTestEngine(t), NewMemoryPendingStore(), certs, 15*time.Minute,
		WithClock(clock.Now))
	return w, certs, clock
}

func TestTentativeThenConfirm(t *testing.T) {
	ctx := context.Background()
	w, certs, _ := newTestWorkflow(t)

	token, preview, err := w.TentativelySign(ctx, newTestCSR(t), "jane")
	require.NoError(t, err)
	assert.Len(t, token, 64)

	// Nothing is persisted during the tentative phase.
	_, err = certs.FindBySerial(ctx, preview.Serial)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	rec, err := w.Confirm(ctx, token, "jane")
	require.NoError(t, err)
	assert.Equal(t, preview.Serial, rec.Serial)
	assert.Equal(t, storage.StatusIssued, rec.Status)

	stored, err := certs.FindBySerial(ctx, rec.Serial)
	require.NoError(t, err)
	assert.Equal(t, rec.PEM, stored.PEM)
}

func TestConfirm_SecondAttemptFails(t *testing.T) {
	ctx := context.Background()
	w, _, _ := newTestWorkflow(t)

	token, _, err := w.TentativelySign(ctx, newTestCSR(t), "jane")
	require.NoError(t, err)

	_, err = w.Confirm(ctx, token, "jane")
	require.NoError(t, err)

	_, err = w.Confirm(ctx, token, "jane")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestConfirm_ExpiredToken(t *testing.T) {
	ctx := context.Background()
	w, _, clock := newTestWorkflow(t)

	token, _, err := w.TentativelySign(ctx, newTestCSR(t), "jane")
	require.NoError(t, err)

	clock.Advance(16 * time.Minute)
	_, err = w.Confirm(ctx, token, "jane")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestConfirm_OwnershipMismatchLeavesEntry(t *testing.T) {
	ctx := context.Background()
	w, _, _ := newTestWorkflow(t)

	token, _, err := w.TentativelySign(ctx, newTestCSR(t), "jane")
	require.NoError(t, err)

	_, err = w.Confirm(ctx, token, "mallory")
	assert.ErrorIs(t, err, ErrOwnershipMismatch)

	// The legitimate owner can still confirm.
	_, err = w.Confirm(ctx, token, "jane")
	assert.NoError(t, err)
}

func TestConfirm_ConcurrentExactlyOnce(t *testing.T) {
	ctx := context.Background()
	w, certs, _ := newTestWorkflow(t)

	token, preview, err := w.TentativelySign(ctx, newTestCSR(t), "jane")
	require.NoError(t, err)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Confirm(ctx, token, "jane")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrTokenNotFound)
		}
	}
	assert.Equal(t, 1, succeeded)

	_, err = certs.FindBySerial(ctx, preview.Serial)
	assert.NoError(t, err)
}

func TestSweep_EvictsOnlyExpired(t *testing.T) {
	ctx := context.Background()
	pending := NewMemoryPendingStore()
	clock := &testClock{now: time.Now()}
	w := NewWorkflow(newTestEngine(t), pending, memory.NewStore(), 15*time.Minute,
		WithClock(clock.Now))

	_, _, err := w.TentativelySign(ctx, newTestCSR(t), "jane")
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	fresh, _, err := w.TentativelySign(ctx, newTestCSR(t), "jane")
	require.NoError(t, err)

	clock.Advance(6 * time.Minute) // first entry is now past its window
	assert.Equal(t, 1, w.Sweep(ctx))
	assert.Equal(t, 1, pending.Len())

	_, err = w.Confirm(ctx, fresh, "jane")
	assert.NoError(t, err)
}
