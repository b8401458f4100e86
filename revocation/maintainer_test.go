package revocation

import (
	"context"
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnathPKI/anath-server-sub001/storage"
	"github.com/AnathPKI/anath-server-sub001/storage/memory"
)

type countingSweeper struct {
	calls int
}

func (s *countingSweeper) Sweep(context.Context) int {
	s.calls++
	return 0
}

func crlNumber(t *testing.T, builder *Builder) int64 {
	t.Helper()
	der, err := builder.CurrentDER(context.Background())
	require.NoError(t, err)
	list, err := x509.ParseRevocationList(der)
	require.NoError(t, err)
	return list.Number.Int64()
}

func TestTick_RebuildsWhenMissing(t *testing.T) {
	ctx := context.Background()
	ca := newTestCA(t)
	store := memory.NewStore()
	builder := NewBuilder(ctx, ca, store, store, 24*time.Hour)
	maintainer := NewMaintainer(builder, time.Hour)

	_, ok := builder.NextUpdate()
	require.False(t, ok)

	require.NoError(t, maintainer.Tick(ctx))
	assert.Equal(t, int64(1), crlNumber(t, builder))
}

func TestTick_RebuildsWhenStalenessApproaches(t *testing.T) {
	ctx := context.Background()
	ca := newTestCA(t)
	store := memory.NewStore()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	builder := NewBuilder(ctx, ca, store, store, 90*time.Minute, WithBuilderClock(clock.Now))
	maintainer := NewMaintainer(builder, time.Hour, WithMaintainerClock(clock.Now))

	require.NoError(t, maintainer.Tick(ctx))
	require.Equal(t, int64(1), crlNumber(t, builder))

	// nextUpdate is now 30 minutes away, less than one period: rebuild.
	clock.Advance(time.Hour)
	require.NoError(t, maintainer.Tick(ctx))
	assert.Equal(t, int64(2), crlNumber(t, builder))
}

func TestTick_SkipsFreshCRL(t *testing.T) {
	ctx := context.Background()
	ca := newTestCA(t)
	store := memory.NewStore()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	builder := NewBuilder(ctx, ca, store, store, 4*time.Hour, WithBuilderClock(clock.Now))
	maintainer := NewMaintainer(builder, time.Hour, WithMaintainerClock(clock.Now))

	require.NoError(t, maintainer.Tick(ctx))
	require.Equal(t, int64(1), crlNumber(t, builder))

	// nextUpdate is still 3 hours away: nothing to do.
	clock.Advance(time.Hour)
	require.NoError(t, maintainer.Tick(ctx))
	assert.Equal(t, int64(1), crlNumber(t, builder))
}

func TestTick_DrivesSweeper(t *testing.T) {
	ctx := context.Background()
	ca := newTestCA(t)
	store := memory.NewStore()
	builder := NewBuilder(ctx, ca, store, store, 24*time.Hour)
	sweeper := &countingSweeper{}
	maintainer := NewMaintainer(builder, time.Hour, WithSweeper(sweeper))

	require.NoError(t, maintainer.Tick(ctx))
	require.NoError(t, maintainer.Tick(ctx))
	assert.Equal(t, 2, sweeper.calls)
}

// brokenStore fails every revoked-certificate listing.
type brokenStore struct {
	*memory.Store
}

func (s *brokenStore) FindAllRevoked(context.Context) ([]*storage.CertificateRecord, error) {
	return nil, errors.New("backend unavailable")
}

func TestTick_ReportsRebuildFailure(t *testing.T) {
	ctx := context.Background()
	ca := newTestCA(t)
	store := memory.NewStore()
	builder := NewBuilder(ctx, ca, &brokenStore{Store: store}, store, 24*time.Hour)
	maintainer := NewMaintainer(builder, time.Hour)

	assert.Error(t, maintainer.Tick(ctx))
}

func TestRun_SurvivesFailingTicks(t *testing.T) {
	ca := newTestCA(t)
	store := memory.NewStore()
	builder := NewBuilder(context.Background(), ca, &brokenStore{Store: store}, store, 24*time.Hour)
	maintainer := NewMaintainer(builder, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		maintainer.Run(ctx)
		close(done)
	}()

	// Several failing ticks pass without killing the loop.
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("maintainer did not stop after cancellation")
	}
}
