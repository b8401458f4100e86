package revocation

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Sweeper is an optional hook the maintainer drives on every tick, used to
// evict expired pending signing requests alongside CRL upkeep.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// Maintainer keeps the CRL fresh on a fixed period. The period must be
// shorter than the CRL validity window; a tick rebuilds only when the
// current CRL would go stale before the next tick, so the CRL is never
// stale by more than one period and is not churned needlessly.
type Maintainer struct {
	builder *Builder
	period  time.Duration
	sweeper Sweeper
	now     func() time.Time
	logger  *slog.Logger
}

// MaintainerOption configures a Maintainer.
type MaintainerOption func(*Maintainer)

// WithSweeper attaches a pending-request sweeper to the tick.
func WithSweeper(sweeper Sweeper) MaintainerOption {
	return func(m *Maintainer) { m.sweeper = sweeper }
}

// WithMaintainerClock replaces the wall clock, for tests.
func WithMaintainerClock(now func() time.Time) MaintainerOption {
	return func(m *Maintainer) { m.now = now }
}

// WithMaintainerLogger sets the structured logger.
func WithMaintainerLogger(logger *slog.Logger) MaintainerOption {
	return func(m *Maintainer) { m.logger = logger }
}

// NewMaintainer creates a Maintainer over the given builder.
func NewMaintainer(builder *Builder, period time.Duration, opts ...MaintainerOption) *Maintainer {
	m := &Maintainer{
		builder: builder,
		period:  period,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return m
}

// Run ticks until the context is cancelled. Every failure is logged and
// retried on the next tick; the scheduler itself never terminates early.
func (m *Maintainer) Run(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	m.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Maintainer) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorContext(ctx, "CRL maintenance tick panicked", slog.Any("panic", r))
		}
	}()
	if err := m.Tick(ctx); err != nil {
		m.logger.ErrorContext(ctx, "CRL maintenance tick failed", slog.Any("error", err))
	}
}

// Tick performs one freshness check: when no CRL exists, or the current
// CRL's nextUpdate is less than one period away, the CRL is rebuilt;
// otherwise the tick is a no-op.
func (m *Maintainer) Tick(ctx context.Context) error {
	if m.sweeper != nil {
		m.sweeper.Sweep(ctx)
	}

	nextUpdate, ok := m.builder.NextUpdate()
	if ok && nextUpdate.Sub(m.now()) >= m.period {
		return nil
	}
	if _, err := m.builder.Rebuild(ctx); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "rebuilt CRL", slog.Duration("period", m.period))
	return nil
}
