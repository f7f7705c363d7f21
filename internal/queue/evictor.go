package queue

// evictor.go removes stale batches in the background.
//
// The evictor runs once on start and then on every tick until its context is
// cancelled. A failed pass is logged and retried on the next tick; it never
// stops the process.

import (
	"context"
	"log/slog"
	"time"
)

// Eviction defaults.
const (
	DefaultMaxAge        = 24 * time.Hour
	DefaultEvictInterval = time.Hour
)

// EvictorConfig holds the eviction schedule. Zero values take the defaults.
type EvictorConfig struct {
	MaxAge   time.Duration // batches not updated for this long are removed
	Interval time.Duration // how often to run
}

// Evictor periodically calls Tracker.EvictOlderThan.
type Evictor struct {
	tracker Tracker
	cfg     EvictorConfig
	logger  *slog.Logger
	onEvict func(int)
}

// EvictorOption configures an Evictor.
type EvictorOption func(*Evictor)

// WithEvictorLogger sets the logger. The default is slog.Default().
func WithEvictorLogger(l *slog.Logger) EvictorOption {
	return func(e *Evictor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEvictionHook is called with the number of batches removed by each pass.
func WithEvictionHook(fn func(int)) EvictorOption {
	return func(e *Evictor) { e.onEvict = fn }
}

// NewEvictor creates an evictor for tracker.
func NewEvictor(tracker Tracker, cfg EvictorConfig, opts ...EvictorOption) *Evictor {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultEvictInterval
	}
	e := &Evictor{tracker: tracker, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Run blocks until ctx is cancelled.
func (e *Evictor) Run(ctx context.Context) {
	e.logger.Info("batch evictor started",
		"max_age", e.cfg.MaxAge.String(),
		"interval", e.cfg.Interval.String(),
	)

	e.RunOnce(ctx)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("batch evictor stopped")
			return
		case <-ticker.C:
			e.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single eviction pass.
func (e *Evictor) RunOnce(ctx context.Context) int {
	start := time.Now()
	n, err := e.tracker.EvictOlderThan(ctx, e.cfg.MaxAge)
	if err != nil {
		e.logger.Error("batch eviction failed", "error", err)
		return 0
	}
	if e.onEvict != nil {
		e.onEvict(n)
	}
	e.logger.Debug("batch eviction completed",
		"batches_evicted", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return n
}
