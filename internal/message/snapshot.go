// ABOUTME: Periodic full-state snapshot loop for the durability safety net
// ABOUTME: Flushes in-memory working sets to the store on an interval and at shutdown

package message

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSnapshotInterval is how often the full working set is flushed when
// the config doesn't say otherwise.
const DefaultSnapshotInterval = 30 * time.Second

// SnapshotTarget is anything holding in-memory state that must be re-written
// to the durable store periodically.
type SnapshotTarget interface {
	Snapshot(ctx context.Context) error
}

// Snapshotter periodically flushes a set of targets. Per-operation writes are
// the primary durability path; the snapshot exists so that a transiently
// failed write is retried before the process dies with it.
type Snapshotter struct {
	targets  []SnapshotTarget
	interval time.Duration
	logger   *slog.Logger
}

// NewSnapshotter creates a snapshot loop over the given targets.
// A zero interval selects the default.
func NewSnapshotter(interval time.Duration, logger *slog.Logger, targets ...SnapshotTarget) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	return &Snapshotter{
		targets:  targets,
		interval: interval,
		logger:   logger.With("component", "snapshot"),
	}
}

// Run flushes on every tick until ctx is cancelled, then performs one final
// flush for graceful shutdown.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush(ctx)
		case <-ctx.Done():
			// Final flush with a fresh context; the loop's own is done.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			s.flush(flushCtx)
			cancel()
			s.logger.Info("snapshot loop stopped")
			return
		}
	}
}

func (s *Snapshotter) flush(ctx context.Context) {
	for _, target := range s.targets {
		if err := target.Snapshot(ctx); err != nil {
			s.logger.Error("snapshot flush failed", "error", err)
		}
	}
}
