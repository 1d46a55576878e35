package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BlockPruner drops expired IP block entries
type BlockPruner interface {
	Prune(ctx context.Context, now time.Time) (int, error)
}

// AttemptPruner drops login history rows past their expiry
type AttemptPruner interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// EventPruner drops security events older than the retention window
type EventPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupConfig controls how often the manager runs and how long events are kept.
// A zero EventRetention keeps events forever.
type CleanupConfig struct {
	Interval       time.Duration
	EventRetention time.Duration
	RunTimeout     time.Duration
}

// CleanupManager periodically removes expired block entries, attempt history and old security events.
// Any pruner may be nil.
type CleanupManager struct {
	blocks   BlockPruner
	attempts AttemptPruner
	events   EventPruner
	logger   *slog.Logger
	cfg      CleanupConfig
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(blocks BlockPruner, attempts AttemptPruner, events EventPruner, logger *slog.Logger, cfg CleanupConfig) *CleanupManager {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Second
	}
	return &CleanupManager{
		blocks:   blocks,
		attempts: attempts,
		events:   events,
		logger:   logger,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Start begins the periodic cleanup task. It blocks until Stop is called or ctx is done.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.cfg.Interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single pass. A failing pruner does not stop the others.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, cm.cfg.RunTimeout)
	defer cancel()

	now := cm.now()

	if cm.blocks != nil {
		n, err := cm.blocks.Prune(cleanupCtx, now)
		if err != nil {
			cm.logger.Error("failed to prune ip block list", slog.Any("error", err))
		} else if n > 0 {
			cm.logger.Info("expired ip blocks pruned", slog.Int("entries_removed", n))
		}
	}

	if cm.attempts != nil {
		rows, err := cm.attempts.DeleteExpired(cleanupCtx)
		if err != nil {
			cm.logger.Error("failed to cleanup expired login attempts", slog.Any("error", err))
		} else if rows > 0 {
			cm.logger.Info("expired login attempt cleanup completed", slog.Int64("rows_deleted", rows))
		}
	}

	if cm.events != nil && cm.cfg.EventRetention > 0 {
		rows, err := cm.events.DeleteOlderThan(cleanupCtx, now.Add(-cm.cfg.EventRetention))
		if err != nil {
			cm.logger.Error("failed to cleanup old security events", slog.Any("error", err))
		} else if rows > 0 {
			cm.logger.Info("security event cleanup completed", slog.Int64("rows_deleted", rows))
		}
	}
}

// Stop signals the cleanup manager to stop. It is safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
