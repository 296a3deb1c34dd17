package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RetentionStore deletes login history older than a cutoff. Each identity's
// latest record is always kept.
type RetentionStore interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// AuditCleaner deletes decision audit records older than a cutoff
type AuditCleaner interface {
	Cleanup(ctx context.Context, before time.Time) (int64, error)
}

// CleanupManager periodically prunes login history and the decision audit table
type CleanupManager struct {
	history   RetentionStore
	audit     AuditCleaner
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewCleanupManager creates a new cleanup manager. audit may be nil.
func NewCleanupManager(
	history RetentionStore,
	audit AuditCleaner,
	logger *slog.Logger,
	interval time.Duration,
	retention time.Duration,
) *CleanupManager {
	return &CleanupManager{
		history:   history,
		audit:     audit,
		logger:    logger,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup removes records older than the retention window
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := cm.now().Add(-cm.retention)

	if cm.history != nil {
		rowsDeleted, err := cm.history.DeleteExpired(cleanupCtx, cutoff)
		if err != nil {
			cm.logger.Error("failed to prune login history", slog.Any("error", err))
		} else if rowsDeleted > 0 {
			cm.logger.Info("login history pruned",
				slog.Int64("rows_deleted", rowsDeleted),
				slog.Time("cutoff", cutoff),
			)
		}
	}

	if cm.audit != nil {
		rowsDeleted, err := cm.audit.Cleanup(cleanupCtx, cutoff)
		if err != nil {
			cm.logger.Error("failed to prune risk decisions", slog.Any("error", err))
		} else if rowsDeleted > 0 {
			cm.logger.Info("risk decisions pruned", slog.Int64("rows_deleted", rowsDeleted))
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
