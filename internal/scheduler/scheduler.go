package scheduler

import (
	"context"
	"log/slog"
	"time"

	"fichub_metadata/internal/domain"
)

// Updater re-fetches every stored record.
type Updater interface {
	UpdateAll(ctx context.Context) (*domain.SyncStats, error)
}

type Scheduler struct {
	updater  Updater
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewScheduler runs updater every interval. A single run is cut off after
// timeout; zero means it may take the whole interval.
func NewScheduler(updater Updater, interval, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = interval
	}
	return &Scheduler{
		updater:  updater,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "scheduler"),
	}
}

// Start runs an update immediately and then on every tick until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runUpdate(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runUpdate(ctx)
		}
	}
}

func (s *Scheduler) runUpdate(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stats, err := s.updater.UpdateAll(runCtx)
	if err != nil {
		s.logger.Error("update failed", "error", err)
		return
	}
	if stats.Failed() {
		s.logger.Warn("update finished with failures",
			"unsupported", stats.Unsupported,
			"fetch_failed", stats.FetchFailed,
		)
	}
}
