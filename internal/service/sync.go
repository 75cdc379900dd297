package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fichub_metadata/internal/config"
	"fichub_metadata/internal/domain"
)

type SyncService struct {
	source    Source
	store     MetadataStore
	done      Ledger
	failed    Ledger
	publisher Publisher
	logger    *slog.Logger
	config    config.SyncConfig
}

// NewSyncService wires a batch runner. done lists URLs already stored by a
// previous run; failed collects URLs whose fetch failed. publisher may be nil.
func NewSyncService(
	source Source,
	store MetadataStore,
	done Ledger,
	failed Ledger,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *SyncService {
	return &SyncService{
		source:    source,
		store:     store,
		done:      done,
		failed:    failed,
		publisher: publisher,
		logger:    logger.With("component", "sync"),
		config:    cfg,
	}
}

// SaveAll fetches and stores every URL. Stored URLs are inserted unless force
// is set, in which case they are overwritten. The returned error is non-nil
// only for failures that abort the batch; per-URL failures are reported
// through the stats.
func (s *SyncService) SaveAll(ctx context.Context, urls []string) (*domain.SyncStats, error) {
	s.logger.Info("starting batch", "urls", len(urls), "force", s.config.Force)
	return s.run(ctx, urls, s.config.Force)
}

// UpdateAll re-fetches every stored record and overwrites it.
func (s *SyncService) UpdateAll(ctx context.Context) (*domain.SyncStats, error) {
	rows, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("read stored records: %w", err)
	}

	urls := make([]string, len(rows))
	for i, r := range rows {
		urls[i] = r.Source
	}

	s.logger.Info("starting update", "records", len(urls), "force", s.config.Force)
	return s.run(ctx, urls, true)
}

func (s *SyncService) run(ctx context.Context, urls []string, upsert bool) (*domain.SyncStats, error) {
	startTime := time.Now()
	stats := &domain.SyncStats{Total: len(urls)}

	done := map[string]struct{}{}
	if !s.config.Force {
		var err error
		if done, err = s.done.Entries(); err != nil {
			return stats, fmt.Errorf("read ledger: %w", err)
		}
	}

	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(startTime)
			return stats, err
		}

		if _, ok := done[url]; ok {
			s.logger.Debug("already processed, skipping", "url", url)
			stats.Record(domain.OutcomeSkipped)
			continue
		}

		outcome, err := s.process(ctx, url, upsert, stats)
		if err != nil {
			stats.Duration = time.Since(startTime)
			return stats, err
		}
		stats.Record(outcome)
	}

	stats.Duration = time.Since(startTime)

	// output.log only resumes interrupted or partly failed batches.
	if !stats.Failed() && !s.config.KeepLedger {
		if err := s.done.Clear(); err != nil {
			s.logger.Warn("failed to clear ledger", "error", err)
		} else {
			s.logger.Debug("ledger cleared")
		}
	}

	s.logger.Info("batch completed",
		"total", stats.Total,
		"created", stats.Created,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"unsupported", stats.Unsupported,
		"duplicates", stats.Duplicates,
		"fetch_failed", stats.FetchFailed,
		"published", stats.Published,
		"failed", stats.Failed(),
		"duration", stats.Duration,
	)

	return stats, nil
}

// process takes one URL from Pending to a terminal outcome. A non-nil error
// aborts the batch.
func (s *SyncService) process(ctx context.Context, url string, upsert bool, stats *domain.SyncStats) (domain.Outcome, error) {
	if !s.source.Supports(url) {
		s.logger.Warn("site not supported", "url", url)
		return domain.OutcomeUnsupported, nil
	}

	if !upsert {
		exists, err := s.store.Exists(ctx, url)
		if err != nil {
			return 0, fmt.Errorf("check %s: %w", url, err)
		}
		if exists {
			s.logger.Warn("already stored, use --force to update it", "url", url)
			return domain.OutcomeDuplicate, nil
		}
	}

	meta, err := s.source.FetchMetadata(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		s.logger.Error("fetch failed", "url", url, "error", err)
		if err := s.failed.Append(url); err != nil {
			s.logger.Error("failed to record fetch failure", "url", url, "error", err)
		}
		return domain.OutcomeFetchFailed, nil
	}

	created, err := s.save(ctx, meta, upsert)
	if errors.Is(err, domain.ErrDuplicate) {
		s.logger.Warn("already stored under its canonical url, use --force to update it",
			"url", url,
			"source", meta.Source,
		)
		return domain.OutcomeDuplicate, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store %s: %w", url, err)
	}

	if created {
		stats.Created++
	} else {
		stats.Updated++
	}
	s.logger.Info("stored", "url", url, "id", meta.ID, "created", created)

	if err := s.done.Append(url); err != nil {
		return 0, fmt.Errorf("record %s in ledger: %w", url, err)
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, meta, created); err != nil {
			s.logger.Warn("publish failed", "url", url, "error", err)
			stats.PublishErrors++
		} else {
			stats.Published++
		}
	}

	return domain.OutcomeStored, nil
}

func (s *SyncService) save(ctx context.Context, meta *domain.Metadata, upsert bool) (bool, error) {
	if !upsert {
		_, err := s.store.Insert(ctx, meta)
		return true, err
	}
	_, created, err := s.store.Upsert(ctx, meta)
	return created, err
}
