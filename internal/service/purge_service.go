package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"quill/internal/observability"
	"quill/internal/repository"
)

const (
	purgeBatchSize       = 50
	defaultPurgeInterval = time.Minute
)

// PurgeService finishes the cleanup of deleted posts. DeletePost attempts a
// purge right away; the sweeper retries whatever is still pending.
type PurgeService struct {
	purges   repository.PurgeRepository
	interval time.Duration

	startOnce sync.Once
	done      chan struct{}
}

// ReconcileReport is the outcome of one reconciliation pass.
type ReconcileReport struct {
	Before   repository.OrphanReport `json:"before"`
	Requeued int64                   `json:"requeued"`
	Purged   int                     `json:"purged"`
	Deleted  repository.OrphanReport `json:"deleted"`
	After    repository.OrphanReport `json:"after"`
}

func NewPurgeService(purges repository.PurgeRepository, interval time.Duration) *PurgeService {
	if interval <= 0 {
		interval = defaultPurgeInterval
	}
	return &PurgeService{purges: purges, interval: interval, done: make(chan struct{})}
}

// PurgeNow runs one purge and records a failure on the queue entry.
func (s *PurgeService) PurgeNow(ctx context.Context, postID string) error {
	err := s.purges.Purge(ctx, postID)
	if err == nil {
		observability.PurgeJobsTotal.WithLabelValues("completed").Inc()
		return nil
	}
	observability.PurgeJobsTotal.WithLabelValues("failed").Inc()
	if rerr := s.purges.RecordFailure(ctx, postID, err); rerr != nil {
		observability.GlobalLogger.ErrorContext(ctx, "failed to record purge failure",
			slog.String("post_id", postID), slog.String("error", rerr.Error()))
	}
	return err
}

// Sweep processes one batch of pending purges, oldest first, and returns how
// many completed.
func (s *PurgeService) Sweep(ctx context.Context) (int, error) {
	pending, err := s.purges.Pending(ctx, purgeBatchSize)
	if err != nil {
		return 0, err
	}
	observability.PurgeBacklog.Set(float64(len(pending)))

	completed := 0
	for _, job := range pending {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}
		if err := s.PurgeNow(ctx, job.PostID); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "purge attempt failed",
				slog.String("post_id", job.PostID),
				slog.Int("attempts", job.Attempts+1),
				slog.String("error", err.Error()))
			continue
		}
		completed++
	}
	return completed, nil
}

// Start runs the sweeper until ctx is cancelled. Calling it again is a no-op.
func (s *PurgeService) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.run(ctx)
	})
}

// Done is closed once the sweeper has stopped.
func (s *PurgeService) Done() <-chan struct{} {
	return s.done
}

func (s *PurgeService) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				observability.GlobalLogger.ErrorContext(ctx, "purge sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Reconcile requeues soft-deleted posts that lost their queue entry, drains
// the queue, and deletes children whose post row no longer exists.
func (s *PurgeService) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	var err error

	if report.Before, err = s.purges.FindOrphans(ctx); err != nil {
		return nil, err
	}
	if report.Requeued, err = s.purges.RequeueStranded(ctx); err != nil {
		return nil, err
	}
	for {
		n, err := s.Sweep(ctx)
		if err != nil {
			return nil, err
		}
		report.Purged += n
		if n < purgeBatchSize {
			break
		}
	}
	if report.Deleted, err = s.purges.DeleteOrphans(ctx); err != nil {
		return nil, err
	}
	if report.After, err = s.purges.FindOrphans(ctx); err != nil {
		return nil, err
	}
	return report, nil
}
