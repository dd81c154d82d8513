package service

import (
	"context"
	"sync"
	"time"

	"github.com/0bliviat3/my-framework-core-back-end-sub001/config"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/model"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/repository"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const (
	sweepBatchSize   = 100
	sweepConcurrency = 4
	// Grace period on top of a job's retry interval before the sweeper treats
	// a missing retry as lost. Keeps the sweep from racing the orchestrator's
	// own delayed-retry timer.
	sweepGrace = 30 * time.Second
)

// RetrySweeper is the safety net for retries that failed to self-schedule,
// e.g. after a process crash between the terminal write and the retry timer.
type RetrySweeper interface {
	Start(ctx context.Context)
	Sweep(ctx context.Context) error
}

type retrySweeper struct {
	cfg          *config.Config
	log          *logger.Logger
	jobRepo      repository.BatchJobRepository
	execRepo     repository.BatchExecutionRepository
	historyRepo  repository.ProxyCallHistoryRepository
	orchestrator ExecutionOrchestrator

	mu          sync.Mutex
	lastCleanup time.Time
}

func NewRetrySweeper(
	cfg *config.Config,
	log *logger.Logger,
	jobRepo repository.BatchJobRepository,
	execRepo repository.BatchExecutionRepository,
	historyRepo repository.ProxyCallHistoryRepository,
	orchestrator ExecutionOrchestrator,
) RetrySweeper {
	return &retrySweeper{
		cfg:          cfg,
		log:          log,
		jobRepo:      jobRepo,
		execRepo:     execRepo,
		historyRepo:  historyRepo,
		orchestrator: orchestrator,
	}
}

func (s *retrySweeper) Start(ctx context.Context) {
	s.log.InfoContext(ctx, "Starting retry sweeper",
		logger.Field("interval", s.cfg.Sweeper.Interval),
	)

	ticker := time.NewTicker(s.cfg.Sweeper.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Retry sweeper stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.ErrorContext(ctx, "Sweep pass failed", logger.ErrorField(err))
			}
			s.cleanupIfDue(ctx)
		}
	}
}

// Sweep requeues eligible FAIL/TIMEOUT chain tails. Re-sweeping the same
// execution is a no-op: the orchestrator checks for an existing child before
// creating one.
func (s *retrySweeper) Sweep(ctx context.Context) error {
	candidates, err := s.execRepo.FindRetryCandidates(ctx, sweepBatchSize)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)

	for _, candidate := range candidates {
		candidate := candidate
		if !s.graceElapsed(gctx, &candidate) {
			continue
		}

		g.Go(func() error {
			executionID, err := s.orchestrator.ResumeChain(gctx, &candidate)
			if err != nil {
				s.log.ErrorContext(gctx, "Failed to resume retry chain",
					logger.ErrorField(err),
					logger.StringField("execution_id", candidate.ExecutionID),
					logger.StringField("job_code", candidate.JobCode),
				)
				return nil
			}
			if executionID != "" {
				s.log.InfoContext(gctx, "Swept lost retry",
					logger.StringField("failed_execution_id", candidate.ExecutionID),
					logger.StringField("new_execution_id", executionID),
					logger.StringField("job_code", candidate.JobCode),
				)
			}
			return nil
		})
	}

	return g.Wait()
}

// graceElapsed holds the sweeper back until the job's own retry timer had a
// fair chance to fire.
func (s *retrySweeper) graceElapsed(ctx context.Context, execution *model.BatchExecution) bool {
	if !execution.EndTime.Valid {
		return false
	}

	job, err := s.jobRepo.GetByCode(ctx, execution.JobCode)
	if err != nil {
		return false
	}

	deadline := execution.EndTime.Time.
		Add(time.Duration(job.RetryIntervalSeconds) * time.Second).
		Add(sweepGrace)
	return time.Now().After(deadline)
}

// cleanupIfDue prunes terminal executions and call histories past the
// retention window, at most once a day.
func (s *retrySweeper) cleanupIfDue(ctx context.Context) {
	s.mu.Lock()
	if time.Since(s.lastCleanup) < 24*time.Hour {
		s.mu.Unlock()
		return
	}
	s.lastCleanup = time.Now()
	s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -s.cfg.Sweeper.RetentionDays)

	deleted, err := s.execRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to prune executions", logger.ErrorField(err))
	}

	deletedHistories, err := s.historyRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to prune call histories", logger.ErrorField(err))
	}

	s.log.InfoContext(ctx, "Retention cleanup finished",
		logger.Field("cutoff", cutoff),
		logger.Field("deleted_executions", deleted),
		logger.Field("deleted_call_histories", deletedHistories),
	)
}
