package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/0bliviat3/my-framework-core-back-end-sub001/config"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/dto"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/model"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/repository"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/logger"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/utils"

	"github.com/robfig/cron/v3"
)

// SchedulerService polls for due jobs and fires them. The next-fire time is
// persisted on the job row and advanced with a compare-and-swap, so multiple
// nodes can poll the same store: normally one node claims a tick, and the
// occasional double-claim after failover is resolved by the distributed lock
// inside the orchestrator.
type SchedulerService interface {
	Start(ctx context.Context)
	Execute(ctx context.Context) error
	RunJobNow(ctx context.Context, jobCode, actor string, overrides map[string]string) (string, error)
	GetJobs(ctx context.Context, param model.GetBatchJobParam) ([]model.BatchJob, error)
	ValidateSchedule(kind model.ScheduleKind, expression string) error
}

type schedulerService struct {
	cfg          *config.Config
	log          *logger.Logger
	cronParser   cron.Parser
	jobRepo      repository.BatchJobRepository
	orchestrator ExecutionOrchestrator
	semaphore    chan struct{}
}

func NewSchedulerService(
	cfg *config.Config,
	log *logger.Logger,
	jobRepo repository.BatchJobRepository,
	orchestrator ExecutionOrchestrator,
) SchedulerService {
	return &schedulerService{
		cfg:          cfg,
		log:          log,
		jobRepo:      jobRepo,
		cronParser:   cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		orchestrator: orchestrator,
		semaphore:    make(chan struct{}, cfg.Scheduler.MaxConcurrency),
	}
}

func (s *schedulerService) Start(ctx context.Context) {
	s.log.InfoContext(ctx, "Starting scheduler",
		logger.Field("poll_interval", s.cfg.Scheduler.PollInterval),
		logger.IntField("max_concurrency", s.cfg.Scheduler.MaxConcurrency),
	)

	ticker := time.NewTicker(s.cfg.Scheduler.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Execute(ctx); err != nil {
				s.log.ErrorContext(ctx, "Scheduler pass failed", logger.ErrorField(err))
			}
		}
	}
}

// Execute runs one poll pass: load due jobs, claim their ticks, fire the
// claimed ones. A failing job is logged and left scheduled for its next tick.
func (s *schedulerService) Execute(ctx context.Context) error {
	now := time.Now()
	jobs, err := s.jobRepo.FindDue(ctx, now)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to find due jobs", logger.ErrorField(err))
		return fmt.Errorf("failed to find due jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	for _, job := range jobs {
		if !utils.ShouldContinue(ctx, s.log) {
			return nil
		}

		job := job
		if err := s.fireJob(ctx, &job, now); err != nil {
			s.log.ErrorContextWithAlert(ctx, "Failed to fire job",
				logger.ErrorField(err),
				logger.StringField("job_code", job.JobCode),
			)
		}
	}

	return nil
}

func (s *schedulerService) fireJob(ctx context.Context, job *model.BatchJob, now time.Time) error {
	next, err := s.nextFire(job, now)
	if err != nil {
		// Bad expression that slipped past edit-time validation: record an
		// immediate FAIL with no retry eligibility and back off one threshold
		// so the row does not stay hot.
		if _, failErr := s.orchestrator.FailImmediately(ctx, job, model.TriggerScheduler, "scheduler", err); failErr != nil {
			s.log.ErrorContext(ctx, "Failed to record config failure", logger.ErrorField(failErr))
		}
		backoff := sql.NullTime{Time: now.Add(s.cfg.Scheduler.MisfireThreshold), Valid: true}
		_, _ = s.jobRepo.ClaimTick(ctx, job.JobCode, job.NextExecutionAt, backoff)
		return err
	}

	claimed, err := s.jobRepo.ClaimTick(ctx, job.JobCode, job.NextExecutionAt, sql.NullTime{Time: next, Valid: true})
	if err != nil {
		return fmt.Errorf("failed to claim tick: %w", err)
	}
	if !claimed {
		// Another node took this tick.
		return nil
	}

	// Misfire: a tick we are too late for is dropped, never backfilled.
	if job.NextExecutionAt.Valid && now.Sub(job.NextExecutionAt.Time) > s.cfg.Scheduler.MisfireThreshold {
		s.log.WarnContext(ctx, "Dropping misfired tick",
			logger.StringField("job_code", job.JobCode),
			logger.Field("due", job.NextExecutionAt.Time),
			logger.Field("late_by", now.Sub(job.NextExecutionAt.Time)),
		)
		return nil
	}

	s.semaphore <- struct{}{}
	utils.GoSafe(func() {
		defer func() {
			<-s.semaphore
		}()

		runCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(job.TimeoutSeconds)*time.Second+s.cfg.Scheduler.LockTTLMargin)
		defer cancel()

		// Re-read so an admin disable between poll and fire is honored.
		fresh, err := s.jobRepo.GetByCode(runCtx, job.JobCode)
		if err != nil {
			s.log.ErrorContext(runCtx, "Failed to re-read job before fire",
				logger.ErrorField(err),
				logger.StringField("job_code", job.JobCode),
			)
			return
		}
		if !fresh.Enabled {
			s.log.InfoContext(runCtx, "Job disabled since poll, skipping",
				logger.StringField("job_code", job.JobCode),
			)
			return
		}

		if _, err := s.orchestrator.Run(runCtx, fresh, model.TriggerScheduler, "scheduler", nil); err != nil {
			s.log.ErrorContextWithAlert(runCtx, "Scheduled execution failed to start",
				logger.ErrorField(err),
				logger.StringField("job_code", fresh.JobCode),
			)
		}
	})

	return nil
}

// nextFire computes the tick after now for the job's schedule.
func (s *schedulerService) nextFire(job *model.BatchJob, now time.Time) (time.Time, error) {
	switch job.ScheduleKind {
	case model.ScheduleKindCron:
		schedule, err := s.cronParser.Parse(job.ScheduleExpression)
		if err != nil {
			return time.Time{}, dto.NewCodedError(dto.ErrCodeInvalidSchedule,
				fmt.Sprintf("invalid cron expression %q: %v", job.ScheduleExpression, err))
		}
		return schedule.Next(now), nil
	case model.ScheduleKindInterval:
		intervalMs, err := strconv.ParseInt(job.ScheduleExpression, 10, 64)
		if err != nil || intervalMs <= 0 {
			return time.Time{}, dto.NewCodedError(dto.ErrCodeInvalidSchedule,
				fmt.Sprintf("invalid interval expression %q", job.ScheduleExpression))
		}
		return now.Add(time.Duration(intervalMs) * time.Millisecond), nil
	default:
		return time.Time{}, dto.NewCodedError(dto.ErrCodeInvalidSchedule,
			fmt.Sprintf("unknown schedule kind %q", job.ScheduleKind))
	}
}

// RunJobNow triggers a manual execution, bypassing the schedule.
func (s *schedulerService) RunJobNow(ctx context.Context, jobCode, actor string, overrides map[string]string) (string, error) {
	job, err := s.jobRepo.GetByCode(ctx, jobCode)
	if err != nil {
		return "", dto.NewCodedError(dto.ErrCodeBatchJobNotFound, fmt.Sprintf("job %s not found", jobCode))
	}

	s.log.InfoContext(ctx, "Manual trigger",
		logger.StringField("job_code", jobCode),
		logger.StringField("actor", actor),
	)

	return s.orchestrator.Run(ctx, job, model.TriggerManual, actor, overrides)
}

func (s *schedulerService) GetJobs(ctx context.Context, param model.GetBatchJobParam) ([]model.BatchJob, error) {
	return s.jobRepo.Get(ctx, &param)
}

// ValidateSchedule is exposed for the admin CRUD so bad expressions are
// rejected at edit time rather than discovered at trigger time.
func (s *schedulerService) ValidateSchedule(kind model.ScheduleKind, expression string) error {
	switch kind {
	case model.ScheduleKindCron:
		if _, err := s.cronParser.Parse(expression); err != nil {
			return dto.NewCodedError(dto.ErrCodeInvalidSchedule, err.Error())
		}
		return nil
	case model.ScheduleKindInterval:
		intervalMs, err := strconv.ParseInt(expression, 10, 64)
		if err != nil || intervalMs <= 0 {
			return dto.NewCodedError(dto.ErrCodeInvalidSchedule, "interval must be a positive millisecond count")
		}
		return nil
	default:
		return dto.NewCodedError(dto.ErrCodeInvalidSchedule, fmt.Sprintf("unknown schedule kind %q", kind))
	}
}
