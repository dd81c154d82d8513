package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/0bliviat3/my-framework-core-back-end-sub001/config"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/dto"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/model"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/repository"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/common"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/logger"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/redislock"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/template"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/utils"

	"github.com/google/uuid"
)

// ExecutionOrchestrator drives the execution state machine: lock, WAIT row,
// RUNNING, proxy call raced against the job timeout, terminal state, retry
// chain.
type ExecutionOrchestrator interface {
	Run(ctx context.Context, job *model.BatchJob, trigger model.TriggerType, actor string, overrides map[string]string) (string, error)
	Retry(ctx context.Context, executionID string, actor string) (string, error)
	ResumeChain(ctx context.Context, failed *model.BatchExecution) (string, error)
	FailImmediately(ctx context.Context, job *model.BatchJob, trigger model.TriggerType, actor string, cause error) (string, error)
}

type executionOrchestrator struct {
	cfg           *config.Config
	log           *logger.Logger
	jobRepo       repository.BatchJobRepository
	execRepo      repository.BatchExecutionRepository
	proxyCallRepo repository.ProxyCallRepository
	uow           repository.UnitOfWork
	proxyCaller   ProxyCaller
	locker        redislock.Locker
}

func NewExecutionOrchestrator(
	cfg *config.Config,
	log *logger.Logger,
	jobRepo repository.BatchJobRepository,
	execRepo repository.BatchExecutionRepository,
	proxyCallRepo repository.ProxyCallRepository,
	uow repository.UnitOfWork,
	proxyCaller ProxyCaller,
	locker redislock.Locker,
) ExecutionOrchestrator {
	return &executionOrchestrator{
		cfg:           cfg,
		log:           log,
		jobRepo:       jobRepo,
		execRepo:      execRepo,
		proxyCallRepo: proxyCallRepo,
		uow:           uow,
		proxyCaller:   proxyCaller,
		locker:        locker,
	}
}

type runParams struct {
	trigger    model.TriggerType
	actor      string
	overrides  map[string]string
	retryCount int
	originalID sql.NullString
}

// ErrSkipped marks a trigger dropped on lock contention. Not an error for
// scheduler and sweeper callers; manual callers never see it.
var ErrSkipped = errors.New("trigger skipped: batch already running")

func (o *executionOrchestrator) Run(ctx context.Context, job *model.BatchJob, trigger model.TriggerType, actor string, overrides map[string]string) (string, error) {
	executionID, err := o.run(ctx, job, runParams{
		trigger:   trigger,
		actor:     actor,
		overrides: overrides,
	})
	if errors.Is(err, ErrSkipped) && trigger != model.TriggerManual {
		return "", nil
	}
	return executionID, err
}

// Retry re-runs a terminal execution on operator request. SUCCESS and
// still-active executions are rejected with a specific reason code; the
// retry itself is exempt from the MaxRetryCount ceiling.
func (o *executionOrchestrator) Retry(ctx context.Context, executionID string, actor string) (string, error) {
	execution, err := o.execRepo.FindByID(ctx, executionID)
	if err != nil {
		return "", dto.NewCodedError(dto.ErrCodeExecutionNotFound, fmt.Sprintf("execution %s not found", executionID))
	}

	switch {
	case execution.Status == model.StatusSuccess:
		return "", dto.NewCodedError(dto.ErrCodeCannotRetrySuccess, "execution already succeeded")
	case !execution.Status.IsTerminal():
		return "", dto.NewCodedError(dto.ErrCodeCannotRetryRunning, "execution is still in progress")
	}

	job, err := o.jobRepo.GetByCode(ctx, execution.JobCode)
	if err != nil {
		return "", dto.NewCodedError(dto.ErrCodeBatchJobNotFound, fmt.Sprintf("job %s not found", execution.JobCode))
	}

	newID, err := o.run(ctx, job, runParams{
		trigger:    model.TriggerRetry,
		actor:      actor,
		retryCount: execution.RetryCount + 1,
		originalID: sql.NullString{String: execution.ChainHeadID(), Valid: true},
	})
	if errors.Is(err, ErrSkipped) {
		// Operator-initiated, so contention is surfaced, not swallowed.
		return "", dto.NewCodedError(dto.ErrCodeBatchAlreadyRunning, "another execution of this job holds the lock")
	}
	return newID, err
}

// ResumeChain requeues the retry for a terminal FAIL/TIMEOUT execution whose
// self-scheduled retry never materialized. Idempotent: an existing child with
// the next retry count makes this a no-op.
func (o *executionOrchestrator) ResumeChain(ctx context.Context, failed *model.BatchExecution) (string, error) {
	if failed.ErrorCode.Valid && dto.IsPermanent(dto.ErrorCode(failed.ErrorCode.String)) {
		return "", nil
	}

	head := failed.ChainHeadID()

	exists, err := o.execRepo.HasRetryChild(ctx, head, failed.RetryCount+1)
	if err != nil {
		return "", err
	}
	if exists {
		return "", nil
	}

	succeeded, err := o.execRepo.ChainHasSuccess(ctx, head)
	if err != nil {
		return "", err
	}
	if succeeded {
		return "", nil
	}

	job, err := o.jobRepo.GetByCode(ctx, failed.JobCode)
	if err != nil {
		return "", fmt.Errorf("failed to load job %s: %w", failed.JobCode, err)
	}
	if failed.RetryCount >= job.MaxRetryCount {
		return "", nil
	}

	executionID, err := o.run(ctx, job, runParams{
		trigger:    model.TriggerRetry,
		actor:      "sweeper",
		retryCount: failed.RetryCount + 1,
		originalID: sql.NullString{String: head, Valid: true},
	})
	if errors.Is(err, ErrSkipped) {
		return "", nil
	}
	return executionID, err
}

// FailImmediately records a configuration failure as a terminal FAIL row
// with no retry eligibility. Used when a bad definition slips past edit-time
// validation and surfaces at trigger time.
func (o *executionOrchestrator) FailImmediately(ctx context.Context, job *model.BatchJob, trigger model.TriggerType, actor string, cause error) (string, error) {
	now := time.Now()
	execution := &model.BatchExecution{
		ExecutionID:     uuid.NewString(),
		JobCode:         job.JobCode,
		JobName:         job.Name,
		Status:          model.StatusFail,
		TriggerType:     trigger,
		TriggeredBy:     actor,
		StartTime:       sql.NullTime{Time: now, Valid: true},
		EndTime:         sql.NullTime{Time: now, Valid: true},
		ExecutionTimeMs: sql.NullInt64{Int64: 0, Valid: true},
		ErrorMessage:    sql.NullString{String: utils.Truncate(cause.Error(), o.cfg.Scheduler.StackTraceMaxLen), Valid: true},
	}
	if code, ok := dto.CodeOf(cause); ok {
		execution.ErrorCode = sql.NullString{String: string(code), Valid: true}
	}
	if err := o.execRepo.Create(ctx, execution); err != nil {
		return "", err
	}
	if err := o.jobRepo.UpdateLastRun(ctx, job.JobCode, model.StatusFail, now); err != nil {
		o.log.ErrorContext(ctx, "Failed to update job last run", logger.ErrorField(err), logger.StringField("job_code", job.JobCode))
	}
	return execution.ExecutionID, nil
}

func (o *executionOrchestrator) run(ctx context.Context, job *model.BatchJob, p runParams) (executionID string, err error) {
	var token string
	lockKey := job.JobCode

	if !job.AllowConcurrent {
		ttl := time.Duration(job.TimeoutSeconds)*time.Second + o.cfg.Scheduler.LockTTLMargin
		tok, ok, lockErr := o.locker.TryAcquire(ctx, lockKey, ttl)
		if lockErr != nil {
			if p.trigger == model.TriggerManual {
				return "", dto.NewCodedError(dto.ErrCodeLockAcquisitionFailed, lockErr.Error())
			}
			o.log.ErrorContextWithAlert(ctx, "Failed to acquire batch lock",
				logger.ErrorField(lockErr),
				logger.StringField("job_code", job.JobCode),
			)
			return "", lockErr
		}
		if !ok {
			o.log.InfoContext(ctx, "Batch already running, trigger dropped",
				logger.StringField("job_code", job.JobCode),
				logger.StringField("trigger_type", string(p.trigger)),
			)
			if p.trigger == model.TriggerManual {
				return "", dto.NewCodedError(dto.ErrCodeBatchAlreadyRunning, "another execution of this job holds the lock")
			}
			return "", ErrSkipped
		}
		token = tok
	}

	// The lock is released on every path out of the critical section. Release
	// uses a fresh context so a cancelled trigger context cannot leak the lock.
	defer func() {
		if token == "" {
			return
		}
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, relErr := o.locker.Release(releaseCtx, lockKey, token); relErr != nil {
			o.log.ErrorContextWithAlert(ctx, "Failed to release batch lock",
				logger.ErrorField(relErr),
				logger.StringField("job_code", job.JobCode),
			)
		}
	}()

	execution, err := o.createExecution(ctx, job, p)
	if err != nil {
		return "", err
	}
	executionID = execution.ExecutionID

	o.execute(ctx, job, execution, token)
	return executionID, nil
}

// createExecution persists the initial row. Fresh attempts start in WAIT,
// retry attempts in RETRY; both precede RUNNING.
func (o *executionOrchestrator) createExecution(ctx context.Context, job *model.BatchJob, p runParams) (*model.BatchExecution, error) {
	executionID := uuid.NewString()

	resolved, err := o.resolveParameters(job, executionID, p.overrides)
	if err != nil {
		return nil, err
	}

	status := model.StatusWait
	if p.trigger == model.TriggerRetry {
		status = model.StatusRetry
	}

	execution := &model.BatchExecution{
		ExecutionID:         executionID,
		JobCode:             job.JobCode,
		JobName:             job.Name,
		Status:              status,
		TriggerType:         p.trigger,
		TriggeredBy:         p.actor,
		RetryCount:          p.retryCount,
		OriginalExecutionID: p.originalID,
		Parameters:          resolved,
	}

	if err := o.execRepo.Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}
	return execution, nil
}

// resolveParameters merges caller overrides over the job's stored defaults,
// then binds the trigger variables into {{var}} placeholders.
func (o *executionOrchestrator) resolveParameters(job *model.BatchJob, executionID string, overrides map[string]string) ([]byte, error) {
	merged := map[string]string{}
	if len(job.Parameters) > 0 {
		if err := json.Unmarshal(job.Parameters, &merged); err != nil {
			return nil, fmt.Errorf("invalid parameters for job %s: %w", job.JobCode, err)
		}
	}
	for k, v := range overrides {
		merged[k] = v
	}

	vars := map[string]string{
		common.VAR_EXECUTION_ID: executionID,
		common.VAR_JOB_CODE:     job.JobCode,
	}
	for k, v := range overrides {
		vars[k] = v
	}

	resolved := template.SubstituteVarsMap(merged, vars)
	if resolved == nil {
		resolved = map[string]string{}
	}
	return json.Marshal(resolved)
}

// execute drives WAIT/RETRY -> RUNNING -> terminal. Internal failures degrade
// the execution to FAIL; nothing escapes past the scheduler boundary.
func (o *executionOrchestrator) execute(ctx context.Context, job *model.BatchJob, execution *model.BatchExecution, token string) {
	start := time.Now()
	execution.Status = model.StatusRunning
	execution.StartTime = sql.NullTime{Time: start, Valid: true}
	if err := o.execRepo.Update(ctx, execution); err != nil {
		o.finalize(ctx, job, execution, start, model.StatusFail, fmt.Errorf("failed to mark execution running: %w", err))
		return
	}

	outcome, err := o.invokeWithTimeout(ctx, job, execution)

	switch {
	case err != nil:
		if errors.Is(err, context.DeadlineExceeded) {
			o.finalize(ctx, job, execution, start, model.StatusTimeout,
				fmt.Errorf("execution exceeded timeout of %ds", job.TimeoutSeconds))
		} else {
			o.finalize(ctx, job, execution, start, model.StatusFail, err)
		}
	case outcome.Success:
		if token != "" {
			owned, ownErr := o.locker.Owned(ctx, job.JobCode, token)
			if ownErr != nil || !owned {
				// Stale writer: the lock expired mid-run, another execution may
				// have started. Refuse to record success.
				o.finalize(ctx, job, execution, start, model.StatusFail,
					fmt.Errorf("%s: lock no longer owned at completion", common.REASON_LOCK_LOST))
				return
			}
		}
		o.finalize(ctx, job, execution, start, model.StatusSuccess, nil)
	default:
		var cause error
		if outcome.StatusCode >= 400 && outcome.StatusCode < 500 {
			// A 4xx rejection is deterministic; replaying the same request
			// cannot succeed, so the failure is recorded as permanent.
			cause = dto.NewCodedError(dto.ErrCodeProxyClientError,
				fmt.Sprintf("proxy call rejected with status %d: %s", outcome.StatusCode, outcome.ErrorMessage))
		} else {
			cause = fmt.Errorf("proxy call failed after %d attempt(s): %s", outcome.Attempts, outcome.ErrorMessage)
		}
		o.finalize(ctx, job, execution, start, model.StatusFail, cause)
	}
}

// invokeWithTimeout races the proxy call against the job timeout. The call
// context is detached from the trigger context, as a scheduler shutdown must
// not abort an in-flight execution; cancellation is best-effort and a late
// completion only lands in call history, never in execution state.
func (o *executionOrchestrator) invokeWithTimeout(ctx context.Context, job *model.BatchJob, execution *model.BatchExecution) (*CallOutcome, error) {
	def, err := o.proxyCallRepo.Resolve(ctx, job.ProxyCallCode)
	if err != nil {
		return nil, err
	}

	params := map[string]string{}
	if len(execution.Parameters) > 0 {
		if err := json.Unmarshal(execution.Parameters, &params); err != nil {
			return nil, fmt.Errorf("invalid resolved parameters: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(context.Background(), time.Duration(job.TimeoutSeconds)*time.Second)
	defer cancel()

	type callResult struct {
		outcome *CallOutcome
		err     error
	}
	resultCh := make(chan callResult, 1)

	utils.GoSafe(func() {
		outcome, callErr := o.proxyCaller.Execute(callCtx, def, params, execution.ExecutionID)
		resultCh <- callResult{outcome: outcome, err: callErr}
	})

	select {
	case res := <-resultCh:
		if callCtx.Err() != nil && (res.outcome == nil || !res.outcome.Success) {
			return nil, context.DeadlineExceeded
		}
		return res.outcome, res.err
	case <-callCtx.Done():
		return nil, context.DeadlineExceeded
	}
}

// finalize records the terminal state, writes back the job's last-run fields
// and evaluates retry eligibility for failures.
func (o *executionOrchestrator) finalize(ctx context.Context, job *model.BatchJob, execution *model.BatchExecution, start time.Time, status model.ExecutionStatus, cause error) {
	end := time.Now()
	execution.Status = status
	execution.EndTime = sql.NullTime{Time: end, Valid: true}
	execution.ExecutionTimeMs = sql.NullInt64{Int64: end.Sub(start).Milliseconds(), Valid: true}

	retryEligible := false
	if status == model.StatusFail || status == model.StatusTimeout {
		retryEligible = o.evaluateRetryEligibility(ctx, job, execution, cause)
	}

	if cause != nil {
		msg := cause.Error()
		code, coded := dto.CodeOf(cause)
		permanent := coded && dto.IsPermanent(code)
		exhausted := !retryEligible && !permanent && execution.RetryCount >= job.MaxRetryCount
		if exhausted {
			msg = common.REASON_MAX_RETRY_EXCEEDED + ": " + msg
		}
		// The persisted code is what keeps the sweeper from resurrecting a
		// chain that ended for a permanent reason.
		switch {
		case coded:
			execution.ErrorCode = sql.NullString{String: string(code), Valid: true}
		case exhausted:
			execution.ErrorCode = sql.NullString{String: common.REASON_MAX_RETRY_EXCEEDED, Valid: true}
		}
		execution.ErrorMessage = sql.NullString{String: utils.Truncate(msg, o.cfg.Scheduler.StackTraceMaxLen), Valid: true}
		execution.StackTrace = sql.NullString{String: utils.StackTrace(o.cfg.Scheduler.StackTraceMaxLen), Valid: true}
	}

	// Terminal state and the job's last-run fields commit together, and the
	// write must survive a caller timeout.
	writeCtx := context.WithoutCancel(ctx)
	err := o.uow.Run(func(opts ...utils.DBOption) error {
		if err := o.execRepo.Update(writeCtx, execution, opts...); err != nil {
			return err
		}
		return o.jobRepo.UpdateLastRun(writeCtx, job.JobCode, status, end, opts...)
	})
	if err != nil {
		o.log.ErrorContextWithAlert(ctx, "Failed to finalize execution",
			logger.ErrorField(err),
			logger.StringField("execution_id", execution.ExecutionID),
			logger.StringField("status", string(status)),
		)
	}

	o.log.InfoContext(ctx, "Execution finished",
		logger.StringField("execution_id", execution.ExecutionID),
		logger.StringField("job_code", job.JobCode),
		logger.StringField("status", string(status)),
		logger.IntField("retry_count", execution.RetryCount),
	)

	if retryEligible {
		o.scheduleRetry(job, execution)
	}
}

func (o *executionOrchestrator) evaluateRetryEligibility(ctx context.Context, job *model.BatchJob, execution *model.BatchExecution, cause error) bool {
	// Permanent errors: missing template parameter, 4xx responses and bad
	// definitions never retry.
	if code, ok := dto.CodeOf(cause); ok && dto.IsPermanent(code) {
		return false
	}
	if execution.RetryCount >= job.MaxRetryCount {
		return false
	}

	succeeded, err := o.execRepo.ChainHasSuccess(ctx, execution.ChainHeadID())
	if err != nil {
		o.log.ErrorContext(ctx, "Failed to check chain status", logger.ErrorField(err))
		return false
	}
	return !succeeded
}

// scheduleRetry queues the next attempt as a future task. If the process dies
// before the timer fires, the sweeper recreates the retry from the persisted
// FAIL row.
func (o *executionOrchestrator) scheduleRetry(job *model.BatchJob, execution *model.BatchExecution) {
	delay := time.Duration(job.RetryIntervalSeconds) * time.Second
	head := execution.ChainHeadID()
	nextRetryCount := execution.RetryCount + 1

	o.log.InfoContext(context.Background(), "Scheduling retry",
		logger.StringField("job_code", job.JobCode),
		logger.StringField("original_execution_id", head),
		logger.IntField("retry_count", nextRetryCount),
		logger.Field("delay", delay),
	)

	time.AfterFunc(delay, func() {
		utils.GoSafe(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(job.TimeoutSeconds)*time.Second+o.cfg.Scheduler.LockTTLMargin)
			defer cancel()

			// Re-read the job so a disable or edit during the delay is honored.
			fresh, err := o.jobRepo.GetByCode(ctx, job.JobCode)
			if err != nil || !fresh.Enabled {
				return
			}

			_, err = o.run(ctx, fresh, runParams{
				trigger:    model.TriggerRetry,
				actor:      execution.TriggeredBy,
				retryCount: nextRetryCount,
				originalID: sql.NullString{String: head, Valid: true},
			})
			if err != nil && !errors.Is(err, ErrSkipped) {
				o.log.ErrorContextWithAlert(ctx, "Scheduled retry failed to start",
					logger.ErrorField(err),
					logger.StringField("job_code", job.JobCode),
					logger.StringField("original_execution_id", head),
				)
			}
		})
	})
}
