package repository

import (
	"context"
	"time"

	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/dto"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/model"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/utils"

	"gorm.io/gorm"
)

type BatchExecutionRepository interface {
	Create(ctx context.Context, execution *model.BatchExecution, opts ...utils.DBOption) error
	Update(ctx context.Context, execution *model.BatchExecution, opts ...utils.DBOption) error
	FindByID(ctx context.Context, executionID string) (*model.BatchExecution, error)
	List(ctx context.Context, param *model.GetBatchExecutionParam) ([]model.BatchExecution, int64, error)
	Statistics(ctx context.Context, jobCode string) (*model.ExecutionStatistics, error)
	ChainHasSuccess(ctx context.Context, chainHeadID string) (bool, error)
	HasRetryChild(ctx context.Context, chainHeadID string, retryCount int) (bool, error)
	FindRetryCandidates(ctx context.Context, limit int) ([]model.BatchExecution, error)
	CountRunningByJob(ctx context.Context, jobCode string) (int64, error)
	DeleteOlderThan(ctx context.Context, date time.Time) (int64, error)
}

type batchExecutionRepository struct {
	db *gorm.DB
}

func NewBatchExecutionRepository(db *gorm.DB) BatchExecutionRepository {
	return &batchExecutionRepository{db: db}
}

func (r *batchExecutionRepository) Create(ctx context.Context, execution *model.BatchExecution, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).Create(execution).Error
}

func (r *batchExecutionRepository) Update(ctx context.Context, execution *model.BatchExecution, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).Updates(execution).Error
}

func (r *batchExecutionRepository) FindByID(ctx context.Context, executionID string) (*model.BatchExecution, error) {
	var execution model.BatchExecution
	if err := r.db.WithContext(ctx).Where("execution_id = ?", executionID).First(&execution).Error; err != nil {
		return nil, err
	}
	return &execution, nil
}

func (r *batchExecutionRepository) List(ctx context.Context, param *model.GetBatchExecutionParam) ([]model.BatchExecution, int64, error) {
	db := r.db.WithContext(ctx).Model(&model.BatchExecution{})
	if param.JobCode != "" {
		db = db.Where("job_code = ?", param.JobCode)
	}
	if len(param.Statuses) > 0 {
		db = db.Where("status IN ?", param.Statuses)
	}
	if param.TriggerType != nil {
		db = db.Where("trigger_type = ?", *param.TriggerType)
	}
	if param.From != nil {
		db = db.Where("start_time >= ?", *param.From)
	}
	if param.To != nil {
		db = db.Where("start_time <= ?", *param.To)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := param.Page
	if page < 1 {
		page = 1
	}
	size := param.Size
	if size < 1 {
		size = 20
	}

	var executions []model.BatchExecution
	err := db.Order("start_time DESC NULLS LAST").
		Offset((page - 1) * size).
		Limit(size).
		Find(&executions).Error
	if err != nil {
		return nil, 0, err
	}
	return executions, total, nil
}

func (r *batchExecutionRepository) Statistics(ctx context.Context, jobCode string) (*model.ExecutionStatistics, error) {
	stats := model.ExecutionStatistics{JobCode: jobCode}
	err := r.db.WithContext(ctx).Model(&model.BatchExecution{}).
		Select(`COUNT(*) AS total_count,
			COUNT(*) FILTER (WHERE status = 'SUCCESS') AS success_count,
			COUNT(*) FILTER (WHERE status = 'FAIL') AS fail_count,
			COUNT(*) FILTER (WHERE status = 'TIMEOUT') AS timeout_count,
			COALESCE(AVG(execution_time_ms), 0) AS avg_execution_time_ms`).
		Where("job_code = ?", jobCode).
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// ChainHasSuccess reports whether any execution in the chain identified by
// its head already ended in SUCCESS. A chain that succeeded once may not be
// retried again.
func (r *batchExecutionRepository) ChainHasSuccess(ctx context.Context, chainHeadID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.BatchExecution{}).
		Where("(execution_id = ? OR original_execution_id = ?) AND status = ?",
			chainHeadID, chainHeadID, model.StatusSuccess).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// HasRetryChild reports whether a retry attempt with the given retry count
// already exists in the chain. The sweeper uses it to stay idempotent.
func (r *batchExecutionRepository) HasRetryChild(ctx context.Context, chainHeadID string, retryCount int) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.BatchExecution{}).
		Where("original_execution_id = ? AND retry_count = ?", chainHeadID, retryCount).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindRetryCandidates finds terminal FAIL/TIMEOUT executions that still have
// retry budget, whose chain never succeeded, and for which no retry attempt
// exists yet. Rows that failed for a permanent reason are excluded; their
// chain already ended. This backs the sweeper safety net for retries that
// failed to self-schedule.
func (r *batchExecutionRepository) FindRetryCandidates(ctx context.Context, limit int) ([]model.BatchExecution, error) {
	var executions []model.BatchExecution
	err := r.db.WithContext(ctx).Model(&model.BatchExecution{}).
		Where("batch_executions.status IN ?", []model.ExecutionStatus{model.StatusFail, model.StatusTimeout}).
		Where("(batch_executions.error_code IS NULL OR batch_executions.error_code NOT IN ?)", dto.PermanentErrorCodes()).
		Where(`batch_executions.retry_count < (
			SELECT j.max_retry_count FROM batch_jobs j WHERE j.job_code = batch_executions.job_code
		)`).
		Where(`NOT EXISTS (
			SELECT 1 FROM batch_executions c
			WHERE c.original_execution_id = COALESCE(batch_executions.original_execution_id, batch_executions.execution_id)
			AND c.retry_count = batch_executions.retry_count + 1
		)`).
		Where(`NOT EXISTS (
			SELECT 1 FROM batch_executions s
			WHERE (s.execution_id = COALESCE(batch_executions.original_execution_id, batch_executions.execution_id)
				OR s.original_execution_id = COALESCE(batch_executions.original_execution_id, batch_executions.execution_id))
			AND s.status = 'SUCCESS'
		)`).
		Order("batch_executions.end_time ASC").
		Limit(limit).
		Find(&executions).Error
	if err != nil {
		return nil, err
	}
	return executions, nil
}

func (r *batchExecutionRepository) CountRunningByJob(ctx context.Context, jobCode string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.BatchExecution{}).
		Where("job_code = ? AND status = ?", jobCode, model.StatusRunning).
		Count(&count).Error
	return count, err
}

func (r *batchExecutionRepository) DeleteOlderThan(ctx context.Context, date time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ? AND status IN ?", date,
			[]model.ExecutionStatus{model.StatusSuccess, model.StatusFail, model.StatusTimeout}).
		Delete(&model.BatchExecution{})
	return res.RowsAffected, res.Error
}
