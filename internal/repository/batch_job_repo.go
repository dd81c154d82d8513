package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/model"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/utils"

	"gorm.io/gorm"
)

type BatchJobRepository interface {
	GetByCode(ctx context.Context, jobCode string, opts ...utils.DBOption) (*model.BatchJob, error)
	Get(ctx context.Context, param *model.GetBatchJobParam, opts ...utils.DBOption) ([]model.BatchJob, error)
	FindDue(ctx context.Context, now time.Time, opts ...utils.DBOption) ([]model.BatchJob, error)
	ClaimTick(ctx context.Context, jobCode string, due sql.NullTime, next sql.NullTime) (bool, error)
	UpdateLastRun(ctx context.Context, jobCode string, status model.ExecutionStatus, at time.Time, opts ...utils.DBOption) error
}

type batchJobRepository struct {
	db *gorm.DB
}

func NewBatchJobRepository(db *gorm.DB) BatchJobRepository {
	return &batchJobRepository{db: db}
}

func (r *batchJobRepository) GetByCode(ctx context.Context, jobCode string, opts ...utils.DBOption) (*model.BatchJob, error) {
	var job model.BatchJob
	err := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Where("job_code = ?", jobCode).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *batchJobRepository) Get(ctx context.Context, param *model.GetBatchJobParam, opts ...utils.DBOption) ([]model.BatchJob, error) {
	var jobs []model.BatchJob
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...).Model(&model.BatchJob{})
	if param.Enabled != nil {
		db = db.Where("enabled = ?", *param.Enabled)
	}
	if len(param.JobCodes) > 0 {
		db = db.Where("job_code IN ?", param.JobCodes)
	}
	if param.Limit != nil {
		db = db.Limit(*param.Limit)
	}
	if err := db.Order("job_code").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// FindDue finds enabled jobs whose persisted next-fire time has arrived.
// A NULL next-fire means the job was never scheduled and is due now.
func (r *batchJobRepository) FindDue(ctx context.Context, now time.Time, opts ...utils.DBOption) ([]model.BatchJob, error) {
	var jobs []model.BatchJob
	err := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Where("enabled = ? AND (next_execution_at IS NULL OR next_execution_at <= ?)", true, now).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// ClaimTick advances the persisted next-fire time with a compare-and-swap on
// the previous value. Exactly one node observes RowsAffected=1 for a given
// tick under normal operation; losers skip the fire. This is a trigger-level
// claim only, the distributed lock still guards execution.
func (r *batchJobRepository) ClaimTick(ctx context.Context, jobCode string, due sql.NullTime, next sql.NullTime) (bool, error) {
	db := r.db.WithContext(ctx).Model(&model.BatchJob{}).
		Where("job_code = ?", jobCode)
	if due.Valid {
		db = db.Where("next_execution_at = ?", due.Time)
	} else {
		db = db.Where("next_execution_at IS NULL")
	}

	res := db.Update("next_execution_at", next)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *batchJobRepository) UpdateLastRun(ctx context.Context, jobCode string, status model.ExecutionStatus, at time.Time, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Model(&model.BatchJob{}).
		Where("job_code = ?", jobCode).
		Updates(map[string]interface{}{
			"last_executed_at":      at,
			"last_execution_status": string(status),
		}).Error
}
