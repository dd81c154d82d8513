package repository

import (
	"context"
	"time"

	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/model"

	"gorm.io/gorm"
)

type ProxyCallHistoryRepository interface {
	Create(ctx context.Context, history *model.ProxyCallHistory) error
	ListByExecution(ctx context.Context, executionID string) ([]model.ProxyCallHistory, error)
	DeleteOlderThan(ctx context.Context, date time.Time) (int64, error)
}

type proxyCallHistoryRepository struct {
	db *gorm.DB
}

func NewProxyCallHistoryRepository(db *gorm.DB) ProxyCallHistoryRepository {
	return &proxyCallHistoryRepository{db: db}
}

func (r *proxyCallHistoryRepository) Create(ctx context.Context, history *model.ProxyCallHistory) error {
	return r.db.WithContext(ctx).Create(history).Error
}

func (r *proxyCallHistoryRepository) ListByExecution(ctx context.Context, executionID string) ([]model.ProxyCallHistory, error) {
	var histories []model.ProxyCallHistory
	err := r.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("attempt ASC").
		Find(&histories).Error
	if err != nil {
		return nil, err
	}
	return histories, nil
}

func (r *proxyCallHistoryRepository) DeleteOlderThan(ctx context.Context, date time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", date).
		Delete(&model.ProxyCallHistory{})
	return res.RowsAffected, res.Error
}
