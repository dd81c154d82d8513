package repository

import (
	"github.com/0bliviat3/my-framework-core-back-end-sub001/config"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/cache"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/logger"

	"gorm.io/gorm"
)

type Repository struct {
	BatchJobRepo         BatchJobRepository
	BatchExecutionRepo   BatchExecutionRepository
	ProxyCallRepo        ProxyCallRepository
	ProxyCallHistoryRepo ProxyCallHistoryRepository
	UnitOfWork           UnitOfWork
}

func NewRepository(cfg *config.Config, inmemoryCache cache.Cache, db *gorm.DB, log *logger.Logger) (*Repository, error) {
	return &Repository{
		BatchJobRepo:         NewBatchJobRepository(db),
		BatchExecutionRepo:   NewBatchExecutionRepository(db),
		ProxyCallRepo:        NewProxyCallRepository(db, inmemoryCache),
		ProxyCallHistoryRepo: NewProxyCallHistoryRepository(db),
		UnitOfWork:           NewUnitOfWork(db),
	}, nil
}
