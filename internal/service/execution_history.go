package service

import (
	"context"
	"fmt"

	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/dto"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/model"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/repository"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/logger"
)

// ExecutionHistoryService is the read side exposed to operator tooling.
type ExecutionHistoryService interface {
	List(ctx context.Context, param *model.GetBatchExecutionParam) ([]model.BatchExecution, int64, error)
	Statistics(ctx context.Context, jobCode string) (*model.ExecutionStatistics, error)
	Detail(ctx context.Context, executionID string) (*model.BatchExecution, []model.ProxyCallHistory, error)
}

type executionHistoryService struct {
	log         *logger.Logger
	execRepo    repository.BatchExecutionRepository
	historyRepo repository.ProxyCallHistoryRepository
}

func NewExecutionHistoryService(
	log *logger.Logger,
	execRepo repository.BatchExecutionRepository,
	historyRepo repository.ProxyCallHistoryRepository,
) ExecutionHistoryService {
	return &executionHistoryService{
		log:         log,
		execRepo:    execRepo,
		historyRepo: historyRepo,
	}
}

func (s *executionHistoryService) List(ctx context.Context, param *model.GetBatchExecutionParam) ([]model.BatchExecution, int64, error) {
	return s.execRepo.List(ctx, param)
}

func (s *executionHistoryService) Statistics(ctx context.Context, jobCode string) (*model.ExecutionStatistics, error) {
	return s.execRepo.Statistics(ctx, jobCode)
}

// Detail returns an execution together with the physical call attempts it
// produced.
func (s *executionHistoryService) Detail(ctx context.Context, executionID string) (*model.BatchExecution, []model.ProxyCallHistory, error) {
	execution, err := s.execRepo.FindByID(ctx, executionID)
	if err != nil {
		return nil, nil, dto.NewCodedError(dto.ErrCodeExecutionNotFound, fmt.Sprintf("execution %s not found", executionID))
	}

	histories, err := s.historyRepo.ListByExecution(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}

	return execution, histories, nil
}
