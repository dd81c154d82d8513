package service

import (
	"github.com/0bliviat3/my-framework-core-back-end-sub001/config"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/repository"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/httpclient"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/logger"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/redislock"
)

type Service struct {
	SchedulerService        SchedulerService
	ExecutionOrchestrator   ExecutionOrchestrator
	ProxyCaller             ProxyCaller
	RetrySweeper            RetrySweeper
	ExecutionHistoryService ExecutionHistoryService
}

func NewService(
	cfg *config.Config,
	log *logger.Logger,
	repo *repository.Repository,
	httpClient httpclient.HTTPClient,
	locker redislock.Locker,
) *Service {
	proxyCaller := NewProxyCaller(cfg, log, httpClient, repo.ProxyCallHistoryRepo)

	orchestrator := NewExecutionOrchestrator(
		cfg,
		log,
		repo.BatchJobRepo,
		repo.BatchExecutionRepo,
		repo.ProxyCallRepo,
		repo.UnitOfWork,
		proxyCaller,
		locker,
	)

	schedulerService := NewSchedulerService(cfg, log, repo.BatchJobRepo, orchestrator)
	retrySweeper := NewRetrySweeper(cfg, log, repo.BatchJobRepo, repo.BatchExecutionRepo, repo.ProxyCallHistoryRepo, orchestrator)
	historyService := NewExecutionHistoryService(log, repo.BatchExecutionRepo, repo.ProxyCallHistoryRepo)

	return &Service{
		SchedulerService:        schedulerService,
		ExecutionOrchestrator:   orchestrator,
		ProxyCaller:             proxyCaller,
		RetrySweeper:            retrySweeper,
		ExecutionHistoryService: historyService,
	}
}
