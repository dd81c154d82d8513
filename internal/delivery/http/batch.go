package http

import (
	"net/http"
	"time"

	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/dto"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/model"

	"github.com/labstack/echo/v4"
)

func (h *HttpAPIHandler) SetupBatch(base *echo.Group) {
	v1 := base.Group("/v1/batch")
	{
		v1.GET("/jobs", h.ListJobs)
		v1.POST("/jobs/:jobCode/run", h.RunJob)
		v1.GET("/jobs/:jobCode/statistics", h.JobStatistics)
		v1.GET("/executions", h.ListExecutions)
		v1.GET("/executions/:executionId", h.ExecutionDetail)
		v1.POST("/executions/:executionId/retry", h.RetryExecution)
	}
}

// statusOf maps service reason codes onto HTTP statuses.
func statusOf(err error) (int, dto.ErrorCode) {
	code, ok := dto.CodeOf(err)
	if !ok {
		return http.StatusInternalServerError, ""
	}
	switch code {
	case dto.ErrCodeBatchJobNotFound, dto.ErrCodeExecutionNotFound, dto.ErrCodeProxyCallNotFound:
		return http.StatusNotFound, code
	case dto.ErrCodeBatchAlreadyRunning, dto.ErrCodeCannotRetrySuccess, dto.ErrCodeCannotRetryRunning:
		return http.StatusConflict, code
	case dto.ErrCodeMissingRequiredParameter, dto.ErrCodeInvalidSchedule:
		return http.StatusBadRequest, code
	default:
		return http.StatusInternalServerError, code
	}
}

func (h *HttpAPIHandler) ListJobs(c echo.Context) error {
	ctx := c.Request().Context()

	jobs, err := h.service.SchedulerService.GetJobs(ctx, model.GetBatchJobParam{})
	if err != nil {
		status, code := statusOf(err)
		return c.JSON(status, dto.NewErrorResponse(status, code, err.Error()))
	}

	items := make([]dto.BatchJobItem, 0, len(jobs))
	for i := range jobs {
		items = append(items, dto.NewBatchJobItem(&jobs[i]))
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("OK", items))
}

func (h *HttpAPIHandler) RunJob(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.RunBatchJobRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse(err.Error()))
	}
	if err := h.validator.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse(err.Error()))
	}

	executionID, err := h.service.SchedulerService.RunJobNow(ctx, c.Param("jobCode"), req.Actor, req.Parameters)
	if err != nil {
		status, code := statusOf(err)
		return c.JSON(status, dto.NewErrorResponse(status, code, err.Error()))
	}

	return c.JSON(http.StatusOK, dto.NewSuccessResponse("Execution started", dto.ExecutionIDResponse{ExecutionID: executionID}))
}

func (h *HttpAPIHandler) RetryExecution(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.RetryExecutionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse(err.Error()))
	}
	if err := h.validator.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse(err.Error()))
	}

	executionID, err := h.service.ExecutionOrchestrator.Retry(ctx, c.Param("executionId"), req.Actor)
	if err != nil {
		status, code := statusOf(err)
		return c.JSON(status, dto.NewErrorResponse(status, code, err.Error()))
	}

	return c.JSON(http.StatusOK, dto.NewSuccessResponse("Retry started", dto.ExecutionIDResponse{ExecutionID: executionID}))
}

func (h *HttpAPIHandler) ListExecutions(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ListExecutionsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse(err.Error()))
	}

	param := &model.GetBatchExecutionParam{
		JobCode: req.JobCode,
		Page:    req.Page,
		Size:    req.Size,
	}
	if req.Status != "" {
		param.Statuses = []model.ExecutionStatus{model.ExecutionStatus(req.Status)}
	}
	if req.TriggerType != "" {
		trigger := model.TriggerType(req.TriggerType)
		param.TriggerType = &trigger
	}
	if req.From != "" {
		from, err := time.Parse(time.RFC3339, req.From)
		if err != nil {
			return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("invalid from timestamp"))
		}
		param.From = &from
	}
	if req.To != "" {
		to, err := time.Parse(time.RFC3339, req.To)
		if err != nil {
			return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("invalid to timestamp"))
		}
		param.To = &to
	}

	executions, total, err := h.service.ExecutionHistoryService.List(ctx, param)
	if err != nil {
		status, code := statusOf(err)
		return c.JSON(status, dto.NewErrorResponse(status, code, err.Error()))
	}

	items := make([]dto.ExecutionItem, 0, len(executions))
	for i := range executions {
		items = append(items, dto.NewExecutionItem(&executions[i]))
	}

	return c.JSON(http.StatusOK, dto.NewSuccessResponse("OK", dto.PagedResponse{
		Items: items,
		Page:  param.Page,
		Size:  param.Size,
		Total: total,
	}))
}

func (h *HttpAPIHandler) ExecutionDetail(c echo.Context) error {
	ctx := c.Request().Context()

	execution, histories, err := h.service.ExecutionHistoryService.Detail(ctx, c.Param("executionId"))
	if err != nil {
		status, code := statusOf(err)
		return c.JSON(status, dto.NewErrorResponse(status, code, err.Error()))
	}

	return c.JSON(http.StatusOK, dto.NewSuccessResponse("OK", map[string]interface{}{
		"execution":     dto.NewExecutionItem(execution),
		"call_attempts": histories,
	}))
}

func (h *HttpAPIHandler) JobStatistics(c echo.Context) error {
	ctx := c.Request().Context()

	stats, err := h.service.ExecutionHistoryService.Statistics(ctx, c.Param("jobCode"))
	if err != nil {
		status, code := statusOf(err)
		return c.JSON(status, dto.NewErrorResponse(status, code, err.Error()))
	}

	return c.JSON(http.StatusOK, dto.NewSuccessResponse("OK", stats))
}
