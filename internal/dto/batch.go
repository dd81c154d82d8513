package dto

import (
	"time"

	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/model"
)

type RunBatchJobRequest struct {
	Parameters map[string]string `json:"parameters"`
	Actor      string            `json:"actor" validate:"required"`
}

type RetryExecutionRequest struct {
	Actor string `json:"actor" validate:"required"`
}

type ExecutionIDResponse struct {
	ExecutionID string `json:"execution_id"`
}

type ListExecutionsRequest struct {
	JobCode     string `query:"job_code"`
	Status      string `query:"status"`
	TriggerType string `query:"trigger_type"`
	From        string `query:"from"`
	To          string `query:"to"`
	Page        int    `query:"page"`
	Size        int    `query:"size"`
}

type PagedResponse struct {
	Items interface{} `json:"items"`
	Page  int         `json:"page"`
	Size  int         `json:"size"`
	Total int64       `json:"total"`
}

type ExecutionItem struct {
	ExecutionID         string     `json:"execution_id"`
	JobCode             string     `json:"job_code"`
	JobName             string     `json:"job_name"`
	Status              string     `json:"status"`
	TriggerType         string     `json:"trigger_type"`
	TriggeredBy         string     `json:"triggered_by,omitempty"`
	RetryCount          int        `json:"retry_count"`
	OriginalExecutionID string     `json:"original_execution_id,omitempty"`
	StartTime           *time.Time `json:"start_time,omitempty"`
	EndTime             *time.Time `json:"end_time,omitempty"`
	ExecutionTimeMs     *int64     `json:"execution_time_ms,omitempty"`
	ErrorCode           string     `json:"error_code,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
}

func NewExecutionItem(e *model.BatchExecution) ExecutionItem {
	item := ExecutionItem{
		ExecutionID: e.ExecutionID,
		JobCode:     e.JobCode,
		JobName:     e.JobName,
		Status:      string(e.Status),
		TriggerType: string(e.TriggerType),
		TriggeredBy: e.TriggeredBy,
		RetryCount:  e.RetryCount,
	}
	if e.OriginalExecutionID.Valid {
		item.OriginalExecutionID = e.OriginalExecutionID.String
	}
	if e.StartTime.Valid {
		t := e.StartTime.Time
		item.StartTime = &t
	}
	if e.EndTime.Valid {
		t := e.EndTime.Time
		item.EndTime = &t
	}
	if e.ExecutionTimeMs.Valid {
		v := e.ExecutionTimeMs.Int64
		item.ExecutionTimeMs = &v
	}
	if e.ErrorCode.Valid {
		item.ErrorCode = e.ErrorCode.String
	}
	if e.ErrorMessage.Valid {
		item.ErrorMessage = e.ErrorMessage.String
	}
	return item
}

type BatchJobItem struct {
	JobCode             string     `json:"job_code"`
	Name                string     `json:"name"`
	ScheduleKind        string     `json:"schedule_kind"`
	ScheduleExpression  string     `json:"schedule_expression"`
	ProxyCallCode       string     `json:"proxy_call_code"`
	MaxRetryCount       int        `json:"max_retry_count"`
	TimeoutSeconds      int        `json:"timeout_seconds"`
	AllowConcurrent     bool       `json:"allow_concurrent"`
	Enabled             bool       `json:"enabled"`
	LastExecutedAt      *time.Time `json:"last_executed_at,omitempty"`
	LastExecutionStatus string     `json:"last_execution_status,omitempty"`
	NextExecutionAt     *time.Time `json:"next_execution_at,omitempty"`
}

func NewBatchJobItem(j *model.BatchJob) BatchJobItem {
	item := BatchJobItem{
		JobCode:            j.JobCode,
		Name:               j.Name,
		ScheduleKind:       string(j.ScheduleKind),
		ScheduleExpression: j.ScheduleExpression,
		ProxyCallCode:      j.ProxyCallCode,
		MaxRetryCount:      j.MaxRetryCount,
		TimeoutSeconds:     j.TimeoutSeconds,
		AllowConcurrent:    j.AllowConcurrent,
		Enabled:            j.Enabled,
	}
	if j.LastExecutedAt.Valid {
		t := j.LastExecutedAt.Time
		item.LastExecutedAt = &t
	}
	if j.LastExecutionStatus.Valid {
		item.LastExecutionStatus = j.LastExecutionStatus.String
	}
	if j.NextExecutionAt.Valid {
		t := j.NextExecutionAt.Time
		item.NextExecutionAt = &t
	}
	return item
}
