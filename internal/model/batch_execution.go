package model

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

type ExecutionStatus string

const (
	StatusWait    ExecutionStatus = "WAIT"
	StatusRunning ExecutionStatus = "RUNNING"
	StatusSuccess ExecutionStatus = "SUCCESS"
	StatusFail    ExecutionStatus = "FAIL"
	StatusRetry   ExecutionStatus = "RETRY"
	StatusTimeout ExecutionStatus = "TIMEOUT"
)

// IsTerminal reports whether the execution can no longer change state.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFail || s == StatusTimeout
}

type TriggerType string

const (
	TriggerScheduler TriggerType = "SCHEDULER"
	TriggerManual    TriggerType = "MANUAL"
	TriggerRetry     TriggerType = "RETRY"
)

// BatchExecution is one concrete run of a BatchJob. Rows are append-only:
// a row transitions through WAIT/RETRY into RUNNING and then exactly once
// into a terminal state, after which it is never touched again.
type BatchExecution struct {
	ExecutionID         string          `gorm:"type:varchar(36);primaryKey"`
	JobCode             string          `gorm:"type:varchar(100);index:idx_batch_executions_job_start,priority:1;not null"`
	JobName             string          `gorm:"type:varchar(255);not null"`
	Status              ExecutionStatus `gorm:"type:varchar(20);index;not null"`
	TriggerType         TriggerType     `gorm:"type:varchar(20);not null"`
	TriggeredBy         string          `gorm:"type:varchar(100)"`
	RetryCount          int             `gorm:"default:0"`
	OriginalExecutionID sql.NullString  `gorm:"type:varchar(36);index"`
	Parameters          datatypes.JSON  `gorm:"type:jsonb"`
	StartTime           sql.NullTime    `gorm:"index:idx_batch_executions_job_start,priority:2,sort:desc"`
	EndTime             sql.NullTime
	ExecutionTimeMs     sql.NullInt64
	ErrorCode           sql.NullString `gorm:"type:varchar(50)"`
	ErrorMessage        sql.NullString `gorm:"type:text"`
	StackTrace          sql.NullString `gorm:"type:text"`
	CreatedAt           time.Time      `gorm:"autoCreateTime"`
	UpdatedAt           time.Time      `gorm:"autoUpdateTime"`
}

func (BatchExecution) TableName() string {
	return "batch_executions"
}

// ChainHeadID returns the id of the first execution in this logical attempt
// chain. A fresh attempt is its own head.
func (e *BatchExecution) ChainHeadID() string {
	if e.OriginalExecutionID.Valid {
		return e.OriginalExecutionID.String
	}
	return e.ExecutionID
}

type GetBatchExecutionParam struct {
	JobCode     string            `json:"job_code"`
	Statuses    []ExecutionStatus `json:"statuses"`
	TriggerType *TriggerType      `json:"trigger_type"`
	From        *time.Time        `json:"from"`
	To          *time.Time        `json:"to"`
	Page        int               `json:"page"`
	Size        int               `json:"size"`
}

// ExecutionStatistics is the per-job aggregate exposed to operators.
type ExecutionStatistics struct {
	JobCode            string  `json:"job_code"`
	TotalCount         int64   `json:"total_count"`
	SuccessCount       int64   `json:"success_count"`
	FailCount          int64   `json:"fail_count"`
	TimeoutCount       int64   `json:"timeout_count"`
	AvgExecutionTimeMs float64 `json:"avg_execution_time_ms"`
}
