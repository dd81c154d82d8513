package model

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

type ScheduleKind string

const (
	ScheduleKindCron     ScheduleKind = "CRON"
	ScheduleKindInterval ScheduleKind = "INTERVAL"
)

// BatchJob is a named, schedulable unit. The admin surface owns create/edit;
// the engine reads it at trigger time and writes back only the last-run fields.
type BatchJob struct {
	ID                   uint           `gorm:"primaryKey"`
	JobCode              string         `gorm:"type:varchar(100);uniqueIndex;not null"`
	Name                 string         `gorm:"type:varchar(255);not null"`
	Description          string         `gorm:"type:text"`
	ScheduleKind         ScheduleKind   `gorm:"type:varchar(20);not null"`
	ScheduleExpression   string         `gorm:"type:varchar(100);not null"`
	ProxyCallCode        string         `gorm:"type:varchar(100);not null"`
	Parameters           datatypes.JSON `gorm:"type:jsonb"`
	MaxRetryCount        int            `gorm:"default:0"`
	RetryIntervalSeconds int            `gorm:"default:0"`
	TimeoutSeconds       int            `gorm:"default:60"`
	AllowConcurrent      bool           `gorm:"default:false"`
	Enabled              bool           `gorm:"default:true"`
	LastExecutedAt       sql.NullTime
	LastExecutionStatus  sql.NullString `gorm:"type:varchar(20)"`
	NextExecutionAt      sql.NullTime
	CreatedBy            string    `gorm:"type:varchar(100)"`
	UpdatedBy            string    `gorm:"type:varchar(100)"`
	CreatedAt            time.Time `gorm:"autoCreateTime"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime"`

	Executions []BatchExecution `gorm:"foreignKey:JobCode;references:JobCode"`
}

func (BatchJob) TableName() string {
	return "batch_jobs"
}

type GetBatchJobParam struct {
	JobCodes []string `json:"job_codes"`
	Enabled  *bool    `json:"enabled"`
	Limit    *int     `json:"limit"`
}
