package model

import (
	"database/sql"
	"time"
)

// ProxyCallHistory records one physical HTTP attempt. Append-only, owned by
// the proxy caller; an execution references its attempts via ExecutionID.
type ProxyCallHistory struct {
	ID             string `gorm:"type:varchar(36);primaryKey"`
	CallCode       string `gorm:"type:varchar(100);index;not null"`
	ExecutionID    string `gorm:"type:varchar(36);index"`
	Attempt        int    `gorm:"not null"`
	RequestURL     string `gorm:"type:varchar(2048)"`
	RequestBody    string `gorm:"type:text"`
	ResponseStatus sql.NullInt32
	ResponseBody   sql.NullString `gorm:"type:text"`
	LatencyMs      int64
	Success        bool
	ErrorMessage   sql.NullString `gorm:"type:text"`
	CreatedAt      time.Time      `gorm:"autoCreateTime"`
}

func (ProxyCallHistory) TableName() string {
	return "proxy_call_histories"
}
