package model

import (
	"time"

	"gorm.io/datatypes"
)

// ProxyCall describes a named outbound HTTP invocation. URL, header values
// and body may contain ${name} placeholders resolved from the caller's
// parameters at execution time. Read-only input to the proxy caller.
type ProxyCall struct {
	ID              uint           `gorm:"primaryKey"`
	CallCode        string         `gorm:"type:varchar(100);uniqueIndex;not null"`
	Name            string         `gorm:"type:varchar(255);not null"`
	Description     string         `gorm:"type:text"`
	URLTemplate     string         `gorm:"type:varchar(2048);not null"`
	Method          string         `gorm:"type:varchar(10);not null"`
	HeaderTemplate  datatypes.JSON `gorm:"type:jsonb"`
	BodyTemplate    string         `gorm:"type:text"`
	TimeoutSeconds  int            `gorm:"default:30"`
	RetryCount      int            `gorm:"default:0"`
	RetryIntervalMs int            `gorm:"default:1000"`
	Enabled         bool           `gorm:"default:true"`
	CreatedBy       string         `gorm:"type:varchar(100)"`
	UpdatedBy       string         `gorm:"type:varchar(100)"`
	CreatedAt       time.Time      `gorm:"autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime"`
}

func (ProxyCall) TableName() string {
	return "proxy_calls"
}
