// Package domain contains the usage ledger models. The event table is an
// append-only audit trail; the aggregate table carries pre-summed counters
// per user, resource, and period window.
package domain

import (
	"time"

	"gorm.io/datatypes"

	"github.com/voxlate/voxlate/internal/quota"
)

// PeriodKind selects the aggregation window of an aggregate row.
type PeriodKind string

const (
	PeriodDaily   PeriodKind = "daily"
	PeriodMonthly PeriodKind = "monthly"
	PeriodTotal   PeriodKind = "total"
)

// TotalKey is the period value of the single lifetime row.
const TotalKey = "total"

// DailyKey formats the daily period value in UTC.
func DailyKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// MonthlyKey formats the monthly period value in UTC.
func MonthlyKey(t time.Time) string { return t.UTC().Format("2006-01") }

// UsageEvent is one audit row per metered operation.
type UsageEvent struct {
	ID              int64              `gorm:"primaryKey;autoIncrement:false"`
	UserID          string             `gorm:"type:text;not null;index:idx_usage_events_user_resource"`
	ResourceType    quota.ResourceType `gorm:"type:text;not null;index:idx_usage_events_user_resource"`
	Model           string             `gorm:"type:text"`
	InputTokens     int64              `gorm:"not null;default:0"`
	OutputTokens    int64              `gorm:"not null;default:0"`
	CostMicros      int64              `gorm:"not null;default:0"`
	DurationSeconds int64              `gorm:"not null;default:0"`
	RequestHash     string             `gorm:"type:text"`
	Metadata        datatypes.JSONMap  `gorm:"type:json"`
	CreatedAt       time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (UsageEvent) TableName() string { return "usage_events" }

// UsageAggregate is one pre-summed counter row. The composite key makes the
// additive upserts race-free.
type UsageAggregate struct {
	UserID          string             `gorm:"primaryKey;type:text"`
	ResourceType    quota.ResourceType `gorm:"primaryKey;type:text"`
	PeriodKind      PeriodKind         `gorm:"primaryKey;type:text"`
	PeriodValue     string             `gorm:"primaryKey;type:text"`
	Count           int64              `gorm:"not null;default:0"`
	DurationSeconds int64              `gorm:"not null;default:0"`
	TotalTokens     int64              `gorm:"not null;default:0"`
	UpdatedAt       time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (UsageAggregate) TableName() string { return "usage_aggregates" }

// Used returns the consumed units of the row for the given resource. Units
// are seconds for duration-metered resources, request counts otherwise.
func (a UsageAggregate) Used(resource quota.ResourceType) int64 {
	if resource.DurationMetered() {
		return a.DurationSeconds
	}
	return a.Count
}
