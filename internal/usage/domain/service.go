package domain

import (
	"context"
	"errors"

	"gorm.io/datatypes"

	"github.com/voxlate/voxlate/internal/quota"
)

// RecordRequest describes one metered operation to write to the ledger.
type RecordRequest struct {
	UserID          string
	Resource        quota.ResourceType
	Model           string
	InputTokens     int64
	OutputTokens    int64
	CostMicros      int64
	DurationSeconds int64
	RequestHash     string
	Metadata        datatypes.JSONMap

	// Tier is the admission-time tier. When set and the resource is
	// duration-metered, credit settlement runs after the aggregates update.
	Tier quota.Tier
}

// Stats reports used units per window. Units are seconds for duration-metered
// resources and request counts otherwise.
type Stats struct {
	Daily   int64
	Monthly int64
	Total   int64

	// TotalRead reports whether the lifetime row was consulted.
	TotalRead bool
}

type Service interface {
	// Record appends one audit event and bumps the daily, monthly, and
	// lifetime aggregates with additive upserts.
	Record(ctx context.Context, req RecordRequest) (*UsageEvent, error)

	// Stats reads the current window counters. includeTotal skips the
	// lifetime row when false.
	Stats(ctx context.Context, userID string, resource quota.ResourceType, includeTotal bool) (Stats, error)
}

var (
	ErrInvalidUser     = errors.New("invalid_user")
	ErrInvalidResource = errors.New("invalid_resource")
)
