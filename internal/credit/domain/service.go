package domain

import (
	"context"
	"errors"

	"github.com/voxlate/voxlate/internal/quota"
	usagedomain "github.com/voxlate/voxlate/internal/usage/domain"
)

// StatsReader reads post-increment usage counters during settlement.
type StatsReader interface {
	Stats(ctx context.Context, userID string, resource quota.ResourceType, includeTotal bool) (usagedomain.Stats, error)
}

type Service interface {
	// ApplyPurchase credits the seconds mapped to productID. Idempotent on
	// purchaseID; unknown products are logged and ignored.
	ApplyPurchase(ctx context.Context, purchaseID, userID, productID, source string) error

	// SettleOverage deducts the quota overflow caused by a duration-metered
	// usage event. Only the larger of the daily and monthly overflows is
	// billed. The balance may go negative.
	SettleOverage(ctx context.Context, userID string, tier quota.Tier, resource quota.ResourceType, durationSeconds int64) error

	// Balance returns the current balance in seconds, zero for unknown users.
	Balance(ctx context.Context, userID string) (int64, error)
}

var (
	ErrInvalidUser     = errors.New("invalid_user")
	ErrInvalidPurchase = errors.New("invalid_purchase")
)
