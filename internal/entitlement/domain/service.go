package domain

import (
	"context"
	"errors"
	"time"
)

// UpsertRequest mutates one or more (user, entitlement) rows from a billing
// lifecycle event. Writes are last-write-wins on the composite key.
type UpsertRequest struct {
	UserID            string
	EntitlementIDs    []string
	Status            Status
	ExpiresAt         *time.Time
	IsTrial           bool
	AutoRenew         bool
	OriginalAppUserID string
}

// TransferRequest moves entitlements between users.
type TransferRequest struct {
	EntitlementIDs []string
	FromUserIDs    []string
	ToUserID       string
	ExpiresAt      *time.Time
}

type Service interface {
	// ActiveForUser returns entitlements with status=active whose expiry is
	// nil or in the future.
	ActiveForUser(ctx context.Context, userID string) ([]Entitlement, error)

	// Upsert applies a lifecycle event to the named entitlement rows.
	Upsert(ctx context.Context, req UpsertRequest) error

	// Supersede marks every tier-defining entitlement of the user other than
	// keepIDs as superseded.
	Supersede(ctx context.Context, userID string, tierDefiningIDs, keepIDs []string) error

	// Transfer marks the entitlements transferred for each source user and
	// active for the target.
	Transfer(ctx context.Context, req TransferRequest) error
}

var (
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidEntitlement = errors.New("invalid_entitlement")
)
