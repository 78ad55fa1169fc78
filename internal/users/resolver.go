// Package users resolves billing identities to internal user ids.
package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// User is the minimal credential row the gateway keeps. AppUserID is the
// identity the billing provider reports in webhooks.
type User struct {
	ID        string    `gorm:"primaryKey;type:text"`
	AppUserID string    `gorm:"type:text;uniqueIndex"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (User) TableName() string { return "users" }

// Resolver maps billing app_user_id values to internal user ids.
type Resolver interface {
	// ResolveAppUserID returns the internal user id for a billing identity.
	// Unknown identities fall back to the identity itself, so webhook events
	// for users who never signed in are still attributed consistently.
	ResolveAppUserID(ctx context.Context, appUserID string) (string, error)
}

type resolver struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewResolver(db *gorm.DB, log *zap.Logger) Resolver {
	return &resolver{db: db, log: log.Named("users")}
}

var ErrEmptyAppUserID = errors.New("empty_app_user_id")

func (r *resolver) ResolveAppUserID(ctx context.Context, appUserID string) (string, error) {
	appUserID = strings.TrimSpace(appUserID)
	if appUserID == "" {
		return "", ErrEmptyAppUserID
	}

	var user User
	err := r.db.WithContext(ctx).Where("app_user_id = ?", appUserID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		r.log.Debug("no credential row for billing identity, using it verbatim",
			zap.String("app_user_id", appUserID))
		return appUserID, nil
	}
	if err != nil {
		return "", err
	}
	return user.ID, nil
}
