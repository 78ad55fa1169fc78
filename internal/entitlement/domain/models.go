// Package domain contains persistence models for billing entitlements.
package domain

import (
	"time"
)

// Status represents lifecycle states for an entitlement.
type Status string

const (
	StatusActive      Status = "active"
	StatusExpired     Status = "expired"
	StatusSuperseded  Status = "superseded"
	StatusTransferred Status = "transferred"
)

// Entitlement is a billing-provider-granted right held by a user. A user may
// hold several rows at once; only active, unexpired rows count toward tier
// resolution.
type Entitlement struct {
	UserID            string     `gorm:"primaryKey;type:text"`
	EntitlementID     string     `gorm:"primaryKey;type:text"`
	Status            Status     `gorm:"type:text;not null"`
	ExpiresAt         *time.Time `gorm:""`
	IsTrial           bool       `gorm:"not null;default:false"`
	AutoRenew         bool       `gorm:"not null;default:false"`
	OriginalAppUserID string     `gorm:"type:text"`
	UpdatedAt         time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Entitlement) TableName() string { return "entitlements" }

// ActiveAt reports whether the entitlement counts toward tier resolution at
// the given instant. A nil ExpiresAt means perpetual.
func (e Entitlement) ActiveAt(now time.Time) bool {
	if e.Status != StatusActive {
		return false
	}
	if e.ExpiresAt == nil {
		return true
	}
	return e.ExpiresAt.After(now)
}
