package service

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/voxlate/voxlate/internal/clock"
	"github.com/voxlate/voxlate/internal/entitlement/domain"
	"github.com/voxlate/voxlate/internal/quota"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Entitlement{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (domain.Service, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	return New(newTestDB(t), clk, zap.NewNop()), clk
}

func TestUpsertAndActiveForUser(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	expires := clk.Now().Add(30 * 24 * time.Hour)
	err := svc.Upsert(ctx, domain.UpsertRequest{
		UserID:         "user-1",
		EntitlementIDs: []string{quota.EntitlementPro},
		Status:         domain.StatusActive,
		ExpiresAt:      &expires,
		AutoRenew:      true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	active, err := svc.ActiveForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0].EntitlementID != quota.EntitlementPro {
		t.Fatalf("unexpected active set: %+v", active)
	}

	// Re-delivery of the same event overwrites in place.
	err = svc.Upsert(ctx, domain.UpsertRequest{
		UserID:         "user-1",
		EntitlementIDs: []string{quota.EntitlementPro},
		Status:         domain.StatusActive,
		ExpiresAt:      &expires,
		IsTrial:        true,
	})
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	active, err = svc.ActiveForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || !active[0].IsTrial || active[0].AutoRenew {
		t.Fatalf("second write must win: %+v", active)
	}
}

func TestActiveForUserExcludesExpired(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	expires := clk.Now().Add(time.Hour)
	if err := svc.Upsert(ctx, domain.UpsertRequest{
		UserID:         "user-1",
		EntitlementIDs: []string{quota.EntitlementLite},
		Status:         domain.StatusActive,
		ExpiresAt:      &expires,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	clk.Advance(2 * time.Hour)
	active, err := svc.ActiveForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expired entitlement leaked: %+v", active)
	}
}

func TestSupersedeKeepsNamedIDs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{quota.EntitlementLite, quota.EntitlementPro} {
		if err := svc.Upsert(ctx, domain.UpsertRequest{
			UserID:         "user-1",
			EntitlementIDs: []string{id},
			Status:         domain.StatusActive,
		}); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	err := svc.Supersede(ctx, "user-1", quota.TierDefiningIDs(), []string{quota.EntitlementPro})
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}

	active, err := svc.ActiveForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0].EntitlementID != quota.EntitlementPro {
		t.Fatalf("want only pro left, got %+v", active)
	}
}

func TestTransfer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Upsert(ctx, domain.UpsertRequest{
		UserID:         "old-user",
		EntitlementIDs: []string{quota.EntitlementUnlimited},
		Status:         domain.StatusActive,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := svc.Transfer(ctx, domain.TransferRequest{
		EntitlementIDs: []string{quota.EntitlementUnlimited},
		FromUserIDs:    []string{"old-user"},
		ToUserID:       "new-user",
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	old, err := svc.ActiveForUser(ctx, "old-user")
	if err != nil {
		t.Fatalf("active old: %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("source user still active: %+v", old)
	}

	got, err := svc.ActiveForUser(ctx, "new-user")
	if err != nil {
		t.Fatalf("active new: %v", err)
	}
	if len(got) != 1 || got[0].EntitlementID != quota.EntitlementUnlimited {
		t.Fatalf("target user missing entitlement: %+v", got)
	}
}

func TestUpsertValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Upsert(ctx, domain.UpsertRequest{EntitlementIDs: []string{"x"}}); err != domain.ErrInvalidUser {
		t.Fatalf("want ErrInvalidUser, got %v", err)
	}
	if err := svc.Upsert(ctx, domain.UpsertRequest{UserID: "u"}); err != domain.ErrInvalidEntitlement {
		t.Fatalf("want ErrInvalidEntitlement, got %v", err)
	}
}
