package users

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestResolver(t *testing.T) (Resolver, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewResolver(db, zap.NewNop()), db
}

func TestResolveAppUserID(t *testing.T) {
	r, db := newTestResolver(t)
	ctx := context.Background()

	if err := db.Create(&User{ID: "user-42", AppUserID: "rc-abc"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := r.ResolveAppUserID(ctx, "rc-abc")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "user-42" {
		t.Fatalf("resolved = %s, want user-42", got)
	}
}

func TestResolveAppUserIDFallback(t *testing.T) {
	r, _ := newTestResolver(t)

	got, err := r.ResolveAppUserID(context.Background(), "rc-unknown")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "rc-unknown" {
		t.Fatalf("fallback = %s, want rc-unknown", got)
	}
}

func TestResolveAppUserIDEmpty(t *testing.T) {
	r, _ := newTestResolver(t)

	if _, err := r.ResolveAppUserID(context.Background(), "  "); err != ErrEmptyAppUserID {
		t.Fatalf("want ErrEmptyAppUserID, got %v", err)
	}
}
