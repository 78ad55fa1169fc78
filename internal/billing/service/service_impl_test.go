package service

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/voxlate/voxlate/internal/billing/domain"
	"github.com/voxlate/voxlate/internal/clock"
	entitlementdomain "github.com/voxlate/voxlate/internal/entitlement/domain"
	entitlementservice "github.com/voxlate/voxlate/internal/entitlement/service"
	"github.com/voxlate/voxlate/internal/observability/metrics"
	"github.com/voxlate/voxlate/internal/quota"
	"github.com/voxlate/voxlate/internal/users"
)

type purchaseCall struct {
	purchaseID string
	userID     string
	productID  string
	source     string
}

type fakeCredit struct {
	calls []purchaseCall
}

func (f *fakeCredit) ApplyPurchase(_ context.Context, purchaseID, userID, productID, source string) error {
	f.calls = append(f.calls, purchaseCall{purchaseID, userID, productID, source})
	return nil
}

func (f *fakeCredit) SettleOverage(context.Context, string, quota.Tier, quota.ResourceType, int64) error {
	return nil
}

func (f *fakeCredit) Balance(context.Context, string) (int64, error) { return 0, nil }

func newFixture(t *testing.T) (Processor, entitlementdomain.Service, *fakeCredit) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&entitlementdomain.Entitlement{}, &users.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	ents := entitlementservice.New(db, clk, log)
	credit := &fakeCredit{}
	m, err := metrics.New(metrics.Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resolver := users.NewResolver(db, log)
	return New(ents, credit, resolver, m, log), ents, credit
}

func TestProcessPurchaseActivatesEntitlement(t *testing.T) {
	p, ents, _ := newFixture(t)
	ctx := context.Background()

	expires := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	err := p.Process(ctx, domain.PurchaseEvent{
		Type:           domain.EventInitialPurchase,
		AppUserID:      "rc-1",
		EntitlementIDs: []string{quota.EntitlementPro},
		ExpiresAt:      &expires,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	// No credential row exists, so the billing identity is the user id.
	active, err := ents.ActiveForUser(ctx, "rc-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || !active[0].AutoRenew || active[0].IsTrial {
		t.Fatalf("unexpected entitlements: %+v", active)
	}
}

func TestProcessCancellationKeepsAccess(t *testing.T) {
	p, ents, _ := newFixture(t)
	ctx := context.Background()

	expires := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	if err := p.Process(ctx, domain.PurchaseEvent{
		Type:           domain.EventInitialPurchase,
		AppUserID:      "rc-1",
		EntitlementIDs: []string{quota.EntitlementPro},
		ExpiresAt:      &expires,
		IsTrial:        true,
	}); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := p.Process(ctx, domain.CancellationEvent{
		AppUserID:      "rc-1",
		EntitlementIDs: []string{quota.EntitlementPro},
		ExpiresAt:      &expires,
		IsTrial:        true,
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	active, err := ents.ActiveForUser(ctx, "rc-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("cancelled entitlement must stay active: %+v", active)
	}
	if active[0].AutoRenew {
		t.Fatal("cancellation must switch auto-renew off")
	}
	// Trial plus cancelled renewal lands the user in the restricted overlay.
	if !quota.IsTrialCancelled(active, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("expected trial-cancelled overlay")
	}
}

func TestProcessExpiration(t *testing.T) {
	p, ents, _ := newFixture(t)
	ctx := context.Background()

	if err := p.Process(ctx, domain.PurchaseEvent{
		Type:           domain.EventInitialPurchase,
		AppUserID:      "rc-1",
		EntitlementIDs: []string{quota.EntitlementLite},
	}); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := p.Process(ctx, domain.ExpirationEvent{
		AppUserID:      "rc-1",
		EntitlementIDs: []string{quota.EntitlementLite},
	}); err != nil {
		t.Fatalf("expire: %v", err)
	}

	active, err := ents.ActiveForUser(ctx, "rc-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expired entitlement still active: %+v", active)
	}
}

func TestProcessProductChangeSupersedes(t *testing.T) {
	p, ents, _ := newFixture(t)
	ctx := context.Background()

	if err := p.Process(ctx, domain.PurchaseEvent{
		Type:           domain.EventInitialPurchase,
		AppUserID:      "rc-1",
		EntitlementIDs: []string{quota.EntitlementLite},
	}); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := p.Process(ctx, domain.ProductChangeEvent{
		AppUserID:      "rc-1",
		EntitlementIDs: []string{quota.EntitlementPro},
	}); err != nil {
		t.Fatalf("product change: %v", err)
	}

	active, err := ents.ActiveForUser(ctx, "rc-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0].EntitlementID != quota.EntitlementPro {
		t.Fatalf("want exactly one active tier entitlement, got %+v", active)
	}
}

func TestProcessTransfer(t *testing.T) {
	p, ents, _ := newFixture(t)
	ctx := context.Background()

	if err := p.Process(ctx, domain.PurchaseEvent{
		Type:           domain.EventInitialPurchase,
		AppUserID:      "rc-old",
		EntitlementIDs: []string{quota.EntitlementUnlimited},
	}); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := p.Process(ctx, domain.TransferEvent{
		AppUserID:       "rc-new",
		EntitlementIDs:  []string{quota.EntitlementUnlimited},
		TransferredFrom: []string{"rc-old"},
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	old, err := ents.ActiveForUser(ctx, "rc-old")
	if err != nil {
		t.Fatalf("active old: %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("source still active: %+v", old)
	}
	got, err := ents.ActiveForUser(ctx, "rc-new")
	if err != nil {
		t.Fatalf("active new: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("target missing entitlement: %+v", got)
	}
}

func TestProcessCreditPurchaseRoutesToLedger(t *testing.T) {
	p, _, credit := newFixture(t)

	err := p.Process(context.Background(), domain.CreditPurchaseEvent{
		AppUserID:     "rc-1",
		ProductID:     "voxlate_credits_1h",
		TransactionID: "txn-1",
		Store:         "PLAY_STORE",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(credit.calls) != 1 {
		t.Fatalf("credit calls = %d, want 1", len(credit.calls))
	}
	call := credit.calls[0]
	if call.purchaseID != "txn-1" || call.userID != "rc-1" || call.productID != "voxlate_credits_1h" {
		t.Fatalf("unexpected call: %+v", call)
	}
}

func TestProcessUnknownEventIsNoop(t *testing.T) {
	p, _, credit := newFixture(t)

	if err := p.Process(context.Background(), domain.UnknownEvent{Type: "BILLING_ISSUE"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(credit.calls) != 0 {
		t.Fatal("unknown events must not reach the ledgers")
	}
}
