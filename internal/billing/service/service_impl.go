// Package service applies decoded billing events to the entitlement and
// credit ledgers.
package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/voxlate/voxlate/internal/billing/domain"
	creditdomain "github.com/voxlate/voxlate/internal/credit/domain"
	entitlementdomain "github.com/voxlate/voxlate/internal/entitlement/domain"
	"github.com/voxlate/voxlate/internal/observability/metrics"
	"github.com/voxlate/voxlate/internal/quota"
	"github.com/voxlate/voxlate/internal/users"
)

// Processor routes one decoded webhook event to its ledger.
type Processor interface {
	Process(ctx context.Context, event domain.Event) error
}

type processor struct {
	entitlements entitlementdomain.Service
	credits      creditdomain.Service
	resolver     users.Resolver
	metrics      *metrics.Metrics
	log          *zap.Logger
}

func New(entitlements entitlementdomain.Service, credits creditdomain.Service, resolver users.Resolver, m *metrics.Metrics, log *zap.Logger) Processor {
	return &processor{
		entitlements: entitlements,
		credits:      credits,
		resolver:     resolver,
		metrics:      m,
		log:          log.Named("billing"),
	}
}

func (p *processor) Process(ctx context.Context, event domain.Event) error {
	p.metrics.RecordWebhookEvent(ctx, string(event.EventType()))

	switch e := event.(type) {
	case domain.PurchaseEvent:
		userID, err := p.resolver.ResolveAppUserID(ctx, e.AppUserID)
		if err != nil {
			return err
		}
		return p.entitlements.Upsert(ctx, entitlementdomain.UpsertRequest{
			UserID:            userID,
			EntitlementIDs:    e.EntitlementIDs,
			Status:            entitlementdomain.StatusActive,
			ExpiresAt:         e.ExpiresAt,
			IsTrial:           e.IsTrial,
			AutoRenew:         true,
			OriginalAppUserID: e.AppUserID,
		})

	case domain.CancellationEvent:
		userID, err := p.resolver.ResolveAppUserID(ctx, e.AppUserID)
		if err != nil {
			return err
		}
		// Paid-through time remains usable; only renewal stops.
		return p.entitlements.Upsert(ctx, entitlementdomain.UpsertRequest{
			UserID:            userID,
			EntitlementIDs:    e.EntitlementIDs,
			Status:            entitlementdomain.StatusActive,
			ExpiresAt:         e.ExpiresAt,
			IsTrial:           e.IsTrial,
			AutoRenew:         false,
			OriginalAppUserID: e.AppUserID,
		})

	case domain.ExpirationEvent:
		userID, err := p.resolver.ResolveAppUserID(ctx, e.AppUserID)
		if err != nil {
			return err
		}
		return p.entitlements.Upsert(ctx, entitlementdomain.UpsertRequest{
			UserID:            userID,
			EntitlementIDs:    e.EntitlementIDs,
			Status:            entitlementdomain.StatusExpired,
			ExpiresAt:         e.ExpiresAt,
			AutoRenew:         false,
			OriginalAppUserID: e.AppUserID,
		})

	case domain.ProductChangeEvent:
		userID, err := p.resolver.ResolveAppUserID(ctx, e.AppUserID)
		if err != nil {
			return err
		}
		err = p.entitlements.Upsert(ctx, entitlementdomain.UpsertRequest{
			UserID:            userID,
			EntitlementIDs:    e.EntitlementIDs,
			Status:            entitlementdomain.StatusActive,
			ExpiresAt:         e.ExpiresAt,
			AutoRenew:         true,
			OriginalAppUserID: e.AppUserID,
		})
		if err != nil {
			return err
		}
		return p.entitlements.Supersede(ctx, userID, quota.TierDefiningIDs(), e.EntitlementIDs)

	case domain.TransferEvent:
		toUserID, err := p.resolver.ResolveAppUserID(ctx, e.AppUserID)
		if err != nil {
			return err
		}
		fromUserIDs := make([]string, 0, len(e.TransferredFrom))
		for _, from := range e.TransferredFrom {
			resolved, err := p.resolver.ResolveAppUserID(ctx, from)
			if err != nil {
				return err
			}
			fromUserIDs = append(fromUserIDs, resolved)
		}
		return p.entitlements.Transfer(ctx, entitlementdomain.TransferRequest{
			EntitlementIDs: e.EntitlementIDs,
			FromUserIDs:    fromUserIDs,
			ToUserID:       toUserID,
			ExpiresAt:      e.ExpiresAt,
		})

	case domain.CreditPurchaseEvent:
		userID, err := p.resolver.ResolveAppUserID(ctx, e.AppUserID)
		if err != nil {
			return err
		}
		return p.credits.ApplyPurchase(ctx, e.TransactionID, userID, e.ProductID, e.Store)

	case domain.UnknownEvent:
		p.log.Info("ignoring unhandled billing event", zap.String("type", string(e.Type)))
		return nil

	default:
		p.log.Warn("unexpected billing event variant", zap.String("type", string(event.EventType())))
		return nil
	}
}
