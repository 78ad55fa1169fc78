// Package service implements the prepaid credit ledger.
package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/voxlate/voxlate/internal/clock"
	"github.com/voxlate/voxlate/internal/config"
	"github.com/voxlate/voxlate/internal/credit/domain"
	"github.com/voxlate/voxlate/internal/observability/metrics"
	"github.com/voxlate/voxlate/internal/quota"
	"github.com/voxlate/voxlate/pkg/db"
)

type service struct {
	db      *gorm.DB
	pricing *config.PricingHolder
	stats   domain.StatsReader
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New wires the credit service.
func New(gdb *gorm.DB, pricing *config.PricingHolder, stats domain.StatsReader, clk clock.Clock, m *metrics.Metrics, log *zap.Logger) domain.Service {
	return &service{
		db:      gdb,
		pricing: pricing,
		stats:   stats,
		clock:   clk,
		metrics: m,
		log:     log.Named("credit"),
	}
}

func (s *service) ApplyPurchase(ctx context.Context, purchaseID, userID, productID, source string) error {
	purchaseID = strings.TrimSpace(purchaseID)
	userID = strings.TrimSpace(userID)
	if purchaseID == "" {
		return domain.ErrInvalidPurchase
	}
	if userID == "" {
		return domain.ErrInvalidUser
	}

	seconds, ok := s.pricing.Current().CreditSecondsFor(productID)
	if !ok {
		s.log.Warn("unknown credit product, skipping purchase",
			zap.String("purchase_id", purchaseID),
			zap.String("product_id", productID))
		return nil
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.CreditPurchase
		err := tx.Where("id = ?", purchaseID).First(&existing).Error
		if err == nil {
			// Webhook re-delivery. The balance was already credited.
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		purchase := domain.CreditPurchase{
			ID:            purchaseID,
			UserID:        userID,
			ProductID:     productID,
			AmountSeconds: seconds,
			Source:        source,
			CreatedAt:     now,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&purchase)
		if res.Error != nil {
			if db.IsDuplicateKeyErr(res.Error) {
				return nil
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the insert race to a concurrent delivery.
			return nil
		}

		return s.addBalance(tx, userID, seconds)
	})
}

func (s *service) SettleOverage(ctx context.Context, userID string, tier quota.Tier, resource quota.ResourceType, durationSeconds int64) error {
	if durationSeconds <= 0 {
		return nil
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.ErrInvalidUser
	}

	limits := quota.QuotaFor(tier, resource)
	stats, err := s.stats.Stats(ctx, userID, resource, false)
	if err != nil {
		return err
	}

	daily := overflow(stats.Daily, limits.Daily, durationSeconds)
	monthly := overflow(stats.Monthly, limits.Monthly, durationSeconds)
	deduct := daily
	if monthly > deduct {
		deduct = monthly
	}
	if deduct == 0 {
		return nil
	}

	if err := s.addBalance(s.db.WithContext(ctx), userID, -deduct); err != nil {
		return err
	}
	s.metrics.RecordCreditDeduction(ctx, string(resource))
	s.log.Info("settled quota overage",
		zap.String("user_id", userID),
		zap.String("tier", string(tier)),
		zap.Int64("deducted_seconds", deduct))
	return nil
}

func (s *service) Balance(ctx context.Context, userID string) (int64, error) {
	var balance domain.CreditBalance
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance.BalanceSeconds, nil
}

// overflow computes the billable share of an event of the given size against
// one window. postUsage is the counter after the event was applied.
func overflow(postUsage, limit, size int64) int64 {
	if postUsage <= limit {
		return 0
	}
	preUsage := postUsage - size
	if preUsage >= limit {
		return size
	}
	return postUsage - limit
}

func (s *service) addBalance(tx *gorm.DB, userID string, delta int64) error {
	now := s.clock.Now()
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"balance_seconds": gorm.Expr("balance_seconds + ?", delta),
			"updated_at":      now,
		}),
	}).Create(&domain.CreditBalance{
		UserID:         userID,
		BalanceSeconds: delta,
		UpdatedAt:      now,
	}).Error
}
