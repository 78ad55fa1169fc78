// Package service implements entitlement lifecycle persistence.
package service

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/voxlate/voxlate/internal/clock"
	"github.com/voxlate/voxlate/internal/entitlement/domain"
)

type service struct {
	db    *gorm.DB
	clock clock.Clock
	log   *zap.Logger
}

// New wires the entitlement service.
func New(db *gorm.DB, clk clock.Clock, log *zap.Logger) domain.Service {
	return &service{db: db, clock: clk, log: log}
}

func (s *service) ActiveForUser(ctx context.Context, userID string) ([]domain.Entitlement, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidUser
	}

	var rows []domain.Entitlement
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, domain.StatusActive).
		Where("expires_at IS NULL OR expires_at > ?", s.clock.Now()).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *service) Upsert(ctx context.Context, req domain.UpsertRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return domain.ErrInvalidUser
	}
	if len(req.EntitlementIDs) == 0 {
		return domain.ErrInvalidEntitlement
	}

	now := s.clock.Now()
	rows := make([]domain.Entitlement, 0, len(req.EntitlementIDs))
	for _, id := range req.EntitlementIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return domain.ErrInvalidEntitlement
		}
		rows = append(rows, domain.Entitlement{
			UserID:            req.UserID,
			EntitlementID:     id,
			Status:            req.Status,
			ExpiresAt:         req.ExpiresAt,
			IsTrial:           req.IsTrial,
			AutoRenew:         req.AutoRenew,
			OriginalAppUserID: req.OriginalAppUserID,
			UpdatedAt:         now,
		})
	}

	// Last write wins on the (user_id, entitlement_id) key. Billing providers
	// retry webhooks, so the same event may land more than once.
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "entitlement_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "expires_at", "is_trial", "auto_renew", "original_app_user_id", "updated_at",
		}),
	}).Create(&rows).Error
}

func (s *service) Supersede(ctx context.Context, userID string, tierDefiningIDs, keepIDs []string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.ErrInvalidUser
	}
	if len(tierDefiningIDs) == 0 {
		return nil
	}

	keep := make(map[string]struct{}, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = struct{}{}
	}
	victims := make([]string, 0, len(tierDefiningIDs))
	for _, id := range tierDefiningIDs {
		if _, kept := keep[id]; !kept {
			victims = append(victims, id)
		}
	}
	if len(victims) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&domain.Entitlement{}).
		Where("user_id = ? AND entitlement_id IN ? AND status = ?", userID, victims, domain.StatusActive).
		Updates(map[string]any{
			"status":     domain.StatusSuperseded,
			"updated_at": s.clock.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Info("superseded entitlements",
			zap.String("user_id", userID),
			zap.Int64("rows", res.RowsAffected))
	}
	return nil
}

func (s *service) Transfer(ctx context.Context, req domain.TransferRequest) error {
	if strings.TrimSpace(req.ToUserID) == "" {
		return domain.ErrInvalidUser
	}
	if len(req.EntitlementIDs) == 0 {
		return domain.ErrInvalidEntitlement
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(req.FromUserIDs) > 0 {
			err := tx.Model(&domain.Entitlement{}).
				Where("user_id IN ? AND entitlement_id IN ?", req.FromUserIDs, req.EntitlementIDs).
				Updates(map[string]any{
					"status":     domain.StatusTransferred,
					"updated_at": now,
				}).Error
			if err != nil {
				return err
			}
		}

		rows := make([]domain.Entitlement, 0, len(req.EntitlementIDs))
		for _, id := range req.EntitlementIDs {
			rows = append(rows, domain.Entitlement{
				UserID:        req.ToUserID,
				EntitlementID: id,
				Status:        domain.StatusActive,
				ExpiresAt:     req.ExpiresAt,
				UpdatedAt:     now,
			})
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "entitlement_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "expires_at", "updated_at",
			}),
		}).Create(&rows).Error
	})
}
