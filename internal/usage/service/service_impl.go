// Package service implements the usage ledger writes and reads.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/voxlate/voxlate/internal/clock"
	creditdomain "github.com/voxlate/voxlate/internal/credit/domain"
	"github.com/voxlate/voxlate/internal/observability/metrics"
	"github.com/voxlate/voxlate/internal/quota"
	"github.com/voxlate/voxlate/internal/usage/domain"
)

type service struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   clock.Clock
	credit  creditdomain.Service
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New wires the usage service.
func New(db *gorm.DB, node *snowflake.Node, clk clock.Clock, credit creditdomain.Service, m *metrics.Metrics, log *zap.Logger) domain.Service {
	return &service{
		db:      db,
		node:    node,
		clock:   clk,
		credit:  credit,
		metrics: m,
		log:     log.Named("usage"),
	}
}

func (s *service) Record(ctx context.Context, req domain.RecordRequest) (*domain.UsageEvent, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, domain.ErrInvalidUser
	}
	if !req.Resource.Valid() {
		return nil, domain.ErrInvalidResource
	}

	now := s.clock.Now()
	event := &domain.UsageEvent{
		ID:              s.node.Generate().Int64(),
		UserID:          req.UserID,
		ResourceType:    req.Resource,
		Model:           req.Model,
		InputTokens:     req.InputTokens,
		OutputTokens:    req.OutputTokens,
		CostMicros:      req.CostMicros,
		DurationSeconds: req.DurationSeconds,
		RequestHash:     req.RequestHash,
		Metadata:        req.Metadata,
		CreatedAt:       now,
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return nil, err
	}

	// Counter bumps are best effort. The audit row is the source of truth
	// and aggregates can be rebuilt from it.
	tokens := req.InputTokens + req.OutputTokens
	for _, period := range []struct {
		kind  domain.PeriodKind
		value string
	}{
		{domain.PeriodDaily, domain.DailyKey(now)},
		{domain.PeriodMonthly, domain.MonthlyKey(now)},
		{domain.PeriodTotal, domain.TotalKey},
	} {
		err := s.bumpAggregate(ctx, req, period.kind, period.value, tokens, now)
		if err != nil {
			s.log.Error("aggregate increment failed",
				zap.String("user_id", req.UserID),
				zap.String("resource", string(req.Resource)),
				zap.String("period_kind", string(period.kind)),
				zap.Error(err))
		}
	}

	if req.Resource.DurationMetered() && req.Tier != "" {
		if err := s.credit.SettleOverage(ctx, req.UserID, req.Tier, req.Resource, req.DurationSeconds); err != nil {
			s.log.Error("credit settlement failed",
				zap.String("user_id", req.UserID),
				zap.Error(err))
		}
	}

	s.metrics.RecordUsageEvent(ctx, string(req.Resource))
	return event, nil
}

func (s *service) bumpAggregate(ctx context.Context, req domain.RecordRequest, kind domain.PeriodKind, value string, tokens int64, now time.Time) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"}, {Name: "resource_type"}, {Name: "period_kind"}, {Name: "period_value"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"count":            gorm.Expr("count + 1"),
			"duration_seconds": gorm.Expr("duration_seconds + ?", req.DurationSeconds),
			"total_tokens":     gorm.Expr("total_tokens + ?", tokens),
			"updated_at":       now,
		}),
	}).Create(&domain.UsageAggregate{
		UserID:          req.UserID,
		ResourceType:    req.Resource,
		PeriodKind:      kind,
		PeriodValue:     value,
		Count:           1,
		DurationSeconds: req.DurationSeconds,
		TotalTokens:     tokens,
		UpdatedAt:       now,
	}).Error
}

func (s *service) Stats(ctx context.Context, userID string, resource quota.ResourceType, includeTotal bool) (domain.Stats, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Stats{}, domain.ErrInvalidUser
	}
	if !resource.Valid() {
		return domain.Stats{}, domain.ErrInvalidResource
	}

	now := s.clock.Now()
	var stats domain.Stats
	reads := []struct {
		kind  domain.PeriodKind
		value string
		dest  *int64
	}{
		{domain.PeriodDaily, domain.DailyKey(now), &stats.Daily},
		{domain.PeriodMonthly, domain.MonthlyKey(now), &stats.Monthly},
	}
	if includeTotal {
		reads = append(reads, struct {
			kind  domain.PeriodKind
			value string
			dest  *int64
		}{domain.PeriodTotal, domain.TotalKey, &stats.Total})
	}

	for _, read := range reads {
		var row domain.UsageAggregate
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND resource_type = ? AND period_kind = ? AND period_value = ?",
				userID, resource, read.kind, read.value).
			Take(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return domain.Stats{}, err
		}
		*read.dest = row.Used(resource)
	}
	stats.TotalRead = includeTotal
	return stats, nil
}
