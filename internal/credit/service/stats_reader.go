package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/voxlate/voxlate/internal/clock"
	"github.com/voxlate/voxlate/internal/credit/domain"
	"github.com/voxlate/voxlate/internal/quota"
	usagedomain "github.com/voxlate/voxlate/internal/usage/domain"
)

// aggregateStatsReader reads window counters straight from the aggregate
// table. Settlement cannot take the usage service as a dependency because the
// usage service invokes settlement.
type aggregateStatsReader struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewStatsReader wires the settlement-side aggregate reader.
func NewStatsReader(db *gorm.DB, clk clock.Clock) domain.StatsReader {
	return &aggregateStatsReader{db: db, clock: clk}
}

func (r *aggregateStatsReader) Stats(ctx context.Context, userID string, resource quota.ResourceType, includeTotal bool) (usagedomain.Stats, error) {
	now := r.clock.Now()

	keys := []struct {
		kind  usagedomain.PeriodKind
		value string
	}{
		{usagedomain.PeriodDaily, usagedomain.DailyKey(now)},
		{usagedomain.PeriodMonthly, usagedomain.MonthlyKey(now)},
	}
	if includeTotal {
		keys = append(keys, struct {
			kind  usagedomain.PeriodKind
			value string
		}{usagedomain.PeriodTotal, usagedomain.TotalKey})
	}

	var stats usagedomain.Stats
	for _, key := range keys {
		var row usagedomain.UsageAggregate
		err := r.db.WithContext(ctx).
			Where("user_id = ? AND resource_type = ? AND period_kind = ? AND period_value = ?",
				userID, resource, key.kind, key.value).
			Take(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return usagedomain.Stats{}, err
		}
		used := row.Used(resource)
		switch key.kind {
		case usagedomain.PeriodDaily:
			stats.Daily = used
		case usagedomain.PeriodMonthly:
			stats.Monthly = used
		case usagedomain.PeriodTotal:
			stats.Total = used
		}
	}
	stats.TotalRead = includeTotal
	return stats, nil
}
