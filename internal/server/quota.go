package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voxlate/voxlate/internal/quota"
)

type quotaWindow struct {
	Limit     int64 `json:"limit"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

type resourceQuota struct {
	Daily   quotaWindow `json:"daily"`
	Monthly quotaWindow `json:"monthly"`
	Total   quotaWindow `json:"total"`
}

type quotaResponse struct {
	Tier                 string                   `json:"tier"`
	IsTrialCancelled     bool                     `json:"is_trial_cancelled"`
	MembershipExpireAt   *time.Time               `json:"membership_expire_at"`
	CreditBalanceSeconds int64                    `json:"credit_balance_seconds"`
	Resources            map[string]resourceQuota `json:"resources"`
}

var inspectedResources = []quota.ResourceType{
	quota.ResourceTextTranslation,
	quota.ResourceImageTranslation,
	quota.ResourceLiveTranslation,
	quota.ResourceTTS,
	quota.ResourceRecognition,
}

func (s *Server) handleQuota(c *gin.Context) {
	ctx := c.Request.Context()
	userID := UserIDFromContext(c)

	active, err := s.entitlements.ActiveForUser(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	now := s.clock.Now()
	effective := quota.EffectiveTier(active, now)

	balance, err := s.credits.Balance(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resources := make(map[string]resourceQuota, len(inspectedResources))
	for _, resource := range inspectedResources {
		limits := quota.QuotaFor(effective, resource)
		stats, err := s.usagesvc.Stats(ctx, userID, resource, true)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		entry := resourceQuota{
			Daily:   window(limits.Daily, stats.Daily),
			Monthly: window(limits.Monthly, stats.Monthly),
		}
		if limits.Total != nil {
			entry.Total = window(*limits.Total, stats.Total)
		} else {
			entry.Total = quotaWindow{Limit: -1, Used: stats.Total, Remaining: -1}
		}
		resources[string(resource)] = entry
	}

	c.JSON(http.StatusOK, quotaResponse{
		Tier:             string(effective),
		IsTrialCancelled: quota.IsTrialCancelled(active, now),
		// Expiry comes from the tier-defining entitlement even while the
		// trial-cancelled overlay restricts the quotas.
		MembershipExpireAt:   quota.MembershipExpiresAt(active, now),
		CreditBalanceSeconds: balance,
		Resources:            resources,
	})
}

func window(limit, used int64) quotaWindow {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return quotaWindow{Limit: limit, Used: used, Remaining: remaining}
}
