package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	obscontext "github.com/voxlate/voxlate/internal/observability/context"
	"github.com/voxlate/voxlate/internal/quota"
)

const (
	ctxUserID = "user_id"
	ctxTier   = "tier"
)

// UserIDFromContext returns the authenticated user id set by AuthRequired.
func UserIDFromContext(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// TierFromContext returns the tier resolved by Admission.
func TierFromContext(c *gin.Context) quota.Tier {
	return quota.Tier(c.GetString(ctxTier))
}

// AuthRequired verifies the bearer token and stores the subject user id on
// the request context.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := s.verifier.VerifyBearer(c.GetHeader("Authorization"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Set(ctxUserID, userID)
		c.Request = c.Request.WithContext(obscontext.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

// Admission enforces the per-tier quota for one resource before the billable
// work runs. Bounds are checked daily, then monthly, then lifetime, each with
// inclusive semantics: a window already at its limit rejects. The check and
// the later usage write are deliberately not transactional; concurrent
// requests from one user may briefly over-admit.
func (s *Server) Admission(resource quota.ResourceType) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := UserIDFromContext(c)

		active, err := s.entitlements.ActiveForUser(ctx, userID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		now := s.clock.Now()
		tier := quota.EffectiveTier(active, now)
		limits := quota.QuotaFor(tier, resource)

		stats, err := s.usagesvc.Stats(ctx, userID, resource, limits.Total != nil)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		bounds := []struct {
			name  string
			used  int64
			limit int64
			check bool
		}{
			{"daily", stats.Daily, limits.Daily, true},
			{"monthly", stats.Monthly, limits.Monthly, true},
			{"total", stats.Total, 0, false},
		}
		if limits.Total != nil {
			bounds[2].limit = *limits.Total
			bounds[2].check = true
		}
		for _, bound := range bounds {
			if !bound.check || bound.used < bound.limit {
				continue
			}
			s.obsMetrics.RecordAdmissionDenied(ctx, string(resource), string(tier), bound.name)
			s.log.Info("admission denied",
				zap.String("user_id", userID),
				zap.String("resource", string(resource)),
				zap.String("bound", bound.name))
			AbortWithError(c, &QuotaExceededError{
				Resource: resource,
				Bound:    bound.name,
				Limit:    bound.limit,
				Used:     bound.used,
			})
			return
		}

		s.obsMetrics.RecordAdmissionAllowed(ctx, string(resource), string(tier))
		c.Set(ctxTier, string(tier))
		c.Set("resource_type", string(resource))
		c.Next()
	}
}

func (s *Server) webhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := s.limiter.AllowWebhook(c.Request.Context(), c.ClientIP())
		if err != nil {
			// Redis trouble must not drop billing events.
			s.log.Warn("webhook rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func (s *Server) usageRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := s.limiter.AllowUsageIngest(c.Request.Context(), UserIDFromContext(c))
		if err != nil {
			s.log.Warn("usage rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
