package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/voxlate/voxlate/internal/quota"
	usagedomain "github.com/voxlate/voxlate/internal/usage/domain"
)

type recordUsageRequest struct {
	ResourceType    string         `json:"resource_type" binding:"required"`
	Model           string         `json:"model"`
	InputTokens     int64          `json:"input_tokens"`
	OutputTokens    int64          `json:"output_tokens"`
	CostMicros      int64          `json:"cost_micros"`
	DurationSeconds int64          `json:"duration_seconds"`
	RequestHash     string         `json:"request_hash"`
	Metadata        map[string]any `json:"metadata"`
}

// handleRecordUsage is the internal write path for the non-streaming
// endpoints, which meter after the billable work completed upstream.
func (s *Server) handleRecordUsage(c *gin.Context) {
	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}
	resource := quota.ResourceType(req.ResourceType)
	if !resource.Valid() {
		AbortWithError(c, newValidationError("resource_type", "unknown_resource", "unknown resource type"))
		return
	}

	ctx := c.Request.Context()
	userID := UserIDFromContext(c)

	// Duration-metered writes settle overage against the current tier.
	var tier quota.Tier
	if resource.DurationMetered() {
		active, err := s.entitlements.ActiveForUser(ctx, userID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		tier = quota.EffectiveTier(active, s.clock.Now())
	}

	event, err := s.usagesvc.Record(ctx, usagedomain.RecordRequest{
		UserID:          userID,
		Resource:        resource,
		Model:           req.Model,
		InputTokens:     req.InputTokens,
		OutputTokens:    req.OutputTokens,
		CostMicros:      req.CostMicros,
		DurationSeconds: req.DurationSeconds,
		RequestHash:     req.RequestHash,
		Metadata:        datatypes.JSONMap(req.Metadata),
		Tier:            tier,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"event_id": strconv.FormatInt(event.ID, 10)})
}
