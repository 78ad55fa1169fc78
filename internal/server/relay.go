package server

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voxlate/voxlate/internal/relay"
)

// handleLive upgrades the caller to a metered live translation session.
// Admission ran in middleware; the tier it resolved rides along so the
// session settles against the tier the user was admitted with.
func (s *Server) handleLive(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		AbortWithError(c, newValidationError("upgrade", "websocket_required", "websocket upgrade required"))
		return
	}

	source := strings.TrimSpace(c.Query("source_lang"))
	target := strings.TrimSpace(c.Query("target_lang"))
	if source == "" || target == "" {
		AbortWithError(c, newValidationError("lang", "missing_language", "source_lang and target_lang are required"))
		return
	}

	userID := UserIDFromContext(c)
	token, ok, err := s.limiter.TryLockLiveSession(c.Request.Context(), userID)
	if err != nil {
		s.log.Warn("live session lock unavailable", zap.Error(err))
	} else if !ok {
		AbortWithError(c, ErrRateLimited)
		return
	}

	handleErr := s.relaysvc.Handle(c.Writer, c.Request, relay.Params{
		UserID:     userID,
		Tier:       TierFromContext(c),
		SourceLang: source,
		TargetLang: target,
		Voice:      strings.TrimSpace(c.Query("voice")),
	})

	// The request context died with the websocket; release on a fresh one.
	if err == nil {
		if releaseErr := s.limiter.ReleaseLiveSession(context.Background(), userID, token); releaseErr != nil {
			s.log.Warn("live session unlock failed", zap.Error(releaseErr))
		}
	}

	if handleErr != nil && !c.Writer.Written() {
		AbortWithError(c, handleErr)
	}
}
