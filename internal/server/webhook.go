package server

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	billingdomain "github.com/voxlate/voxlate/internal/billing/domain"
)

const maxWebhookBody = 1 << 20

func (s *Server) handleBillingWebhook(c *gin.Context) {
	secret := s.cfg.BillingWebhookSecret
	header := c.GetHeader("Authorization")
	if secret == "" || subtle.ConstantTimeCompare([]byte(header), []byte(secret)) != 1 {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInternal)
		return
	}

	event, err := billingdomain.Decode(body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.billingsvc.Process(c.Request.Context(), event); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
