package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// HandlePaymentWebhook acknowledges every authentic notification, including
// ones for unknown or already settled orders, so gateways stop redelivering.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	gateway := strings.ToLower(strings.TrimSpace(c.Param("gateway")))
	c.Set("gateway", gateway)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	outcome, err := s.webhookSvc.Ingest(c.Request.Context(), gateway, c.Request.URL.Path, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("webhook_outcome", string(outcome))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
