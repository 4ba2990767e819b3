package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Webhook payloads are small; the cap guards against misbehaving senders.
const maxWebhookBody = 1 << 20

// HandlePaymentWebhook verifies and settles a checkout webhook delivery.
// Malformed or unpaid events are acknowledged so the provider stops retrying.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	if provider != "stripe" {
		AbortWithError(c, ErrNotFound)
		return
	}

	payload, err := readWebhookBody(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.paymentSvc.HandleWebhook(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleMediaWebhook journals and meters a realtime-media event.
func (s *Server) HandleMediaWebhook(c *gin.Context) {
	payload, err := readWebhookBody(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.mediaSvc.HandleWebhook(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func readWebhookBody(c *gin.Context) ([]byte, error) {
	defer c.Request.Body.Close()
	return io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
}
