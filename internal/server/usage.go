package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	quotadomain "github.com/huddlehq/metering/internal/quota/domain"
)

const (
	actionValidateUsage = "validate_usage"
	actionResetCycle    = "reset_cycle"
)

type usageActionRequest struct {
	Action string  `json:"action"`
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
}

// GetUsageSummary returns per-dimension usage against the user's tier limits.
func (s *Server) GetUsageSummary(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))

	summary, err := s.usageSvc.Summary(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if summary == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// PostUsageAction dispatches the usage action envelope. validate_usage is an
// advisory pre-flight check; reset_cycle opens a fresh billing window.
func (s *Server) PostUsageAction(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))

	var req usageActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "request body must be valid JSON"))
		return
	}

	switch strings.TrimSpace(req.Action) {
	case actionValidateUsage:
		s.validateUsage(c, userID, req)
	case actionResetCycle:
		s.resetCycle(c, userID)
	default:
		AbortWithError(c, newValidationError("action", "invalid_action", "unsupported action"))
	}
}

func (s *Server) validateUsage(c *gin.Context, userID string, req usageActionRequest) {
	c.Set("dimension", strings.TrimSpace(req.Type))

	result, err := s.quotaSvc.Validate(c.Request.Context(), quotadomain.ValidateRequest{
		UserID:    userID,
		Dimension: req.Type,
		Amount:    req.Amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) resetCycle(c *gin.Context, userID string) {
	if err := s.usageSvc.ResetCycle(c.Request.Context(), userID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
