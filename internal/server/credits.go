package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditsdomain "github.com/huddlehq/metering/internal/credits/domain"
)

type creditsResponse struct {
	UserID       string                           `json:"user_id"`
	Balance      int64                            `json:"balance"`
	Transactions []creditsdomain.CreditTransaction `json:"transactions"`
}

// GetCredits returns the user's balance and most recent ledger rows.
func (s *Server) GetCredits(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	ctx := c.Request.Context()

	balance, err := s.creditsSvc.Balance(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	transactions, err := s.creditsSvc.ListTransactions(ctx, userID, 0)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if transactions == nil {
		transactions = []creditsdomain.CreditTransaction{}
	}

	c.JSON(http.StatusOK, creditsResponse{
		UserID:       userID,
		Balance:      balance,
		Transactions: transactions,
	})
}
