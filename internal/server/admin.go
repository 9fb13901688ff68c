package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/iahome/internal/ledger/domain"
	"github.com/smallbiznis/iahome/internal/observability/logger"
	"go.uber.org/zap"
)

type adminTokensRequest struct {
	UserEmail string `json:"userEmail"`
	UserID    string `json:"userId"`
	Tokens    int64  `json:"tokens"`
	Reason    string `json:"reason"`
}

func (s *Server) AdminAddTokens(c *gin.Context) {
	s.adminCredit(c, ledgerdomain.CreditAdd, ledgerdomain.TransactionManualCredit)
}

func (s *Server) AdminSetTokens(c *gin.Context) {
	s.adminCredit(c, ledgerdomain.CreditReplace, ledgerdomain.TransactionManualReset)
}

func (s *Server) adminCredit(c *gin.Context, mode ledgerdomain.CreditMode, txType ledgerdomain.TransactionType) {
	var req adminTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	identifier := firstNonEmpty(req.UserEmail, req.UserID)
	if identifier == "" {
		AbortWithError(c, newValidationError("userEmail", "invalid_user", "userEmail is required"))
		return
	}
	if req.Tokens < 0 || (mode == ledgerdomain.CreditAdd && req.Tokens == 0) {
		AbortWithError(c, ledgerdomain.ErrInvalidTokens)
		return
	}

	result, err := s.ledgerSvc.Credit(c.Request.Context(), ledgerdomain.CreditRequest{
		UserID:          identifier,
		Tokens:          req.Tokens,
		Mode:            mode,
		TransactionType: txType,
		Description:     req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	caller, _ := callerFromContext(c)
	logger.FromContext(c.Request.Context()).Info("manual token adjustment",
		zap.String("admin_id", caller.UserID),
		zap.String("user_id", result.UserID),
		zap.String("mode", string(mode)),
		zap.Int64("previous_tokens", result.PreviousTokens),
		zap.Int64("tokens", result.Tokens),
	)

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"userId":         result.UserID,
		"previousTokens": result.PreviousTokens,
		"tokens":         result.Tokens,
		"transaction":    result.Transaction,
	})
}

func (s *Server) SeedEntitlements(c *gin.Context) {
	report, err := s.seeder.Run(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
