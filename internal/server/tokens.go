package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/iahome/internal/ledger/domain"
	usagedomain "github.com/smallbiznis/iahome/internal/usage/domain"
)

type consumeTokensRequest struct {
	UserID          string `json:"userId"`
	TokensToConsume int64  `json:"tokensToConsume"`
	ModuleID        string `json:"moduleId"`
	ModuleName      string `json:"moduleName"`
	ActionType      string `json:"actionType"`
}

type consumeTokensResponse struct {
	Success         bool  `json:"success"`
	TokensRemaining int64 `json:"tokensRemaining"`
	TokensConsumed  int64 `json:"tokensConsumed"`
}

type insufficientTokensResponse struct {
	Error          string `json:"error"`
	CurrentTokens  int64  `json:"currentTokens"`
	RequiredTokens int64  `json:"requiredTokens"`
	Insufficient   bool   `json:"insufficient"`
}

type balanceResponse struct {
	UserID          string     `json:"userId"`
	Tokens          int64      `json:"tokens"`
	TokensRemaining int64      `json:"tokensRemaining"`
	PackageName     string     `json:"packageName"`
	PurchaseDate    *time.Time `json:"purchaseDate"`
	IsActive        bool       `json:"isActive"`
}

func (s *Server) ConsumeTokens(c *gin.Context) {
	var req consumeTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		AbortWithError(c, newValidationError("userId", "invalid_user", "userId is required"))
		return
	}
	if req.TokensToConsume <= 0 {
		AbortWithError(c, newValidationError("tokensToConsume", "invalid_tokens", "tokensToConsume must be positive"))
		return
	}
	if err := s.authorizeSubject(c, userID); err != nil {
		AbortWithError(c, err)
		return
	}

	moduleID := strings.TrimSpace(req.ModuleID)
	c.Set("module_id", moduleID)

	result, err := s.ledgerSvc.Consume(c.Request.Context(), ledgerdomain.ConsumeRequest{
		UserID:     userID,
		Tokens:     req.TokensToConsume,
		ModuleID:   moduleID,
		ModuleName: req.ModuleName,
		ActionType: req.ActionType,
	})
	if err != nil {
		var insufficient *ledgerdomain.InsufficientTokensError
		if errors.As(err, &insufficient) {
			c.Set("error_type", "insufficient_tokens")
			c.JSON(http.StatusBadRequest, insufficientTokensResponse{
				Error:          "Insufficient tokens",
				CurrentTokens:  insufficient.Current,
				RequiredTokens: insufficient.Required,
				Insufficient:   true,
			})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, consumeTokensResponse{
		Success:         true,
		TokensRemaining: result.TokensRemaining,
		TokensConsumed:  result.TokensConsumed,
	})
}

func (s *Server) GetBalance(c *gin.Context) {
	userID, ok := s.subjectFromQuery(c)
	if !ok {
		return
	}

	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, balanceResponse{
		UserID:          balance.UserID,
		Tokens:          balance.Tokens,
		TokensRemaining: balance.Tokens,
		PackageName:     balance.PackageName,
		PurchaseDate:    balance.PurchaseDate,
		IsActive:        balance.IsActive,
	})
}

func (s *Server) ListUsageHistory(c *gin.Context) {
	userID, ok := s.subjectFromQuery(c)
	if !ok {
		return
	}
	pageSize, err := parsePageSize(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}

	resp, err := s.usageSvc.List(c.Request.Context(), usagedomain.ListUsageRequest{
		UserID:    userID,
		PageToken: c.Query("page_token"),
		PageSize:  pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListCreditTransactions(c *gin.Context) {
	userID, ok := s.subjectFromQuery(c)
	if !ok {
		return
	}
	pageSize, err := parsePageSize(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}

	resp, err := s.ledgerSvc.ListTransactions(c.Request.Context(), ledgerdomain.ListTransactionsRequest{
		UserID:    userID,
		PageToken: c.Query("page_token"),
		PageSize:  pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) DownloadStatement(c *gin.Context) {
	userID, ok := s.subjectFromQuery(c)
	if !ok {
		return
	}

	from, err := parseOptionalTime(c.Query("from"), false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalTime(c.Query("to"), true)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}

	req := usagedomain.StatementRequest{UserID: userID}
	if from != nil {
		req.From = *from
	}
	if to != nil {
		req.To = *to
	}

	reader, err := s.usageSvc.Statement(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "token-statement.pdf"))
	c.Data(http.StatusOK, "application/pdf", body)
}

// subjectFromQuery reads ?userId= and checks the caller may act on it.
func (s *Server) subjectFromQuery(c *gin.Context) (string, bool) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		if caller, ok := callerFromContext(c); ok {
			userID = caller.UserID
		}
	}
	if userID == "" {
		AbortWithError(c, newValidationError("userId", "invalid_user", "userId is required"))
		return "", false
	}
	if err := s.authorizeSubject(c, userID); err != nil {
		AbortWithError(c, err)
		return "", false
	}
	return userID, true
}
