package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	accesstokendomain "github.com/smallbiznis/iahome/internal/accesstoken/domain"
	"github.com/smallbiznis/iahome/internal/observability/logger"
	"go.uber.org/zap"
)

type validateAccessTokenRequest struct {
	Token    string `json:"token"`
	ModuleID string `json:"moduleId"`
}

type redeemAccessTokenRequest struct {
	Token    string `json:"token"`
	ModuleID string `json:"moduleId"`
	Action   string `json:"action"`
}

type invalidAccessTokenResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error"`
}

type issueAccessTokenRequest struct {
	UserEmail      string   `json:"userEmail"`
	UserID         string   `json:"userId"`
	ModuleID       string   `json:"moduleId"`
	ModuleName     string   `json:"moduleName"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	AccessLevel    string   `json:"accessLevel"`
	Permissions    []string `json:"permissions"`
	MaxUsage       int64    `json:"maxUsage"`
	ExpiresInHours int64    `json:"expiresInHours"`
}

func (s *Server) ValidateAccessToken(c *gin.Context) {
	var req validateAccessTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		AbortWithError(c, newValidationError("token", "invalid_access_token", "token is required"))
		return
	}

	validation, err := s.accessTokenSvc.Validate(c.Request.Context(), req.Token, req.ModuleID)
	if err != nil {
		s.renderAccessTokenFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, validation)
}

func (s *Server) RedeemAccessToken(c *gin.Context) {
	var req redeemAccessTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		AbortWithError(c, newValidationError("token", "invalid_access_token", "token is required"))
		return
	}
	if strings.TrimSpace(req.ModuleID) == "" {
		AbortWithError(c, newValidationError("moduleId", "invalid_module", "moduleId is required"))
		return
	}
	c.Set("module_id", strings.TrimSpace(req.ModuleID))

	validation, err := s.accessTokenSvc.Redeem(c.Request.Context(), accesstokendomain.RedeemRequest{
		Token:    req.Token,
		ModuleID: req.ModuleID,
		Action:   req.Action,
		IP:       c.ClientIP(),
	})
	if err != nil {
		s.renderAccessTokenFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, validation)
}

func (s *Server) ListAccessTokens(c *gin.Context) {
	userID, ok := s.subjectFromQuery(c)
	if !ok {
		return
	}

	tokens, err := s.accessTokenSvc.ListByUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (s *Server) AdminIssueAccessToken(c *gin.Context) {
	var req issueAccessTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	identifier := firstNonEmpty(req.UserEmail, req.UserID)
	if identifier == "" {
		AbortWithError(c, newValidationError("userEmail", "invalid_user", "userEmail is required"))
		return
	}
	if req.ExpiresInHours < 0 {
		AbortWithError(c, accesstokendomain.ErrInvalidTTL)
		return
	}

	result, err := s.accessTokenSvc.Issue(c.Request.Context(), accesstokendomain.IssueRequest{
		UserID:      identifier,
		ModuleID:    req.ModuleID,
		ModuleName:  req.ModuleName,
		Name:        req.Name,
		Description: req.Description,
		AccessLevel: accesstokendomain.AccessLevel(strings.ToLower(strings.TrimSpace(req.AccessLevel))),
		Permissions: req.Permissions,
		MaxUsage:    req.MaxUsage,
		TTL:         time.Duration(req.ExpiresInHours) * time.Hour,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) AdminClearAccessTokens(c *gin.Context) {
	identifier := firstNonEmpty(c.Query("userEmail"), c.Query("userId"))
	if identifier == "" {
		AbortWithError(c, newValidationError("userEmail", "invalid_user", "userEmail is required"))
		return
	}

	deleted, err := s.accessTokenSvc.ClearForUser(c.Request.Context(), identifier)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (s *Server) AdminRevokeAccessToken(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid access token id"))
		return
	}

	if err := s.accessTokenSvc.Revoke(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

// renderAccessTokenFailure answers token verification failures with {valid:false}.
func (s *Server) renderAccessTokenFailure(c *gin.Context, err error) {
	switch {
	case errors.Is(err, accesstokendomain.ErrInvalidToken),
		errors.Is(err, accesstokendomain.ErrNotFound),
		errors.Is(err, accesstokendomain.ErrRevoked),
		errors.Is(err, accesstokendomain.ErrExpired),
		errors.Is(err, accesstokendomain.ErrUsageExceeded),
		errors.Is(err, accesstokendomain.ErrModuleMismatch):
		logger.FromContext(c.Request.Context()).Info("access token rejected", zap.String("reason", err.Error()))
		c.Set("error_type", "invalid_access_token")
		c.JSON(http.StatusUnauthorized, invalidAccessTokenResponse{Valid: false, Error: err.Error()})
	default:
		AbortWithError(c, err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
