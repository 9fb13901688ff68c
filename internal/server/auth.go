package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	obscontext "github.com/smallbiznis/iahome/internal/observability/context"
	"github.com/smallbiznis/iahome/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	contextCallerKey = "caller"
	contextUserIDKey = "user_id"
)

// Caller is the identity carried by a verified Supabase access token.
type Caller struct {
	UserID string
	Email  string
}

type supabaseClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// OptionalAuth verifies a bearer token when one is sent and lets anonymous requests through.
func (s *Server) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, present := bearerToken(c)
		if !present {
			c.Next()
			return
		}
		if s.cfg.Supabase.JWTSecret == "" {
			// Nothing to verify against.
			c.Next()
			return
		}

		caller, err := s.verifySupabaseToken(raw)
		if err != nil {
			logger.FromContext(c.Request.Context()).Debug("bearer token rejected", zap.Error(err))
			AbortWithError(c, ErrUnauthorized)
			return
		}
		s.setCaller(c, caller)
		c.Next()
	}
}

// AuthRequired rejects requests without a verified bearer token.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, present := bearerToken(c)
		if !present || s.cfg.Supabase.JWTSecret == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		caller, err := s.verifySupabaseToken(raw)
		if err != nil {
			logger.FromContext(c.Request.Context()).Debug("bearer token rejected", zap.Error(err))
			AbortWithError(c, ErrUnauthorized)
			return
		}
		s.setCaller(c, caller)
		c.Next()
	}
}

func (s *Server) verifySupabaseToken(raw string) (Caller, error) {
	claims := &supabaseClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.cfg.Supabase.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Caller{}, err
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Caller{}, jwt.ErrTokenInvalidClaims
	}
	return Caller{
		UserID: subject,
		Email:  strings.ToLower(strings.TrimSpace(claims.Email)),
	}, nil
}

func (s *Server) setCaller(c *gin.Context, caller Caller) {
	c.Set(contextCallerKey, caller)
	c.Set(contextUserIDKey, caller.UserID)

	ctx := obscontext.WithActor(c.Request.Context(), caller.UserID, "user")
	c.Request = c.Request.WithContext(ctx)
}

func callerFromContext(c *gin.Context) (Caller, bool) {
	value, ok := c.Get(contextCallerKey)
	if !ok {
		return Caller{}, false
	}
	caller, ok := value.(Caller)
	return caller, ok && caller.UserID != ""
}

func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}
