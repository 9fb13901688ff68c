package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/iahome/internal/observability/logger"
	"go.uber.org/zap"
)

const maxConsumeBodyBytes = 64 << 10

type consumeRateLimitKey struct {
	UserID string `json:"userId"`
}

// ConsumeRateLimit throttles /api/tokens/consume per user when a limiter is configured.
func (s *Server) ConsumeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.consumeLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		subject, err := s.consumeRateLimitSubject(c)
		if err != nil {
			logger.FromContext(ctx).Warn("consume rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if subject == "" {
			// Handler rejects the request.
			c.Next()
			return
		}

		result, err := s.consumeLimiter.Allow(ctx, subject)
		if err != nil {
			logger.FromContext(ctx).Warn("consume rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			logger.FromContext(ctx).Warn("consume rate limit exceeded", zap.String("endpoint", endpoint))
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint)

			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Next()
	}
}

// consumeRateLimitSubject keys the bucket on the profile id so a user gets one
// bucket whether the body names them by email or by uuid.
func (s *Server) consumeRateLimitSubject(c *gin.Context) (string, error) {
	if caller, ok := callerFromContext(c); ok && caller.UserID != "" {
		return caller.UserID, nil
	}
	identifier, err := readConsumeUserID(c)
	if err != nil || identifier == "" {
		return "", err
	}
	if s.profileSvc != nil {
		if profile, err := s.profileSvc.Resolve(c.Request.Context(), identifier); err == nil {
			return profile.ID, nil
		}
	}
	return identifier, nil
}

func readConsumeUserID(c *gin.Context) (string, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxConsumeBodyBytes))
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload consumeRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return strings.TrimSpace(payload.UserID), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
