package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/iahome/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsRequestAndActorFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithActor(ctx, "0b7c9f1e-1111-4f0a-9f3b-2c8f6d1e0a11", "admin")

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-1", fields["request_id"])
		assert.Equal(t, "admin", fields["actor_role"])
		assert.Equal(t, "", fields["trace_id"])
	}
}

func TestWithContextOmitsAnonymousActor(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	WithContext(context.Background(), zap.New(core)).Info("hello")

	fields := logs.All()[0].ContextMap()
	_, ok := fields["actor_id"]
	assert.False(t, ok)
}

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "UPDATE", operationFromSQL("UPDATE user_tokens SET tokens = tokens - 5"))
	assert.Equal(t, "SELECT", operationFromSQL("WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}

func TestGinMiddlewareLogsHandlerReportedErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.POST("/api/tokens/consume", func(c *gin.Context) {
		c.Set("user_id", "user-1")
		c.Set("module_id", "whisper")
		c.Set("error_type", "insufficient_tokens")
		c.JSON(http.StatusBadRequest, gin.H{"insufficient": true})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tokens/consume", nil))

	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	entries := logs.FilterMessage("http_request").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, zap.DebugLevel, entries[0].Level)
		fields := entries[0].ContextMap()
		assert.Equal(t, "insufficient_tokens", fields["error_type"])
		assert.Equal(t, "whisper", fields["module_id"])
		assert.Equal(t, "user-1", fields["user_id"])
	}
}
