package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/tokens/consume"),
		attribute.String("user.email", "someone@example.com"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorKeepsOnlyLeadingMessage(t *testing.T) {
	err := fmt.Errorf("ledger consume: %w", errors.New("user someone@example.com"))
	assert.EqualError(t, SafeError(err), "ledger consume")
	assert.Nil(t, SafeError(nil))
}
