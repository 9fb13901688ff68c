package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsUserLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("module_id", "chat"),
		attribute.String("user_id", "0b7c9f1e-1111-4f0a-9f3b-2c8f6d1e0a11"),
		attribute.String("reason", "insufficient_tokens"),
	)
	require.Len(t, attrs, 2)
	keys := []attribute.Key{attrs[0].Key, attrs[1].Key}
	assert.Contains(t, keys, attribute.Key("module_id"))
	assert.Contains(t, keys, attribute.Key("reason"))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordConsumption(context.Background(), "chat", 10)
		m.RecordConsumeDenied(context.Background(), "chat")
		m.RecordCredit(context.Background(), "token_purchase", 100)
		m.RecordPaymentEvent(context.Background(), "invoice.payment_succeeded", "applied")
	})
}

func TestNewRegistersInstrumentsOnNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "iahome"}, noop.NewMeterProvider())
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordConsumption(context.Background(), "chat", 10)
	})
}
