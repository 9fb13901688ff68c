package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes ledger-level instruments.
type Metrics struct {
	tokensConsumed  metric.Int64Counter
	consumeDenied   metric.Int64Counter
	tokensCredited  metric.Int64Counter
	paymentEvents   metric.Int64Counter
	accessTokens    metric.Int64Counter
	rateLimitDenied metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "iahome"
	}
	meter := provider.Meter(name)

	tokensConsumed, err := meter.Int64Counter("iahome_tokens_consumed_total",
		metric.WithDescription("Tokens deducted by the consumption gate."))
	if err != nil {
		return nil, err
	}
	consumeDenied, err := meter.Int64Counter("iahome_consume_denied_total",
		metric.WithDescription("Consumption attempts rejected for insufficient balance."))
	if err != nil {
		return nil, err
	}
	tokensCredited, err := meter.Int64Counter("iahome_tokens_credited_total",
		metric.WithDescription("Tokens granted or reset on the ledger."))
	if err != nil {
		return nil, err
	}
	paymentEvents, err := meter.Int64Counter("iahome_payment_events_total")
	if err != nil {
		return nil, err
	}
	accessTokens, err := meter.Int64Counter("iahome_access_tokens_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("iahome_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		tokensConsumed:  tokensConsumed,
		consumeDenied:   consumeDenied,
		tokensCredited:  tokensCredited,
		paymentEvents:   paymentEvents,
		accessTokens:    accessTokens,
		rateLimitDenied: rateLimitDenied,
	}, nil
}

func (m *Metrics) RecordConsumption(ctx context.Context, moduleID string, tokens int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("module_id", strings.TrimSpace(moduleID)))
	m.tokensConsumed.Add(ctx, tokens, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordConsumeDenied(ctx context.Context, moduleID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("module_id", strings.TrimSpace(moduleID)),
		attribute.String("reason", "insufficient_tokens"),
	)
	m.consumeDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCredit counts tokens applied per credit source (purchase, renewal, manual).
func (m *Metrics) RecordCredit(ctx context.Context, source string, tokens int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source_type", strings.TrimSpace(source)))
	m.tokensCredited.Add(ctx, tokens, metric.WithAttributes(attrs...))
}

// RecordPaymentEvent counts webhook outcomes such as applied, duplicate or failed.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordAccessToken(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", strings.TrimSpace(operation)))
	m.accessTokens.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// user_id is deliberately absent: one series per user would explode.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"module_id":   {},
	"endpoint":    {},
	"status_code": {},
	"provider":    {},
	"event_type":  {},
	"outcome":     {},
	"operation":   {},
	"source_type": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
