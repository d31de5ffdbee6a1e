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

// Metrics exposes ledger instruments.
type Metrics struct {
	operations       metric.Int64Counter
	conflicts        metric.Int64Counter
	amounts          metric.Float64Counter
	rateLimitDenied  metric.Int64Counter
	changefeedEvents metric.Int64Counter
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
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the ledger instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "balancebook"
	}
	meter := provider.Meter(name)

	operations, err := meter.Int64Counter("balancebook_ledger_operations_total",
		metric.WithDescription("Ledger operations by kind and outcome."))
	if err != nil {
		return nil, err
	}
	conflicts, err := meter.Int64Counter("balancebook_ledger_conflicts_total",
		metric.WithDescription("Optimistic concurrency conflicts that forced a retry."))
	if err != nil {
		return nil, err
	}
	amounts, err := meter.Float64Counter("balancebook_ledger_amount_total",
		metric.WithDescription("Money booked by the ledger, by operation."))
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("balancebook_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}
	changefeedEvents, err := meter.Int64Counter("balancebook_changefeed_events_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		operations:       operations,
		conflicts:        conflicts,
		amounts:          amounts,
		rateLimitDenied:  rateLimitDenied,
		changefeedEvents: changefeedEvents,
	}, nil
}

// RecordLedgerOperation counts one ledger operation and, on success, the
// money it booked.
func (m *Metrics) RecordLedgerOperation(ctx context.Context, operation string, amount float64, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := FilterAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	m.operations.Add(ctx, 1, metric.WithAttributes(attrs...))
	if err == nil && amount > 0 {
		m.amounts.Add(ctx, amount, metric.WithAttributes(FilterAttributes(attribute.String("operation", operation))...))
	}
}

// RecordLedgerConflict counts a retried transaction.
func (m *Metrics) RecordLedgerConflict(ctx context.Context, operation, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", operation),
		attribute.String("reason", reason),
	)
	m.conflicts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied counts a rejected request.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("endpoint", endpoint))...))
}

// RecordChangefeedEvent counts a published collection change.
func (m *Metrics) RecordChangefeedEvent(ctx context.Context, collection string) {
	if m == nil {
		return
	}
	m.changefeedEvents.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("collection", collection))...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"operation":  {},
	"outcome":    {},
	"reason":     {},
	"endpoint":   {},
	"collection": {},
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
