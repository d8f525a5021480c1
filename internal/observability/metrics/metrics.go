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

// Metrics exposes reconciliation instruments.
type Metrics struct {
	notifications      metric.Int64Counter
	signatureRejects   metric.Int64Counter
	ledgerEvents       metric.Int64Counter
	installmentsPaid   metric.Int64Counter
	resolutionOutcomes metric.Int64Counter
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
		name = "reconciler"
	}
	meter := provider.Meter(name)

	notifications, err := meter.Int64Counter("reconciler_notifications_total")
	if err != nil {
		return nil, err
	}
	signatureRejects, err := meter.Int64Counter("reconciler_signature_rejections_total")
	if err != nil {
		return nil, err
	}
	ledgerEvents, err := meter.Int64Counter("reconciler_ledger_events_total")
	if err != nil {
		return nil, err
	}
	installmentsPaid, err := meter.Int64Counter("reconciler_installments_paid_total")
	if err != nil {
		return nil, err
	}
	resolutionOutcomes, err := meter.Int64Counter("reconciler_resolution_outcomes_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		notifications:      notifications,
		signatureRejects:   signatureRejects,
		ledgerEvents:       ledgerEvents,
		installmentsPaid:   installmentsPaid,
		resolutionOutcomes: resolutionOutcomes,
	}, nil
}

// RecordNotification counts processed notifications by reported status and
// processing result.
func (m *Metrics) RecordNotification(ctx context.Context, status, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("status", strings.TrimSpace(status)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.notifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordSignatureRejected(ctx context.Context) {
	if m == nil {
		return
	}
	m.signatureRejects.Add(ctx, 1)
}

func (m *Metrics) RecordLedgerEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.ledgerEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordInstallmentPaid(ctx context.Context) {
	if m == nil {
		return
	}
	m.installmentsPaid.Add(ctx, 1)
}

// RecordResolution counts resolver outcomes by method (linkage, installment,
// manual, none).
func (m *Metrics) RecordResolution(ctx context.Context, method string, ambiguous bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("method", strings.TrimSpace(method)),
		attribute.Bool("ambiguous", ambiguous),
	)
	m.resolutionOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"status":      {},
	"result":      {},
	"event_type":  {},
	"method":      {},
	"ambiguous":   {},
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
