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

// Metrics exposes application-level instruments.
type Metrics struct {
	creditsDebited   metric.Float64Counter
	creditsGranted   metric.Float64Counter
	deductionsDenied metric.Int64Counter
	gradingItems     metric.Int64Counter
	gradingDuration  metric.Float64Histogram
	purchaseEvents   metric.Int64Counter
	schedulerJobs    metric.Int64Counter
	schedulerJobTime metric.Float64Histogram
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
		name = "gradewise"
	}
	meter := provider.Meter(name)

	creditsDebited, err := meter.Float64Counter("gradewise_credits_debited_total")
	if err != nil {
		return nil, err
	}
	creditsGranted, err := meter.Float64Counter("gradewise_credits_granted_total")
	if err != nil {
		return nil, err
	}
	deductionsDenied, err := meter.Int64Counter("gradewise_deductions_denied_total")
	if err != nil {
		return nil, err
	}
	gradingItems, err := meter.Int64Counter("gradewise_grading_items_total")
	if err != nil {
		return nil, err
	}
	gradingDuration, err := meter.Float64Histogram("gradewise_grading_item_duration_seconds",
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	purchaseEvents, err := meter.Int64Counter("gradewise_purchase_events_total")
	if err != nil {
		return nil, err
	}

	schedulerJobs, err := meter.Int64Counter("gradewise_scheduler_job_runs_total")
	if err != nil {
		return nil, err
	}
	schedulerJobTime, err := meter.Float64Histogram("gradewise_scheduler_job_duration_seconds",
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		creditsDebited:   creditsDebited,
		creditsGranted:   creditsGranted,
		deductionsDenied: deductionsDenied,
		gradingItems:     gradingItems,
		gradingDuration:  gradingDuration,
		purchaseEvents:   purchaseEvents,
		schedulerJobs:    schedulerJobs,
		schedulerJobTime: schedulerJobTime,
	}, nil
}

// NewNoop returns instruments bound to a no-op provider, for tests and tools.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func (m *Metrics) RecordDebit(ctx context.Context, feature string, credits float64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("feature", strings.TrimSpace(feature)))
	m.creditsDebited.Add(ctx, credits, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordGrant(ctx context.Context, source string, credits float64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source", strings.TrimSpace(source)))
	m.creditsGranted.Add(ctx, credits, metric.WithAttributes(attrs...))
}

// RecordDenied counts deductions rejected for lack of balance.
func (m *Metrics) RecordDenied(ctx context.Context, feature string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("feature", strings.TrimSpace(feature)))
	m.deductionsDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordGradingItem tracks one bulk grading item by outcome.
func (m *Metrics) RecordGradingItem(ctx context.Context, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.gradingItems.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.gradingDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordPurchaseEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.purchaseEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSchedulerJob tracks one scheduler job run by outcome (ok, error, timeout).
func (m *Metrics) RecordSchedulerJob(ctx context.Context, job, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("job", strings.TrimSpace(job)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.schedulerJobs.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.schedulerJobTime.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
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
	"feature":     {},
	"job":         {},
	"source":      {},
	"status":      {},
	"provider":    {},
	"event_type":  {},
	"endpoint":    {},
	"status_code": {},
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
