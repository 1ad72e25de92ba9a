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

// Metrics exposes pricing engine instruments.
type Metrics struct {
	recomputes       metric.Int64Counter
	recomputeLatency metric.Float64Histogram
	gateDecisions    metric.Int64Counter
	approvalOutcomes metric.Int64Counter
	activeSessions   metric.Int64UpDownCounter
	jobRuns          metric.Int64Counter
	jobLatency       metric.Float64Histogram
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

// New configures the pricing metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "proposalpricing"
	}
	meter := provider.Meter(name)

	recomputes, err := meter.Int64Counter("pricing_recompute_total")
	if err != nil {
		return nil, err
	}
	recomputeLatency, err := meter.Float64Histogram("pricing_recompute_duration_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	gateDecisions, err := meter.Int64Counter("pricing_gate_decisions_total")
	if err != nil {
		return nil, err
	}
	approvalOutcomes, err := meter.Int64Counter("pricing_approval_outcomes_total")
	if err != nil {
		return nil, err
	}
	activeSessions, err := meter.Int64UpDownCounter("pricing_active_sessions")
	if err != nil {
		return nil, err
	}
	jobRuns, err := meter.Int64Counter("scheduler_job_runs_total")
	if err != nil {
		return nil, err
	}
	jobLatency, err := meter.Float64Histogram("scheduler_job_duration_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		recomputes:       recomputes,
		recomputeLatency: recomputeLatency,
		gateDecisions:    gateDecisions,
		approvalOutcomes: approvalOutcomes,
		activeSessions:   activeSessions,
		jobRuns:          jobRuns,
		jobLatency:       jobLatency,
	}, nil
}

// RecordRecompute counts one recompute pass and its latency.
func (m *Metrics) RecordRecompute(ctx context.Context, operation string, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "failed"
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("status", status),
	)
	m.recomputes.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.recomputeLatency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

// RecordGateDecision counts approval gate checks by decision.
func (m *Metrics) RecordGateDecision(ctx context.Context, operation, decision string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("decision", strings.TrimSpace(decision)),
	)
	m.gateDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordApprovalOutcome counts resolved approval requests.
func (m *Metrics) RecordApprovalOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.approvalOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// SessionOpened and SessionClosed track live editing sessions.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeSessions.Add(ctx, 1)
}

func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeSessions.Add(ctx, -1)
}

// RecordJobRun counts one background job run. Status is ok, error or timeout.
func (m *Metrics) RecordJobRun(ctx context.Context, job, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("job", strings.TrimSpace(job)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.jobRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.jobLatency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
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
	"operation": {},
	"status":    {},
	"decision":  {},
	"outcome":   {},
	"route":     {},
	"method":    {},
	"job":       {},
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
