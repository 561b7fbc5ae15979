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

// Metrics exposes application-level instruments for the billing core.
type Metrics struct {
	invoicesIssued     metric.Int64Counter
	numbersAllocated   metric.Int64Counter
	allocationFailures metric.Int64Counter
	overlapConflicts   metric.Int64Counter
	rangeWarnings      metric.Int64Counter
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

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "caja"
	}
	meter := provider.Meter(name)

	invoicesIssued, err := meter.Int64Counter("caja_invoices_issued_total")
	if err != nil {
		return nil, err
	}
	numbersAllocated, err := meter.Int64Counter("caja_invoice_numbers_allocated_total")
	if err != nil {
		return nil, err
	}
	allocationFailures, err := meter.Int64Counter("caja_invoice_allocation_failures_total")
	if err != nil {
		return nil, err
	}
	overlapConflicts, err := meter.Int64Counter("caja_billed_period_conflicts_total")
	if err != nil {
		return nil, err
	}
	rangeWarnings, err := meter.Int64Counter("caja_range_warnings_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invoicesIssued:     invoicesIssued,
		numbersAllocated:   numbersAllocated,
		allocationFailures: allocationFailures,
		overlapConflicts:   overlapConflicts,
		rangeWarnings:      rangeWarnings,
	}, nil
}

// RecordInvoiceIssued increments issued invoice counts by document type.
func (m *Metrics) RecordInvoiceIssued(ctx context.Context, documentType string) {
	if m == nil {
		return
	}
	m.invoicesIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("document_type", strings.TrimSpace(documentType)),
	))
}

// RecordNumberAllocated increments the legal correlative allocation count.
func (m *Metrics) RecordNumberAllocated(ctx context.Context, cai string) {
	if m == nil {
		return
	}
	m.numbersAllocated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cai", strings.TrimSpace(cai)),
	))
}

// RecordAllocationFailure increments allocation failure counts by reason.
func (m *Metrics) RecordAllocationFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.allocationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", strings.TrimSpace(reason)),
	))
}

// RecordOverlapConflict increments rejected billed-period creations.
func (m *Metrics) RecordOverlapConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.overlapConflicts.Add(ctx, 1)
}

// RecordRangeWarning increments emitted range-health warnings by code.
func (m *Metrics) RecordRangeWarning(ctx context.Context, code string) {
	if m == nil {
		return
	}
	m.rangeWarnings.Add(ctx, 1, metric.WithAttributes(
		attribute.String("code", strings.TrimSpace(code)),
	))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	endpoint = strings.TrimSpace(endpoint)
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp metric protocol %q", protocol)
	}
}
