// Package observability provides OpenTelemetry metrics for accord sessions.
//
// Provider implements consensus.Recorder, so a Node reports appends, fold
// drops and local rejections through it.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/luca-patrignani/accord/consensus"
)

const meterName = "github.com/luca-patrignani/accord"

// Config configures the meter provider.
type Config struct {
	ServiceName string
	// OTLPEndpoint is e.g. "localhost:4317". Empty keeps metrics in process.
	OTLPEndpoint string
	Insecure     bool
	Interval     time.Duration
}

// DefaultConfig returns the defaults used by the accord command.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "accord",
		Insecure:    true,
		Interval:    15 * time.Second,
	}
}

// Provider owns the meter provider and the protocol instruments.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	logger        *slog.Logger

	appended metric.Int64Counter
	dropped  metric.Int64Counter
	rejected metric.Int64Counter
	outcomes metric.Int64Counter
	payoffs  metric.Float64Histogram
}

// New creates a provider exporting over OTLP/gRPC when an endpoint is set.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	var reader sdkmetric.Reader
	if config.OTLPEndpoint != "" {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint)}
		if config.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
		interval := config.Interval
		if interval <= 0 {
			interval = 15 * time.Second
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	} else {
		reader = sdkmetric.NewManualReader()
	}
	p, err := NewWithReader(config.ServiceName, reader)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(p.meterProvider)
	p.logger.InfoContext(ctx, "observability initialized", "endpoint", config.OTLPEndpoint)
	return p, nil
}

// NewWithReader creates a provider on an explicit reader.
func NewWithReader(serviceName string, reader sdkmetric.Reader) (*Provider, error) {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	p := &Provider{
		meterProvider: mp,
		meter:         mp.Meter(meterName),
		logger:        slog.Default().With("component", "observability"),
	}
	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}
	return p, nil
}

func (p *Provider) initInstruments() error {
	var err error
	p.appended, err = p.meter.Int64Counter("accord.events.appended",
		metric.WithDescription("Events appended by this process"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}
	p.dropped, err = p.meter.Int64Counter("accord.events.dropped",
		metric.WithDescription("Events the fold treated as no-ops"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}
	p.rejected, err = p.meter.Int64Counter("accord.proposals.rejected_locally",
		metric.WithDescription("Operations refused before reaching the log"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}
	p.outcomes, err = p.meter.Int64Counter("accord.outcomes",
		metric.WithDescription("Resolved session outcomes"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return err
	}
	p.payoffs, err = p.meter.Float64Histogram("accord.payoff",
		metric.WithDescription("Payoff of each party at resolution"),
		metric.WithUnit("{point}"),
	)
	return err
}

func (p *Provider) EventAppended(ctx context.Context, t consensus.EventType) {
	p.appended.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(t))))
}

func (p *Provider) EventDropped(ctx context.Context, reason consensus.DropReason) {
	p.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}

func (p *Provider) ProposalRejected(ctx context.Context, reason consensus.RejectReason) {
	p.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}

// OutcomeResolved records a resolved outcome and each party's payoff.
func (p *Provider) OutcomeResolved(ctx context.Context, out consensus.Outcome) {
	p.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("agreement", out.Agreement)))
	for party, v := range out.Payoffs {
		p.payoffs.Record(ctx, v, metric.WithAttributes(
			attribute.String("party", party),
			attribute.Bool("agreement", out.Agreement),
		))
	}
}

// Meter returns the accord meter.
func (p *Provider) Meter() metric.Meter { return p.meter }

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		return err
	}
	return nil
}

var _ consensus.Recorder = (*Provider)(nil)
