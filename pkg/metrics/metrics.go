// Package metrics instruments call latency, registration stats, and
// workflow task transitions via OpenTelemetry, grounded on the teacher's
// observability.Provider RED-metrics setup (request/error counters plus a
// duration histogram, built from otel/metric and exported through
// otel/sdk/metric) rather than a vendor-specific metrics client.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Provider holds the counters and histogram every node exposes.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter

	callTotal         metric.Int64Counter
	callErrorTotal    metric.Int64Counter
	callDuration      metric.Float64Histogram
	registrationTotal metric.Int64Counter
	taskTransitions   metric.Int64Counter
}

// New builds a Provider backed by an in-process MeterProvider with no
// exporter or reader attached.
func New(ctx context.Context) (*Provider, error) {
	mp := sdkmetric.NewMeterProvider()
	return newFromProvider(mp)
}

func newFromProvider(mp *sdkmetric.MeterProvider) (*Provider, error) {
	meter := mp.Meter("mdstudio")

	callTotal, err := meter.Int64Counter("mdstudio.call.total", metric.WithDescription("total endpoint calls"))
	if err != nil {
		return nil, fmt.Errorf("metrics: call.total: %w", err)
	}
	callErrorTotal, err := meter.Int64Counter("mdstudio.call.errors", metric.WithDescription("endpoint calls that returned an error envelope"))
	if err != nil {
		return nil, fmt.Errorf("metrics: call.errors: %w", err)
	}
	callDuration, err := meter.Float64Histogram("mdstudio.call.duration_ms", metric.WithDescription("endpoint call duration in milliseconds"))
	if err != nil {
		return nil, fmt.Errorf("metrics: call.duration_ms: %w", err)
	}
	registrationTotal, err := meter.Int64Counter("mdstudio.registration.total", metric.WithDescription("endpoint registrations"))
	if err != nil {
		return nil, fmt.Errorf("metrics: registration.total: %w", err)
	}
	taskTransitions, err := meter.Int64Counter("mdstudio.workflow.task_transitions", metric.WithDescription("workflow task status transitions"))
	if err != nil {
		return nil, fmt.Errorf("metrics: workflow.task_transitions: %w", err)
	}

	return &Provider{
		meterProvider:     mp,
		meter:             meter,
		callTotal:         callTotal,
		callErrorTotal:    callErrorTotal,
		callDuration:      callDuration,
		registrationTotal: registrationTotal,
		taskTransitions:   taskTransitions,
	}, nil
}

// RecordCall records one endpoint invocation's outcome and latency.
func (p *Provider) RecordCall(ctx context.Context, uri string, ok bool, dur time.Duration) {
	attrs := metric.WithAttributes()
	p.callTotal.Add(ctx, 1, attrs)
	p.callDuration.Record(ctx, float64(dur.Microseconds())/1000.0, attrs)
	if !ok {
		p.callErrorTotal.Add(ctx, 1, attrs)
	}
}

// RecordRegistration increments the endpoint registration counter; uri is
// not recorded as an attribute.
func (p *Provider) RecordRegistration(ctx context.Context, uri string) {
	p.registrationTotal.Add(ctx, 1)
}

// RecordTaskTransition increments the workflow task transition counter for
// a status change, e.g. "ready->running" or "running->completed";
// fromStatus and toStatus are not recorded as attributes.
func (p *Provider) RecordTaskTransition(ctx context.Context, fromStatus, toStatus string) {
	p.taskTransitions.Add(ctx, 1, metric.WithAttributes())
}

// Shutdown flushes and releases the underlying MeterProvider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.meterProvider.Shutdown(ctx)
}
