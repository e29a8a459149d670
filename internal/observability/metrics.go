package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names
const (
	RequestCountMetric    = "request_count"
	ResponseLatencyMetric = "response_latency"
	StockCountMetric      = "stock_count"
)

// Attribute keys on request metrics
const (
	EndpointKey = attribute.Key("endpoint")
	StatusKey   = attribute.Key("status")
)

// Metrics records per-request metrics.
type Metrics interface {
	RecordRequest(ctx context.Context, labels RequestLabels)
	RecordLatency(ctx context.Context, milliseconds float64, labels RequestLabels)
}

// RequestLabels contains metric dimensions.
type RequestLabels struct {
	Endpoint string
	Status   string
}

func (l RequestLabels) attributes() metric.MeasurementOption {
	return metric.WithAttributes(
		EndpointKey.String(l.Endpoint),
		StatusKey.String(l.Status),
	)
}

// Registry holds the instruments created once at startup and shared
// read-only by every handler.
type Registry struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	entries  metric.Int64ObservableGauge
}

var _ Metrics = (*Registry)(nil)

// NewRegistry registers the request counter, the latency histogram and the
// stock entry gauge. size is called by the reader on every collection.
func NewRegistry(meter metric.Meter, size func() int) (*Registry, error) {
	requests, err := meter.Int64Counter(RequestCountMetric,
		metric.WithDescription("Counts the number of requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s counter: %w", RequestCountMetric, err)
	}

	latency, err := meter.Float64Histogram(ResponseLatencyMetric,
		metric.WithDescription("Response latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s histogram: %w", ResponseLatencyMetric, err)
	}

	entries, err := meter.Int64ObservableGauge(StockCountMetric,
		metric.WithDescription("Number of stock entries"),
		metric.WithUnit("count"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(int64(size()))
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s gauge: %w", StockCountMetric, err)
	}

	return &Registry{
		requests: requests,
		latency:  latency,
		entries:  entries,
	}, nil
}

// RecordRequest increments the request counter.
func (r *Registry) RecordRequest(ctx context.Context, labels RequestLabels) {
	r.requests.Add(ctx, 1, labels.attributes())
}

// RecordLatency records the request duration in milliseconds.
func (r *Registry) RecordLatency(ctx context.Context, milliseconds float64, labels RequestLabels) {
	r.latency.Record(ctx, milliseconds, labels.attributes())
}
