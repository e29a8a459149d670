package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/upb/stock-snap/internal/observability"
	"github.com/upb/stock-snap/models"
	"github.com/upb/stock-snap/repositories"
	"github.com/upb/stock-snap/repositories/memory"
	"github.com/upb/stock-snap/services/stock"
)

type fakeExchanges struct {
	rows  map[string]string
	err   error
	calls int
}

func (f *fakeExchanges) LookupExchange(ctx context.Context, symbol string) (*models.ExchangeRow, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	exchange, ok := f.rows[symbol]
	if !ok {
		return nil, repositories.ErrExchangeNotFound
	}
	return &models.ExchangeRow{Symbol: symbol, Exchange: exchange}, nil
}

func (f *fakeExchanges) Ping(ctx context.Context) error {
	return f.err
}

func samplePrices() *memory.PriceTable {
	return memory.NewPriceTable([]models.Quote{
		{Symbol: "AAPL", Price: 150.0},
		{Symbol: "GOOG", Price: 2800.0},
		{Symbol: "MSFT", Price: 300.0},
	})
}

// testEnv holds a handler wired to in-memory telemetry
type testEnv struct {
	handler  *StockHandler
	pipeline *Pipeline
	exporter *tracetest.InMemoryExporter
	reader   *sdkmetric.ManualReader
	logs     *observer.ObservedLogs
}

func newTestEnv(t *testing.T, exchanges repositories.ExchangeRepository, opts ...PipelineOption) *testEnv {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	prices := samplePrices()
	registry, err := observability.NewRegistry(mp.Meter("test"), prices.Size)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	opts = append([]PipelineOption{WithDelay(NoDelay)}, opts...)
	pipeline := NewPipeline(tp.Tracer("test"), registry, logger, opts...)
	svc := stock.NewService(prices, exchanges, 5, logger)

	return &testEnv{
		handler:  NewStockHandler(svc, pipeline),
		pipeline: pipeline,
		exporter: exporter,
		reader:   reader,
		logs:     logs,
	}
}

func (e *testEnv) serve(h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func (e *testEnv) spans() tracetest.SpanStubs {
	return e.exporter.GetSpans()
}

func spanByName(t *testing.T, spans tracetest.SpanStubs, name string) tracetest.SpanStub {
	t.Helper()
	for _, s := range spans {
		if s.Name == name {
			return s
		}
	}
	require.Failf(t, "span not found", "no span named %q", name)
	return tracetest.SpanStub{}
}

func spanNames(spans tracetest.SpanStubs) []string {
	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name)
	}
	return names
}

// metricKey identifies a data point by endpoint and status
type metricKey struct {
	endpoint string
	status   string
}

func keyOf(set attribute.Set) metricKey {
	endpoint, _ := set.Value(observability.EndpointKey)
	status, _ := set.Value(observability.StatusKey)
	return metricKey{endpoint: endpoint.AsString(), status: status.AsString()}
}

// requestCounts returns request_count and the response_latency observation
// count per endpoint and status.
func (e *testEnv) requestCounts(t *testing.T) (map[metricKey]int64, map[metricKey]uint64) {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, e.reader.Collect(context.Background(), &rm))

	counts := make(map[metricKey]int64)
	observations := make(map[metricKey]uint64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case observability.RequestCountMetric:
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					counts[keyOf(dp.Attributes)] = dp.Value
				}
			case observability.ResponseLatencyMetric:
				hist, ok := m.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				for _, dp := range hist.DataPoints {
					observations[keyOf(dp.Attributes)] = dp.Count
				}
			}
		}
	}
	return counts, observations
}
