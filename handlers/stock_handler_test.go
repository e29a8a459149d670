package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/upb/stock-snap/models"
	"github.com/upb/stock-snap/repositories/memory"
	"github.com/upb/stock-snap/services/stock"
)

func TestStockHandler_StockPrice(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantBody   string
		wantSpans  []string
	}{
		{
			name:       "known symbol",
			target:     "/stock?symbol=AAPL",
			wantStatus: http.StatusOK,
			wantBody:   `{"symbol":"AAPL","price":150}`,
			wantSpans:  []string{"validate_input", "fetch_price", "get_stock_price"},
		},
		{
			name:       "large price",
			target:     "/stock?symbol=GOOG",
			wantStatus: http.StatusOK,
			wantBody:   `{"symbol":"GOOG","price":2800}`,
			wantSpans:  []string{"validate_input", "fetch_price", "get_stock_price"},
		},
		{
			name:       "unknown symbol",
			target:     "/stock?symbol=TSLA",
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Invalid symbol"}`,
			wantSpans:  []string{"validate_input", "get_stock_price"},
		},
		{
			name:       "missing symbol",
			target:     "/stock",
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Invalid symbol"}`,
			wantSpans:  []string{"validate_input", "get_stock_price"},
		},
		{
			name:       "symbols are case sensitive",
			target:     "/stock?symbol=aapl",
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Invalid symbol"}`,
			wantSpans:  []string{"validate_input", "get_stock_price"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			w := env.serve(env.handler.HandleStockPrice(), tt.target)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantBody+"\n", w.Body.String())
			assert.Equal(t, tt.wantSpans, spanNames(env.spans()))

			counts, observations := env.requestCounts(t)
			var total int64
			for key, n := range counts {
				assert.Equal(t, StockEndpoint, key.endpoint)
				total += n
			}
			assert.Equal(t, int64(1), total)
			assert.Len(t, observations, 1)
		})
	}
}

func TestStockHandler_StockPrice_ValidationSpan(t *testing.T) {
	env := newTestEnv(t, nil)

	env.serve(env.handler.HandleStockPrice(), "/stock?symbol=TSLA")

	spans := env.spans()
	validate := spanByName(t, spans, "validate_input")
	assert.Equal(t, codes.Error, validate.Status.Code)
	assert.Equal(t, "Invalid symbol", validate.Status.Description)

	root := spanByName(t, spans, "get_stock_price")
	assert.Equal(t, codes.Unset, root.Status.Code)
	assert.Equal(t, trace.SpanKindServer, root.SpanKind)
}

func TestStockHandler_TopGainers(t *testing.T) {
	env := newTestEnv(t, nil)
	want := `{"top_gainers":[{"symbol":"GOOG","price":2800},{"symbol":"MSFT","price":300},{"symbol":"AAPL","price":150}]}` + "\n"

	first := env.serve(env.handler.HandleTopGainers(), "/top-gainers")
	second := env.serve(env.handler.HandleTopGainers(), "/top-gainers")

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, want, first.Body.String())
	assert.Equal(t, first.Body.String(), second.Body.String())

	assert.Equal(t, []string{
		"fetch_prices", "sort_and_filter", "get_top_gainers",
		"fetch_prices", "sort_and_filter", "get_top_gainers",
	}, spanNames(env.spans()))

	counts, _ := env.requestCounts(t)
	assert.Equal(t, int64(2), counts[metricKey{TopGainersEndpoint, StatusOK}])
}

func TestStockHandler_StockExchange(t *testing.T) {
	rows := map[string]string{"AAPL": "NASDAQ", "GOOG": "NASDAQ"}

	tests := []struct {
		name       string
		target     string
		exchanges  *fakeExchanges
		wantStatus int
		wantBody   string
		wantSpans  []string
		wantCalls  int
		wantMetric string
	}{
		{
			name:       "listed symbol",
			target:     "/stock-exchange?symbol=AAPL",
			exchanges:  &fakeExchanges{rows: rows},
			wantStatus: http.StatusOK,
			wantBody:   `{"symbol":"AAPL","exchange":"NASDAQ"}`,
			wantSpans:  []string{"validate_input", "fetch_exchange", "get_stock_exchange"},
			wantCalls:  1,
			wantMetric: StatusOK,
		},
		{
			name:       "valid symbol absent from exchange table",
			target:     "/stock-exchange?symbol=MSFT",
			exchanges:  &fakeExchanges{rows: rows},
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Invalid symbol for stock exchange table"}`,
			wantSpans:  []string{"validate_input", "fetch_exchange", "get_stock_exchange"},
			wantCalls:  1,
			wantMetric: StatusClientError,
		},
		{
			name:       "unknown symbol never reaches the store",
			target:     "/stock-exchange?symbol=TSLA",
			exchanges:  &fakeExchanges{rows: rows},
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Invalid symbol"}`,
			wantSpans:  []string{"validate_input", "get_stock_exchange"},
			wantCalls:  0,
			wantMetric: StatusClientError,
		},
		{
			name:       "store unavailable",
			target:     "/stock-exchange?symbol=AAPL",
			exchanges:  &fakeExchanges{err: errors.New("connection refused")},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"error":"Stock exchange service unavailable"}`,
			wantSpans:  []string{"validate_input", "fetch_exchange", "get_stock_exchange"},
			wantCalls:  1,
			wantMetric: StatusUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.exchanges)

			w := env.serve(env.handler.HandleStockExchange(), tt.target)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantBody+"\n", w.Body.String())
			assert.Equal(t, tt.wantSpans, spanNames(env.spans()))
			assert.Equal(t, tt.wantCalls, tt.exchanges.calls)

			counts, observations := env.requestCounts(t)
			key := metricKey{StockExchangeEndpoint, tt.wantMetric}
			assert.Equal(t, map[metricKey]int64{key: 1}, counts)
			assert.Equal(t, map[metricKey]uint64{key: 1}, observations)
		})
	}
}

func TestStockHandler_StockExchange_AbsentMarksFetchSpan(t *testing.T) {
	env := newTestEnv(t, &fakeExchanges{rows: map[string]string{}})

	env.serve(env.handler.HandleStockExchange(), "/stock-exchange?symbol=MSFT")

	spans := env.spans()
	assert.Equal(t, codes.Unset, spanByName(t, spans, "validate_input").Status.Code)

	fetch := spanByName(t, spans, "fetch_exchange")
	assert.Equal(t, codes.Error, fetch.Status.Code)
	assert.Equal(t, "Invalid symbol for stock exchange table", fetch.Status.Description)

	assert.Equal(t, codes.Unset, spanByName(t, spans, "get_stock_exchange").Status.Code)
}

func TestStockHandler_StockExchange_Unavailable(t *testing.T) {
	t.Run("root span and log carry the store error", func(t *testing.T) {
		env := newTestEnv(t, &fakeExchanges{err: errors.New("390114: authentication token has expired")})

		env.serve(env.handler.HandleStockExchange(), "/stock-exchange?symbol=AAPL")

		root := spanByName(t, env.spans(), "get_stock_exchange")
		assert.Equal(t, codes.Error, root.Status.Code)
		assert.Equal(t, "SQL exception: 390114: authentication token has expired", root.Status.Description)

		entries := env.logs.FilterMessage("GET /stock-exchange - 503 - SQL exception: 390114: authentication token has expired").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "error", entries[0].Level.String())
	})

	t.Run("body can be disabled", func(t *testing.T) {
		env := newTestEnv(t, &fakeExchanges{err: errors.New("connection refused")}, WithUnavailableBody(false))

		w := env.serve(env.handler.HandleStockExchange(), "/stock-exchange?symbol=AAPL")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("no store configured", func(t *testing.T) {
		env := newTestEnv(t, nil)

		w := env.serve(env.handler.HandleStockExchange(), "/stock-exchange?symbol=AAPL")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestStockHandler_CountsEveryCompletedRequest(t *testing.T) {
	env := newTestEnv(t, &fakeExchanges{rows: map[string]string{"AAPL": "NASDAQ"}})

	requests := []struct {
		handler  http.HandlerFunc
		target   string
		endpoint string
	}{
		{env.handler.HandleStockPrice(), "/stock?symbol=AAPL", StockEndpoint},
		{env.handler.HandleStockPrice(), "/stock?symbol=TSLA", StockEndpoint},
		{env.handler.HandleStockPrice(), "/stock", StockEndpoint},
		{env.handler.HandleTopGainers(), "/top-gainers", TopGainersEndpoint},
		{env.handler.HandleStockExchange(), "/stock-exchange?symbol=AAPL", StockExchangeEndpoint},
		{env.handler.HandleStockExchange(), "/stock-exchange?symbol=MSFT", StockExchangeEndpoint},
		{env.handler.HandleStockExchange(), "/stock-exchange?symbol=NOPE", StockExchangeEndpoint},
	}

	want := make(map[string]int64)
	for _, req := range requests {
		env.serve(req.handler, req.target)
		want[req.endpoint]++
	}

	counts, observations := env.requestCounts(t)
	gotCounts := make(map[string]int64)
	gotObservations := make(map[string]int64)
	for key, n := range counts {
		gotCounts[key.endpoint] += n
	}
	for key, n := range observations {
		gotObservations[key.endpoint] += int64(n)
	}

	assert.Equal(t, want, gotCounts)
	assert.Equal(t, want, gotObservations)
	assert.Equal(t, int64(2), counts[metricKey{StockEndpoint, StatusClientError}])
	assert.Equal(t, int64(2), counts[metricKey{StockExchangeEndpoint, StatusClientError}])
}

func TestStockHandler_RequestCountSumsAcrossOutcomes(t *testing.T) {
	exchanges := &fakeExchanges{rows: map[string]string{"AAPL": "NASDAQ"}}
	env := newTestEnv(t, exchanges)
	h := env.handler.HandleStockExchange()

	env.serve(h, "/stock-exchange?symbol=AAPL")
	env.serve(h, "/stock-exchange?symbol=TSLA")
	env.serve(h, "/stock-exchange?symbol=MSFT")

	exchanges.err = errors.New("connection refused")
	env.serve(h, "/stock-exchange?symbol=AAPL")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/stock-exchange?symbol=AAPL", nil).WithContext(ctx)
	h(httptest.NewRecorder(), req)

	counts, observations := env.requestCounts(t)

	var total int64
	var totalObservations uint64
	for key, n := range counts {
		if key.endpoint == StockExchangeEndpoint {
			total += n
			totalObservations += observations[key]
		}
	}
	assert.Equal(t, int64(5), total)
	assert.Equal(t, uint64(5), totalObservations)

	assert.Equal(t, map[metricKey]int64{
		{StockExchangeEndpoint, StatusOK}:          1,
		{StockExchangeEndpoint, StatusClientError}: 2,
		{StockExchangeEndpoint, StatusUnavailable}: 1,
		{StockExchangeEndpoint, StatusTimeout}:     1,
	}, counts)
}

func TestStockHandler_AnyStoredKeyIsValid(t *testing.T) {
	env := newTestEnv(t, nil)
	prices := memory.NewPriceTable([]models.Quote{
		{Symbol: "AAPL", Price: 150.0},
		{Symbol: "^GSPC", Price: 5200.5},
		{Symbol: "BRK/B", Price: 410.0},
		{Symbol: "ABCDEFGHIJKLMNOPQ", Price: 1.0},
	})
	handler := NewStockHandler(stock.NewService(prices, nil, 5, zap.NewNop()), env.pipeline)

	for _, q := range prices.All() {
		w := env.serve(handler.HandleStockPrice(), "/stock?symbol="+url.QueryEscape(q.Symbol))

		assert.Equal(t, http.StatusOK, w.Code, q.Symbol)
		var got models.Quote
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, q, got)
	}
}

type nilRowExchanges struct{}

func (nilRowExchanges) LookupExchange(ctx context.Context, symbol string) (*models.ExchangeRow, error) {
	return nil, nil
}

func (nilRowExchanges) Ping(ctx context.Context) error {
	return nil
}

func TestStockHandler_StockExchange_NilRowIsAbsent(t *testing.T) {
	env := newTestEnv(t, nilRowExchanges{})

	w := env.serve(env.handler.HandleStockExchange(), "/stock-exchange?symbol=AAPL")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Invalid symbol for stock exchange table"}`, w.Body.String())
}

func TestStockHandler_ChildSpansNestAndDoNotOverlap(t *testing.T) {
	env := newTestEnv(t, &fakeExchanges{rows: map[string]string{"AAPL": "NASDAQ"}})

	handlers := map[string]http.HandlerFunc{
		"/stock?symbol=AAPL":          env.handler.HandleStockPrice(),
		"/top-gainers":                env.handler.HandleTopGainers(),
		"/stock-exchange?symbol=AAPL": env.handler.HandleStockExchange(),
		"/stock?symbol=TSLA":          env.handler.HandleStockPrice(),
	}

	for target, h := range handlers {
		t.Run(target, func(t *testing.T) {
			env.exporter.Reset()
			env.serve(h, target)

			spans := env.spans()
			require.GreaterOrEqual(t, len(spans), 2)

			root := spans[len(spans)-1]
			children := spans[:len(spans)-1]
			assert.False(t, root.Parent.IsValid())

			for i, child := range children {
				assert.Equal(t, root.SpanContext.TraceID(), child.SpanContext.TraceID())
				assert.Equal(t, root.SpanContext.SpanID(), child.Parent.SpanID())
				assert.False(t, child.EndTime.IsZero(), "child %s not ended", child.Name)
				assert.False(t, child.EndTime.After(root.EndTime), "child %s outlives root", child.Name)
				if i > 0 {
					prev := children[i-1]
					assert.False(t, child.StartTime.Before(prev.EndTime), "%s overlaps %s", child.Name, prev.Name)
				}
			}
		})
	}
}

func TestStockHandler_RequestLogLine(t *testing.T) {
	env := newTestEnv(t, nil)

	env.serve(env.handler.HandleStockPrice(), "/stock?symbol=AAPL")
	env.serve(env.handler.HandleStockPrice(), "/stock?symbol=TSLA")

	assert.Equal(t, 1, env.logs.FilterMessage("GET /stock - 200 - AAPL: 150.000000").Len())
	assert.Equal(t, 1, env.logs.FilterMessage("GET /stock - 400 - Invalid symbol").Len())

	entry := env.logs.FilterMessage("GET /stock - 200 - AAPL: 150.000000").All()[0]
	fields := entry.ContextMap()
	assert.Equal(t, StockEndpoint, fields["endpoint"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
	assert.NotEmpty(t, fields["trace_id"])
	assert.NotContains(t, fields, "details")

	rejected := env.logs.FilterMessage("GET /stock - 400 - Invalid symbol").All()[0]
	assert.Equal(t, map[string]interface{}{"symbol": "TSLA"}, rejected.ContextMap()["details"])
}

func TestStockHandler_RootSpanRecordsResponse(t *testing.T) {
	env := newTestEnv(t, nil)

	env.serve(env.handler.HandleStockPrice(), "/stock?symbol=AAPL")

	root := spanByName(t, env.spans(), "get_stock_price")
	require.Len(t, root.Events, 1)

	event := root.Events[0]
	assert.Equal(t, "response", event.Name)
	attrs := make(map[string]interface{})
	for _, kv := range event.Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, int64(http.StatusOK), attrs["http.status_code"])
	assert.Equal(t, `{"symbol":"AAPL","price":150}`, attrs["response.body"])

	rootAttrs := make(map[string]interface{})
	for _, kv := range root.Attributes {
		rootAttrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "AAPL", rootAttrs["stock.symbol"])
	assert.Equal(t, int64(http.StatusOK), rootAttrs["http.response.status_code"])
	assert.Equal(t, "/stock", rootAttrs["http.route"])
}

func TestStockHandler_ContinuesIncomingTrace(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/stock?symbol=AAPL", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	w := httptest.NewRecorder()
	env.handler.HandleStockPrice()(w, req)

	root := spanByName(t, env.spans(), "get_stock_price")
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", root.SpanContext.TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", root.Parent.SpanID().String())
	assert.True(t, root.Parent.IsRemote())
}

func TestStockHandler_ConcurrentRequests(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.handler.HandleStockPrice()

	const n = 50
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			env.serve(h, "/stock?symbol=MSFT")
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	counts, _ := env.requestCounts(t)
	assert.Equal(t, int64(n), counts[metricKey{StockEndpoint, StatusOK}])
	assert.Len(t, env.spans(), 3*n)
}
