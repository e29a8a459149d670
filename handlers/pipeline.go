package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/upb/stock-snap/internal/observability"
	"github.com/upb/stock-snap/services"
	"github.com/upb/stock-snap/utils"
)

// Result is the outcome of a successful operation
type Result struct {
	Body interface{}

	// Detail is appended to the request log line
	Detail string
}

// Operation is one instrumented endpoint
type Operation struct {
	// Name of the root span, e.g. "get_stock_price"
	Name string

	// Endpoint tags metrics and names the route in logs
	Endpoint string

	Run func(ctx context.Context, scope *Scope, r *http.Request) (*Result, error)
}

// Pipeline wraps operations with a root span, request metrics and the
// request log line.
type Pipeline struct {
	tracer          trace.Tracer
	metrics         observability.Metrics
	delay           Delay
	timeout         time.Duration
	unavailableBody bool
	propagator      propagation.TextMapPropagator
	logger          *zap.Logger
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithDelay sets the delay run at the start of every phase
func WithDelay(delay Delay) PipelineOption {
	return func(p *Pipeline) {
		if delay != nil {
			p.delay = delay
		}
	}
}

// WithRequestTimeout bounds each request. Zero disables the deadline.
func WithRequestTimeout(timeout time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.timeout = timeout
	}
}

// WithUnavailableBody controls whether exchange store failures carry a JSON body
func WithUnavailableBody(enabled bool) PipelineOption {
	return func(p *Pipeline) {
		p.unavailableBody = enabled
	}
}

// WithPropagator sets the propagator used to continue incoming traces
func WithPropagator(propagator propagation.TextMapPropagator) PipelineOption {
	return func(p *Pipeline) {
		p.propagator = propagator
	}
}

// NewPipeline creates a Pipeline
func NewPipeline(tracer trace.Tracer, metrics observability.Metrics, logger *zap.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		tracer:          tracer,
		metrics:         metrics,
		delay:           RandomDelay(100*time.Millisecond, time.Second),
		unavailableBody: true,
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle returns an http.HandlerFunc running op inside a root span. Exactly one
// response is written and one request count and latency observation are
// recorded on every path, including panics.
func (p *Pipeline) Handle(op Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := p.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		if p.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}

		ctx, span := p.tracer.Start(ctx, op.Name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPRoute(op.Endpoint),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()

		scope := &Scope{
			tracer: p.tracer,
			delay:  p.delay,
			root:   span,
		}

		res, err := p.run(ctx, op, scope, r)
		out := resolveOutcome(res, err, p.unavailableBody)

		if out.spanError != "" {
			span.RecordError(err)
			span.SetStatus(codes.Error, out.spanError)
		}

		p.write(ctx, w, span, out)

		labels := observability.RequestLabels{Endpoint: op.Endpoint, Status: out.metricStatus}
		elapsed := float64(time.Since(start).Microseconds()) / 1000
		p.metrics.RecordRequest(ctx, labels)
		p.metrics.RecordLatency(ctx, elapsed, labels)

		fields := []zap.Field{
			zap.String("endpoint", op.Endpoint),
			zap.Int("status", out.status),
			zap.Float64("latency_ms", elapsed),
		}
		if details := services.GetErrorDetails(err); len(details) > 0 {
			fields = append(fields, zap.Any("details", details))
		}
		observability.WithTrace(ctx, p.logger).Log(out.level,
			fmt.Sprintf("%s %s - %d - %s", r.Method, op.Endpoint, out.status, out.detail),
			fields...,
		)
	}
}

// run calls op.Run and converts a panic into an error
func (p *Pipeline) run(ctx context.Context, op Operation, scope *Scope, r *http.Request) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			res, err = nil, services.WrapInternal("unhandled panic", fmt.Errorf("panic: %v", rec))
		}
	}()
	return op.Run(ctx, scope, r)
}

// write sends the response and records it on the root span
func (p *Pipeline) write(ctx context.Context, w http.ResponseWriter, span trace.Span, out outcome) {
	body := ""
	if out.body != nil {
		encoded, err := json.Marshal(out.body)
		if err != nil {
			observability.WithTrace(ctx, p.logger).Error("failed to encode response", zap.Error(err))
			out.status, out.body = http.StatusInternalServerError, utils.ErrorResponse{Error: utils.MsgInternalServerError}
			encoded, _ = json.Marshal(out.body)
		}
		body = string(encoded)
	}

	if err := utils.WriteJSON(w, out.status, out.body); err != nil {
		observability.WithTrace(ctx, p.logger).Warn("failed to write response", zap.Error(err))
	}

	span.SetAttributes(semconv.HTTPResponseStatusCode(out.status))
	span.AddEvent("response", trace.WithAttributes(
		attribute.Int("http.status_code", out.status),
		attribute.String("response.body", body),
	))
}

// Scope is the per-request state shared by an operation's phases
type Scope struct {
	tracer trace.Tracer
	delay  Delay
	root   trace.Span
}

// SetAttributes annotates the root span
func (s *Scope) SetAttributes(kv ...attribute.KeyValue) {
	s.root.SetAttributes(kv...)
}

// Phase runs fn inside a child span named name. The span is ended before
// Phase returns, on every path. A phase is not started once ctx is done.
func (s *Scope) Phase(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return timeoutError(ctxErr)
	}

	ctx, span := s.tracer.Start(ctx, name)
	defer func() {
		if rec := recover(); rec != nil {
			span.SetStatus(codes.Error, fmt.Sprintf("panic: %v", rec))
			span.End()
			panic(rec)
		}
		span.End()
	}()

	if err = s.delay(ctx); err != nil {
		err = timeoutError(err)
	} else {
		err = fn(ctx)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, phaseMessage(err))
		return err
	}
	return nil
}

// logLevel picks the severity of the request log line
func logLevel(metricStatus string) zapcore.Level {
	switch metricStatus {
	case StatusError, StatusUnavailable:
		return zapcore.ErrorLevel
	case StatusTimeout:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
