// Package observability wires OpenTelemetry tracing and metrics and the
// structured logger used by Stock Snap.
//
// This package implements:
//   - OTLP/gRPC export of spans (batched) and metrics (periodic, 5s)
//   - The metrics registry: request_count, response_latency, stock_count
//   - zap logger construction and trace-aware log fields
//
// Handlers receive a trace.Tracer and a Metrics value explicitly; nothing here
// installs process-wide providers.
package observability
