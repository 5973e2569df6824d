// Package tracer provides distributed tracing for the relay.
//
// This package defines the tracing surface (Provider, StartSpan, Span);
// it does not import OpenTelemetry and its spans record nothing:
//
//   - otel.go: no-op Provider and Span
//
// Spans are not propagated through contexts, no exporter (Jaeger, OTLP)
// is configured, and there is no sampling configuration.
package tracer
