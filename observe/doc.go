// Package observe provides the observability primitives used across payrelay.
//
// It owns the OpenTelemetry tracer and meter providers, the slog-backed
// structured logger, and the recorders that translate executor and webhook
// outcomes into payrelay.* metrics and spans. It performs no I/O beyond
// exporter setup.
package observe
