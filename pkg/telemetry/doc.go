// Package telemetry provides structured logging, Prometheus metrics, and
// OpenTelemetry tracing for the Homestead control plane.
//
// Logging is built on zerolog; components obtain child loggers via
// Logger.Component and attach job/server fields with the With* helpers.
// Metrics and tracing are opt-in: a disabled Metrics or Tracer instance is a
// safe no-op, so call sites never guard their telemetry calls.
package telemetry
