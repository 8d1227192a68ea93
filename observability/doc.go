// Package observability provides an OpenTelemetry metrics extension. The
// MetricsExtension implements the ext lifecycle hooks and counts claims,
// skips, retries, dispatches, failures, reconciliations and watchdog
// reclaims.
//
// For per-attempt tracing and metrics, see middleware.Tracing and
// middleware.Metrics.
package observability
