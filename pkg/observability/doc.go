// Package observability provides logging, metrics, and health checking
// for the crewsync service.
//
// Logging is structured JSON built on log/slog. Metrics are Prometheus
// collectors registered on a dedicated registry and served from the
// health port. The health checker exposes liveness and readiness probes
// backed by the database connection.
package observability
