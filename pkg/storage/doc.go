// Package storage defines the shared storage error taxonomy used by the
// ingestion and query layers. The postgres subpackage owns connections,
// migrations, and the single shared connection pool.
package storage
