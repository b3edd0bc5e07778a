// Package sync implements the bulk write pipeline for crew record
// batches.
//
// A batch flows through four stages: authorization, per-record schema
// validation, duplicate pre-filtering against existing natural keys,
// and chunked transactional inserts. Chunks commit independently with
// bounded parallelism; a chunk that fails does not roll back chunks
// already committed, and the caller always receives exact per-record
// dispositions. Transient storage errors are retried per chunk with
// exponential backoff. The storage layer's partial unique indexes are
// the source of truth for uniqueness; the in-memory pre-filter only
// keeps the common case cheap.
package sync
