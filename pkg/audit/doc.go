// Package audit records the immutable audit trail.
//
// Every mutating operation writes exactly one entry, inside the same
// transaction as the mutation it describes: if the audit insert fails,
// the transaction rolls back and the mutation never happened. The table
// is append-only; no update or delete is exposed, and reads are limited
// to admin identities.
package audit
