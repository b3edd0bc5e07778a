package authz

import (
	"fmt"
	"time"
)

// Table identifies a protected storage table
type Table string

const (
	TablePeriods         Table = "periods"
	TablePairings        Table = "pairings"
	TableDutyDays        Table = "duty_days"
	TableBidLines        Table = "bid_lines"
	TableAuditEntries    Table = "audit_entries"
	TableTrendAggregates Table = "trend_aggregates"
)

// Valid reports whether the table is one the policy knows about
func (t Table) Valid() bool {
	switch t {
	case TablePeriods, TablePairings, TableDutyDays, TableBidLines,
		TableAuditEntries, TableTrendAggregates:
		return true
	}
	return false
}

// Operation represents an action on a table
type Operation string

const (
	OpRead        Operation = "read"         // Read non-deleted rows
	OpReadDeleted Operation = "read_deleted" // Read including soft-deleted rows
	OpInsert      Operation = "insert"
	OpUpdate      Operation = "update"
	OpDelete      Operation = "delete"  // Soft delete
	OpRestore     Operation = "restore" // Clear a soft-delete marker
)

// DenyReason is a structured denial reason
type DenyReason string

const (
	ReasonRoleInsufficient  DenyReason = "role_insufficient"
	ReasonRecordSoftDeleted DenyReason = "record_soft_deleted"
	ReasonUnknownTable      DenyReason = "unknown_table"
)

// Decision is the result of a policy check
type Decision struct {
	Allowed   bool
	Reason    DenyReason // set when denied
	CheckedAt time.Time
}

// Error is the error returned when an operation is denied. Denials abort
// the whole call; a denied write is never partially applied.
type Error struct {
	Table     Table
	Operation Operation
	Reason    DenyReason
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s on %s denied: %s", e.Operation, e.Table, e.Reason)
}

// IsDenied reports whether err is an authorization denial
func IsDenied(err error) bool {
	_, ok := err.(*Error)
	return ok
}
