package authz

import (
	"time"

	"github.com/crewlytics/crewsync/pkg/identity"
)

// Engine evaluates the fixed policy table:
//
//	operation            admin  user
//	read (non-deleted)   allow  allow
//	read (soft-deleted)  allow  deny
//	insert               allow  deny
//	update               allow  deny
//	delete (soft)        allow  deny
//	restore              allow  deny
//
// The policy is static; the Engine holds no state and is safe for
// concurrent use.
type Engine struct{}

// NewEngine creates a policy engine
func NewEngine() *Engine {
	return &Engine{}
}

// Check evaluates the policy for an identity performing an operation on
// a table.
func (e *Engine) Check(ident *identity.Identity, table Table, op Operation) Decision {
	now := time.Now()

	if !table.Valid() {
		return Decision{Allowed: false, Reason: ReasonUnknownTable, CheckedAt: now}
	}

	if ident.IsAdmin() {
		return Decision{Allowed: true, CheckedAt: now}
	}

	// The audit trail is readable by admins only.
	if table == TableAuditEntries {
		return Decision{Allowed: false, Reason: ReasonRoleInsufficient, CheckedAt: now}
	}

	// Standard users may only read non-deleted rows.
	if op == OpRead {
		return Decision{Allowed: true, CheckedAt: now}
	}

	return Decision{Allowed: false, Reason: ReasonRoleInsufficient, CheckedAt: now}
}

// CheckRow evaluates the policy against a concrete row. A soft-deleted
// row is invisible to standard users and rejects further mutation for
// everyone; deletes of an already-deleted row surface as
// record_soft_deleted rather than succeeding twice.
func (e *Engine) CheckRow(ident *identity.Identity, table Table, op Operation, deleted bool) Decision {
	d := e.Check(ident, table, op)
	if !d.Allowed {
		return d
	}

	if deleted && op != OpRestore && op != OpReadDeleted {
		if op == OpRead && ident.IsAdmin() {
			return d
		}
		return Decision{Allowed: false, Reason: ReasonRecordSoftDeleted, CheckedAt: d.CheckedAt}
	}

	return d
}

// Require is Check returning an *Error on denial, for call sites that
// abort on deny.
func (e *Engine) Require(ident *identity.Identity, table Table, op Operation) error {
	if d := e.Check(ident, table, op); !d.Allowed {
		return &Error{Table: table, Operation: op, Reason: d.Reason}
	}
	return nil
}

// VisibilityPredicate returns the row predicate the storage layer must
// append to every read of the given identity. Only an admin explicitly
// asking for deleted rows gets an unrestricted view; for everyone else
// the predicate excludes soft-deleted rows regardless of what the
// application tier asked for.
func (e *Engine) VisibilityPredicate(ident *identity.Identity, includeDeleted bool) string {
	if includeDeleted && ident.IsAdmin() {
		return ""
	}
	return "deleted_at IS NULL"
}
