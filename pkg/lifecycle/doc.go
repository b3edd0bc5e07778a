// Package lifecycle implements soft-delete semantics.
//
// A delete never removes a row; it stamps deleted_at and records who did
// it. Default reads exclude stamped rows everywhere via IsVisible and the
// authz visibility predicate. Restore is a separate admin-only operation,
// not an undo bundled into delete.
package lifecycle
