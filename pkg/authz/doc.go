// Package authz implements the fixed two-role authorization policy.
//
// The policy is enforced twice. The Engine check runs before any write
// reaches storage and exists for fast failure and good error messages.
// The visibility predicate returned by VisibilityPredicate is appended
// to every storage query and is the actual security boundary: a caller
// that bypasses the application tier still cannot see or touch rows the
// policy excludes.
package authz
