// Package identity resolves signed session tokens into caller identities.
//
// A token carries its claims (subject, role, display name, expiry) in the
// token itself, signed with HMAC-SHA256, so resolution needs no database
// lookup. Claims are never cached beyond a single Resolve call: a role
// change in the identity store takes effect on the caller's next token.
package identity
