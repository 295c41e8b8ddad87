// Package token stores token metadata with TTL expiry and an independent
// revocation ledger, both in Redis.
//
// Token records and revocation records live under separate key prefixes so a
// revocation can outlive its token's TTL: even after the backing store has
// purged the token entry, the ledger still answers "was this revoked" for
// audit. Lookups treat the revocation check as authoritative: a revoked
// token reads as absent regardless of remaining TTL, with no stale-active
// window once Revoke returns.
//
// Introspection collapses expired, revoked, and never-issued tokens into the
// same inactive answer so callers cannot enumerate which it was.
package token
