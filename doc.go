// Package goTrust provides the identity trust core for authentication
// services: a Redis-backed token lifecycle store with sub-10ms revocation
// and enumeration-safe introspection, an encrypted-at-rest hardware
// credential store enforcing authenticator clone detection via monotonic
// signature counters, and an exact sliding-window rate limiter for auth
// endpoints.
//
// The package is designed for concurrent server workloads: Gateway methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// goTrust is the public surface. It exposes [Gateway], [Builder], [Config],
// and value types (MetricsSnapshot, AuditEvent, etc.) plus the three
// subsystem packages token, credential, and ratelimit. goTrust owns storage,
// lookup, and revocation primitives only; transport glue, OAuth2/OIDC
// ceremony flows, and WebAuthn attestation verification are external
// collaborators that consume this surface.
//
// # What this package must NOT do
//
//   - Expose Redis clients, database handles, or ciphertext layouts in its
//     public API beyond what Builder injection requires.
//   - Retry internally on store unavailability: retry/backoff policy differs
//     for a revocation (fail fast and alert) versus a read (may tolerate a
//     brief retry), so it belongs to the caller.
//   - Block on I/O inside the rate limiter; limiter checks are purely
//     in-memory.
//
// # Performance contract
//
// RevokeToken is the response path to compromise and must beat an
// attacker's exploitation window: every backing-store call it makes is
// bounded by Config.Token.OpTimeout, and its latency is observable through
// the revoke latency histogram in [Gateway.MetricsSnapshot].
package goTrust
