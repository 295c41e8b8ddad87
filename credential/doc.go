// Package credential persists hardware-authenticator credentials encrypted
// at rest and enforces the clone-detection invariant: a credential's
// signature counter only ever moves forward.
//
// Public keys and AAGUIDs are sealed independently with an AEAD cipher, each
// under its own fresh random nonce. Rows carry the nonce and an opaque key
// id next to the ciphertext, so keys can be rotated and rows re-encrypted
// without a schema change. A failed AEAD open is surfaced as an integrity
// error (tampering or corruption), never as missing data and never as
// silently returned plaintext.
//
// UpdateSignCount serializes concurrent updates per credential inside a
// transaction; a counter that fails to advance is rejected without mutating
// state and reported as a distinct error, because overlapping counter values
// are the signature of a cloned authenticator.
package credential
