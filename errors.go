package goTrust

import "errors"

var (
	// ErrGatewayNotReady is returned when a Gateway method is called on a
	// nil or unbuilt instance.
	ErrGatewayNotReady = errors.New("gateway not initialized")
	// ErrValidation marks malformed input, rejected before any write.
	ErrValidation = errors.New("invalid input")
	// ErrStoreUnavailable marks backing-store connectivity or timeout
	// failures, always distinct from not-found.
	ErrStoreUnavailable = errors.New("backing store unavailable")
	// ErrDuplicateCredential marks an attempt to register an existing
	// credential id.
	ErrDuplicateCredential = errors.New("credential already exists")
	// ErrCredentialNotFound marks a mutation against a missing credential.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrCounterRegression marks a signature counter that failed to advance.
	// Treat as a possible authenticator cloning incident.
	ErrCounterRegression = errors.New("signature counter regression")
	// ErrIntegrity marks an AEAD authentication failure on stored
	// ciphertext. Treat as tamper or corruption.
	ErrIntegrity = errors.New("stored ciphertext failed integrity check")
	// ErrLastCredential marks a delete that would drop a subject below the
	// configured credential floor.
	ErrLastCredential = errors.New("subject must retain at least the configured minimum of credentials")
	// ErrDenyListed marks a rate-limit key rejected unconditionally by the
	// deny list.
	ErrDenyListed = errors.New("key is deny-listed")
)
