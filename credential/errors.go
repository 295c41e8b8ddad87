package credential

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed input, before any write.
	ErrValidation = errors.New("invalid credential input")

	// ErrDuplicateCredential is returned when storing an id that already
	// exists.
	ErrDuplicateCredential = errors.New("credential id already exists")

	// ErrNotFound is returned by mutations that target a missing row.
	// Lookups report a miss as a nil result instead.
	ErrNotFound = errors.New("credential not found")

	// ErrIntegrity is returned when an AEAD open fails or a row references
	// an unknown encryption key. Treat as tamper or corruption; retrying
	// against the same ciphertext cannot succeed.
	ErrIntegrity = errors.New("credential integrity failure")

	// ErrStoreUnavailable wraps connectivity failures against the backing
	// database, distinct from not-found.
	ErrStoreUnavailable = errors.New("credential store unavailable")

	// ErrCounterRegression is the sentinel matched by
	// [CounterRegressionError] via errors.Is.
	ErrCounterRegression = errors.New("signature counter regression")
)

// CounterRegressionError reports a sign-count update that failed to advance
// the stored counter. This is a security event, not a transient failure:
// overlapping counter values across uses indicate duplicated private key
// material, meaning a cloned authenticator.
type CounterRegressionError struct {
	CredentialID string
	Stored       uint32
	Provided     uint32
}

func (e *CounterRegressionError) Error() string {
	return fmt.Sprintf("signature counter regression on %s: stored %d, provided %d",
		e.CredentialID, e.Stored, e.Provided)
}

// Is lets errors.Is(err, ErrCounterRegression) match.
func (e *CounterRegressionError) Is(target error) bool {
	return target == ErrCounterRegression
}
