package token

import "errors"

var (
	// ErrValidation is returned for malformed input, always before any write
	// reaches the backing store.
	ErrValidation = errors.New("invalid token record")

	// ErrStoreUnavailable wraps connectivity and timeout failures against the
	// backing store. It is never conflated with a missing record: not-found
	// is a nil result, unavailability is this error.
	ErrStoreUnavailable = errors.New("token store unavailable")
)
