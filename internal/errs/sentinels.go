// Package errs contains sentinel errors and the closed access/issuance error codes
// used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/service layers.
var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a create on a document key that is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict indicates a transaction aborted on a conflicting concurrent write.
	// The whole transaction wrote nothing and is safe to retry.
	ErrConflict = errors.New("transaction conflict")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidArgument indicates malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrThrottled indicates a write rejected by a rate limiter; retry later.
	ErrThrottled = errors.New("throttled")
)
