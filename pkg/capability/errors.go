package capability

import "errors"

var (
	// ErrNotDelegatable is returned by Delegate when the parent token has
	// Delegatable=false.
	ErrNotDelegatable = errors.New("token is not delegatable")

	// ErrTokenExpired is returned by Delegate or Check when the relevant
	// token has passed its expiry.
	ErrTokenExpired = errors.New("token has expired")

	// ErrInsufficientPermissions is returned by Delegate when the requested
	// child permissions are not a subset of the parent's.
	ErrInsufficientPermissions = errors.New("requested permissions exceed parent token")

	// ErrInvalidSignature is returned (internally logged, not surfaced to
	// callers of Check) when a stored token's signature no longer verifies.
	ErrInvalidSignature = errors.New("token signature is invalid")
)
