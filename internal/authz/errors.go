package authz

import "errors"

var (
	// ErrAuthentication covers every token-layer failure: missing,
	// malformed, expired, wrong-kind, forged, or revoked bearer. The
	// sub-cause is never exposed to the caller.
	ErrAuthentication = errors.New("authz: authentication failed")

	// ErrPrincipalNotFound means the subject claim does not resolve to
	// a live account. Treated as denial, logged distinctly from an
	// ordinary policy denial for security monitoring.
	ErrPrincipalNotFound = errors.New("authz: principal not found")

	// ErrStoreUnavailable means a principal or resource lookup failed
	// for reasons other than absence. It is fatal to the request: with
	// the subject's attributes unknown it is ambiguous whether access
	// would have been allowed, so the pipeline refuses to guess.
	ErrStoreUnavailable = errors.New("authz: backing store unavailable")
)
