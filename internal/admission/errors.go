package admission

import "errors"

// Failures of an admission decision. Each one leaves persisted state as it was, except that
// a claim attempt which passed the rate limit stays recorded.
var (
	ErrUnauthenticated     = errors.New("sign in to continue")
	ErrForbidden           = errors.New("staff only")
	ErrRateLimited         = errors.New("too many claim attempts; try again later")
	ErrOffSite             = errors.New("you must be on-site")
	ErrLocationUnavailable = errors.New("unable to verify your location")
	ErrConflict            = errors.New("table no longer available")
	ErrStoreUnavailable    = errors.New("table service unavailable")
	ErrValidation          = errors.New("invalid request")
	ErrNotFound            = errors.New("table not found")
)
