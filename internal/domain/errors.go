package domain

import "errors"

// Sentinel errors returned by ports and the manager. Callers match with
// errors.Is; adapters map them to transport status codes.
var (
	ErrJobNotFound        = errors.New("job not found")
	ErrInvalidURL         = errors.New("invalid URL")
	ErrInvalidState       = errors.New("invalid job state for operation")
	ErrTransport          = errors.New("transport error")
	ErrSecurityViolation  = errors.New("security violation")
	ErrUnsupportedArchive = errors.New("unsupported archive type")
)
