package domain

import "errors"

// Error kinds. None of them reach the host as a failure; each is recovered
// locally by allowing the request or passing the body through unmodified.
var (
	// ErrMalformedInput marks an unparsable URL or response body.
	ErrMalformedInput = errors.New("malformed input")
	// ErrPersistenceFailure marks a failed whitelist write; in-memory state stays authoritative.
	ErrPersistenceFailure = errors.New("persistence failure")
	// ErrConfigurationMissing marks empty or absent rule lists at startup.
	ErrConfigurationMissing = errors.New("configuration missing")
	// ErrInvalidDomain marks whitelist input that does not contain a hostname.
	ErrInvalidDomain = errors.New("invalid domain")
)
