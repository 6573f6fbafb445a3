package constants

import "errors"

// API and configuration errors.
var (
	ErrNoAPIEndpointConfigured = errors.New("no API endpoint configured, use 'pagectl config set api <url>' to set one")
	ErrInvalidJWTFormat        = errors.New("invalid JWT format")
	ErrNoExpirationClaim       = errors.New("no expiration claim found")
	ErrUnknownConfigKey        = errors.New("unknown configuration key")
)

// Validation errors.
var (
	ErrInvalidKeyValue = errors.New("expected key=value")
	ErrInvalidOutput   = errors.New("invalid output format")
	ErrRouteRequired   = errors.New("route is required")
	ErrInvalidCacheTTL = errors.New("cache TTL must not be negative")
	ErrInvalidInterval = errors.New("interval must be positive")
)

// File system errors.
var (
	ErrNotRegularFile = errors.New("path is not a regular file")
)
