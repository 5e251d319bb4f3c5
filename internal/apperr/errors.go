package apperr

import "errors"

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrTenantUnresolved     = errors.New("tenant unresolved")
	ErrNotFound             = errors.New("not found")
	ErrNotAuthorized        = errors.New("not authorized")
	ErrDecryptionFailed     = errors.New("decryption failed")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
)
