package domain

import "errors"

// Error taxonomy for the accounts service. Handlers map these onto HTTP
// status codes; anything unrecognized is treated as a store failure and
// surfaced as a generic server error.
var (
	ErrDuplicateEmail       = errors.New("email already registered")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrNotVerified          = errors.New("email not verified")
	ErrIncorrectPassword    = errors.New("incorrect password")
	ErrAlreadyVerified      = errors.New("account is already verified")
	ErrInvalidSession       = errors.New("invalid session")
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("unauthorized")
)
