package entity

import "errors"

// Store-level causes. Stores wrap them in apperror kinds so callers can
// match either the kind or the precise cause.
var (
	ErrDuplicateUser = errors.New("duplicate user")
	ErrInvalidUser   = errors.New("invalid user row")
)
