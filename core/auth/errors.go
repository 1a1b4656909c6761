package auth

import "errors"

// Policy rejections. Callers must not surface anything finer-grained than
// these to end users: wrong identifier and wrong password are deliberately
// indistinguishable, and every token verification failure collapses into a
// single kind.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountDeactivated  = errors.New("account deactivated")
	ErrAccountLocked       = errors.New("account locked")
	ErrInvalidToken        = errors.New("invalid token")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)
