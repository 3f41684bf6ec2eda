package models

import (
	"errors"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound   = errors.New("resource not found")
	ErrConflict   = errors.New("resource already exists")
	ErrBadRequest = errors.New("bad request")

	// Authentication outcomes. Terminal for the current attempt; callers must not
	// learn which factor failed from them.
	ErrInvalidToken       = errors.New("invalid token")
	ErrRateLimited        = errors.New("too many attempts")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Registration outcomes
	ErrDuplicateUser      = errors.New("username already registered for sponsor")
	ErrSponsorNotResolved = errors.New("sponsor could not be resolved")
	ErrWeakPassword       = errors.New("invalid password")

	// Infrastructure failure from a repository; retryable by the caller.
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)

// ThrottledError carries how long the caller should wait before retrying.
// It wraps ErrRateLimited or ErrAccountLocked.
type ThrottledError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return e.Err.Error()
}

func (e *ThrottledError) Unwrap() error {
	return e.Err
}

// RetryAfter extracts the wait hint from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var throttled *ThrottledError
	if errors.As(err, &throttled) && throttled.RetryAfter > 0 {
		return throttled.RetryAfter, true
	}
	return 0, false
}
