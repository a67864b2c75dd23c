package flow

import (
	"errors"
	"fmt"
)

var (
	ErrAuthFailed        = errors.New("authentication failed")
	ErrAmbiguousLogin    = errors.New("login state ambiguous")
	ErrStrategyExhausted = errors.New("no selection strategy succeeded")
)

// AuthError ends a batch before any item is processed.
type AuthError struct {
	Attempts int
	Reason   string
	cause    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed after %d attempts: %s", e.Attempts, e.Reason)
}

func (e *AuthError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrAuthFailed}
	}
	return []error{ErrAuthFailed, e.cause}
}
