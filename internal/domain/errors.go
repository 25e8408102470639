package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrNoActiveCredential  = errors.New("no active credential")
	ErrProviderFailure     = errors.New("provider failure")
	ErrDuplicateTransNo    = errors.New("duplicate transaction number")
)

// InsufficientCreditsError carries the balance figures a client needs
// to offer a top-up path. It unwraps to ErrInsufficientCredits.
type InsufficientCreditsError struct {
	Current  int
	Required int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: have %d, need %d", e.Current, e.Required)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }
