package auth

import (
	"errors"
	"fmt"
)

var (
	ErrCodeTimeout         = errors.New("confirmation code not received in time")
	ErrCodeAlreadySupplied = errors.New("confirmation code already supplied for this run")
	ErrNoChallenge         = errors.New("no authentication in progress")
	ErrEmptyCode           = errors.New("confirmation code has no digits")
	ErrMissingCredentials  = errors.New("missing credentials")
)

// AuthError is a credential rejection or transport failure during authentication.
// It is fatal to the run; the dispatcher never starts.
type AuthError struct {
	Phone string
	Err   error
}

func (e *AuthError) Error() string {
	if e.Phone == "" {
		return fmt.Sprintf("auth: %v", e.Err)
	}
	return fmt.Sprintf("auth %s: %v", MaskPhone(e.Phone), e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }
