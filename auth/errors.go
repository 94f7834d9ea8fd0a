package auth

import (
	"errors"
	"fmt"
)

type (
	ValidationError struct {
		Field  string
		Reason string
	}
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateUser      = errors.New("a user with the same username or email already exists")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrForbidden          = errors.New("forbidden")
	ErrUserNotFound       = errors.New("user not found")

	ErrNotRegistered      = errors.New("biometric login is not enabled for this user")
	ErrNoPendingLogin     = errors.New("no biometric login in progress")
	ErrNoPendingCeremony  = errors.New("no biometric registration in progress")
	ErrChallengeExpired   = errors.New("challenge expired, start again")
	ErrCredentialRejected = errors.New("credential rejected")

	ErrVerification     = errors.New("unable to complete verification")
	ErrStoreUnavailable = errors.New("store unavailable")
)

func (v ValidationError) Error() string {
	if v.Field == "" {
		return v.Reason
	}
	return fmt.Sprintf("%v: %v", v.Field, v.Reason)
}

func storeError(err error) error {
	return fmt.Errorf("%w, cause %w", ErrStoreUnavailable, err)
}

func rejected(err error) error {
	return fmt.Errorf("%w, cause %w", ErrCredentialRejected, err)
}
