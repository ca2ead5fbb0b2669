package models

import (
	"errors"
	"fmt"
	"time"
)

// Failure kinds. Match them with errors.Is against a *Failure.
var (
	ErrUserCancelled         = errors.New("authentication cancelled")
	ErrFailed                = errors.New("authentication failed")
	ErrBiometryNotAvailable  = errors.New("biometry not available")
	ErrBiometryNotEnrolled   = errors.New("biometry not enrolled")
	ErrLockout               = errors.New("authentication locked out")
	ErrInProgress            = errors.New("authentication already in progress")
	ErrPasswordNotConfigured = errors.New("fallback password not configured")
)

// Failure is returned by every unsuccessful authentication. Detail never
// carries sensor data.
type Failure struct {
	Kind       error
	Detail     string
	RetryAfter time.Duration
}

func (f *Failure) Error() string {
	msg := f.Kind.Error()
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	if f.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", f.RetryAfter.Round(time.Second))
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Kind
}

func NewFailure(kind error, detail string) *Failure {
	return &Failure{Kind: kind, Detail: detail}
}
