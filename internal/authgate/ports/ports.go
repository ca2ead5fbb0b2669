package ports

import (
	"context"
	"errors"

	"trustkit/internal/authgate/models"
)

// Errors a BiometricProvider returns from Evaluate. Any other error counts as
// a failed match.
var (
	ErrUserCancel   = errors.New("user cancelled evaluation")
	ErrNotAvailable = errors.New("biometry not available")
	ErrNotEnrolled  = errors.New("biometry not enrolled")
)

// EvaluationRequest asks the platform to prompt the user once.
type EvaluationRequest struct {
	Reason string
	Method models.Method
}

//go:generate mockgen -source=ports.go -destination=../mocks/mocks.go -package=mocks BiometricProvider

// BiometricProvider is the platform capability behind the gate. Evaluate
// blocks until the user answers or ctx is done.
type BiometricProvider interface {
	CheckAvailability(ctx context.Context) models.Availability
	BiometricType() models.BiometricType
	Evaluate(ctx context.Context, req EvaluationRequest) error
}
