package adapters

import (
	"context"

	"trustkit/internal/authgate/models"
	"trustkit/internal/authgate/ports"
)

// Headless is the BiometricProvider for hosts with no sensor and no one to
// prompt, such as the trustd daemon. Every evaluation reports the hardware
// as unavailable, so gated vault tiers stay locked and only the custom
// fallback password can open the gate.
type Headless struct{}

func (Headless) CheckAvailability(context.Context) models.Availability {
	return models.NotAvailable
}

func (Headless) BiometricType() models.BiometricType {
	return models.BiometricNone
}

func (Headless) Evaluate(ctx context.Context, _ ports.EvaluationRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ports.ErrNotAvailable
}
