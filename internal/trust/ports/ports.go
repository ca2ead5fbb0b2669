package ports

import (
	"context"

	"trustkit/internal/trust/models"
)

// PinStore persists the pin table so rotations survive restarts.
type PinStore interface {
	LoadPins(ctx context.Context) ([]models.PinnedHost, error)
	SavePins(ctx context.Context, pins []models.PinnedHost) error
}
