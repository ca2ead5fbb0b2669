package ports

import (
	"context"

	"trustkit/internal/vault/models"
)

//go:generate mockgen -source=ports.go -destination=../mocks/mocks.go -package=mocks SecureStore,Gate

// SecureStore is the platform storage the vault sits on. Items are
// partitioned by scope; the same key in two scopes names two items.
// Get and Delete return sentinel.ErrNotFound (wrapped) for missing keys.
type SecureStore interface {
	Put(ctx context.Context, scope string, item *models.Item) error
	Get(ctx context.Context, scope, key string) (*models.Item, error)
	Delete(ctx context.Context, scope, key string) error
	Keys(ctx context.Context, scope string) ([]string, error)
	DeleteAll(ctx context.Context, scope string) (int, error)
}

// Gate answers whether a fresh authentication is needed before gated items
// can be read. authgate.Service implements it.
type Gate interface {
	IsAuthenticationRequired(ctx context.Context) bool
}

// Fingerprinter produces keyed digests for value comparison.
type Fingerprinter interface {
	Fingerprint(data []byte) string
}
