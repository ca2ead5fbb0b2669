package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"trustkit/internal/trust/models"
	vaultModels "trustkit/internal/vault/models"
)

// PinsKey is the vault key holding the persisted pin table.
const PinsKey = "trust.pins"

// vaultStore is the slice of the vault service the pin store needs.
// Defined locally to avoid coupling trust to the vault service package.
type vaultStore interface {
	Store(ctx context.Context, key string, value []byte, opts vaultModels.StoreOptions) error
	Retrieve(ctx context.Context, key string) ([]byte, error)
}

// VaultPinStore keeps the pin table as one vault item so rotations survive
// restarts. Pin hashes are public, so the item needs no access control.
type VaultPinStore struct {
	vault vaultStore
}

func NewVaultPinStore(vault vaultStore) *VaultPinStore {
	return &VaultPinStore{vault: vault}
}

func (a *VaultPinStore) LoadPins(ctx context.Context) ([]models.PinnedHost, error) {
	raw, err := a.vault.Retrieve(ctx, PinsKey)
	if errors.Is(err, vaultModels.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pins []models.PinnedHost
	if err := json.Unmarshal(raw, &pins); err != nil {
		return nil, fmt.Errorf("decode pin table: %w", err)
	}
	return pins, nil
}

func (a *VaultPinStore) SavePins(ctx context.Context, pins []models.PinnedHost) error {
	raw, err := json.Marshal(pins)
	if err != nil {
		return fmt.Errorf("encode pin table: %w", err)
	}
	return a.vault.Store(ctx, PinsKey, raw, vaultModels.StoreOptions{AccessControl: vaultModels.AccessNone})
}
