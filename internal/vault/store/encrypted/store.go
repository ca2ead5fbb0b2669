// Package encrypted wraps a SecureStore so item values only ever reach it as
// sealed payloads. The scope and key are bound as associated data, so a
// value copied to another key or scope fails to open.
package encrypted

import (
	"context"
	"errors"
	"fmt"

	"trustkit/internal/encryption"
	"trustkit/internal/vault/models"
	"trustkit/internal/vault/ports"
)

// Cipher is the slice of encryption.Service the decorator needs.
type Cipher interface {
	EncryptWithAD(plaintext, ad []byte) (*encryption.Payload, error)
	DecryptWithAD(p *encryption.Payload, ad []byte) ([]byte, error)
}

type Store struct {
	inner  ports.SecureStore
	cipher Cipher
}

func New(inner ports.SecureStore, cipher Cipher) (*Store, error) {
	if inner == nil {
		return nil, errors.New("inner store is required")
	}
	if cipher == nil {
		return nil, errors.New("cipher is required")
	}
	return &Store{inner: inner, cipher: cipher}, nil
}

func (s *Store) Put(ctx context.Context, scope string, item *models.Item) error {
	if item == nil {
		return errors.New("put item: item is required")
	}
	p, err := s.cipher.EncryptWithAD(item.Value, associatedData(scope, item.Key))
	if err != nil {
		return fmt.Errorf("seal item %q: %w", item.Key, err)
	}
	sealed, err := p.Marshal()
	if err != nil {
		return fmt.Errorf("seal item %q: %w", item.Key, err)
	}
	c := *item
	c.Value = sealed
	return s.inner.Put(ctx, scope, &c)
}

func (s *Store) Get(ctx context.Context, scope, key string) (*models.Item, error) {
	item, err := s.inner.Get(ctx, scope, key)
	if err != nil {
		return nil, err
	}
	p, err := encryption.UnmarshalPayload(item.Value)
	if err != nil {
		return nil, fmt.Errorf("open item %q: %w", key, err)
	}
	plain, err := s.cipher.DecryptWithAD(p, associatedData(scope, key))
	if err != nil {
		return nil, fmt.Errorf("open item %q: %w", key, err)
	}
	item.Value = plain
	return item, nil
}

func (s *Store) Delete(ctx context.Context, scope, key string) error {
	return s.inner.Delete(ctx, scope, key)
}

func (s *Store) Keys(ctx context.Context, scope string) ([]string, error) {
	return s.inner.Keys(ctx, scope)
}

func (s *Store) DeleteAll(ctx context.Context, scope string) (int, error) {
	return s.inner.DeleteAll(ctx, scope)
}

func associatedData(scope, key string) []byte {
	ad := make([]byte, 0, len(scope)+len(key)+1)
	ad = append(ad, scope...)
	ad = append(ad, 0)
	return append(ad, key...)
}
