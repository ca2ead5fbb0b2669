package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"trustkit/internal/vault/models"
	"trustkit/pkg/platform/sentinel"
)

// Store keeps items in process memory. It backs memory-only items and tests.
type Store struct {
	mu     sync.RWMutex
	scopes map[string]map[string]*models.Item
}

func New() *Store {
	return &Store{scopes: make(map[string]map[string]*models.Item)}
}

func (s *Store) Put(_ context.Context, scope string, item *models.Item) error {
	if item == nil || item.Key == "" {
		return fmt.Errorf("put item: key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items, ok := s.scopes[scope]
	if !ok {
		items = make(map[string]*models.Item)
		s.scopes[scope] = items
	}
	items[item.Key] = clone(item)
	return nil
}

func (s *Store) Get(_ context.Context, scope, key string) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.scopes[scope][key]
	if !ok {
		return nil, fmt.Errorf("get item %q: %w", key, sentinel.ErrNotFound)
	}
	return clone(item), nil
}

func (s *Store) Delete(_ context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.scopes[scope]
	if _, ok := items[key]; !ok {
		return fmt.Errorf("delete item %q: %w", key, sentinel.ErrNotFound)
	}
	delete(items, key)
	return nil
}

func (s *Store) Keys(_ context.Context, scope string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.scopes[scope]))
	for k := range s.scopes[scope] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) DeleteAll(_ context.Context, scope string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.scopes[scope])
	delete(s.scopes, scope)
	return n, nil
}

func clone(item *models.Item) *models.Item {
	c := *item
	c.Value = bytes.Clone(item.Value)
	return &c
}
