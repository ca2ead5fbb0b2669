// Package redis is the SecureStore for sharing scopes that span processes.
// Every scope is one hash; any vault pointed at the same Redis with the same
// scope sees the same items, and other scopes never see them.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"trustkit/internal/vault/models"
	"trustkit/pkg/platform/sentinel"
)

const defaultPrefix = "trustkit:vault:"

type Store struct {
	client redis.Cmdable
	prefix string
}

type Option func(*Store)

// WithKeyPrefix changes the namespace of scope hashes.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func New(client redis.Cmdable, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	s := &Store{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Put(ctx context.Context, scope string, item *models.Item) error {
	if item == nil || item.Key == "" {
		return errors.New("put item: key is required")
	}
	b, err := models.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	if err := s.client.HSet(ctx, s.hashKey(scope), item.Key, b).Err(); err != nil {
		return fmt.Errorf("put item %q: %w", item.Key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, scope, key string) (*models.Item, error) {
	raw, err := s.client.HGet(ctx, s.hashKey(scope), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get item %q: %w", key, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item %q: %w", key, err)
	}
	var item models.Item
	if err := models.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode item %q: %w", key, err)
	}
	return &item, nil
}

func (s *Store) Delete(ctx context.Context, scope, key string) error {
	n, err := s.client.HDel(ctx, s.hashKey(scope), key).Result()
	if err != nil {
		return fmt.Errorf("delete item %q: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("delete item %q: %w", key, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, scope string) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.hashKey(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

func (s *Store) DeleteAll(ctx context.Context, scope string) (int, error) {
	key := s.hashKey(scope)
	var n *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		n = pipe.HLen(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete scope: %w", err)
	}
	return int(n.Val()), nil
}

func (s *Store) hashKey(scope string) string {
	if scope == "" {
		scope = "_default"
	}
	return s.prefix + scope
}
