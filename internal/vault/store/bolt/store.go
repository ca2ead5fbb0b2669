// Package bolt is the durable single-host SecureStore. Each scope is a bucket
// and items are CBOR encoded.
package bolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"trustkit/internal/vault/models"
	"trustkit/pkg/platform/sentinel"
)

const defaultScopeBucket = "_default"

type Store struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the database file at path with 0600
// permissions.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open vault db: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already open database.
func New(db *bbolt.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, scope string, item *models.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if item == nil || item.Key == "" {
		return errors.New("put item: key is required")
	}
	b, err := models.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName(scope))
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		if err := bucket.Put([]byte(item.Key), b); err != nil {
			return fmt.Errorf("put item %q: %w", item.Key, err)
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, scope, key string) (*models.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var item models.Item
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName(scope))
		if bucket == nil {
			return fmt.Errorf("get item %q: %w", key, sentinel.ErrNotFound)
		}
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return fmt.Errorf("get item %q: %w", key, sentinel.ErrNotFound)
		}
		// bolt memory is only valid inside the transaction.
		if err := models.Unmarshal(bytes.Clone(raw), &item); err != nil {
			return fmt.Errorf("decode item %q: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) Delete(ctx context.Context, scope, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName(scope))
		if bucket == nil || bucket.Get([]byte(key)) == nil {
			return fmt.Errorf("delete item %q: %w", key, sentinel.ErrNotFound)
		}
		return bucket.Delete([]byte(key))
	})
}

func (s *Store) Keys(ctx context.Context, scope string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName(scope))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

func (s *Store) DeleteAll(ctx context.Context, scope string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		name := bucketName(scope)
		bucket := tx.Bucket(name)
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			n++
		}
		return tx.DeleteBucket(name)
	})
	if err != nil {
		return 0, fmt.Errorf("delete scope: %w", err)
	}
	return n, nil
}

func bucketName(scope string) []byte {
	if scope == "" {
		return []byte(defaultScopeBucket)
	}
	return []byte("scope:" + scope)
}
