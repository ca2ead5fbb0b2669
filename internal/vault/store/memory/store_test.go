package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustkit/internal/vault/models"
	"trustkit/pkg/platform/sentinel"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Put(ctx, "scope", &models.Item{Key: "b", Value: []byte("2")}))
	require.NoError(t, s.Put(ctx, "scope", &models.Item{Key: "a", Value: []byte("1")}))

	t.Run("returned items are copies", func(t *testing.T) {
		got, err := s.Get(ctx, "scope", "a")
		require.NoError(t, err)
		got.Value[0] = 'X'

		again, err := s.Get(ctx, "scope", "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), again.Value)
	})

	t.Run("keys are sorted", func(t *testing.T) {
		keys, err := s.Keys(ctx, "scope")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, keys)
	})

	t.Run("scopes are isolated", func(t *testing.T) {
		_, err := s.Get(ctx, "other", "a")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("delete and delete all", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "scope", "a"))
		assert.ErrorIs(t, s.Delete(ctx, "scope", "a"), sentinel.ErrNotFound)

		n, err := s.DeleteAll(ctx, "scope")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}
