//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"trustkit/internal/platform/config"
	platformRedis "trustkit/internal/platform/redis"
)

// RedisContainer is a throwaway Redis reached through the same client
// constructor the daemon uses, so URL parsing and pool options are covered.
type RedisContainer struct {
	URL    string
	Client *platformRedis.Client

	container *tcredis.RedisContainer
}

func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("redis connection string: %v", err)
	}

	client, err := platformRedis.New(ctx, config.RedisConfig{
		URL:         url,
		PoolSize:    4,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("connect redis: %v", err)
	}
	return &RedisContainer{URL: url, Client: client, container: container}
}

// FlushAll empties the instance between tests.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}

func (r *RedisContainer) Close() {
	_ = r.Client.Close()
	_ = r.container.Terminate(context.Background())
}
