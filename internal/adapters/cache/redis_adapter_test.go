package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/clinicalcopilot/internal/adapters/cache"
	"github.com/zatekoja/clinicalcopilot/internal/domain/providers"
	redisclient "github.com/zatekoja/clinicalcopilot/internal/infrastructure/clients/redis"
)

// newTestRedis connects to REDIS_TEST_ADDR (default localhost:6379) and
// skips when nothing is listening
func newTestRedis(t *testing.T) *redisclient.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redisclient.NewClientFrom(goredis.NewClient(&goredis.Options{Addr: addr, DB: 15}))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisAdapter_RoundTrip(t *testing.T) {
	adapter := cache.NewRedisAdapter(newTestRedis(t))
	ctx := context.Background()
	key := providers.SessionSnapshotKey("cache-test")

	require.NoError(t, adapter.Set(ctx, key, []byte(`{"id":"cache-test"}`), 60))

	value, err := adapter.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"cache-test"}`, string(value))

	require.NoError(t, adapter.Delete(ctx, key))
	_, err = adapter.Get(ctx, key)
	assert.ErrorIs(t, err, providers.ErrCacheMiss)
}
