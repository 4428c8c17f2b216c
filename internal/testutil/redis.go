package testutil

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// SetupRedis starts an in-process Redis and returns it with a connected
// client. Both are closed when the test finishes.
func SetupRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:     mr.Addr(),
		PoolSize: Config().RedisConfig.PoolSize,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("client.Ping: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return mr, client
}
