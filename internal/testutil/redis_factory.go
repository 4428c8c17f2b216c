package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/haze518/redis-sandbox/internal/broker"
	"github.com/haze518/redis-sandbox/pkg/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisFactory hands out brokers whose stream and group names are unique to
// the calling test.
type RedisFactory struct {
	client     redis.UniversalClient
	logger     *zap.Logger
	baseConfig config.RedisConfig
	prefix     string
}

func NewRedisFactory(t testing.TB, client redis.UniversalClient, logger *zap.Logger) *RedisFactory {
	prefix := fmt.Sprintf("test:%s:%d", t.Name(), time.Now().UnixNano())

	return &RedisFactory{
		client:     client,
		logger:     logger,
		baseConfig: Config().RedisConfig,
		prefix:     prefix,
	}
}

// Stream is the stream name shared by every broker of this factory.
func (f *RedisFactory) Stream() string {
	return f.prefix + ":stream"
}

// Group returns the prefixed form of a consumer group name.
func (f *RedisFactory) Group(name string) string {
	return fmt.Sprintf("%s:%s", f.prefix, name)
}

// NewBroker returns a broker on the shared client with the test config.
func (f *RedisFactory) NewBroker() *broker.RedisBroker {
	return broker.NewRedisBroker(f.client, f.baseConfig, f.logger, nil)
}
