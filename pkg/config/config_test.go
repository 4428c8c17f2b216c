package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigOptions(t *testing.T) {
	cfg := NewConfig(
		WithGrpcAddr("0.0.0.0:50051"),
		WithRepositoryConfig(RepositoryConfig{ProductPrefix: "items"}),
	)

	assert.Equal(t, "0.0.0.0:50051", cfg.GRPCAddr)
	assert.Equal(t, "items", cfg.Repository.ProductPrefix)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTPAddr)
	assert.Equal(t, "$", cfg.RedisConfig.GroupStartID)
	assert.Equal(t, time.Duration(-1), cfg.RedisConfig.ReadBlock)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, NewConfig(), cfg)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
redis:
  addr: redis:6380
  stream_name: orders
  read_block: 250ms
worker:
  batch_size: 10
log:
  level: debug
notifications:
  channels: [alerts, audit]
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o600))
	t.Setenv("SANDBOX_REDIS_CONSUMER_GROUP", "billing")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "redis:6380", cfg.RedisConfig.Addr)
	assert.Equal(t, "orders", cfg.RedisConfig.StreamName)
	assert.Equal(t, 250*time.Millisecond, cfg.RedisConfig.ReadBlock)
	assert.Equal(t, "billing", cfg.RedisConfig.ConsumerGroup)
	assert.Equal(t, 10, cfg.Worker.BatchSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"alerts", "audit"}, cfg.Notifications.Channels)
	assert.Equal(t, "sample-1", cfg.RedisConfig.ConsumerID)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("redis: [unterminated"), 0o600))

	_, err := Load(dir)
	assert.Error(t, err)
}
