package testutil

import (
	"time"

	"github.com/haze518/redis-sandbox/pkg/config"
)

func Config() config.Config {
	redis := config.RedisConfig{
		Addr:          "localhost:6379",
		Password:      "",
		DB:            0,
		PoolSize:      10,
		StreamName:    "test_stream",
		ConsumerGroup: "test_group",
		ConsumerID:    "test_consumer",
		GroupStartID:  "0",
		ReadCount:     100,
		ReadBlock:     -1,
	}
	logging := config.LoggingConfig{
		Level:  "debug",
		Format: "console",
	}
	interval := time.Millisecond * 10
	worker := config.WorkerConfig{
		HeartbeatInterval:     interval,
		HeartbeatTTL:          time.Minute,
		ConsumerInterval:      interval,
		RedistributorInterval: interval * 2,
		BatchSize:             100,
		OpTimeout:             time.Second,
		AutoAck:               true,
		ShutdownTimeout:       time.Second,
	}
	return config.Config{
		GRPCAddr:    "127.0.0.1:0",
		HTTPAddr:    "127.0.0.1:0",
		RedisConfig: redis,
		Logging:     logging,
		Worker:      worker,
		Repository: config.RepositoryConfig{
			ProductPrefix: "products",
		},
		Notifications: config.NotificationsConfig{
			Channels: []string{"test_channel"},
		},
	}
}
