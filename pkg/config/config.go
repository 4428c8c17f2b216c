package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Option func(*Config)

// Config is the root configuration of the sandbox server.
type Config struct {
	GRPCAddr      string              `mapstructure:"grpc_addr"`
	HTTPAddr      string              `mapstructure:"http_addr"`
	RedisConfig   RedisConfig         `mapstructure:"redis"`
	Logging       LoggingConfig       `mapstructure:"log"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Repository    RepositoryConfig    `mapstructure:"repository"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

func NewConfig(opts ...Option) Config {
	config := newDefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

func WithGrpcAddr(addr string) Option {
	return func(c *Config) {
		c.GRPCAddr = addr
	}
}

func WithHttpAddr(addr string) Option {
	return func(c *Config) {
		c.HTTPAddr = addr
	}
}

func WithRedisConfig(config RedisConfig) Option {
	return func(c *Config) {
		c.RedisConfig = config
	}
}

func WithLoggingConfig(config LoggingConfig) Option {
	return func(c *Config) {
		c.Logging = config
	}
}

func WithWorkerConfig(config WorkerConfig) Option {
	return func(c *Config) {
		c.Worker = config
	}
}

func WithRepositoryConfig(config RepositoryConfig) Option {
	return func(c *Config) {
		c.Repository = config
	}
}

func WithNotificationsConfig(config NotificationsConfig) Option {
	return func(c *Config) {
		c.Notifications = config
	}
}

// Load reads config.yaml from path (or the working directory) and overrides
// it with SANDBOX_* environment variables. A missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.AddConfigPath(".")

	v.SetEnvPrefix("SANDBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("viper.ReadInConfig: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("viper.Unmarshal: %w", err)
	}
	return cfg, nil
}

// setDefaults mirrors newDefaultConfig so every key is known to viper and
// can be overridden from the environment.
func setDefaults(v *viper.Viper) {
	d := newDefaultConfig()

	v.SetDefault("grpc_addr", d.GRPCAddr)
	v.SetDefault("http_addr", d.HTTPAddr)

	v.SetDefault("redis.addr", d.RedisConfig.Addr)
	v.SetDefault("redis.password", d.RedisConfig.Password)
	v.SetDefault("redis.db", d.RedisConfig.DB)
	v.SetDefault("redis.pool_size", d.RedisConfig.PoolSize)
	v.SetDefault("redis.stream_name", d.RedisConfig.StreamName)
	v.SetDefault("redis.consumer_group", d.RedisConfig.ConsumerGroup)
	v.SetDefault("redis.consumer_id", d.RedisConfig.ConsumerID)
	v.SetDefault("redis.group_start_id", d.RedisConfig.GroupStartID)
	v.SetDefault("redis.read_count", d.RedisConfig.ReadCount)
	v.SetDefault("redis.read_block", d.RedisConfig.ReadBlock)
	v.SetDefault("redis.max_stream_len", d.RedisConfig.MaxStreamLen)

	v.SetDefault("log.level", d.Logging.Level)
	v.SetDefault("log.format", d.Logging.Format)

	v.SetDefault("worker.heartbeat_interval", d.Worker.HeartbeatInterval)
	v.SetDefault("worker.heartbeat_ttl", d.Worker.HeartbeatTTL)
	v.SetDefault("worker.consumer_interval", d.Worker.ConsumerInterval)
	v.SetDefault("worker.redistributor_interval", d.Worker.RedistributorInterval)
	v.SetDefault("worker.batch_size", d.Worker.BatchSize)
	v.SetDefault("worker.op_timeout", d.Worker.OpTimeout)
	v.SetDefault("worker.auto_ack", d.Worker.AutoAck)
	v.SetDefault("worker.shutdown_timeout", d.Worker.ShutdownTimeout)

	v.SetDefault("repository.product_prefix", d.Repository.ProductPrefix)

	v.SetDefault("notifications.channels", d.Notifications.Channels)
}

func newDefaultConfig() Config {
	redis := RedisConfig{
		Addr:          "localhost:6379",
		Password:      "",
		DB:            0,
		PoolSize:      10,
		StreamName:    "stream-1",
		ConsumerGroup: "sample-group",
		ConsumerID:    "sample-1",
		GroupStartID:  "$",
		ReadCount:     100,
		ReadBlock:     -1,
		MaxStreamLen:  0,
	}
	logging := LoggingConfig{
		Level:  "info",
		Format: "json",
	}
	interval := time.Second
	worker := WorkerConfig{
		HeartbeatInterval:     interval,
		HeartbeatTTL:          60 * time.Second,
		ConsumerInterval:      interval,
		RedistributorInterval: interval * 2,
		BatchSize:             100,
		OpTimeout:             5 * time.Second,
		AutoAck:               true,
		ShutdownTimeout:       5 * time.Second,
	}

	return Config{
		GRPCAddr:    "127.0.0.1:50051",
		HTTPAddr:    "127.0.0.1:8080",
		RedisConfig: redis,
		Logging:     logging,
		Worker:      worker,
		Repository: RepositoryConfig{
			ProductPrefix: "products",
		},
		Notifications: NotificationsConfig{
			Channels: []string{"my-channel"},
		},
	}
}

type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	PoolSize      int           `mapstructure:"pool_size"`
	StreamName    string        `mapstructure:"stream_name"`
	ConsumerGroup string        `mapstructure:"consumer_group"`
	ConsumerID    string        `mapstructure:"consumer_id"`
	GroupStartID  string        `mapstructure:"group_start_id"` // "$" joins at the tail, "0" replays the stream
	ReadCount     int64         `mapstructure:"read_count"`
	ReadBlock     time.Duration `mapstructure:"read_block"` // negative: never block
	MaxStreamLen  int64         `mapstructure:"max_stream_len"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

type WorkerConfig struct {
	HeartbeatInterval     time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTTL          time.Duration `mapstructure:"heartbeat_ttl"`
	ConsumerInterval      time.Duration `mapstructure:"consumer_interval"`
	RedistributorInterval time.Duration `mapstructure:"redistributor_interval"`
	BatchSize             int           `mapstructure:"batch_size"`
	OpTimeout             time.Duration `mapstructure:"op_timeout"`
	AutoAck               bool          `mapstructure:"auto_ack"`
	ShutdownTimeout       time.Duration `mapstructure:"shutdown_timeout"`
}

type RepositoryConfig struct {
	ProductPrefix string `mapstructure:"product_prefix"`
}

type NotificationsConfig struct {
	Channels []string `mapstructure:"channels"`
}
