package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/haze518/redis-sandbox/internal/broker"
	"github.com/haze518/redis-sandbox/internal/listener"
	"github.com/haze518/redis-sandbox/internal/logging"
	"github.com/haze518/redis-sandbox/internal/repository"
	"github.com/haze518/redis-sandbox/internal/types"
	sandbox "github.com/haze518/redis-sandbox/pkg"
	"github.com/haze518/redis-sandbox/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "sandbox",
		Short:        "Redis streams, pub/sub and TTL repository sandbox",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", ".", "Directory containing config.yaml")

	rootCmd.AddCommand(newServeCmd(), newSeedCmd(), newNotifyCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the stream consumer, the listener and the gRPC/HTTP endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			srv, err := sandbox.NewServer(cfg, sandbox.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("sandbox.NewServer: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := srv.Start(); err != nil {
				return fmt.Errorf("server.Start: %w", err)
			}
			logger.Info("sandbox started",
				zap.String("grpc", srv.GRPCAddr()),
				zap.String("http", srv.HTTPAddr()),
			)

			<-ctx.Done()
			logger.Info("shutting down")
			srv.Shutdown()
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Append sample orders to the stream and save sample products",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			ttl, _ := cmd.Flags().GetInt64("ttl")
			if count <= 0 {
				return fmt.Errorf("invalid --count %d; must be positive", count)
			}

			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			client := broker.NewClient(cfg.RedisConfig)
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Worker.OpTimeout)
			defer cancel()

			batch := make([]map[string]interface{}, 0, count)
			products := repository.New[types.Product](client, cfg.Repository.ProductPrefix, logger, nil)
			for i := 1; i <= count; i++ {
				id := strconv.Itoa(i)
				order := types.Order{ID: id, Name: "order-" + id, Price: int64(i) * 1000, Quantity: 1}
				batch = append(batch, order.Fields())

				product := types.Product{ID: id, Name: "product-" + id, Price: int64(i) * 1000, TTL: ttl}
				if err := products.Save(ctx, product); err != nil {
					return fmt.Errorf("products.Save: %w", err)
				}
			}

			b := broker.NewRedisBroker(client, cfg.RedisConfig, logger, nil)
			ids, err := b.PublishBatch(ctx, cfg.RedisConfig.StreamName, batch)
			if err != nil {
				return fmt.Errorf("broker.PublishBatch: %w", err)
			}
			logger.Info("seeded",
				zap.String("stream", cfg.RedisConfig.StreamName),
				zap.Int("orders", len(ids)),
				zap.Int("products", count),
			)
			return nil
		},
	}
	cmd.Flags().Int("count", 10, "Number of orders and products to create")
	cmd.Flags().Int64("ttl", 0, "Product time-to-live in seconds (0 keeps them forever)")
	return cmd
}

func newNotifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify <channel> <message>",
		Short: "Publish a message on a pub/sub channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			client := broker.NewClient(cfg.RedisConfig)
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Worker.OpTimeout)
			defer cancel()

			n, err := listener.NewSubscriber(client, logger, nil).Publish(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("subscriber.Publish: %w", err)
			}
			logger.Info("published", zap.String("channel", args[0]), zap.Int64("receivers", n))
			return nil
		},
	}
}

func setup(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	dir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(dir)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config.Load: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logging.New: %w", err)
	}
	return cfg, logger, nil
}
