package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/haze518/redis-sandbox/internal/broker"
	"github.com/haze518/redis-sandbox/internal/grpcserver"
	"github.com/haze518/redis-sandbox/internal/listener"
	"github.com/haze518/redis-sandbox/internal/logging"
	"github.com/haze518/redis-sandbox/internal/metrics"
	"github.com/haze518/redis-sandbox/internal/repository"
	"github.com/haze518/redis-sandbox/internal/types"
	"github.com/haze518/redis-sandbox/internal/workers"
	"github.com/haze518/redis-sandbox/pkg/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const metricsNamespace = "sandbox"

// Option configures a Server.
type Option func(*ServerOptions)

// ServerOptions holds the dependencies a Server builds itself unless given.
type ServerOptions struct {
	logger         *zap.Logger             // built from Config.Logging when nil
	client         redis.UniversalClient   // opened from Config.RedisConfig when nil
	handler        listener.Handler        // order handler when nil
	messageHandler listener.MessageHandler // logging handler when nil
}

// WithLogger sets the logger instead of building one from the config.
func WithLogger(logger *zap.Logger) Option {
	return func(so *ServerOptions) {
		so.logger = logger
	}
}

// WithRedisClient shares an existing client. A shared client is not closed
// on Shutdown.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(so *ServerOptions) {
		so.client = client
	}
}

// WithHandler replaces the default order handler for stream entries.
func WithHandler(h listener.Handler) Option {
	return func(so *ServerOptions) {
		so.handler = h
	}
}

// WithMessageHandler replaces the default handler for pub/sub messages.
func WithMessageHandler(h listener.MessageHandler) Option {
	return func(so *ServerOptions) {
		so.messageHandler = h
	}
}

// Server wires the repository, the stream workers, the pub/sub listener and
// the gRPC and HTTP endpoints around a single Redis client.
type Server struct {
	config     config.Config
	logger     *zap.Logger
	client     redis.UniversalClient
	ownsClient bool

	broker         *broker.RedisBroker
	products       *repository.Repository[types.Product]
	subscriber     *listener.Subscriber
	messageHandler listener.MessageHandler
	subscription   *listener.Subscription

	grpcServer *grpcserver.Server
	httpSrv    *http.Server
	grpcLis    net.Listener
	httpLis    net.Listener

	ctx    context.Context
	cancel context.CancelFunc

	wg            sync.WaitGroup
	ackWg         sync.WaitGroup
	consumer      *workers.Consumer
	heartbeater   *workers.Heartbeater
	redistributor *workers.Redistributor
	acker         *workers.Acker
}

// NewServer creates a Server from config. Nothing is started until Start.
func NewServer(cfg config.Config, opts ...Option) (*Server, error) {
	var srvOpt ServerOptions
	for _, o := range opts {
		o(&srvOpt)
	}

	if srvOpt.logger == nil {
		logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return nil, fmt.Errorf("logging.New: %w", err)
		}
		srvOpt.logger = logger
	}
	ownsClient := srvOpt.client == nil
	if ownsClient {
		srvOpt.client = broker.NewClient(cfg.RedisConfig)
	}
	if srvOpt.handler == nil {
		srvOpt.handler = listener.NewOrderHandler(srvOpt.logger, nil)
	}
	if srvOpt.messageHandler == nil {
		srvOpt.messageHandler = listener.NewLogMessageHandler(srvOpt.logger)
	}

	m := metrics.New(metricsNamespace)
	b := broker.NewRedisBroker(srvOpt.client, cfg.RedisConfig, srvOpt.logger, m)
	products := repository.New[types.Product](srvOpt.client, cfg.Repository.ProductPrefix, srvOpt.logger, m)

	target := workers.Target{
		Stream:   cfg.RedisConfig.StreamName,
		Group:    cfg.RedisConfig.ConsumerGroup,
		Consumer: cfg.RedisConfig.ConsumerID,
	}
	consumerSettings, redistributorSettings := workerSettings(cfg)

	var (
		ackCh chan []string
		acker *workers.Acker
	)
	if cfg.Worker.AutoAck {
		ackCh = workers.NewAckChannel()
		acker = workers.NewAcker(b, target, cfg.Worker.OpTimeout, ackCh, srvOpt.logger, m)
	}

	ctx, cancel := context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &Server{
		config:         cfg,
		logger:         srvOpt.logger,
		client:         srvOpt.client,
		ownsClient:     ownsClient,
		broker:         b,
		products:       products,
		subscriber:     listener.NewSubscriber(srvOpt.client, srvOpt.logger, m),
		messageHandler: srvOpt.messageHandler,
		grpcServer:     grpcserver.NewServer(b, products, srvOpt.logger),
		httpSrv:        &http.Server{Handler: mux},
		ctx:            ctx,
		cancel:         cancel,
		consumer:       workers.NewConsumer(b, target, consumerSettings, srvOpt.handler, ackCh, srvOpt.logger, m),
		heartbeater: workers.NewHeartbeater(
			b, target.Consumer, cfg.Worker.HeartbeatInterval, cfg.Worker.HeartbeatTTL, cfg.Worker.OpTimeout, srvOpt.logger,
		),
		redistributor: workers.NewRedistributor(b, target, redistributorSettings, srvOpt.handler, ackCh, srvOpt.logger, m),
		acker:         acker,
	}, nil
}

// workerSettings derives the polling parameters of the stream workers. The
// consumer reads up to RedisConfig.ReadCount new entries per poll; the
// redistributor claims up to Worker.BatchSize entries per run.
func workerSettings(cfg config.Config) (consumer, redistributor workers.Settings) {
	consumer = workers.Settings{
		Interval:  cfg.Worker.ConsumerInterval,
		OpTimeout: cfg.Worker.OpTimeout,
		BatchSize: cfg.RedisConfig.ReadCount,
	}
	redistributor = workers.Settings{
		Interval:  cfg.Worker.RedistributorInterval,
		OpTimeout: cfg.Worker.OpTimeout,
		BatchSize: int64(cfg.Worker.BatchSize),
	}
	return consumer, redistributor
}

// Start opens the listeners, subscribes to the configured channels and
// launches the background workers.
func (s *Server) Start() error {
	var err error
	s.grpcLis, err = net.Listen("tcp", s.config.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	s.httpLis, err = net.Listen("tcp", s.config.HTTPAddr)
	if err != nil {
		_ = s.grpcLis.Close()
		return fmt.Errorf("http listen: %w", err)
	}

	if len(s.config.Notifications.Channels) > 0 {
		s.subscription, err = s.subscriber.Subscribe(s.ctx, s.messageHandler, s.config.Notifications.Channels...)
		if err != nil {
			_ = s.grpcLis.Close()
			_ = s.httpLis.Close()
			return fmt.Errorf("subscriber.Subscribe: %w", err)
		}
	}

	go func() {
		if err := s.grpcServer.Serve(s.grpcLis); err != nil {
			s.logger.Error("grpc server stopped", zap.Error(err))
		}
	}()

	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpLis.Addr().String()))
		if err := s.httpSrv.Serve(s.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()

	s.heartbeater.Start(&s.wg)
	s.consumer.Start(&s.wg)
	s.redistributor.Start(&s.wg)
	if s.acker != nil {
		s.acker.Start(&s.ackWg)
	}

	return nil
}

// GRPCAddr is the address the gRPC server listens on once started.
func (s *Server) GRPCAddr() string {
	if s.grpcLis == nil {
		return s.config.GRPCAddr
	}
	return s.grpcLis.Addr().String()
}

// HTTPAddr is the address of the metrics endpoint once started.
func (s *Server) HTTPAddr() string {
	if s.httpLis == nil {
		return s.config.HTTPAddr
	}
	return s.httpLis.Addr().String()
}

// Products returns the product repository.
func (s *Server) Products() *repository.Repository[types.Product] {
	return s.products
}

// Broker returns the stream broker.
func (s *Server) Broker() *broker.RedisBroker {
	return s.broker
}

// Subscriber returns the pub/sub subscriber used for notifications.
func (s *Server) Subscriber() *listener.Subscriber {
	return s.subscriber
}

// Shutdown stops the endpoints and the workers. Entries handled before the
// workers stopped are acknowledged before Shutdown returns.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Worker.ShutdownTimeout)
	defer cancel()

	s.grpcServer.Stop()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown", zap.Error(err))
	}

	if s.subscription != nil {
		if err := s.subscription.Close(); err != nil {
			s.logger.Warn("subscription close", zap.Error(err))
		}
	}

	s.redistributor.Shutdown()
	s.consumer.Shutdown()
	s.heartbeater.Shutdown()
	s.wg.Wait()

	if s.acker != nil {
		s.acker.Shutdown()
		s.ackWg.Wait()
	}
	s.cancel()

	if s.ownsClient {
		if err := s.client.Close(); err != nil {
			s.logger.Warn("redis client close", zap.Error(err))
		}
	}
	_ = s.logger.Sync()
}
