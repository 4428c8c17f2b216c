package grpcserver

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/haze518/redis-sandbox/internal/broker"
	"github.com/haze518/redis-sandbox/internal/errs"
	"github.com/haze518/redis-sandbox/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ProductStore is the part of the product repository the API needs.
type ProductStore interface {
	Save(ctx context.Context, product types.Product) error
	FindByID(ctx context.Context, id string) (types.Product, bool, error)
}

// Server serves the sandbox gRPC API.
type Server struct {
	grpcServer *grpc.Server
	broker     broker.Broker
	products   ProductStore
	logger     *zap.Logger
}

var _ SandboxServer = (*Server)(nil)

// NewServer creates a Server publishing through b and storing products in
// products.
func NewServer(b broker.Broker, products ProductStore, logger *zap.Logger) *Server {
	s := &Server{
		grpcServer: grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(logger))),
		broker:     b,
		products:   products,
		logger:     logger,
	}
	RegisterSandboxServer(s.grpcServer, s)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

// Stop waits for in-flight calls and closes the listeners.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("took", time.Since(start)),
		}
		if err != nil {
			logger.Warn("rpc failed", append(fields, zap.Error(err))...)
			return resp, err
		}
		logger.Debug("rpc served", fields...)
		return resp, nil
	}
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, broker.ErrEmptyStream), errors.Is(err, broker.ErrEmptyGroup),
		errors.Is(err, broker.ErrEmptyConsumer), errors.Is(err, broker.ErrEmptyFields):
		return status.Error(codes.InvalidArgument, err.Error())
	}

	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case errs.KindMalformed:
		return status.Error(codes.InvalidArgument, err.Error())
	case errs.KindConnection:
		return status.Error(codes.Unavailable, err.Error())
	case errs.KindTimeout:
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errs.KindAlreadyExists:
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
