// Package listener holds the callbacks invoked once per delivered stream
// entry or pub/sub message.
package listener

import (
	"context"

	"github.com/haze518/redis-sandbox/internal/errs"
	"github.com/haze518/redis-sandbox/internal/types"
	"go.uber.org/zap"
)

// Handler is invoked once per delivered stream entry. A returned error
// leaves the entry unacknowledged.
type Handler interface {
	OnMessage(ctx context.Context, entry types.Entry) error
}

type HandlerFunc func(ctx context.Context, entry types.Entry) error

func (f HandlerFunc) OnMessage(ctx context.Context, entry types.Entry) error {
	return f(ctx, entry)
}

// NewLogHandler returns a handler that logs every entry as received.
func NewLogHandler(logger *zap.Logger) Handler {
	return HandlerFunc(func(_ context.Context, entry types.Entry) error {
		logger.Info("receive entry", zap.String("id", entry.ID), zap.Any("fields", entry.Fields))
		return nil
	})
}

// NewOrderHandler returns a handler that decodes each entry into an Order,
// logs it and passes it to next when next is not nil.
func NewOrderHandler(logger *zap.Logger, next func(context.Context, types.Order) error) Handler {
	return HandlerFunc(func(ctx context.Context, entry types.Entry) error {
		order, err := types.DecodeOrder(entry.Fields)
		if err != nil {
			return errs.Malformed("types.DecodeOrder", err)
		}
		logger.Info("receive order", zap.String("id", entry.ID), zap.Stringer("order", order))
		if next == nil {
			return nil
		}
		return next(ctx, order)
	})
}
