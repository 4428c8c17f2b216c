package listener

import (
	"context"
	"errors"
	"sync"

	"github.com/haze518/redis-sandbox/internal/errs"
	"github.com/haze518/redis-sandbox/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNoChannels is returned when subscribing without any channel or pattern.
var ErrNoChannels = errors.New("at least one channel is required")

// Message is a pub/sub notification. Pattern is empty for plain channel
// subscriptions.
type Message struct {
	Channel string
	Pattern string
	Payload string
}

// MessageHandler receives pub/sub messages on the subscription's goroutine,
// one at a time and in arrival order.
type MessageHandler interface {
	OnMessage(ctx context.Context, msg Message)
}

type MessageHandlerFunc func(ctx context.Context, msg Message)

func (f MessageHandlerFunc) OnMessage(ctx context.Context, msg Message) {
	f(ctx, msg)
}

// NewLogMessageHandler logs every received message payload.
func NewLogMessageHandler(logger *zap.Logger) MessageHandler {
	return MessageHandlerFunc(func(_ context.Context, msg Message) {
		logger.Info("receive message",
			zap.String("channel", msg.Channel),
			zap.String("pattern", msg.Pattern),
			zap.String("payload", msg.Payload),
		)
	})
}

// Subscriber publishes and subscribes to pub/sub channels. Delivery is
// at-most-once: messages published while no subscription is active are lost.
type Subscriber struct {
	client  redis.UniversalClient
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewSubscriber creates a Subscriber on a shared client. m may be nil.
func NewSubscriber(client redis.UniversalClient, logger *zap.Logger, m *metrics.Metrics) *Subscriber {
	return &Subscriber{
		client:  client,
		logger:  logger,
		metrics: m,
	}
}

// Publish sends payload to every current subscriber of channel and returns
// how many received it.
func (s *Subscriber) Publish(ctx context.Context, channel, payload string) (int64, error) {
	n, err := s.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, errs.Wrap("client.Publish", err)
	}
	return n, nil
}

// Subscribe registers h on channels. The subscription is confirmed by the
// server before Subscribe returns.
func (s *Subscriber) Subscribe(ctx context.Context, h MessageHandler, channels ...string) (*Subscription, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}
	return s.start(ctx, s.client.Subscribe(ctx, channels...), h)
}

// PSubscribe registers h on glob-style channel patterns.
func (s *Subscriber) PSubscribe(ctx context.Context, h MessageHandler, patterns ...string) (*Subscription, error) {
	if len(patterns) == 0 {
		return nil, ErrNoChannels
	}
	return s.start(ctx, s.client.PSubscribe(ctx, patterns...), h)
}

func (s *Subscriber) start(ctx context.Context, ps *redis.PubSub, h MessageHandler) (*Subscription, error) {
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errs.Wrap("pubsub.Receive", err)
	}

	sub := &Subscription{
		ps:   ps,
		done: make(chan struct{}),
	}
	ch := ps.Channel()

	go func() {
		defer close(sub.done)
		for msg := range ch {
			s.metrics.Notified(msg.Channel)
			h.OnMessage(ctx, Message{
				Channel: msg.Channel,
				Pattern: msg.Pattern,
				Payload: msg.Payload,
			})
		}
		s.logger.Debug("subscription closed")
	}()

	return sub, nil
}

// Subscription is an active registration of a MessageHandler.
type Subscription struct {
	ps   *redis.PubSub
	done chan struct{}
	once sync.Once
	err  error
}

// Close unsubscribes and waits until the handler goroutine has returned.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.err = s.ps.Close()
		<-s.done
	})
	return s.err
}
