package workers

import (
	"context"
	"sync"
	"time"

	"github.com/haze518/redis-sandbox/internal/broker"
	"github.com/haze518/redis-sandbox/internal/types"
	"go.uber.org/zap"
)

// Heartbeater keeps the consumer's state key alive while it runs and marks
// it inactive on shutdown so its pending entries can be redistributed.
type Heartbeater struct {
	consumer string
	interval time.Duration
	ttl      time.Duration
	timeout  time.Duration
	done     chan struct{}
	logger   *zap.Logger
	broker   broker.Broker
}

// NewHeartbeater creates a Heartbeater that refreshes the state of consumer
// every interval with the given ttl.
func NewHeartbeater(b broker.Broker, consumer string, interval, ttl, timeout time.Duration, logger *zap.Logger) *Heartbeater {
	return &Heartbeater{
		consumer: consumer,
		interval: interval,
		ttl:      ttl,
		timeout:  timeout,
		done:     make(chan struct{}),
		logger:   logger,
		broker:   b,
	}
}

// Start marks the consumer active right away and on every tick until
// Shutdown, then marks it inactive.
func (h *Heartbeater) Start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.beat(types.ConsumerStateActive)

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.done:
				h.beat(types.ConsumerStateInactive)
				h.logger.Info("heartbeater done", zap.String("consumer", h.consumer))
				return
			case <-ticker.C:
				h.beat(types.ConsumerStateActive)
			}
		}
	}()
}

func (h *Heartbeater) beat(state types.ConsumerState) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.broker.SetConsumerState(ctx, h.consumer, state, h.ttl); err != nil {
		h.logger.Error("failed to set consumer state", zap.Stringer("state", state), zap.Error(err))
	}
}

// Shutdown signals the Heartbeater to stop by closing the done channel.
func (h *Heartbeater) Shutdown() {
	close(h.done)
}
