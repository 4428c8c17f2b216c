package workers

import (
	"context"
	"sync"
	"time"

	"github.com/haze518/redis-sandbox/internal/broker"
	"github.com/haze518/redis-sandbox/internal/listener"
	"github.com/haze518/redis-sandbox/internal/metrics"
	"github.com/haze518/redis-sandbox/internal/types"
	"go.uber.org/zap"
)

// Consumer polls the broker for new entries of its group and hands each one
// to the handler. The group is created on the first successful poll.
type Consumer struct {
	settings   Settings      // poll interval, call deadline and read count
	target     Target        // stream, group and consumer name to read as
	done       chan struct{} // closed by Shutdown
	logger     *zap.Logger
	broker     broker.Broker
	dispatcher *dispatcher // hands entries to the handler and the acker
}

// NewConsumer creates a Consumer for target. Handled entry IDs are sent to
// ackCh; a nil ackCh leaves them pending.
func NewConsumer(b broker.Broker, target Target, settings Settings, handler listener.Handler, ackCh chan<- []string, logger *zap.Logger, m *metrics.Metrics) *Consumer {
	return &Consumer{
		settings: settings,
		target:   target,
		done:     make(chan struct{}),
		logger:   logger,
		broker:   b,
		dispatcher: &dispatcher{
			handler: handler,
			ackCh:   ackCh,
			logger:  logger,
			metrics: m,
			stream:  target.Stream,
		},
	}
}

// Start begins polling at the configured interval until Shutdown is called.
func (c *Consumer) Start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.settings.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				c.logger.Info("consumer done", zap.String("consumer", c.target.Consumer))
				return
			case <-ticker.C:
				c.poll()
			}
		}
	}()
}

func (c *Consumer) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), c.settings.OpTimeout)
	defer cancel()

	if c.broker.GroupState(c.target.Stream, c.target.Group) != types.GroupStateReady {
		if err := c.broker.EnsureGroup(ctx, c.target.Stream, c.target.Group); err != nil {
			c.logger.Error("could not ensure consumer group", zap.String("group", c.target.Group), zap.Error(err))
			return
		}
	}

	entries, err := c.broker.ReadNew(ctx, c.target.Stream, c.target.Group, c.target.Consumer, c.settings.BatchSize)
	if err != nil {
		c.logger.Error("could not read entries", zap.String("stream", c.target.Stream), zap.Error(err))
		return
	}
	if len(entries) > 0 {
		c.logger.Debug("consumed entries", zap.Int("count", len(entries)))
	}
	c.dispatcher.dispatch(ctx, entries, c.done)
}

// Shutdown signals the Consumer to stop by closing the done channel.
func (c *Consumer) Shutdown() {
	close(c.done)
}
