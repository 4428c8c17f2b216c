package workers

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/haze518/redis-sandbox/internal/broker"
	"github.com/haze518/redis-sandbox/internal/listener"
	"github.com/haze518/redis-sandbox/internal/metrics"
	"github.com/haze518/redis-sandbox/internal/types"
	"go.uber.org/zap"
)

// Redistributor is a background worker that periodically checks for inactive
// consumers, claims the entries left pending on them and handles those
// entries as its own.
type Redistributor struct {
	settings   Settings      // run interval, call deadline and claim batch size
	target     Target        // claims are assigned to target.Consumer
	done       chan struct{} // closed by Shutdown
	logger     *zap.Logger
	broker     broker.Broker
	dispatcher *dispatcher
}

// NewRedistributor creates a Redistributor that claims entries on behalf of
// target.Consumer.
func NewRedistributor(b broker.Broker, target Target, settings Settings, handler listener.Handler, ackCh chan<- []string, logger *zap.Logger, m *metrics.Metrics) *Redistributor {
	return &Redistributor{
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

// Start runs a claim pass every interval until Shutdown is called.
func (r *Redistributor) Start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		timer := time.NewTimer(r.settings.Interval)
		for {
			select {
			case <-r.done:
				timer.Stop()
				r.logger.Info("redistributor done")
				return

			case <-timer.C:
				if err := r.exec(); err != nil {
					r.logger.Error("redistribution failed", zap.Error(err))
				}
				timer.Reset(r.settings.Interval)
			}
		}
	}()
}

// Shutdown signals the Redistributor to stop by closing the done channel.
func (r *Redistributor) Shutdown() {
	close(r.done)
}

// exec claims entries from one inactive consumer per run. Inactive consumers
// are visited in random order to spread the work between live consumers.
func (r *Redistributor) exec() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.settings.OpTimeout)
	defer cancel()

	consumers, err := r.listInactive(ctx)
	if err != nil {
		return fmt.Errorf("r.listInactive: %w", err)
	}
	if len(consumers) == 0 {
		return nil
	}

	rand.Shuffle(len(consumers), func(i, j int) {
		consumers[i], consumers[j] = consumers[j], consumers[i]
	})

	for _, from := range consumers {
		entries, err := r.broker.ClaimFrom(ctx, r.target.Stream, r.target.Group, from, r.target.Consumer, r.settings.BatchSize)
		if err != nil {
			return fmt.Errorf("broker.ClaimFrom: %w", err)
		}
		if len(entries) > 0 {
			r.logger.Info("claimed entries", zap.Int("count", len(entries)), zap.String("from", from))
			r.dispatcher.dispatch(ctx, entries, r.done)
			return nil
		}
	}
	return nil
}

func (r *Redistributor) listInactive(ctx context.Context) ([]string, error) {
	consumers, err := r.broker.ListConsumers(ctx)
	if err != nil {
		return nil, fmt.Errorf("broker.ListConsumers: %w", err)
	}

	inactive := make([]string, 0, len(consumers))
	for name, state := range consumers {
		if state == types.ConsumerStateInactive && name != r.target.Consumer {
			inactive = append(inactive, name)
		}
	}
	return inactive, nil
}
