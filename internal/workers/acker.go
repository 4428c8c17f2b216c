package workers

import (
	"context"
	"sync"
	"time"

	"github.com/haze518/redis-sandbox/internal/broker"
	"github.com/haze518/redis-sandbox/internal/metrics"
	"go.uber.org/zap"
)

// Acker acknowledges batches of handled entry IDs received on a channel.
type Acker struct {
	target         Target           // stream and group the IDs belong to
	timeout        time.Duration    // per XACK call
	done           chan struct{}    // closed by Shutdown
	logger         *zap.Logger      // logger for ack failures
	metrics        *metrics.Metrics // counts acknowledged entries, may be nil
	broker         broker.Broker    // broker used to acknowledge
	collectedIDsCh <-chan []string  // batches sent by the stream workers
}

// NewAcker returns an Acker that listens on collectedIDsCh and acknowledges
// each batch via the provided broker.
func NewAcker(b broker.Broker, target Target, timeout time.Duration, collectedIDsCh <-chan []string, logger *zap.Logger, m *metrics.Metrics) *Acker {
	return &Acker{
		target:         target,
		timeout:        timeout,
		done:           make(chan struct{}),
		logger:         logger,
		metrics:        m,
		broker:         b,
		collectedIDsCh: collectedIDsCh,
	}
}

// Start acknowledges batches until Shutdown. Batches already queued when
// Shutdown is called are still acknowledged.
func (a *Acker) Start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case <-a.done:
				a.drain()
				a.logger.Info("acker done")
				return

			case ids := <-a.collectedIDsCh:
				a.ack(ids)
			}
		}
	}()
}

func (a *Acker) drain() {
	for {
		select {
		case ids := <-a.collectedIDsCh:
			a.ack(ids)
		default:
			return
		}
	}
}

func (a *Acker) ack(ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.broker.Ack(ctx, a.target.Stream, a.target.Group, ids...); err != nil {
		a.logger.Error("unable to ack handled entries", zap.Strings("ids", ids), zap.Error(err))
		return
	}
	a.metrics.Acked(a.target.Stream, len(ids))
}

// Shutdown signals the Acker to stop by closing the done channel.
func (a *Acker) Shutdown() {
	close(a.done)
}

// NewAckChannel returns the buffered channel that links stream workers to
// an Acker.
func NewAckChannel() chan []string {
	return make(chan []string, ackBuffer)
}

const ackBuffer = 16
