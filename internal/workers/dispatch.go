package workers

import (
	"context"
	"time"

	"github.com/haze518/redis-sandbox/internal/listener"
	"github.com/haze518/redis-sandbox/internal/metrics"
	"github.com/haze518/redis-sandbox/internal/types"
	"go.uber.org/zap"
)

// Target names the stream, group and consumer a worker acts for.
type Target struct {
	Stream   string
	Group    string
	Consumer string
}

// Settings are the polling parameters shared by the stream workers.
type Settings struct {
	Interval  time.Duration // time between runs
	OpTimeout time.Duration // deadline of each broker call
	BatchSize int64         // entries read or claimed per run, <= 0 for no limit
}

// dispatcher hands entries to the handler one by one and forwards the IDs
// of successfully handled entries to the acker.
type dispatcher struct {
	handler listener.Handler
	ackCh   chan<- []string // nil disables acknowledgement
	logger  *zap.Logger
	metrics *metrics.Metrics
	stream  string
}

func (d *dispatcher) dispatch(ctx context.Context, entries []types.Entry, done <-chan struct{}) {
	if len(entries) == 0 {
		return
	}

	handled := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := d.handler.OnMessage(ctx, entry); err != nil {
			d.metrics.HandlerFailed(d.stream)
			d.logger.Error("unable to handle entry", zap.String("id", entry.ID), zap.Error(err))
			continue
		}
		handled = append(handled, entry.ID)
	}

	if d.ackCh == nil || len(handled) == 0 {
		return
	}
	select {
	case d.ackCh <- handled:
	case <-done:
		d.logger.Warn("shutting down, entries left pending", zap.Strings("ids", handled))
	}
}
