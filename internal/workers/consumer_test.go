package workers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/haze518/redis-sandbox/internal/broker"
	"github.com/haze518/redis-sandbox/internal/metrics"
	"github.com/haze518/redis-sandbox/internal/testutil"
	"github.com/haze518/redis-sandbox/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errFailed = errors.New("failed")

type recorder struct {
	mu      sync.Mutex
	entries []types.Entry
	fail    map[string]bool
}

func (r *recorder) OnMessage(_ context.Context, entry types.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[entry.Fields["id"]] {
		return errFailed
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func testSettings() Settings {
	cfg := testutil.Config().Worker
	return Settings{
		Interval:  cfg.ConsumerInterval,
		OpTimeout: cfg.OpTimeout,
		BatchSize: int64(cfg.BatchSize),
	}
}

// pendingCount is polled from require.Eventually, so it reports failures as -1
// instead of failing the test from another goroutine.
func pendingCount(t *testing.T, client redis.UniversalClient, target Target) int64 {
	t.Helper()
	pending, err := client.XPending(context.Background(), target.Stream, target.Group).Result()
	if err != nil {
		t.Logf("client.XPending: %v", err)
		return -1
	}
	return pending.Count
}

func TestConsumer(t *testing.T) {
	ctx := context.Background()
	_, client := testutil.SetupRedis(t)
	logger := zaptest.NewLogger(t)
	factory := testutil.NewRedisFactory(t, client, logger)
	b := factory.NewBroker()
	target := Target{Stream: factory.Stream(), Group: factory.Group("orders"), Consumer: "srv"}

	rec := &recorder{fail: map[string]bool{"o-2": true}}
	ackCh := NewAckChannel()
	var wg sync.WaitGroup
	consumer := NewConsumer(b, target, testSettings(), rec, ackCh, logger, metrics.New("test"))
	acker := NewAcker(b, target, time.Second, ackCh, logger, nil)
	consumer.Start(&wg)
	acker.Start(&wg)

	require.Eventually(t, func() bool {
		return b.GroupState(target.Stream, target.Group) == types.GroupStateReady
	}, 2*time.Second, 10*time.Millisecond)

	for _, id := range []string{"o-1", "o-2", "o-3"} {
		order := types.Order{ID: id, Name: "Indomie", Price: 2_500, Quantity: 1}
		_, err := b.Publish(ctx, target.Stream, order.Fields())
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return rec.len() == 2 }, 2*time.Second, 10*time.Millisecond)
	// the failed entry stays pending, the handled ones are acknowledged
	require.Eventually(t, func() bool { return pendingCount(t, client, target) == 1 }, 2*time.Second, 10*time.Millisecond)

	consumer.Shutdown()
	acker.Shutdown()
	wg.Wait()
}

func TestConsumerWithoutAck(t *testing.T) {
	ctx := context.Background()
	_, client := testutil.SetupRedis(t)
	logger := zaptest.NewLogger(t)
	factory := testutil.NewRedisFactory(t, client, logger)
	b := factory.NewBroker()
	target := Target{Stream: factory.Stream(), Group: factory.Group("orders"), Consumer: "srv"}

	require.NoError(t, b.EnsureGroup(ctx, target.Stream, target.Group))
	for i := 0; i < 3; i++ {
		_, err := b.Publish(ctx, target.Stream, map[string]interface{}{"n": i})
		require.NoError(t, err)
	}

	rec := &recorder{}
	var wg sync.WaitGroup
	consumer := NewConsumer(b, target, testSettings(), rec, nil, logger, nil)
	consumer.Start(&wg)

	require.Eventually(t, func() bool { return rec.len() == 3 }, 2*time.Second, 10*time.Millisecond)
	consumer.Shutdown()
	wg.Wait()

	assert.EqualValues(t, 3, pendingCount(t, client, target))
}

func TestAckerDrainsOnShutdown(t *testing.T) {
	ctx := context.Background()
	_, client := testutil.SetupRedis(t)
	logger := zaptest.NewLogger(t)
	b := broker.NewRedisBroker(client, testutil.Config().RedisConfig, logger, nil)
	target := Target{Stream: "stream-1", Group: "sample-group", Consumer: "sample-1"}

	for i := 0; i < 2; i++ {
		_, err := b.Publish(ctx, target.Stream, map[string]interface{}{"n": i})
		require.NoError(t, err)
	}
	require.NoError(t, b.EnsureGroup(ctx, target.Stream, target.Group))
	entries, err := b.ReadNew(ctx, target.Stream, target.Group, target.Consumer, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	ackCh := NewAckChannel()
	ackCh <- []string{entries[0].ID}
	ackCh <- []string{entries[1].ID}

	m := metrics.New("test")
	var wg sync.WaitGroup
	acker := NewAcker(b, target, time.Second, ackCh, logger, m)
	acker.Shutdown()
	acker.Start(&wg)
	wg.Wait()

	assert.EqualValues(t, 0, pendingCount(t, client, target))
	assert.Contains(t, scrape(t, m), `test_stream_entries_acked_total{stream="stream-1"} 2`)
}

func TestConsumerRecoversDeletedStream(t *testing.T) {
	ctx := context.Background()
	_, client := testutil.SetupRedis(t)
	logger := zaptest.NewLogger(t)
	factory := testutil.NewRedisFactory(t, client, logger)
	b := factory.NewBroker()
	target := Target{Stream: factory.Stream(), Group: factory.Group("orders"), Consumer: "srv"}

	rec := &recorder{}
	var wg sync.WaitGroup
	consumer := NewConsumer(b, target, testSettings(), rec, nil, logger, nil)
	consumer.Start(&wg)
	defer func() {
		consumer.Shutdown()
		wg.Wait()
	}()

	_, err := b.Publish(ctx, target.Stream, map[string]interface{}{"n": 1})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.len() == 1 }, 2*time.Second, 10*time.Millisecond)

	// dropping the stream drops its groups too
	require.NoError(t, client.Del(ctx, target.Stream).Err())
	_, err = b.Publish(ctx, target.Stream, map[string]interface{}{"n": 2})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.len() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, types.GroupStateReady, b.GroupState(target.Stream, target.Group))
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
