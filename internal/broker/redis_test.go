package broker_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/haze518/redis-sandbox/internal/broker"
	"github.com/haze518/redis-sandbox/internal/errs"
	"github.com/haze518/redis-sandbox/internal/metrics"
	"github.com/haze518/redis-sandbox/internal/testutil"
	"github.com/haze518/redis-sandbox/internal/types"
	"github.com/haze518/redis-sandbox/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var ctx = context.Background()

func newBroker(t *testing.T, client redis.UniversalClient, mutate func(*config.RedisConfig)) *broker.RedisBroker {
	cfg := testutil.Config().RedisConfig
	if mutate != nil {
		mutate(&cfg)
	}
	return broker.NewRedisBroker(client, cfg, zaptest.NewLogger(t), metrics.New("test"))
}

func customer() map[string]interface{} {
	return map[string]interface{}{
		"name":    "Hasan Almunawar",
		"address": "Jambi",
	}
}

func TestPublish(t *testing.T) {
	_, client := testutil.SetupRedis(t)
	b := newBroker(t, client, nil)

	id, err := b.Publish(ctx, "stream-1", customer())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := client.XRange(ctx, "stream-1", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, "Jambi", msgs[0].Values["address"])
}

func TestPublishValidation(t *testing.T) {
	_, client := testutil.SetupRedis(t)
	b := newBroker(t, client, nil)

	_, err := b.Publish(ctx, "", customer())
	assert.ErrorIs(t, err, broker.ErrEmptyStream)

	_, err = b.Publish(ctx, "stream-1", nil)
	assert.ErrorIs(t, err, broker.ErrEmptyFields)

	ids, err := b.PublishBatch(ctx, "stream-1", nil)
	assert.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPublishBatch(t *testing.T) {
	_, client := testutil.SetupRedis(t)
	b := newBroker(t, client, nil)

	batch := make([]map[string]interface{}, 0, 3)
	for i := 0; i < 3; i++ {
		batch = append(batch, map[string]interface{}{"n": i})
	}
	ids, err := b.PublishBatch(ctx, "stream-1", batch)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	msgs, err := client.XRange(ctx, "stream-1", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, msg := range msgs {
		assert.Equal(t, ids[i], msg.ID)
		assert.Equal(t, fmt.Sprint(i), msg.Values["n"])
	}
}

func TestEnsureGroupIdempotent(t *testing.T) {
	_, client := testutil.SetupRedis(t)
	b := newBroker(t, client, nil)

	assert.Equal(t, types.GroupStateNone, b.GroupState("stream-1", "sample-group"))
	require.NoError(t, b.EnsureGroup(ctx, "stream-1", "sample-group"))
	assert.Equal(t, types.GroupStateReady, b.GroupState("stream-1", "sample-group"))
	require.NoError(t, b.EnsureGroup(ctx, "stream-1", "sample-group"))

	// a second process sees BUSYGROUP from the server and must swallow it
	other := newBroker(t, client, nil)
	require.NoError(t, other.EnsureGroup(ctx, "stream-1", "sample-group"))
	assert.Equal(t, types.GroupStateReady, other.GroupState("stream-1", "sample-group"))

	groups, err := client.XInfoGroups(ctx, "stream-1").Result()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "sample-group", groups[0].Name)
}

func TestEnsureGroupPropagatesOtherErrors(t *testing.T) {
	_, client := testutil.SetupRedis(t)
	b := newBroker(t, client, nil)

	require.NoError(t, client.Set(ctx, "plain-key", "value", 0).Err())

	err := b.EnsureGroup(ctx, "plain-key", "sample-group")
	assert.Error(t, err)
	assert.Equal(t, types.GroupStateNone, b.GroupState("plain-key", "sample-group"))

	assert.ErrorIs(t, b.EnsureGroup(ctx, "", "g"), broker.ErrEmptyStream)
	assert.ErrorIs(t, b.EnsureGroup(ctx, "s", ""), broker.ErrEmptyGroup)
}

func TestReadNewReceivesAllInOrder(t *testing.T) {
	_, client := testutil.SetupRedis(t)
	b := newBroker(t, client, nil)

	published := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		id, err := b.Publish(ctx, "stream-1", customer())
		require.NoError(t, err)
		published = append(published, id)
	}

	require.NoError(t, b.EnsureGroup(ctx, "stream-1", "sample-group"))
	entries, err := b.ReadNew(ctx, "stream-1", "sample-group", "sample-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 10)

	for i, e := range entries {
		assert.Equal(t, published[i], e.ID)
		assert.Equal(t, "Hasan Almunawar", e.Fields["name"])
		assert.Equal(t, "Jambi", e.Fields["address"])
	}

	entries, err = b.ReadNew(ctx, "stream-1", "sample-group", "sample-1", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadNewFromTail(t *testing.T) {
	_, client := testutil.SetupRedis(t)
	b := newBroker(t, client, func(c *config.RedisConfig) { c.GroupStartID = "$" })

	_, err := b.Publish(ctx, "stream-1", customer())
	require.NoError(t, err)

	require.NoError(t, b.EnsureGroup(ctx, "stream-1", "sample-group"))
	entries, err := b.ReadNew(ctx, "stream-1", "sample-group", "sample-1", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	id, err := b.Publish(ctx, "stream-1", customer())
	require.NoError(t, err)

	entries, err = b.ReadNew(ctx, "stream-1", "sample-group", "sample-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
}

func TestReadNewDisjointConsumers(t *testing.T) {
	_, client := testutil.SetupRedis(t)
	b := newBroker(t, client, nil)

	for i := 0; i < 10; i++ {
		_, err := b.Publish(ctx, "stream-1", map[string]interface{}{"n": i})
		require.NoError(t, err)
	}
	require.NoError(t, b.EnsureGroup(ctx, "stream-1", "sample-group"))

	first, err := b.ReadNew(ctx, "stream-1", "sample-group", "sample-1", 4)
	require.NoError(t, err)
	second, err := b.ReadNew(ctx, "stream-1", "sample-group", "sample-2", 0)
	require.NoError(t, err)

	assert.Len(t, first, 4)
	assert.Len(t, second, 6)

	seen := make(map[string]bool)
	for _, e := range append(first, second...) {
		assert.False(t, seen[e.ID], "entry %s delivered twice", e.ID)
		seen[e.ID] = true
	}

	again, err := b.ReadNew(ctx, "stream-1", "sample-group", "sample-1", 0)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestReadNewValidation(t *testing.T) {
	_, client := testutil.SetupRedis(t)
	b := newBroker(t, client, nil)

	_, err := b.ReadNew(ctx, "", "g", "c", 1)
	assert.ErrorIs(t, err, broker.ErrEmptyStream)
	_, err = b.ReadNew(ctx, "s", "", "c", 1)
	assert.ErrorIs(t, err, broker.ErrEmptyGroup)
	_, err = b.ReadNew(ctx, "s", "g", "", 1)
	assert.ErrorIs(t, err, broker.ErrEmptyConsumer)

	_, err = b.Publish(ctx, "stream-1", customer())
	require.NoError(t, err)
	_, err = b.ReadNew(ctx, "stream-1", "missing-group", "c", 1)
	assert.Error(t, err)
}

func TestAck(t *testing.T) {
	_, client := testutil.SetupRedis(t)
	b := newBroker(t, client, nil)

	for i := 0; i < 2; i++ {
		_, err := b.Publish(ctx, "stream-1", customer())
		require.NoError(t, err)
	}
	require.NoError(t, b.EnsureGroup(ctx, "stream-1", "sample-group"))
	entries, err := b.ReadNew(ctx, "stream-1", "sample-group", "sample-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	pending, err := client.XPending(ctx, "stream-1", "sample-group").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 2, pending.Count)

	require.NoError(t, b.Ack(ctx, "stream-1", "sample-group", entries[0].ID, entries[1].ID))
	require.NoError(t, b.Ack(ctx, "stream-1", "sample-group"))

	pending, err = client.XPending(ctx, "stream-1", "sample-group").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, pending.Count)
}

func TestListConsumers(t *testing.T) {
	mr, client := testutil.SetupRedis(t)
	b := newBroker(t, client, nil)

	require.NoError(t, b.SetConsumerState(ctx, "alive", types.ConsumerStateActive, time.Minute))
	require.NoError(t, b.SetConsumerState(ctx, "leaving", types.ConsumerStateInactive, time.Minute))
	require.NoError(t, b.SetConsumerState(ctx, "stale", types.ConsumerStateActive, time.Second))
	assert.ErrorIs(t, b.SetConsumerState(ctx, "", types.ConsumerStateActive, time.Second), broker.ErrEmptyConsumer)

	mr.FastForward(2 * time.Second)

	states, err := b.ListConsumers(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]types.ConsumerState{
		"alive":   types.ConsumerStateActive,
		"leaving": types.ConsumerStateInactive,
	}, states)
}

func TestClaimFrom(t *testing.T) {
	_, client := testutil.SetupRedis(t)
	dead := newBroker(t, client, nil)
	live := newBroker(t, client, nil)

	for i := 0; i < 3; i++ {
		_, err := dead.Publish(ctx, "stream-1", map[string]interface{}{"n": i})
		require.NoError(t, err)
	}
	require.NoError(t, dead.EnsureGroup(ctx, "stream-1", "sample-group"))
	read, err := dead.ReadNew(ctx, "stream-1", "sample-group", "dead_consumer", 3)
	require.NoError(t, err)
	require.Len(t, read, 3)

	// still active: nothing is claimed
	require.NoError(t, dead.SetConsumerState(ctx, "dead_consumer", types.ConsumerStateActive, time.Minute))
	claimed, err := live.ClaimFrom(ctx, "stream-1", "sample-group", "dead_consumer", "live_consumer", 50)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	require.NoError(t, dead.SetConsumerState(ctx, "dead_consumer", types.ConsumerStateInactive, time.Minute))
	claimed, err = live.ClaimFrom(ctx, "stream-1", "sample-group", "dead_consumer", "live_consumer", 50)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	assert.Equal(t, read[0].ID, claimed[0].ID)

	exists, err := client.Exists(ctx, "state:dead_consumer").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, exists, "state must survive until nothing is pending")

	claimed, err = live.ClaimFrom(ctx, "stream-1", "sample-group", "dead_consumer", "live_consumer", 50)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	exists, err = client.Exists(ctx, "state:dead_consumer", "lock:dead_consumer").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, exists)

	claimed, err = live.ClaimFrom(ctx, "stream-1", "sample-group", "live_consumer", "live_consumer", 50)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestReadNewAfterStreamDeleted(t *testing.T) {
	_, client := testutil.SetupRedis(t)
	b := newBroker(t, client, nil)

	require.NoError(t, b.EnsureGroup(ctx, "stream-1", "sample-group"))
	require.NoError(t, client.Del(ctx, "stream-1").Err())

	// the cached state still says ready until a read proves otherwise
	require.NoError(t, b.EnsureGroup(ctx, "stream-1", "sample-group"))
	_, err := b.Publish(ctx, "stream-1", customer())
	require.NoError(t, err)

	_, err = b.ReadNew(ctx, "stream-1", "sample-group", "sample-1", 0)
	assert.True(t, errs.Is(err, errs.KindNotFound), "got %v", err)
	assert.Equal(t, types.GroupStateNone, b.GroupState("stream-1", "sample-group"))

	require.NoError(t, b.EnsureGroup(ctx, "stream-1", "sample-group"))
	assert.Equal(t, types.GroupStateReady, b.GroupState("stream-1", "sample-group"))

	entries, err := b.ReadNew(ctx, "stream-1", "sample-group", "sample-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Jambi", entries[0].Fields["address"])
}

func TestReleaseLockKeepsForeignLock(t *testing.T) {
	_, client := testutil.SetupRedis(t)
	b := newBroker(t, client, nil)

	// the lock expired and was taken by another consumer
	require.NoError(t, client.Set(ctx, "lock:dead_consumer", "other_consumer", time.Minute).Err())
	assert.False(t, b.ReleaseLock(ctx, "lock:dead_consumer", "live_consumer"))

	owner, err := client.Get(ctx, "lock:dead_consumer").Result()
	require.NoError(t, err)
	assert.Equal(t, "other_consumer", owner)

	assert.True(t, b.ReleaseLock(ctx, "lock:dead_consumer", "other_consumer"))
	exists, err := client.Exists(ctx, "lock:dead_consumer").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, exists)

	assert.False(t, b.ReleaseLock(ctx, "lock:missing", "live_consumer"))
}
