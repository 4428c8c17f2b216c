package broker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/haze518/redis-sandbox/internal/errs"
	"github.com/haze518/redis-sandbox/internal/metrics"
	"github.com/haze518/redis-sandbox/internal/types"
	"github.com/haze518/redis-sandbox/pkg/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	statePrefix  = "state:"
	lockPrefix   = "lock:"
	claimLockTTL = 10 * time.Second
	scanCount    = 100
)

var (
	// ErrEmptyStream is returned when stream name is empty.
	ErrEmptyStream = errors.New("stream name cannot be empty")

	// ErrEmptyGroup is returned when consumer group name is empty.
	ErrEmptyGroup = errors.New("consumer group name cannot be empty")

	// ErrEmptyConsumer is returned when consumer name is empty.
	ErrEmptyConsumer = errors.New("consumer name cannot be empty")

	// ErrEmptyFields is returned when an entry has no fields.
	ErrEmptyFields = errors.New("entry must have at least one field")
)

var _ Broker = (*RedisBroker)(nil)

// RedisBroker is an implementation of the Broker interface using Redis Streams.
type RedisBroker struct {
	client  redis.UniversalClient // shared, safe for concurrent use
	config  config.RedisConfig
	log     *zap.Logger
	metrics *metrics.Metrics
	groups  sync.Map // groupKey -> struct{}, groups known to exist
}

// NewClient opens a pooled Redis client for config.
func NewClient(config config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})
}

// NewRedisBroker wraps a shared client. The broker does not own the client
// and never closes it.
func NewRedisBroker(client redis.UniversalClient, config config.RedisConfig, logger *zap.Logger, m *metrics.Metrics) *RedisBroker {
	return &RedisBroker{
		client:  client,
		config:  config,
		log:     logger,
		metrics: m,
	}
}

// Publish adds a single entry to the Redis stream.
func (b *RedisBroker) Publish(ctx context.Context, stream string, fields map[string]interface{}) (string, error) {
	args, err := b.xaddArgs(stream, fields)
	if err != nil {
		return "", err
	}
	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", errs.Wrap("client.XAdd", err)
	}
	return id, nil
}

// PublishBatch publishes multiple entries to the Redis stream in a
// transactional pipeline. Returns the IDs of published entries.
func (b *RedisBroker) PublishBatch(ctx context.Context, stream string, batch []map[string]interface{}) ([]string, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	tx := b.client.TxPipeline()
	cmds := make([]*redis.StringCmd, 0, len(batch))

	for _, fields := range batch {
		args, err := b.xaddArgs(stream, fields)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, tx.XAdd(ctx, args))
	}

	if _, err := tx.Exec(ctx); err != nil {
		return nil, errs.Wrap("tx.Exec", err)
	}

	ids := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		ids = append(ids, cmd.Val())
	}
	return ids, nil
}

// EnsureGroup creates the consumer group at the configured start ID,
// creating the stream if it does not exist yet. A BUSYGROUP reply means the
// group already exists and is discarded; every other failure is returned.
// Once a group is known to exist later calls return immediately.
func (b *RedisBroker) EnsureGroup(ctx context.Context, stream, group string) error {
	if stream == "" {
		return ErrEmptyStream
	}
	if group == "" {
		return ErrEmptyGroup
	}
	if b.GroupState(stream, group) == types.GroupStateReady {
		return nil
	}

	start := b.config.GroupStartID
	if start == "" {
		start = "$"
	}
	err := errs.Wrap("client.XGroupCreateMkStream", b.client.XGroupCreateMkStream(ctx, stream, group, start).Err())
	switch {
	case err == nil:
		b.log.Info("consumer group created", zap.String("stream", stream), zap.String("group", group), zap.String("start", start))
	case errs.Is(err, errs.KindAlreadyExists):
		b.log.Debug("consumer group already exists", zap.String("stream", stream), zap.String("group", group))
	default:
		return err
	}

	b.groups.Store(groupKey(stream, group), struct{}{})
	return nil
}

// GroupState reports GroupStateReady once EnsureGroup has succeeded for
// stream and group and no read has since found the group missing.
func (b *RedisBroker) GroupState(stream, group string) types.GroupState {
	if _, ok := b.groups.Load(groupKey(stream, group)); ok {
		return types.GroupStateReady
	}
	return types.GroupStateNone
}

// ReadNew reads entries that were never delivered to the group. It does not
// block unless a positive ReadBlock is configured.
func (b *RedisBroker) ReadNew(ctx context.Context, stream, group, consumer string, count int64) ([]types.Entry, error) {
	if stream == "" {
		return nil, ErrEmptyStream
	}
	if group == "" {
		return nil, ErrEmptyGroup
	}
	if consumer == "" {
		return nil, ErrEmptyConsumer
	}

	// go-redis sends BLOCK for any non-negative value and BLOCK 0 waits forever
	block := time.Duration(-1)
	if b.config.ReadBlock > 0 {
		block = b.config.ReadBlock
	}

	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Streams:  []string{stream, ">"},
		Group:    group,
		Consumer: consumer,
		Count:    count,
		Block:    block,
		NoAck:    false,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return []types.Entry{}, nil
	} else if err != nil {
		err = errs.Wrap("client.XReadGroup", err)
		// NOGROUP: the stream key was deleted along with its groups
		if errs.Is(err, errs.KindNotFound) {
			b.groups.Delete(groupKey(stream, group))
		}
		return nil, err
	}

	result := make([]types.Entry, 0)
	for _, s := range streams {
		for _, msg := range s.Messages {
			result = append(result, types.NewEntry(msg.ID, msg.Values))
		}
	}
	b.metrics.Consumed(stream, len(result))
	return result, nil
}

// Ack acknowledges the successful processing of entries by ID.
func (b *RedisBroker) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return errs.Wrap("client.XAck", err)
	}
	return nil
}

// SetConsumerState sets a consumer's state (active/inactive) with a TTL.
func (b *RedisBroker) SetConsumerState(ctx context.Context, consumer string, state types.ConsumerState, ttl time.Duration) error {
	if consumer == "" {
		return ErrEmptyConsumer
	}
	if err := b.client.Set(ctx, statePrefix+consumer, state.String(), ttl).Err(); err != nil {
		return errs.Wrap("client.Set", err)
	}
	return nil
}

// ListConsumers returns the states of all known consumers, based on the key
// pattern `state:*`. Consumers whose heartbeat expired are absent.
func (b *RedisBroker) ListConsumers(ctx context.Context) (map[string]types.ConsumerState, error) {
	var cursor uint64
	states := make(map[string]types.ConsumerState)

	for {
		keys, newCursor, err := b.client.Scan(ctx, cursor, statePrefix+"*", scanCount).Result()
		if err != nil {
			return nil, errs.Wrap("client.Scan", err)
		}

		if len(keys) > 0 {
			values, err := b.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, errs.Wrap("client.MGet", err)
			}

			for i, key := range keys {
				state, ok := values[i].(string)
				if !ok {
					continue
				}
				states[strings.TrimPrefix(key, statePrefix)] = types.ParseConsumerState(state)
			}
		}

		cursor = newCursor
		if cursor == 0 {
			break
		}
	}

	return states, nil
}

// ClaimFrom reclaims entries pending on an inactive consumer. A lock key
// makes sure only one live consumer claims from a given inactive consumer at
// a time. Once nothing is left pending the inactive consumer's state key is
// removed.
func (b *RedisBroker) ClaimFrom(ctx context.Context, stream, group, from, to string, batchSize int64) ([]types.Entry, error) {
	if from == to {
		return nil, nil
	}

	state, err := b.client.Get(ctx, statePrefix+from).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, errs.Wrap("client.Get", err)
	}
	if types.ParseConsumerState(state) != types.ConsumerStateInactive {
		return nil, nil
	}

	lock := lockPrefix + from
	locked, err := b.client.SetNX(ctx, lock, to, claimLockTTL).Result()
	if err != nil {
		return nil, errs.Wrap("client.SetNX", err)
	}
	if !locked {
		return nil, nil
	}
	defer b.releaseLock(context.WithoutCancel(ctx), lock, to)

	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   stream,
		Group:    group,
		Start:    "-",
		End:      "+",
		Count:    batchSize,
		Consumer: from,
	}).Result()
	if err != nil {
		return nil, errs.Wrap("client.XPendingExt", err)
	}
	if len(pending) == 0 {
		if err := b.client.Del(ctx, statePrefix+from).Err(); err != nil {
			return nil, errs.Wrap("client.Del", err)
		}
		return nil, nil
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}

	msgs, err := b.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: to,
		MinIdle:  0,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, errs.Wrap("client.XClaim", err)
	}

	entries := make([]types.Entry, 0, len(msgs))
	for _, msg := range msgs {
		b.log.Debug("claimed entry", zap.String("id", msg.ID), zap.String("from", from), zap.String("to", to))
		entries = append(entries, types.NewEntry(msg.ID, msg.Values))
	}
	b.metrics.Claimed(stream, len(entries))
	return entries, nil
}

// releaseLockScript deletes KEYS[1] only while its value is ARGV[1].
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// releaseLock reports whether the lock was still held by owner and removed.
func (b *RedisBroker) releaseLock(ctx context.Context, lock, owner string) bool {
	n, err := releaseLockScript.Run(ctx, b.client, []string{lock}, owner).Int64()
	if err != nil {
		b.log.Warn("unable to release claim lock", zap.String("lock", lock), zap.Error(err))
		return false
	}
	return n == 1
}

func (b *RedisBroker) xaddArgs(stream string, fields map[string]interface{}) (*redis.XAddArgs, error) {
	if stream == "" {
		return nil, ErrEmptyStream
	}
	if len(fields) == 0 {
		return nil, ErrEmptyFields
	}
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.config.MaxStreamLen,
		Approx: b.config.MaxStreamLen > 0,
		ID:     "*",
		Values: fields,
	}, nil
}

func groupKey(stream, group string) string {
	return stream + "\x00" + group
}
