package broker

import (
	"context"
	"time"

	"github.com/haze518/redis-sandbox/internal/types"
)

// Broker defines the stream operations used by the workers and the gRPC API.
type Broker interface {
	// Publish appends a single entry to stream and returns the assigned ID.
	Publish(ctx context.Context, stream string, fields map[string]interface{}) (string, error)

	// PublishBatch appends several entries in one transaction and returns
	// their IDs in order.
	PublishBatch(ctx context.Context, stream string, batch []map[string]interface{}) ([]string, error)

	// EnsureGroup creates group on stream, creating the stream when needed.
	// An existing group is not an error.
	EnsureGroup(ctx context.Context, stream, group string) error

	// GroupState reports what this broker knows about group on stream.
	GroupState(stream, group string) types.GroupState

	// ReadNew returns entries never delivered to any consumer of group,
	// assigning them to consumer. count <= 0 means no limit. Entries are not
	// acknowledged.
	ReadNew(ctx context.Context, stream, group, consumer string, count int64) ([]types.Entry, error)

	// Ack acknowledges entries so they leave the group's pending list.
	Ack(ctx context.Context, stream, group string, ids ...string) error

	// SetConsumerState advertises a consumer's liveness for ttl.
	SetConsumerState(ctx context.Context, consumer string, state types.ConsumerState, ttl time.Duration) error

	// ListConsumers returns the advertised state of every live consumer.
	ListConsumers(ctx context.Context) (map[string]types.ConsumerState, error)

	// ClaimFrom moves up to batchSize entries pending on the inactive
	// consumer from to consumer to and returns them.
	ClaimFrom(ctx context.Context, stream, group, from, to string, batchSize int64) ([]types.Entry, error)
}
