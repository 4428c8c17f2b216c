// Package repository stores typed entities as Redis hashes with an optional
// time-to-live.
//
// An entity of type T is written to "<prefix>:<id>". Its fields are taken
// from the `redis` struct tags of T and are read back into the same declared
// types, so callers never deal with the string form kept by the store.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/haze518/redis-sandbox/internal/errs"
	"github.com/haze518/redis-sandbox/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Entity is a record that can be stored by Repository. T must be a struct
// whose persisted fields carry `redis` tags.
type Entity interface {
	// EntityID is the key suffix of the record.
	EntityID() string
	// Expiry is the lifetime applied on every save; zero or less means no expiry.
	Expiry() time.Duration
}

// Repository stores entities of type T under a common key prefix.
type Repository[T Entity] struct {
	client  redis.UniversalClient // shared, safe for concurrent use
	prefix  string                // key prefix, without the trailing colon
	logger  *zap.Logger
	metrics *metrics.Metrics // may be nil
}

// New returns a Repository writing to "<prefix>:<id>" keys. m may be nil.
func New[T Entity](client redis.UniversalClient, prefix string, logger *zap.Logger, m *metrics.Metrics) *Repository[T] {
	return &Repository[T]{
		client:  client,
		prefix:  prefix,
		logger:  logger,
		metrics: m,
	}
}

// Key returns the hash key an entity with the given id is stored under.
func (r *Repository[T]) Key(id string) string {
	return r.prefix + ":" + id
}

// Save writes every tagged field of entity and resets its expiry in a single
// transaction. Fields left over from an earlier save are not removed.
func (r *Repository[T]) Save(ctx context.Context, entity T) error {
	r.metrics.RepositoryOp("save")
	key := r.Key(entity.EntityID())
	ttl := entity.Expiry()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, entity)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		} else {
			pipe.Persist(ctx, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("repository.Save: %w", errs.Wrap("client.TxPipelined", err))
	}

	r.logger.Debug("entity saved", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

// ExistsByID reports whether a live hash exists for id.
func (r *Repository[T]) ExistsByID(ctx context.Context, id string) (bool, error) {
	r.metrics.RepositoryOp("exists")
	n, err := r.client.Exists(ctx, r.Key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("repository.ExistsByID: %w", errs.Wrap("client.Exists", err))
	}
	return n == 1, nil
}

// FindByID loads the entity stored for id. The boolean is false when the key
// does not exist or has expired.
func (r *Repository[T]) FindByID(ctx context.Context, id string) (T, bool, error) {
	r.metrics.RepositoryOp("find")
	var entity T

	cmd := r.client.HGetAll(ctx, r.Key(id))
	if err := cmd.Err(); err != nil {
		return entity, false, fmt.Errorf("repository.FindByID: %w", errs.Wrap("client.HGetAll", err))
	}
	if len(cmd.Val()) == 0 {
		return entity, false, nil
	}
	if err := cmd.Scan(&entity); err != nil {
		return entity, false, fmt.Errorf("repository.FindByID: %w", errs.Malformed("cmd.Scan", err))
	}
	return entity, true, nil
}

// DeleteByID removes the entity. Deleting a missing id is not an error.
func (r *Repository[T]) DeleteByID(ctx context.Context, id string) error {
	r.metrics.RepositoryOp("delete")
	if err := r.client.Del(ctx, r.Key(id)).Err(); err != nil {
		return fmt.Errorf("repository.DeleteByID: %w", errs.Wrap("client.Del", err))
	}
	return nil
}

// TTL returns the remaining lifetime of the entity, or -1 when it never
// expires.
func (r *Repository[T]) TTL(ctx context.Context, id string) (time.Duration, error) {
	r.metrics.RepositoryOp("ttl")
	ttl, err := r.client.TTL(ctx, r.Key(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("repository.TTL: %w", errs.Wrap("client.TTL", err))
	}
	// -2 signals a missing key
	if ttl == -2 {
		return 0, fmt.Errorf("repository.TTL: %w", &errs.Error{Op: "client.TTL", Kind: errs.KindNotFound, Err: redis.Nil})
	}
	return ttl, nil
}
