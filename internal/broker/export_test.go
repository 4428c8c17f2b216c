package broker

import "context"

// ReleaseLock exposes the claim lock release to the external test package.
func (b *RedisBroker) ReleaseLock(ctx context.Context, lock, owner string) bool {
	return b.releaseLock(ctx, lock, owner)
}
