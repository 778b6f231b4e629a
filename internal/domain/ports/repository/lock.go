package repository

import (
	"context"
	"time"
)

// Locker hands out TTL-bounded mutual-exclusion leases. TryLock is a single
// non-blocking attempt: contention means skip, not wait. The returned token
// must be presented on Unlock so a lease can only be released by its holder.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
