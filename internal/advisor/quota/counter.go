package quota

import (
	"context"
	"time"
)

// Bucket is one counter checked during admission. A negative Limit is
// counted but never blocks. TTL of zero means the key never expires.
type Bucket struct {
	Key   string
	Limit int
	TTL   time.Duration
}

// Counter stores usage per bucket key. Reserve is the atomic
// increment-and-compare primitive: either every bucket is below its limit
// and all are incremented, or nothing changes.
type Counter interface {
	Get(ctx context.Context, key string) (int64, error)
	// Reserve returns whether the reservation happened and the usage of each
	// bucket afterwards (unchanged when denied).
	Reserve(ctx context.Context, buckets []Bucket) (bool, []int64, error)
	Increment(ctx context.Context, buckets []Bucket) error
	// Decrement lowers each key by one, never below zero.
	Decrement(ctx context.Context, keys []string) error
	Delete(ctx context.Context, keys ...string) error
	// Sweep removes monthly buckets whose period differs from keepPeriod and
	// returns how many were removed.
	Sweep(ctx context.Context, keepPeriod string) (int, error)
}
