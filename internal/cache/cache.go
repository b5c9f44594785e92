package cache

import (
	"context"
	"time"
)

// Cache is the response store shared by every session. Implementations must
// be safe for concurrent use. A ttl <= 0 means the entry never expires.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
