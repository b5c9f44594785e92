package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// FallbackCache fronts a shared store with an in-process one. Any error from
// the shared store is logged and the call is served from memory instead, so
// callers never see a cache failure.
type FallbackCache struct {
	primary Cache
	local   *MemoryCache
	log     *logrus.Logger
	onError func(op string)
}

func NewFallbackCache(primary Cache, log *logrus.Logger) *FallbackCache {
	if log == nil {
		log = logrus.New()
	}
	return &FallbackCache{primary: primary, local: NewMemoryCache(), log: log}
}

// OnDegraded registers a hook invoked each time the shared store fails.
func (c *FallbackCache) OnDegraded(fn func(op string)) { c.onError = fn }

func (c *FallbackCache) degraded(op, key string, err error) {
	c.log.WithError(err).WithFields(logrus.Fields{"op": op, "cache_key": key}).
		Warn("shared cache unavailable, using in-process store")
	if c.onError != nil {
		c.onError(op)
	}
}

func (c *FallbackCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c.primary != nil {
		hit, err := c.primary.GetJSON(ctx, key, dst)
		if err == nil && hit {
			return true, nil
		}
		if err != nil {
			c.degraded("get", key, err)
		}
	}
	// entries written while degraded live only here
	return c.local.GetJSON(ctx, key, dst)
}

func (c *FallbackCache) SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	if c.primary != nil {
		err := c.primary.SetJSON(ctx, key, val, ttl)
		if err == nil {
			return nil
		}
		c.degraded("set", key, err)
	}
	return c.local.SetJSON(ctx, key, val, ttl)
}

func (c *FallbackCache) Del(ctx context.Context, keys ...string) error {
	if c.primary != nil {
		if err := c.primary.Del(ctx, keys...); err != nil {
			c.degraded("del", "", err)
		}
	}
	return c.local.Del(ctx, keys...)
}
