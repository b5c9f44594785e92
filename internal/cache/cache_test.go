package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/yoockh/casescribe/internal/logger"
)

type payload struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisCacheRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	c := NewRedisCache(rdb, "test:")

	if err := c.SetJSON(ctx, "k", payload{Text: "hello", Provider: "groq"}, time.Hour); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}
	if !mr.Exists("test:k") {
		t.Fatal("Expected prefixed key in redis")
	}

	var got payload
	hit, err := c.GetJSON(ctx, "k", &got)
	if err != nil || !hit {
		t.Fatalf("Expected hit, got hit=%v err=%v", hit, err)
	}
	if got.Text != "hello" || got.Provider != "groq" {
		t.Errorf("Unexpected payload %+v", got)
	}

	mr.FastForward(2 * time.Hour)
	hit, err = c.GetJSON(ctx, "k", &got)
	if err != nil || hit {
		t.Errorf("Expected miss after expiry, got hit=%v err=%v", hit, err)
	}
}

func TestRedisCacheCorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	c := NewRedisCache(rdb, "")

	if err := mr.Set("bad", "{not json"); err != nil {
		t.Fatal(err)
	}
	var got payload
	hit, err := c.GetJSON(ctx, "bad", &got)
	if err != nil || hit {
		t.Fatalf("Expected miss for corrupt entry, got hit=%v err=%v", hit, err)
	}
	if mr.Exists("bad") {
		t.Error("Expected corrupt entry to be deleted")
	}
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	_ = c.SetJSON(ctx, "short", payload{Text: "a"}, time.Minute)
	_ = c.SetJSON(ctx, "forever", payload{Text: "b"}, 0)

	now = now.Add(2 * time.Minute)

	var got payload
	if hit, _ := c.GetJSON(ctx, "short", &got); hit {
		t.Error("Expected expired entry to miss")
	}
	if hit, _ := c.GetJSON(ctx, "forever", &got); !hit || got.Text != "b" {
		t.Errorf("Expected non-expiring entry, got hit=%v %+v", hit, got)
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 entry after lazy eviction, got %d", c.Len())
	}
}

func TestMemoryCacheSweepsExpiredOnWrite(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	for i := 0; i < sweepFloor-1; i++ {
		_ = c.SetJSON(ctx, fmt.Sprintf("old-%d", i), payload{Text: "x"}, time.Minute)
	}
	if c.Len() != sweepFloor-1 {
		t.Fatalf("Expected %d entries, got %d", sweepFloor-1, c.Len())
	}

	now = now.Add(2 * time.Minute)
	// never read again; the write that reaches the threshold sweeps them
	_ = c.SetJSON(ctx, "fresh", payload{Text: "y"}, time.Minute)

	if c.Len() != 1 {
		t.Errorf("Expected only the fresh entry after sweep, got %d", c.Len())
	}
	var got payload
	if hit, _ := c.GetJSON(ctx, "fresh", &got); !hit || got.Text != "y" {
		t.Errorf("Expected fresh entry kept, got hit=%v %+v", hit, got)
	}
}

func TestMemoryCacheSweep(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	_ = c.SetJSON(ctx, "a", payload{Text: "a"}, time.Second)
	_ = c.SetJSON(ctx, "b", payload{Text: "b"}, time.Hour)
	_ = c.SetJSON(ctx, "c", payload{Text: "c"}, 0)
	now = now.Add(time.Minute)

	if n := c.Sweep(); n != 1 {
		t.Errorf("Expected 1 entry swept, got %d", n)
	}
	if c.Len() != 2 {
		t.Errorf("Expected 2 entries left, got %d", c.Len())
	}
}

func TestMemoryCacheConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.SetJSON(ctx, "shared", payload{Text: "v"}, time.Minute)
				var got payload
				_, _ = c.GetJSON(ctx, "shared", &got)
			}
		}(i)
	}
	wg.Wait()

	var got payload
	if hit, _ := c.GetJSON(ctx, "shared", &got); !hit || got.Text != "v" {
		t.Errorf("Expected shared entry intact, got hit=%v %+v", hit, got)
	}
}

func TestFallbackCacheDegradesWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	fc := NewFallbackCache(NewRedisCache(rdb, ""), logger.Discard())

	degraded := 0
	fc.OnDegraded(func(string) { degraded++ })

	if err := fc.SetJSON(ctx, "up", payload{Text: "shared"}, time.Hour); err != nil {
		t.Fatalf("SetJSON with redis up failed: %v", err)
	}
	if fc.local.Len() != 0 {
		t.Error("Expected nothing in local store while redis is healthy")
	}

	mr.Close()

	if err := fc.SetJSON(ctx, "down", payload{Text: "local"}, time.Hour); err != nil {
		t.Fatalf("Expected degraded set to succeed, got %v", err)
	}
	var got payload
	hit, err := fc.GetJSON(ctx, "down", &got)
	if err != nil || !hit || got.Text != "local" {
		t.Fatalf("Expected local hit, got hit=%v err=%v %+v", hit, err, got)
	}
	if degraded < 2 {
		t.Errorf("Expected degraded hook to fire for set and get, got %d", degraded)
	}
}
