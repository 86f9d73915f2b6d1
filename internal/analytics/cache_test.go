package analytics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alfredjeanlab/hookd/internal/model"
)

// testRedis connects to HOOKD_TEST_REDIS_ADDR or skips.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("HOOKD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HOOKD_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestRedisCache_RoundTrip(t *testing.T) {
	c := NewRedisCache(testRedis(t), time.Second)
	ctx := context.Background()

	var r model.Rate
	hit, err := c.Get(ctx, "missing", &r)
	if err != nil || hit {
		t.Fatalf("miss = %v, %v", hit, err)
	}

	want := model.NewRate(3, 4)
	if err := c.Set(ctx, "rate", want); err != nil {
		t.Fatal(err)
	}
	hit, err = c.Get(ctx, "rate", &r)
	if err != nil || !hit || r != want {
		t.Errorf("get = %+v, %v, %v", r, hit, err)
	}

	ttl := c.client.TTL(ctx, "hookd:rate").Val()
	if ttl <= 0 || ttl > time.Second {
		t.Errorf("ttl = %s", ttl)
	}
}

func TestNewRedisCache_DefaultTTL(t *testing.T) {
	c := NewRedisCache(redis.NewClient(&redis.Options{Addr: "localhost:0"}), 0)
	if c.ttl != DefaultCacheTTL {
		t.Errorf("ttl = %s", c.ttl)
	}
}
