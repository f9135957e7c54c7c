package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const modelListJSON = `[{"id":"gpt-4o","provider":"openai"},{"id":"gpt-4o-mini","provider":"openai"}]`

func TestMemoryCacheSetNXAndDel(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "models:openai", modelListJSON, time.Minute)
	if err != nil {
		t.Fatalf("setnx error: %v", err)
	}
	if !ok {
		t.Fatal("expected first setnx to claim the key")
	}

	ok, err = c.SetNX(ctx, "models:openai", "[]", time.Minute)
	if err != nil {
		t.Fatalf("setnx error: %v", err)
	}
	if ok {
		t.Fatal("expected setnx on a live key to fail")
	}

	if err := c.Del(ctx, "models:openai"); err != nil {
		t.Fatalf("del error: %v", err)
	}
	ok, err = c.SetNX(ctx, "models:openai", modelListJSON, time.Minute)
	if err != nil {
		t.Fatalf("setnx error: %v", err)
	}
	if !ok {
		t.Fatal("expected setnx after del to succeed")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "models:ollama", modelListJSON, 10*time.Millisecond); err != nil {
		t.Fatalf("set error: %v", err)
	}
	got, err := c.Get(ctx, "models:ollama")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got != modelListJSON {
		t.Fatalf("unexpected cached value: %q", got)
	}

	time.Sleep(15 * time.Millisecond)
	if _, err := c.Get(ctx, "models:ollama"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil after ttl, got %v", err)
	}

	// A stale entry must not block SetNX either.
	if err := c.Set(ctx, "lock", "1", time.Millisecond); err != nil {
		t.Fatalf("set error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	ok, err := c.SetNX(ctx, "lock", "2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected setnx to reclaim expired key, ok=%v err=%v", ok, err)
	}
}

func TestNewCacheFallsBackToMemory(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	cache := NewCache(ctx, nil)
	if _, ok := cache.(*MemoryCache); !ok {
		t.Fatalf("expected MemoryCache fallback for nil redis client, got %T", cache)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:1",
		DialTimeout:  5 * time.Millisecond,
		ReadTimeout:  5 * time.Millisecond,
		WriteTimeout: 5 * time.Millisecond,
	})
	defer redisClient.Close()

	cache = NewCache(ctx, redisClient)
	if _, ok := cache.(*MemoryCache); !ok {
		t.Fatalf("expected MemoryCache fallback on redis ping failure, got %T", cache)
	}
}

func TestNewCacheUsesRedisWhenAvailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	cache := NewCache(ctx, redisClient)
	if _, ok := cache.(*RedisCache); !ok {
		t.Fatalf("expected RedisCache when redis ping succeeds, got %T", cache)
	}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := &RedisCache{client: client}
	ctx := context.Background()

	ok, err := cache.SetNX(ctx, "models:gemini", modelListJSON, time.Minute)
	if err != nil {
		t.Fatalf("setnx failed: %v", err)
	}
	if !ok {
		t.Fatal("expected first setnx to claim the key")
	}
	ok, err = cache.SetNX(ctx, "models:gemini", "[]", time.Minute)
	if err != nil {
		t.Fatalf("setnx duplicate failed: %v", err)
	}
	if ok {
		t.Fatal("expected setnx on a live key to fail")
	}

	if err := cache.Set(ctx, "models:anthropic", modelListJSON, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := cache.Get(ctx, "models:anthropic")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != modelListJSON {
		t.Fatalf("unexpected cached value: %q", got)
	}

	if err := cache.Del(ctx, "models:anthropic"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := cache.Get(ctx, "models:anthropic"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}
