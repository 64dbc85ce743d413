package infra

import (
	"context"
	"fmt"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

// Testes de integração: precisam de um redis local e são pulados sem ele.

func redisClientOrSkip(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping integration test: redis not available (%v)", err)
	}

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisCounter_Integration(t *testing.T) {
	client := redisClientOrSkip(t)
	store := NewRedisCounterStore(client, WithCounterPrefix("it:ratelimit:"))

	ctx := context.Background()
	key := fmt.Sprintf("global:address:10.0.0.1:%d", time.Now().UnixNano())
	defer store.Reset(ctx, key)

	// 1) criação: count=1, ttl = janela cheia
	count, ttl, err := store.Incr(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("incr: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count=1, got %d", count)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected ttl within the window, got %s", ttl)
	}

	// 2) segundo hit incrementa o mesmo contador em qualquer "instância"
	other := NewRedisCounterStore(client, WithCounterPrefix("it:ratelimit:"))
	count, _, err = other.Incr(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("incr: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected shared counter count=2, got %d", count)
	}
}

func TestRedisResponseCache_Integration(t *testing.T) {
	client := redisClientOrSkip(t)
	prefix := fmt.Sprintf("it:dedup:%d", time.Now().UnixNano())
	cache := NewRedisResponseCache(client, WithCachePrefix(prefix))

	ctx := context.Background()
	defer cache.Invalidate(ctx)
	defer client.Del(ctx, prefix+":stats")

	entry := &domain.CachedResponse{
		StatusCode: 200,
		Header:     map[string][]string{"Content-Type": {"application/json"}},
		Body:       []byte(`{"ok":true}`),
		CachedAt:   time.Now().UTC(),
	}

	if _, ok, err := cache.Get(ctx, "fp1"); err != nil || ok {
		t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
	}

	if err := cache.Set(ctx, "fp1", entry, 30*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := cache.Get(ctx, "fp1")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if got.StatusCode != 200 || string(got.Body) != `{"ok":true}` {
		t.Fatalf("unexpected entry %+v", got)
	}

	cache.Record(ctx, false)
	cache.Record(ctx, true)
	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Entries != 1 || stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	n, err := cache.Invalidate(ctx)
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
}
