package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"pmsdesk/pkg/cart"
	"pmsdesk/pkg/logger"
	"pmsdesk/pkg/menu"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestStorage_RoundTrip(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	s := New(client, time.Minute)
	key := "test-cart-roundtrip"
	client.Del(ctx, keyPrefix+key)

	if _, err := s.Get(ctx, key); !errors.Is(err, cart.ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}

	if err := s.Set(ctx, key, []byte(`[]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "[]" {
		t.Errorf("expected [], got %s", got)
	}

	ttl := client.TTL(ctx, keyPrefix+key).Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("unexpected ttl %v", ttl)
	}

	if err := s.Remove(ctx, key); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, cart.ErrNoSnapshot) {
		t.Errorf("expected snapshot removed, got %v", err)
	}
}

func TestStorage_CartSurvivesRestart(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	key := "test-cart-restart"
	client.Del(ctx, keyPrefix+key)

	first := cart.New(ctx, New(client, 0), key, logger.Nop())
	first.AddItem(ctx, menu.Item{ID: "1", Name: "Coffee"})
	first.AddItem(ctx, menu.Item{ID: "1", Name: "Coffee"})

	second := cart.New(ctx, New(client, 0), key, logger.Nop())
	if second.Count() != 2 {
		t.Errorf("expected count 2 after reload, got %d", second.Count())
	}

	second.Clear(ctx)
	if n := client.Exists(ctx, keyPrefix+key).Val(); n != 0 {
		t.Errorf("expected key deleted after clear, exists=%d", n)
	}
}
