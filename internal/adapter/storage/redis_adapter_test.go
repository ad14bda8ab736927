package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/pharmacy-orders/internal/port"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func testIdempotencyStore(t *testing.T, store port.IdempotencyStore) {
	ctx := context.Background()

	t.Run("second claim is rejected", func(t *testing.T) {
		id := uuid.NewString()
		ok, err := store.Claim(ctx, id)
		if err != nil || !ok {
			t.Fatalf("expected first claim to succeed, got ok=%v err=%v", ok, err)
		}
		ok, err = store.Claim(ctx, id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Error("expected second claim to fail")
		}
	})

	t.Run("released claim may be retried", func(t *testing.T) {
		id := uuid.NewString()
		if _, err := store.Claim(ctx, id); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.Release(ctx, id); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ok, err := store.Claim(ctx, id)
		if err != nil || !ok {
			t.Errorf("expected claim after release to succeed, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("completed claim survives release", func(t *testing.T) {
		id := uuid.NewString()
		if _, err := store.Claim(ctx, id); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.Complete(ctx, id, 42); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.Release(ctx, id); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ok, _ := store.Claim(ctx, id)
		if ok {
			t.Error("expected completed request id to stay claimed")
		}
	})

	t.Run("concurrent claims admit one", func(t *testing.T) {
		id := uuid.NewString()
		var successCount atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.Claim(ctx, id)
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if ok {
					successCount.Add(1)
				}
			}()
		}
		wg.Wait()
		if successCount.Load() != 1 {
			t.Errorf("expected 1 success, got %d", successCount.Load())
		}
	})
}

func TestRedisAdapter_Idempotency(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	testIdempotencyStore(t, NewRedisAdapter(client))
}

func TestMemoryIdempotency(t *testing.T) {
	testIdempotencyStore(t, NewMemoryIdempotency())
}
