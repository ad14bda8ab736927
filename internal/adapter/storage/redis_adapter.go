package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/pharmacy-orders/internal/port"
)

const (
	idempotencyKeyPrefix = "idempotency:order:"
	idempotencyKeyTTL    = 24 * time.Hour
	pendingMarker        = "pending"
)

var (
	_ port.IdempotencyStore = (*RedisAdapter)(nil)
	_ port.IdempotencyStore = (*MemoryIdempotency)(nil)
)

// releaseClaimScript deletes a claim only while it is still pending, so a completed
// request id is never freed.
var releaseClaimScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('GET', key) == ARGV[1] then
	return redis.call('DEL', key)
end
return 0
`)

// RedisAdapter keeps order request ids in Redis.
type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client, ttl: idempotencyKeyTTL}
}

func (r *RedisAdapter) Claim(ctx context.Context, requestID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+requestID, pendingMarker, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim request id: %w", err)
	}
	return ok, nil
}

func (r *RedisAdapter) Complete(ctx context.Context, requestID string, orderID int64) error {
	err := r.client.Set(ctx, idempotencyKeyPrefix+requestID, strconv.FormatInt(orderID, 10), r.ttl).Err()
	if err != nil {
		return fmt.Errorf("complete request id: %w", err)
	}
	return nil
}

func (r *RedisAdapter) Release(ctx context.Context, requestID string) error {
	err := releaseClaimScript.Run(ctx, r.client, []string{idempotencyKeyPrefix + requestID}, pendingMarker).Err()
	if err != nil {
		return fmt.Errorf("release request id: %w", err)
	}
	return nil
}

// MemoryIdempotency is the process-local request id store used without Redis.
type MemoryIdempotency struct {
	mu     sync.Mutex
	claims map[string]int64
}

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{claims: make(map[string]int64)}
}

func (m *MemoryIdempotency) Claim(_ context.Context, requestID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[requestID]; ok {
		return false, nil
	}
	m.claims[requestID] = 0
	return true, nil
}

func (m *MemoryIdempotency) Complete(_ context.Context, requestID string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[requestID] = orderID
	return nil
}

func (m *MemoryIdempotency) Release(_ context.Context, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[requestID] == 0 {
		delete(m.claims, requestID)
	}
	return nil
}
