package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tillbook/backend/internal/domain"
)

type RedisShiftCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisShiftCache stores pointers with ttl so a terminal abandoned
// mid-shift does not pin a stale pointer forever.
func NewRedisShiftCache(client *redis.Client, ttl time.Duration) *RedisShiftCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisShiftCache{client: client, ttl: ttl}
}

func (c *RedisShiftCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisShiftCache) GetActiveShift(ctx context.Context, storeID string, terminalID string) (*domain.ShiftPointer, error) {
	val, err := c.client.Get(ctx, pointerKey(storeID, terminalID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ptr domain.ShiftPointer
	if err := json.Unmarshal([]byte(val), &ptr); err != nil {
		return nil, err
	}
	return &ptr, nil
}

func (c *RedisShiftCache) SetActiveShift(ctx context.Context, ptr domain.ShiftPointer) error {
	payload, err := json.Marshal(ptr)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, pointerKey(ptr.StoreID, ptr.TerminalID), payload, c.ttl).Err()
}

func (c *RedisShiftCache) ClearActiveShift(ctx context.Context, storeID string, terminalID string) error {
	return c.client.Del(ctx, pointerKey(storeID, terminalID)).Err()
}
