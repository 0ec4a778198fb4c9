package events

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"

	"tillbook/backend/internal/domain"
)

// maxQueued bounds the drain list; older events fall off the head.
const maxQueued = 1000

// RedisPublisher announces events on a pub/sub channel for live listeners and
// appends them to a list so they can be drained after the fact.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = "tillbook:reconciliation"
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) QueueKey() string {
	return p.channel + ":queue"
}

func (p *RedisPublisher) Publish(ctx context.Context, event domain.ReconciliationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, p.QueueKey(), payload)
		pipe.LTrim(ctx, p.QueueKey(), -maxQueued, -1)
		pipe.Publish(ctx, p.channel, payload)
		return nil
	})
	return err
}

// Pending returns up to limit queued events without removing them.
func (p *RedisPublisher) Pending(ctx context.Context, limit int64) ([]domain.ReconciliationEvent, error) {
	if limit < 1 {
		limit = 100
	}
	raw, err := p.client.LRange(ctx, p.QueueKey(), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.ReconciliationEvent, 0, len(raw))
	for _, item := range raw {
		var event domain.ReconciliationEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}
