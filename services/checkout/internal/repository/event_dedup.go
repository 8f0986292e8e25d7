package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyWebhookDedup = "dedup:webhook:%s"

// EventDeduplicator remembers provider event ids whose handling finished.
// Only completed events are remembered, so an attempt that dies midway is
// retried on the next delivery.
type EventDeduplicator interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Remember(ctx context.Context, eventID string) error
}

type redisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) EventDeduplicator {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}

	return &redisDeduplicator{
		client: client,
		ttl:    ttl,
	}
}

func (d *redisDeduplicator) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, fmt.Sprintf(keyWebhookDedup, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up event %s: %w", eventID, err)
	}

	return n > 0, nil
}

func (d *redisDeduplicator) Remember(ctx context.Context, eventID string) error {
	err := d.client.Set(ctx, fmt.Sprintf(keyWebhookDedup, eventID), time.Now().UTC().Format(time.RFC3339), d.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to remember event %s: %w", eventID, err)
	}

	return nil
}

type noopDeduplicator struct{}

// NewNoopDeduplicator never reports an event as seen; the database write
// stays idempotent on its own.
func NewNoopDeduplicator() EventDeduplicator {
	return noopDeduplicator{}
}

func (noopDeduplicator) Seen(context.Context, string) (bool, error) { return false, nil }
func (noopDeduplicator) Remember(context.Context, string) error     { return nil }
