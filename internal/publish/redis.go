package publish

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/banshee-data/hrv.report/internal/model"
)

// DefaultStreamMaxLen bounds the Redis stream length.
const DefaultStreamMaxLen = 10000

// RedisPublisher appends metrics to a Redis stream with XADD. Each entry
// carries one field per metric plus the full snapshot as JSON in "data".
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher connects to addr and checks the connection.
func NewRedisPublisher(ctx context.Context, addr, stream string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisPublisherWithClient(client, stream), nil
}

// NewRedisPublisherWithClient wraps an existing client.
func NewRedisPublisherWithClient(client *redis.Client, stream string) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, maxLen: DefaultStreamMaxLen}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, m model.Metrics) error {
	data, err := encodeJSON(m)
	if err != nil {
		return err
	}
	values := fields(m)
	values["data"] = string(data)

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add to stream %s: %w", p.stream, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
