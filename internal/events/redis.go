package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher fans job events out over Redis pub/sub on
// "<prefix>:<job_id>:status" so websocket or polling clients can subscribe
// per job.
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisPublisher(rdb *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "job"
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix}
}

func (p *RedisPublisher) Channel(jobID string) string {
	return p.prefix + ":" + jobID + ":status"
}

func (p *RedisPublisher) Publish(ctx context.Context, ev JobEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.Channel(ev.JobID), b).Err()
}

func (p *RedisPublisher) Close() {}

// Multi publishes to every publisher and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev JobEvent) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() {
	for _, p := range m {
		p.Close()
	}
}
