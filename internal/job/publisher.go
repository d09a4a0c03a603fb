package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher broadcasts job status/progress events to a redis pub/sub
// channel, so a process other than the one running the job (a dashboard,
// a second CLI invocation) can watch it live instead of polling Status.
// Grounded on semaj90-mau5law's legal-gateway/worker.go publishEvent
// (json-marshal the event, best-effort Publish, errors never fail the
// caller's real work).
type Publisher struct {
	client  *redis.Client
	channel string
}

const defaultJobChannel = "rcpretrieval:jobs"

// NewPublisher connects to addr (accepts a redis:// URL or a bare
// "host:port") and publishes every event to channel (defaultJobChannel if
// empty).
func NewPublisher(addr, channel string) (*Publisher, error) {
	if channel == "" {
		channel = defaultJobChannel
	}
	opt, err := redis.ParseURL(addr)
	if err != nil {
		opt = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Publisher{client: client, channel: channel}, nil
}

// publish is best-effort: a down redis must never fail or slow indexing.
func (p *Publisher) publish(rec Record) {
	if p == nil {
		return
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	p.client.Publish(ctx, p.channel, body)
}

// Close releases the underlying redis client.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
