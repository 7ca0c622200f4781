package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/calc-jobs/internal/job"
	"github.com/redis/go-redis/v9"
)

// Publisher delivers an update to the subscribers of a group
type Publisher interface {
	Publish(ctx context.Context, jobGroupID string, update job.Update) error
}

// RedisPublisher sends updates to Redis channel <prefix><jobGroupID> so every
// gateway instance can deliver them
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, jobGroupID string, update job.Update) error {
	msg, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal job update: %w", err)
	}

	if err := p.client.Publish(ctx, p.prefix+jobGroupID, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish job update: %w", err)
	}

	return nil
}

// RedisRelay feeds updates from Redis into a local publisher, normally the Hub
type RedisRelay struct {
	client *redis.Client
	prefix string
	local  Publisher
	logger *slog.Logger
}

func NewRedisRelay(client *redis.Client, prefix string, local Publisher, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{
		client: client,
		prefix: prefix,
		local:  local,
		logger: logger,
	}
}

// Run blocks until ctx is canceled or the subscription breaks
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	// Wait for the subscription confirmation so callers know the relay is live
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to job updates: %w", err)
	}

	r.logger.Info("Relaying job updates from Redis",
		slog.String("pattern", r.prefix+"*"),
	)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("redis subscription closed")
			}
			r.relay(ctx, msg)
		}
	}
}

func (r *RedisRelay) relay(ctx context.Context, msg *redis.Message) {
	groupID := strings.TrimPrefix(msg.Channel, r.prefix)

	var update job.Update
	if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
		r.logger.Warn("Dropping malformed job update",
			slog.String("channel", msg.Channel),
			slog.Any("error", err),
		)
		return
	}

	if err := r.local.Publish(ctx, groupID, update); err != nil {
		r.logger.Error("Failed to relay job update",
			slog.String("job_group_id", groupID),
			slog.Any("error", err),
		)
	}
}
