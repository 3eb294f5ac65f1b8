// Package events publishes automation creation notifications and listens for
// registry change notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/models"
)

// Publisher delivers creation events to downstream observers.
type Publisher interface {
	Publish(ctx context.Context, evt models.CreationEvent) error
}

// RedisPublisher publishes events as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher creates a publisher for channel.
func NewRedisPublisher(client *redis.Client, channel string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, logger: logger.Named("events-redis")}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, evt models.CreationEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode creation event: %w", err)
	}
	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish creation event: %w", err)
	}
	p.logger.Debug("Creation event published",
		zap.String("automation_id", evt.AutomationID),
		zap.Int64("receivers", receivers))
	return nil
}

// LogPublisher only logs events. It is used when Redis is not configured.
type LogPublisher struct {
	logger *zap.Logger
}

var _ Publisher = (*LogPublisher)(nil)

// NewLogPublisher creates a log-only publisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, evt models.CreationEvent) error {
	p.logger.Info("Automation created",
		zap.String("automation_id", evt.AutomationID),
		zap.String("alias", evt.Alias),
		zap.Int("entity_count", evt.EntityCount),
		zap.Time("created_at", evt.CreatedAt))
	return nil
}
