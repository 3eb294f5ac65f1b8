package events

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Invalidator drops cached state when the registry or inventory changes.
type Invalidator interface {
	Invalidate()
}

// ChangeSubscriber invalidates caches on every message published to the
// registry changes channel.
type ChangeSubscriber struct {
	client      *redis.Client
	channel     string
	invalidator Invalidator
	logger      *zap.Logger
}

// NewChangeSubscriber creates a subscriber for channel.
func NewChangeSubscriber(client *redis.Client, channel string, invalidator Invalidator, logger *zap.Logger) *ChangeSubscriber {
	return &ChangeSubscriber{
		client:      client,
		channel:     channel,
		invalidator: invalidator,
		logger:      logger.Named("changes"),
	}
}

// Run listens until ctx is cancelled. ready is closed once the subscription
// is confirmed; it may be nil.
func (s *ChangeSubscriber) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}
	s.logger.Info("Listening for registry changes", zap.String("channel", s.channel))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Change subscriber stopped")
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			s.logger.Debug("Registry change received", zap.String("payload", msg.Payload))
			s.invalidator.Invalidate()
		}
	}
}
