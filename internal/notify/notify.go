// Package notify delivers engine output to operator channels. Delivery is
// at-most-once from the engine's perspective; sinks may add their own retry.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Sink routes a message to a delivery channel (chat session, bot bridge).
type Sink interface {
	Deliver(ctx context.Context, channel, message string) error
}

// LogSink writes deliveries to the structured log. It is the fallback when
// no external channel is configured, which keeps headless deployments from
// losing results silently.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(_ context.Context, channel, message string) error {
	s.logger.Info("Notification",
		zap.String("channel", channel),
		zap.String("message", message),
	)
	return nil
}

// RedisSink publishes deliveries to a redis pub/sub channel so external
// front-ends (chat UI, bot bridges) can pick them up.
type RedisSink struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisSink connects to redis and verifies the connection.
func NewRedisSink(addr, prefix string, logger *zap.Logger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisSink{client: client, prefix: prefix, logger: logger}, nil
}

func (s *RedisSink) Deliver(ctx context.Context, channel, message string) error {
	key := fmt.Sprintf("%s:%s", s.prefix, channel)
	if err := s.client.Publish(ctx, key, message).Err(); err != nil {
		s.logger.Warn("Redis delivery failed",
			zap.String("channel", key),
			zap.Error(err),
		)
		return fmt.Errorf("publish to %s: %w", key, err)
	}
	return nil
}

// Close releases the redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// Fanout delivers to every sink; the first error is returned after all
// sinks have been attempted.
type Fanout []Sink

func (f Fanout) Deliver(ctx context.Context, channel, message string) error {
	var firstErr error
	for _, s := range f {
		if err := s.Deliver(ctx, channel, message); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
