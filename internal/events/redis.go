// Package events carries document changes between service instances over
// Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisClient wraps the Redis client
type RedisClient struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisClient connects to the Redis server at url and pings it.
func NewRedisClient(ctx context.Context, url string, logger *zap.Logger) (*RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger = logger.Named("redis")
	logger.Info("Connected to Redis", zap.String("addr", opts.Addr))
	return &RedisClient{client: client, logger: logger}, nil
}

// Publish marshals message to JSON and publishes it on channel.
func (r *RedisClient) Publish(ctx context.Context, channel string, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	r.logger.Debug("Published message",
		zap.String("channel", channel),
		zap.Int("bytes", len(payload)))
	return nil
}

// Subscribe opens a pub/sub connection on channels and waits for the
// subscription to be confirmed.
func (r *RedisClient) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	pubsub := r.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return pubsub, nil
}

// Ping checks the connection.
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (r *RedisClient) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
