package broker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Redis struct {
	client *redis.Client
	log    *zap.SugaredLogger
}

// NewRedis connects to the server at url (redis://host:port/db).
func NewRedis(ctx context.Context, url string, log *zap.SugaredLogger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{client: client, log: log}, nil
}

// Client exposes the underlying connection so other components can share it.
func (r *Redis) Client() *redis.Client { return r.client }

func (r *Redis) Publish(ctx context.Context, subject string, data []byte) error {
	return r.client.Publish(ctx, subject, data).Err()
}

func (r *Redis) Subscribe(ctx context.Context, subject string, h Handler) (func() error, error) {
	pubsub := r.client.Subscribe(ctx, subject)
	// wait for the subscription to be confirmed so no publish is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %q: %w", subject, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			h([]byte(msg.Payload))
		}
		r.log.Debugw("redis subscription closed", "subject", subject)
	}()

	return pubsub.Close, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
