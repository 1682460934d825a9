package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

// RedisTransport relays events over a Redis pub/sub channel.
type RedisTransport struct {
	client  *redis.Client
	channel string
}

func NewRedisTransport(client *redis.Client, channel string) *RedisTransport {
	return &RedisTransport{client: client, channel: channel}
}

func (t *RedisTransport) Publish(ctx context.Context, payload []byte) error {
	return t.client.Publish(ctx, t.channel, payload).Err()
}

func (t *RedisTransport) Subscribe(ctx context.Context, deliver func()) (func() error, error) {
	ps := t.client.Subscribe(ctx, t.channel)

	// wait for the subscription confirmation so no event published after
	// Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", t.channel, err)
	}

	ch := ps.Channel()
	go func() {
		for range ch {
			deliver()
		}
	}()

	return ps.Close, nil
}

func (t *RedisTransport) Close() error {
	return t.client.Close()
}
