package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"habitly/internal/logging"
)

// Client is the single Redis connection pool shared by the activity cache,
// the event publisher and the workers.
type Client struct {
	*redis.Client
}

// Connect parses a redis:// URL and pings the server so startup fails fast.
func Connect(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	c := &Client{Client: redis.NewClient(opts)}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Client.Ping(pingCtx).Err(); err != nil {
		c.Client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logging.For("Redis").WithField("addr", opts.Addr).Info("Connected to Redis")
	return c, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}
