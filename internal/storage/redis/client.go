package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const recentKeyPrefix = "recent_msgs:"

type Client struct {
	cli *redis.Client
	ttl time.Duration
}

// New подключается к Redis и проверяет соединение. ttl — время жизни записей кеша.
func New(ctx context.Context, url string, ttl time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Client{cli: cli, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// GetRecentMessages возвращает закешированный JSON дашборда или "" при промахе.
func (c *Client) GetRecentMessages(ctx context.Context, freelancerID string) (string, error) {
	val, err := c.cli.Get(ctx, recentKeyPrefix+freelancerID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) SetRecentMessages(ctx context.Context, freelancerID, payload string) error {
	return c.cli.Set(ctx, recentKeyPrefix+freelancerID, payload, c.ttl).Err()
}

// InvalidateRecentMessages сбрасывает кеш после нового сообщения клиента.
func (c *Client) InvalidateRecentMessages(ctx context.Context, freelancerID string) error {
	return c.cli.Del(ctx, recentKeyPrefix+freelancerID).Err()
}
