package memory

import (
	"context"
	"sync"
	"time"
)

type item struct {
	val string
	exp time.Time
}

// Client — кеш дашборда в памяти процесса (для -dev без Redis).
type Client struct {
	mu     sync.RWMutex
	ttl    time.Duration
	recent map[string]item
}

func New(ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Client{ttl: ttl, recent: make(map[string]item)}
}

func (c *Client) Close() error { return nil }

func (c *Client) GetRecentMessages(ctx context.Context, freelancerID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.recent[freelancerID]
	if !ok || time.Now().After(v.exp) {
		return "", nil
	}
	return v.val, nil
}

func (c *Client) SetRecentMessages(ctx context.Context, freelancerID, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent[freelancerID] = item{val: payload, exp: time.Now().Add(c.ttl)}
	return nil
}

func (c *Client) InvalidateRecentMessages(ctx context.Context, freelancerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.recent, freelancerID)
	return nil
}
