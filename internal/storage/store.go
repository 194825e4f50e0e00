package storage

import "context"

// PortalCache — эфемерный кеш дашборда (последние сообщения клиентов по фрилансеру).
// Реализации: redis.Client, memory.Client (для -dev без Redis).
type PortalCache interface {
	// GetRecentMessages возвращает закешированный JSON или "" при промахе.
	GetRecentMessages(ctx context.Context, freelancerID string) (string, error)
	SetRecentMessages(ctx context.Context, freelancerID, payload string) error
	InvalidateRecentMessages(ctx context.Context, freelancerID string) error
	Close() error
}
