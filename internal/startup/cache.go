package startup

import (
	"context"
	"time"

	"github.com/clientportal/internal/logger"
	"github.com/clientportal/internal/storage"
	"github.com/clientportal/internal/storage/memory"
	redisstorage "github.com/clientportal/internal/storage/redis"
)

// ConnectCache подключает кеш дашборда: Redis по URL, иначе — память процесса.
// Кеш не критичен, поэтому при недоступном Redis процесс не падает, а деградирует в memory.
func ConnectCache(redisURL string, ttl time.Duration) storage.PortalCache {
	if redisURL == "" {
		logger.Info("cache: REDIS_URL не задан, используется кеш в памяти")
		return memory.New(ttl)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := redisstorage.New(ctx, redisURL, ttl)
	if err != nil {
		logger.Errorf("cache: redis недоступен (%v), используется кеш в памяти", err)
		return memory.New(ttl)
	}
	logger.Info("cache: redis подключен")
	return client
}
