package cache

import (
	"github.com/flexprice/invoicing/internal/config"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/internal/types"
)

// NewCache builds the backend selected by cache.backend
func NewCache(cfg *config.Configuration, log *logger.Logger) (Cache, error) {
	switch cfg.Cache.Backend {
	case types.CacheBackendRedis:
		log.Infow("initializing redis cache", "address", cfg.Cache.Redis.Address)
		return NewRedisCache(cfg.Cache.Redis)
	default:
		log.Info("initializing in-memory cache")
		return NewInMemoryCache(), nil
	}
}
