// Package cache — горячий кэш записей игроков перед долговременным
// хранилищем. Снижает нагрузку на бэкенд при частых подключениях и
// поддерживает инвалидацию между узлами через Pub/Sub.
package cache

import (
	"context"
	"time"
)

// CacheRepo определяет интерфейс горячего кэша.
//
// Использование:
//
//	c, err := cache.NewRedisCache(cfg, invalidator)
//	data, err := c.Get(ctx, "player:<uuid>")
//	err = c.Set(ctx, "player:<uuid>", data, 10*time.Minute)
//	err = c.Invalidate(ctx, "player:<uuid>")
type CacheRepo interface {
	// Get получает значение по ключу.
	// Возвращает ErrCacheMiss если ключ не найден.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение с указанным TTL.
	// TTL = 0 означает отсутствие истечения.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ из кэша.
	Delete(ctx context.Context, key string) error

	// Exists проверяет существование ключа.
	Exists(ctx context.Context, key string) (bool, error)

	// Invalidate удаляет ключ и рассылает уведомление другим узлам.
	Invalidate(ctx context.Context, key string) error

	// Close закрывает соединение с кэшем.
	Close() error

	// GetMetrics возвращает метрики кэша.
	GetMetrics() *CacheMetrics
}

// CacheInvalidator управляет инвалидацией кэша через Pub/Sub.
type CacheInvalidator interface {
	// PublishInvalidation отправляет уведомление об инвалидации.
	PublishInvalidation(ctx context.Context, key string) error

	// SubscribeInvalidations подписывается на уведомления об инвалидации.
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error

	// Close закрывает соединение.
	Close() error
}

// InvalidationHandler обрабатывает уведомления об инвалидации кэша.
type InvalidationHandler func(key string) error

// CacheMetrics содержит метрики производительности кэша.
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	LastUpdate time.Time `json:"last_update"`
}

// CacheConfig содержит конфигурацию кэша.
type CacheConfig struct {
	RedisURL      string `yaml:"redis_url" env:"CLAIMS_CACHE_REDIS_URL"`
	RedisPassword string `yaml:"redis_password" env:"CLAIMS_CACHE_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"CLAIMS_CACHE_REDIS_DB"`

	DefaultTTL time.Duration `yaml:"default_ttl" env:"CLAIMS_CACHE_DEFAULT_TTL"`
	MaxTTL     time.Duration `yaml:"max_ttl" env:"CLAIMS_CACHE_MAX_TTL"`

	MaxConnections int           `yaml:"max_connections" env:"CLAIMS_CACHE_MAX_CONNECTIONS"`
	PoolTimeout    time.Duration `yaml:"pool_timeout" env:"CLAIMS_CACHE_POOL_TIMEOUT"`
}

// Ошибки кэша
var (
	ErrCacheMiss    = NewCacheError("cache miss")
	ErrCacheTimeout = NewCacheError("cache timeout")
	ErrInvalidKey   = NewCacheError("invalid key")
)

// CacheError представляет ошибку кэша.
type CacheError struct {
	Message string
}

func (e *CacheError) Error() string {
	return e.Message
}

func NewCacheError(message string) *CacheError {
	return &CacheError{Message: message}
}

// IsCacheMiss проверяет, является ли ошибка промахом кэша.
func IsCacheMiss(err error) bool {
	return err == ErrCacheMiss
}
