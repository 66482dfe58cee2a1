package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/mmo-claims/internal/logging"
)

// RedisCache реализует CacheRepo поверх Redis.
// Хранит сериализованные записи игроков; при инвалидации на одном узле
// рассылает уведомление остальным через CacheInvalidator.
type RedisCache struct {
	client      *redis.Client
	config      *CacheConfig
	invalidator CacheInvalidator

	metrics      *CacheMetrics
	metricsMutex sync.RWMutex

	latencySum   int64 // наносекунды
	latencyCount int64
	maxLatency   int64
}

// NewRedisCache создаёт кэш с опциональным invalidator (может быть nil)
func NewRedisCache(config *CacheConfig, invalidator CacheInvalidator) (*RedisCache, error) {
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 10 * time.Minute
	}
	if config.MaxTTL == 0 {
		config.MaxTTL = 1 * time.Hour
	}
	if config.MaxConnections == 0 {
		config.MaxConnections = 10
	}
	if config.PoolTimeout == 0 {
		config.PoolTimeout = 30 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	c := &RedisCache{
		client:      rdb,
		config:      config,
		invalidator: invalidator,
		metrics: &CacheMetrics{
			LastUpdate: time.Now(),
		},
	}

	// Инвалидации с других узлов применяются локальным удалением ключа.
	if invalidator != nil {
		if err := invalidator.SubscribeInvalidations(context.Background(), func(key string) error {
			return c.Delete(context.Background(), key)
		}); err != nil {
			return nil, fmt.Errorf("подписка на инвалидации: %w", err)
		}
	}

	logging.Info("✅ Redis-кэш записей игроков инициализирован: %s", config.RedisURL)
	return c, nil
}

// Get получает значение по ключу
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	start := time.Now()
	defer r.recordLatency(start)
	atomic.AddInt64(&r.metrics.TotalRequests, 1)

	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		atomic.AddInt64(&r.metrics.CacheMisses, 1)
		r.updateHitRatio()
		return nil, ErrCacheMiss
	}
	if err != nil {
		atomic.AddInt64(&r.metrics.CacheMisses, 1)
		r.updateHitRatio()
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	atomic.AddInt64(&r.metrics.CacheHits, 1)
	r.updateHitRatio()
	return data, nil
}

// Set сохраняет значение с TTL, обрезая его по MaxTTL
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	start := time.Now()
	defer r.recordLatency(start)

	if ttl == 0 {
		ttl = r.config.DefaultTTL
	}
	if r.config.MaxTTL > 0 && ttl > r.config.MaxTTL {
		ttl = r.config.MaxTTL
	}

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete удаляет ключ
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Exists проверяет существование ключа
func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Invalidate удаляет ключ локально и уведомляет остальные узлы
func (r *RedisCache) Invalidate(ctx context.Context, key string) error {
	if err := r.Delete(ctx, key); err != nil {
		return err
	}
	if r.invalidator != nil {
		if err := r.invalidator.PublishInvalidation(ctx, key); err != nil {
			logging.Warn("⚠️  Рассылка инвалидации %s не удалась: %v", key, err)
		}
	}
	return nil
}

// Close закрывает соединение с Redis
func (r *RedisCache) Close() error {
	if r.invalidator != nil {
		_ = r.invalidator.Close()
	}
	return r.client.Close()
}

// GetMetrics возвращает снимок метрик
func (r *RedisCache) GetMetrics() *CacheMetrics {
	r.updateLatencyMetrics()

	r.metricsMutex.RLock()
	defer r.metricsMutex.RUnlock()
	snapshot := *r.metrics
	snapshot.TotalRequests = atomic.LoadInt64(&r.metrics.TotalRequests)
	snapshot.CacheHits = atomic.LoadInt64(&r.metrics.CacheHits)
	snapshot.CacheMisses = atomic.LoadInt64(&r.metrics.CacheMisses)
	snapshot.LastUpdate = time.Now()
	return &snapshot
}

func (r *RedisCache) recordLatency(start time.Time) {
	elapsed := time.Since(start).Nanoseconds()
	atomic.AddInt64(&r.latencySum, elapsed)
	atomic.AddInt64(&r.latencyCount, 1)
	for {
		max := atomic.LoadInt64(&r.maxLatency)
		if elapsed <= max || atomic.CompareAndSwapInt64(&r.maxLatency, max, elapsed) {
			break
		}
	}
}

func (r *RedisCache) updateLatencyMetrics() {
	sum := atomic.LoadInt64(&r.latencySum)
	count := atomic.LoadInt64(&r.latencyCount)

	r.metricsMutex.Lock()
	defer r.metricsMutex.Unlock()
	if count > 0 {
		r.metrics.AvgLatencyMs = float64(sum) / float64(count) / 1e6
	}
	r.metrics.MaxLatencyMs = float64(atomic.LoadInt64(&r.maxLatency)) / 1e6
}

func (r *RedisCache) updateHitRatio() {
	hits := atomic.LoadInt64(&r.metrics.CacheHits)
	total := atomic.LoadInt64(&r.metrics.TotalRequests)

	r.metricsMutex.Lock()
	defer r.metricsMutex.Unlock()
	if total > 0 {
		r.metrics.HitRatio = float64(hits) / float64(total)
	}
}
