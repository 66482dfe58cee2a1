package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/annel0/mmo-claims/internal/logging"
)

// NATSInvalidator реализует CacheInvalidator через NATS Pub/Sub.
// Несколько узлов, обслуживающих один кластер миров, держат свои кэши
// записей игроков согласованными: инвалидация на одном узле удаляет
// ключ на остальных.
type NATSInvalidator struct {
	conn    *nats.Conn
	config  *InvalidatorConfig
	subject string
	nodeID  string

	subscription *nats.Subscription
	handler      InvalidationHandler

	stopCh chan struct{}
	wg     sync.WaitGroup

	// Дедупликация: недавно обработанные ключи не рассылаются повторно.
	recentKeys map[string]time.Time
	keysMutex  sync.RWMutex

	publishedCount int64
	receivedCount  int64
	errorsCount    int64
}

// InvalidatorConfig содержит конфигурацию NATS invalidator.
type InvalidatorConfig struct {
	NATSURL string `yaml:"nats_url" env:"CLAIMS_CACHE_NATS_URL"`
	Subject string `yaml:"subject" env:"CLAIMS_CACHE_NATS_SUBJECT"`

	MaxReconnects int           `yaml:"max_reconnects" env:"CLAIMS_CACHE_NATS_MAX_RECONNECTS"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" env:"CLAIMS_CACHE_NATS_RECONNECT_WAIT"`

	DedupeWindow time.Duration `yaml:"dedupe_window" env:"CLAIMS_CACHE_NATS_DEDUPE_WINDOW"`

	PublishTimeout time.Duration `yaml:"publish_timeout" env:"CLAIMS_CACHE_NATS_PUBLISH_TIMEOUT"`
}

// InvalidationMessage представляет сообщение об инвалидации кэша.
type InvalidationMessage struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	Reason    string    `json:"reason,omitempty"`
}

// NewNATSInvalidator создаёт invalidator для узла nodeID
func NewNATSInvalidator(config *InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	if config.Subject == "" {
		config.Subject = "claims.cache.invalidate"
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = 10
	}
	if config.ReconnectWait == 0 {
		config.ReconnectWait = 2 * time.Second
	}
	if config.DedupeWindow == 0 {
		config.DedupeWindow = 5 * time.Second
	}
	if config.PublishTimeout == 0 {
		config.PublishTimeout = 5 * time.Second
	}

	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("⚠️  NATS отключён: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("NATS переподключён к %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("Соединение NATS закрыто")
		}),
	}

	conn, err := nats.Connect(config.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к NATS: %w", err)
	}

	invalidator := &NATSInvalidator{
		conn:       conn,
		config:     config,
		subject:    config.Subject,
		nodeID:     nodeID,
		stopCh:     make(chan struct{}),
		recentKeys: make(map[string]time.Time),
	}

	invalidator.startDedupeCleanup()

	logging.Info("NATS invalidator инициализирован: %s (subject: %s)", config.NATSURL, config.Subject)
	return invalidator, nil
}

// PublishInvalidation отправляет уведомление об инвалидации ключа.
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	if n.isDuplicate(key) {
		return nil
	}

	msg := &InvalidationMessage{
		Key:       key,
		Timestamp: time.Now(),
		NodeID:    n.nodeID,
		Reason:    "cache_invalidation",
	}

	data, err := json.Marshal(msg)
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("сериализация сообщения инвалидации: %w", err)
	}

	if err := n.conn.Publish(n.subject, data); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("публикация инвалидации: %w", err)
	}

	n.recordKey(key)
	atomic.AddInt64(&n.publishedCount, 1)
	return nil
}

// SubscribeInvalidations подписывается на уведомления об инвалидации.
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	if n.subscription != nil {
		return fmt.Errorf("подписка уже активна")
	}

	n.handler = handler

	sub, err := n.conn.Subscribe(n.subject, n.handleInvalidationMessage)
	if err != nil {
		return fmt.Errorf("подписка на инвалидации: %w", err)
	}
	n.subscription = sub

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-ctx.Done():
			n.unsubscribe()
		case <-n.stopCh:
			n.unsubscribe()
		}
	}()

	logging.Info("Подписка на инвалидации кэша активна: %s", n.subject)
	return nil
}

// Close закрывает соединение с NATS.
func (n *NATSInvalidator) Close() error {
	close(n.stopCh)
	n.wg.Wait()

	if n.subscription != nil {
		n.subscription.Unsubscribe()
	}

	n.conn.Close()
	return nil
}

// GetMetrics возвращает метрики invalidator.
func (n *NATSInvalidator) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"published_count": atomic.LoadInt64(&n.publishedCount),
		"received_count":  atomic.LoadInt64(&n.receivedCount),
		"errors_count":    atomic.LoadInt64(&n.errorsCount),
		"connected":       n.conn.IsConnected(),
		"status":          n.conn.Status(),
	}
}

func (n *NATSInvalidator) handleInvalidationMessage(msg *nats.Msg) {
	atomic.AddInt64(&n.receivedCount, 1)

	var invalidationMsg InvalidationMessage
	if err := json.Unmarshal(msg.Data, &invalidationMsg); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		logging.Error("Нечитаемое сообщение инвалидации: %v", err)
		return
	}

	// Собственные сообщения и дубликаты пропускаются.
	if invalidationMsg.NodeID == n.nodeID {
		return
	}
	if n.isDuplicate(invalidationMsg.Key) {
		return
	}
	n.recordKey(invalidationMsg.Key)

	if n.handler != nil {
		if err := n.handler(invalidationMsg.Key); err != nil {
			atomic.AddInt64(&n.errorsCount, 1)
			logging.Error("Обработчик инвалидации %s: %v", invalidationMsg.Key, err)
		}
	}
}

func (n *NATSInvalidator) unsubscribe() {
	if n.subscription != nil {
		if err := n.subscription.Unsubscribe(); err != nil {
			logging.Error("Отписка от инвалидаций: %v", err)
		}
		n.subscription = nil
	}
}

func (n *NATSInvalidator) isDuplicate(key string) bool {
	n.keysMutex.RLock()
	defer n.keysMutex.RUnlock()

	lastSeen, exists := n.recentKeys[key]
	if !exists {
		return false
	}
	return time.Since(lastSeen) < n.config.DedupeWindow
}

func (n *NATSInvalidator) recordKey(key string) {
	n.keysMutex.Lock()
	n.recentKeys[key] = time.Now()
	n.keysMutex.Unlock()
}

func (n *NATSInvalidator) startDedupeCleanup() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ticker := time.NewTicker(n.config.DedupeWindow)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n.cleanupDedupe()
			case <-n.stopCh:
				return
			}
		}
	}()
}

func (n *NATSInvalidator) cleanupDedupe() {
	n.keysMutex.Lock()
	defer n.keysMutex.Unlock()

	now := time.Now()
	for key, timestamp := range n.recentKeys {
		if now.Sub(timestamp) > n.config.DedupeWindow {
			delete(n.recentKeys, key)
		}
	}
}
