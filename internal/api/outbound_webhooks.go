package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/annel0/mmo-claims/internal/eventbus"
	"github.com/annel0/mmo-claims/internal/logging"
)

// OutboundWebhook представляет исходящий вебхук: внешний URL, на который
// пересылаются события жизненного цикла заявок
type OutboundWebhook struct {
	ID           uint64     `json:"id"`
	Name         string     `json:"name" binding:"required"`
	URL          string     `json:"url" binding:"required"`
	Secret       string     `json:"secret,omitempty"`
	Events       []string   `json:"events" binding:"required"` // подписка; "*" — все
	Active       bool       `json:"active"`
	Timeout      int        `json:"timeout"` // секунды
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	FailureCount int        `json:"failure_count"`
}

// OutboundWebhookEvent представляет событие для отправки
type OutboundWebhookEvent struct {
	EventType string          `json:"event_type"`
	Timestamp int64           `json:"timestamp"`
	ServerID  string          `json:"server_id"`
	Payload   json.RawMessage `json:"payload"`
	Source    string          `json:"source"`
}

// OutboundWebhookManager пересылает события заявок внешним потребителям
type OutboundWebhookManager struct {
	webhooks   map[uint64]*OutboundWebhook
	eventQueue chan OutboundWebhookEvent
	mu         sync.RWMutex
	nextID     uint64
	httpClient *http.Client
	serverID   string
	busSub     eventbus.Subscription
	stopOnce   sync.Once
}

// NewOutboundWebhookManager создает менеджер исходящих вебхуков
func NewOutboundWebhookManager(serverID, environment string) *OutboundWebhookManager {
	manager := &OutboundWebhookManager{
		webhooks:   make(map[uint64]*OutboundWebhook),
		eventQueue: make(chan OutboundWebhookEvent, 1000),
		nextID:     1,
		serverID:   serverID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	go manager.eventWorker()
	return manager
}

// StartEventBridge подписывает менеджер на шину событий заявок:
// каждое событие ставится в очередь рассылки подписанным вебхукам
func (owm *OutboundWebhookManager) StartEventBridge(bus eventbus.EventBus) error {
	sub, err := bus.Subscribe(context.Background(), eventbus.Filter{}, func(ctx context.Context, ev *eventbus.Envelope) {
		owm.enqueue(OutboundWebhookEvent{
			EventType: ev.EventType,
			Timestamp: ev.Timestamp.Unix(),
			ServerID:  owm.serverID,
			Payload:   json.RawMessage(ev.Payload),
			Source:    ev.Source,
		})
	})
	if err != nil {
		return err
	}
	owm.busSub = sub
	logging.Info("🔗 Мост событий заявок → вебхуки активирован")
	return nil
}

// AddWebhook регистрирует новый вебхук
func (owm *OutboundWebhookManager) AddWebhook(webhook OutboundWebhook) *OutboundWebhook {
	owm.mu.Lock()
	defer owm.mu.Unlock()

	webhook.ID = owm.nextID
	owm.nextID++
	webhook.CreatedAt = time.Now()
	webhook.Active = true

	if webhook.Timeout == 0 {
		webhook.Timeout = 30
	}
	if webhook.RetryCount == 0 {
		webhook.RetryCount = 3
	}

	owm.webhooks[webhook.ID] = &webhook
	return &webhook
}

// GetWebhooks возвращает список всех вебхуков
func (owm *OutboundWebhookManager) GetWebhooks() []*OutboundWebhook {
	owm.mu.RLock()
	defer owm.mu.RUnlock()

	webhooks := make([]*OutboundWebhook, 0, len(owm.webhooks))
	for _, webhook := range owm.webhooks {
		webhooks = append(webhooks, webhook)
	}
	return webhooks
}

// DeleteWebhook удаляет вебхук
func (owm *OutboundWebhookManager) DeleteWebhook(id uint64) bool {
	owm.mu.Lock()
	defer owm.mu.Unlock()

	if _, exists := owm.webhooks[id]; !exists {
		return false
	}
	delete(owm.webhooks, id)
	return true
}

// Count возвращает число зарегистрированных вебхуков
func (owm *OutboundWebhookManager) Count() int {
	owm.mu.RLock()
	defer owm.mu.RUnlock()
	return len(owm.webhooks)
}

// Stop отписывается от шины и закрывает очередь
func (owm *OutboundWebhookManager) Stop() {
	owm.stopOnce.Do(func() {
		if owm.busSub != nil {
			owm.busSub.Unsubscribe()
		}
		close(owm.eventQueue)
	})
}

func (owm *OutboundWebhookManager) enqueue(event OutboundWebhookEvent) {
	select {
	case owm.eventQueue <- event:
	default:
		logging.Warn("⚠️  Очередь вебхуков переполнена, событие %s пропущено", event.EventType)
	}
}

// eventWorker обрабатывает события из очереди
func (owm *OutboundWebhookManager) eventWorker() {
	for event := range owm.eventQueue {
		owm.processEvent(event)
	}
}

// processEvent рассылает одно событие подписанным вебхукам
func (owm *OutboundWebhookManager) processEvent(event OutboundWebhookEvent) {
	owm.mu.RLock()
	webhooks := make([]*OutboundWebhook, 0)
	for _, webhook := range owm.webhooks {
		if webhook.Active && owm.isSubscribedToEvent(webhook, event.EventType) {
			webhooks = append(webhooks, webhook)
		}
	}
	owm.mu.RUnlock()

	for _, webhook := range webhooks {
		go owm.sendToWebhook(webhook, event)
	}
}

func (owm *OutboundWebhookManager) isSubscribedToEvent(webhook *OutboundWebhook, eventType string) bool {
	for _, subscribedEvent := range webhook.Events {
		if subscribedEvent == eventType || subscribedEvent == "*" {
			return true
		}
	}
	return false
}

// sendToWebhook отправляет событие конкретному вебхуку с повторами
func (owm *OutboundWebhookManager) sendToWebhook(webhook *OutboundWebhook, event OutboundWebhookEvent) {
	jsonData, err := json.Marshal(event)
	if err != nil {
		logging.Error("Сериализация события для вебхука %s: %v", webhook.Name, err)
		return
	}

	success := false
	for attempt := 0; attempt <= webhook.RetryCount; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(webhook.Timeout)*time.Second)
		req, err := http.NewRequestWithContext(ctx, "POST", webhook.URL, bytes.NewBuffer(jsonData))
		if err != nil {
			cancel()
			logging.Error("Создание запроса для вебхука %s: %v", webhook.Name, err)
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "MMO-Claims/1.0")
		req.Header.Set("X-Event-Type", event.EventType)
		req.Header.Set("X-Server-ID", event.ServerID)
		if webhook.Secret != "" {
			req.Header.Set("X-Webhook-Signature", owm.generateSignature(jsonData, webhook.Secret))
		}

		resp, err := owm.httpClient.Do(req)
		cancel()
		if err != nil {
			logging.Warn("⚠️  Попытка %d/%d для вебхука %s: %v", attempt+1, webhook.RetryCount+1, webhook.Name, err)
			time.Sleep(time.Duration(attempt+1) * time.Second)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			success = true
			break
		}
		logging.Warn("⚠️  Вебхук %s ответил статусом %d (попытка %d/%d)",
			webhook.Name, resp.StatusCode, attempt+1, webhook.RetryCount+1)
		time.Sleep(time.Duration(attempt+1) * time.Second)
	}

	now := time.Now()
	owm.mu.Lock()
	webhook.LastUsed = &now
	if !success {
		webhook.FailureCount++
	}
	owm.mu.Unlock()

	if !success {
		logging.Error("❌ Доставка события %s вебхуку %s не удалась после %d попыток",
			event.EventType, webhook.Name, webhook.RetryCount+1)
	}
}

// generateSignature подписывает тело запроса HMAC-SHA256
func (owm *OutboundWebhookManager) generateSignature(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
