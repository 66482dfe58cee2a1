package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/annel0/mmo-claims/internal/claim"
	"github.com/annel0/mmo-claims/internal/eventbus"
	"github.com/annel0/mmo-claims/internal/logging"
	"github.com/annel0/mmo-claims/internal/storage"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSPresence получает список игроков в сети от игрового сервера.
// Игровой сервер публикует полный снимок ростера JSON-массивом
// в subject; снимок старше freshness считается устаревшим и
// трактуется как пустой ростер.
type NATSPresence struct {
	conn      *nats.Conn
	sub       *nats.Subscription
	freshness time.Duration

	mu       sync.RWMutex
	roster   []OnlinePlayer
	received time.Time
}

// DefaultPresenceSubject — subject снимков ростера по умолчанию.
const DefaultPresenceSubject = "claims.presence.roster"

// NewNATSPresence подключается к NATS и подписывается на снимки ростера
func NewNATSPresence(url, subject string, freshness time.Duration) (*NATSPresence, error) {
	if subject == "" {
		subject = DefaultPresenceSubject
	}
	if freshness <= 0 {
		freshness = 10 * time.Minute
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	p := &NATSPresence{conn: conn, freshness: freshness}
	p.sub, err = conn.Subscribe(subject, p.onSnapshot)
	if err != nil {
		conn.Close()
		return nil, err
	}

	logging.Info("📡 Подписка на ростер игроков: %s", subject)
	return p, nil
}

func (p *NATSPresence) onSnapshot(msg *nats.Msg) {
	var roster []OnlinePlayer
	if err := json.Unmarshal(msg.Data, &roster); err != nil {
		logging.Warn("⚠️  Некорректный снимок ростера: %v", err)
		return
	}

	p.mu.Lock()
	p.roster = roster
	p.received = time.Now()
	p.mu.Unlock()
}

// OnlinePlayers возвращает последний свежий снимок ростера
func (p *NATSPresence) OnlinePlayers(ctx context.Context) []OnlinePlayer {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if time.Since(p.received) > p.freshness {
		return nil
	}
	roster := make([]OnlinePlayer, len(p.roster))
	copy(roster, p.roster)
	return roster
}

// Close отписывается и закрывает соединение
func (p *NATSPresence) Close() {
	if p.sub != nil {
		p.sub.Unsubscribe()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// BusRevertSender доставляет сбросы визуализации через шину событий:
// игровой сервер подписан на события VisualizationRevert и убирает
// псевдоблоки у клиента.
type BusRevertSender struct {
	bus eventbus.EventBus
}

// EventVisualizationRevert — тип события сброса визуализации.
const EventVisualizationRevert = "VisualizationRevert"

// NewBusRevertSender создаёт отправитель сбросов поверх шины
func NewBusRevertSender(bus eventbus.EventBus) *BusRevertSender {
	return &BusRevertSender{bus: bus}
}

// SendRevert публикует событие сброса визуализации игрока
func (s *BusRevertSender) SendRevert(playerID string, elements []claim.VisualElement) {
	payload, err := json.Marshal(map[string]interface{}{
		"player_id": playerID,
		"elements":  elements,
	})
	if err != nil {
		logging.Error("Сериализация сброса визуализации: %v", err)
		return
	}

	ev := &eventbus.Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    "claims-tasks",
		EventType: EventVisualizationRevert,
		Version:   1,
		Payload:   payload,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.bus.Publish(ctx, ev); err != nil {
		logging.Error("Публикация сброса визуализации игрока %s: %v", playerID, err)
	}
}

// EventVisualizationShown — игровой сервер показал игроку псевдоблоки
// границ заявки.
const EventVisualizationShown = "VisualizationShown"

// События игрового сервера, управляющие спавн-иммунитетом
const (
	EventPlayerSpawned = "PlayerSpawned"
	EventPlayerCombat  = "PlayerCombat"
)

type visualizationPayload struct {
	PlayerID string                `json:"player_id"`
	Elements []claim.VisualElement `json:"elements"`
}

type playerEventPayload struct {
	PlayerID       string `json:"player_id"`
	EmptyInventory bool   `json:"empty_inventory"`
}

// StartEventBridge подписывает задачу на события показа визуализации:
// каждый показ регистрируется у игрока и ставится на автосброс
func (t *VisualRevertTask) StartEventBridge(bus eventbus.EventBus, ds *storage.DataStore) error {
	sub, err := bus.Subscribe(context.Background(),
		eventbus.Filter{Types: []string{EventVisualizationShown}},
		func(ctx context.Context, ev *eventbus.Envelope) {
			var p visualizationPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				logging.Warn("⚠️  Некорректное событие %s: %v", ev.EventType, err)
				return
			}
			if p.PlayerID == "" || len(p.Elements) == 0 {
				return
			}
			pd, err := ds.GetOrCreatePlayerData(ctx, p.PlayerID)
			if err != nil {
				logging.Error("Показ визуализации игроку %s: %v", p.PlayerID, err)
				return
			}
			pd.SetVisualization(p.Elements)
			t.Schedule(pd)
		})
	if err != nil {
		return err
	}
	t.busSub = sub
	logging.Info("🔗 Мост показов визуализации → автосброс активирован")
	return nil
}

// StartEventBridge подписывает задачу на события игрового сервера:
// спавн с пустым инвентарём выдаёт иммунитет, вступление в бой снимает
func (t *PvPImmunityTask) StartEventBridge(bus eventbus.EventBus) error {
	sub, err := bus.Subscribe(context.Background(),
		eventbus.Filter{Types: []string{EventPlayerSpawned, EventPlayerCombat}},
		func(ctx context.Context, ev *eventbus.Envelope) {
			var p playerEventPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				logging.Warn("⚠️  Некорректное событие %s: %v", ev.EventType, err)
				return
			}
			if p.PlayerID == "" {
				return
			}
			switch ev.EventType {
			case EventPlayerSpawned:
				if !p.EmptyInventory {
					return
				}
				if err := t.Grant(ctx, p.PlayerID); err != nil {
					logging.Error("Выдача PvP-иммунитета игроку %s: %v", p.PlayerID, err)
				}
			case EventPlayerCombat:
				if err := t.Revoke(ctx, p.PlayerID); err != nil {
					logging.Error("Снятие PvP-иммунитета с %s: %v", p.PlayerID, err)
				}
			}
		})
	if err != nil {
		return err
	}
	t.busSub = sub
	logging.Info("🔗 Мост событий игроков → PvP-иммунитет активирован")
	return nil
}
