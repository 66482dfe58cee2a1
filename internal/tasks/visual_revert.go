package tasks

import (
	"sync"
	"time"

	"github.com/annel0/mmo-claims/internal/claim"
	"github.com/annel0/mmo-claims/internal/eventbus"
)

// RevertSender доставляет игроку сброс псевдоблоков визуализации границ.
// Реализуется транспортным слоем игрового сервера.
type RevertSender interface {
	SendRevert(playerID string, elements []claim.VisualElement)
}

// VisualRevertTask автоматически сбрасывает визуализацию границ заявки
// через заданное время после показа, чтобы псевдоблоки не оставались
// на клиенте навсегда.
type VisualRevertTask struct {
	sender RevertSender
	delay  time.Duration
	busSub eventbus.Subscription

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewVisualRevertTask создаёт задачу с задержкой сброса delay
func NewVisualRevertTask(sender RevertSender, delay time.Duration) *VisualRevertTask {
	if delay <= 0 {
		delay = time.Minute
	}
	return &VisualRevertTask{
		sender: sender,
		delay:  delay,
		timers: make(map[string]*time.Timer),
	}
}

// Schedule ставит визуализацию игрока на автосброс.
// Повторный показ перезапускает таймер.
func (t *VisualRevertTask) Schedule(pd *claim.PlayerData) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[pd.PlayerID]; ok {
		timer.Stop()
	}
	t.timers[pd.PlayerID] = time.AfterFunc(t.delay, func() {
		t.revert(pd)
	})
}

// Cancel снимает игрока с автосброса без отправки сброса
// (игрок отключился, клиент сам забудет псевдоблоки)
func (t *VisualRevertTask) Cancel(playerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[playerID]; ok {
		timer.Stop()
		delete(t.timers, playerID)
	}
}

func (t *VisualRevertTask) revert(pd *claim.PlayerData) {
	t.mu.Lock()
	delete(t.timers, pd.PlayerID)
	t.mu.Unlock()

	elements := pd.TakeVisualization()
	if len(elements) == 0 {
		return
	}
	if t.sender != nil {
		t.sender.SendRevert(pd.PlayerID, elements)
	}
}

// Stop отписывается от шины и останавливает все таймеры
func (t *VisualRevertTask) Stop() {
	if t.busSub != nil {
		t.busSub.Unsubscribe()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}
