// Package tasks содержит периодические задачи обслуживания заявок:
// начисление блоков, снятие PvP-иммунитета, автосброс визуализации.
// Задачи — внешние потребители ядра: они пользуются только публичным
// API DataStore и PlayerData.
package tasks

import (
	"context"
	"time"

	"github.com/annel0/mmo-claims/internal/logging"
	"github.com/annel0/mmo-claims/internal/storage"
)

// OnlinePlayer — игрок, находящийся в сети, глазами сервера присутствия
type OnlinePlayer struct {
	ID     string
	Groups []string
	// Idle истинно для игрока, не проявлявшего активности с прошлой
	// проверки; такие игроки блоки не накапливают.
	Idle bool
}

// PresenceProvider отдаёт список игроков в сети.
// Реализуется игровым сервером; тесты подставляют свою реализацию.
type PresenceProvider interface {
	OnlinePlayers(ctx context.Context) []OnlinePlayer
}

// AccrualTask периодически начисляет блоки заявок игрокам в сети.
// Начисление пропорционально интервалу и обрезается потолком накопления.
type AccrualTask struct {
	ds       *storage.DataStore
	presence PresenceProvider
	perHour  int
	cap      int
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewAccrualTask создаёт задачу начисления.
// perHour — блоков в час активной игры, cap — потолок (<=0 без лимита).
func NewAccrualTask(ds *storage.DataStore, presence PresenceProvider, perHour, cap int, interval time.Duration) *AccrualTask {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &AccrualTask{
		ds:       ds,
		presence: presence,
		perHour:  perHour,
		cap:      cap,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start запускает цикл начисления в отдельной горутине
func (t *AccrualTask) Start(ctx context.Context) {
	go t.loop(ctx)
}

// Stop останавливает задачу и дожидается завершения цикла
func (t *AccrualTask) Stop() {
	close(t.stop)
	<-t.done
}

func (t *AccrualTask) loop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.runOnce(ctx)
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runOnce выполняет один проход начисления
func (t *AccrualTask) runOnce(ctx context.Context) {
	delta := int(float64(t.perHour) * t.interval.Hours())
	if delta <= 0 {
		return
	}

	players := t.presence.OnlinePlayers(ctx)
	accrued := 0
	for _, p := range players {
		if p.Idle {
			continue
		}
		pd, err := t.ds.GetOrCreatePlayerData(ctx, p.ID)
		if err != nil {
			logging.Error("Начисление блоков игроку %s: %v", p.ID, err)
			continue
		}
		pd.Accrue(delta, t.cap)
		accrued++
	}

	if accrued > 0 {
		logging.Debug("Начислено по %d блоков %d игрокам", delta, accrued)
	}
}
