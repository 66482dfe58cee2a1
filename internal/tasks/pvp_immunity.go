package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/mmo-claims/internal/eventbus"
	"github.com/annel0/mmo-claims/internal/logging"
	"github.com/annel0/mmo-claims/internal/storage"
)

// PvPImmunityTask снимает спавн-иммунитет по истечении срока.
// Иммунитет выдаётся игроку, появившемуся с пустым инвентарём, и
// защищает его, пока он не обустроится или не истечёт таймер.
type PvPImmunityTask struct {
	ds       *storage.DataStore
	duration time.Duration
	busSub   eventbus.Subscription

	mu      sync.Mutex
	granted map[string]time.Time

	stop chan struct{}
	done chan struct{}
}

// NewPvPImmunityTask создаёт задачу со сроком иммунитета duration
func NewPvPImmunityTask(ds *storage.DataStore, duration time.Duration) *PvPImmunityTask {
	if duration <= 0 {
		duration = time.Hour
	}
	return &PvPImmunityTask{
		ds:       ds,
		duration: duration,
		granted:  make(map[string]time.Time),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Grant выдаёт иммунитет игроку и ставит его на таймер снятия
func (t *PvPImmunityTask) Grant(ctx context.Context, playerID string) error {
	pd, err := t.ds.GetOrCreatePlayerData(ctx, playerID)
	if err != nil {
		return err
	}
	pd.SetPvPImmune(true)

	t.mu.Lock()
	t.granted[playerID] = time.Now()
	t.mu.Unlock()
	return nil
}

// Revoke немедленно снимает иммунитет (игрок атаковал первым, поднял вещи)
func (t *PvPImmunityTask) Revoke(ctx context.Context, playerID string) error {
	t.mu.Lock()
	delete(t.granted, playerID)
	t.mu.Unlock()

	pd, err := t.ds.GetOrCreatePlayerData(ctx, playerID)
	if err != nil {
		return err
	}
	pd.SetPvPImmune(false)
	return nil
}

// Start запускает периодическую проверку истечения
func (t *PvPImmunityTask) Start(ctx context.Context) {
	go t.loop(ctx)
}

// Stop отписывается от шины и останавливает задачу
func (t *PvPImmunityTask) Stop() {
	if t.busSub != nil {
		t.busSub.Unsubscribe()
	}
	close(t.stop)
	<-t.done
}

func (t *PvPImmunityTask) loop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.expire(ctx)
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (t *PvPImmunityTask) expire(ctx context.Context) {
	now := time.Now()

	t.mu.Lock()
	var expired []string
	for playerID, at := range t.granted {
		if now.Sub(at) >= t.duration {
			expired = append(expired, playerID)
			delete(t.granted, playerID)
		}
	}
	t.mu.Unlock()

	for _, playerID := range expired {
		pd, err := t.ds.GetOrCreatePlayerData(ctx, playerID)
		if err != nil {
			logging.Error("Снятие PvP-иммунитета с %s: %v", playerID, err)
			continue
		}
		pd.SetPvPImmune(false)
		logging.Debug("PvP-иммунитет игрока %s истёк", playerID)
	}
}
