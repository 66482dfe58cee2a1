package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/annel0/mmo-claims/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPresence struct {
	players []OnlinePlayer
}

func (p *staticPresence) OnlinePlayers(ctx context.Context) []OnlinePlayer {
	return p.players
}

func newAccrualStore(t *testing.T) *storage.DataStore {
	t.Helper()
	ds := storage.NewDataStore(storage.Options{
		Backend:          storage.NewMemoryBackend(),
		InitialBlocks:    0,
		MaxAccruedBlocks: 200,
	})
	require.NoError(t, ds.Initialize(context.Background()))
	return ds
}

func TestAccrualTask_RunOnce(t *testing.T) {
	ds := newAccrualStore(t)
	presence := &staticPresence{players: []OnlinePlayer{
		{ID: "active-1"},
		{ID: "active-2"},
		{ID: "afk", Idle: true},
	}}

	// 100 блоков/час при получасовом интервале — по 50 за проход
	task := NewAccrualTask(ds, presence, 100, 200, 30*time.Minute)
	task.runOnce(context.Background())

	ctx := context.Background()
	pd1, err := ds.GetOrCreatePlayerData(ctx, "active-1")
	require.NoError(t, err)
	assert.Equal(t, 50, pd1.AccruedBlocks())

	pd2, err := ds.GetOrCreatePlayerData(ctx, "active-2")
	require.NoError(t, err)
	assert.Equal(t, 50, pd2.AccruedBlocks())

	// Неактивный игрок блоки не копит
	afk, err := ds.GetOrCreatePlayerData(ctx, "afk")
	require.NoError(t, err)
	assert.Equal(t, 0, afk.AccruedBlocks())
}

func TestAccrualTask_RespectsCap(t *testing.T) {
	ds := newAccrualStore(t)
	presence := &staticPresence{players: []OnlinePlayer{{ID: "active-1"}}}

	task := NewAccrualTask(ds, presence, 100, 120, time.Hour)
	for i := 0; i < 5; i++ {
		task.runOnce(context.Background())
	}

	pd, err := ds.GetOrCreatePlayerData(context.Background(), "active-1")
	require.NoError(t, err)
	assert.Equal(t, 120, pd.AccruedBlocks(), "начисление останавливается на потолке")
}

func TestAccrualTask_TinyIntervalAccruesNothing(t *testing.T) {
	ds := newAccrualStore(t)
	presence := &staticPresence{players: []OnlinePlayer{{ID: "active-1"}}}

	// 100/час на пятисекундном интервале округляется до нуля
	task := NewAccrualTask(ds, presence, 100, 0, 5*time.Second)
	task.runOnce(context.Background())

	pd, err := ds.GetOrCreatePlayerData(context.Background(), "active-1")
	require.NoError(t, err)
	assert.Equal(t, 0, pd.AccruedBlocks())
}

func TestAccrualTask_StartStop(t *testing.T) {
	ds := newAccrualStore(t)
	task := NewAccrualTask(ds, &staticPresence{}, 100, 0, time.Hour)

	task.Start(context.Background())
	done := make(chan struct{})
	go func() {
		task.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop не завершился")
	}
}
