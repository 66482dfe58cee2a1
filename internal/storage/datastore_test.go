package storage

import (
	"context"
	"testing"
	"time"

	"github.com/annel0/mmo-claims/internal/claim"
	"github.com/annel0/mmo-claims/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, backend Backend) *DataStore {
	t.Helper()
	ds := NewDataStore(Options{
		Backend:          backend,
		InitialBlocks:    100,
		MaxAccruedBlocks: 2000,
	})
	require.NoError(t, ds.Initialize(context.Background()))
	return ds
}

func TestDataStore_CreateAndReloadClaims(t *testing.T) {
	backend := NewMemoryBackend()
	ds := newTestStore(t, backend)
	ctx := context.Background()

	parent, err := ds.CreateClaim(ctx, "overworld", "owner-1",
		vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 50, Y: 255, Z: 50})
	require.NoError(t, err)
	parent.Grant("friend", claim.TrustBuild)
	require.NoError(t, ds.SaveClaimTrust(ctx, parent))

	sub, err := ds.CreateSubdivision(ctx, parent,
		vec.Vec3{X: 10, Y: 0, Z: 10}, vec.Vec3{X: 20, Y: 255, Z: 20})
	require.NoError(t, err)

	// Подразделу идентификатор выдаёт общий счётчик
	assert.Greater(t, sub.ID, parent.ID)

	// Холодный перезапуск поверх того же бэкенда
	reloaded := newTestStore(t, backend)

	p2, ok := reloaded.FindClaimByID("overworld", parent.ID)
	require.True(t, ok)
	assert.Equal(t, "owner-1", p2.OwnerID())
	assert.Equal(t, []string{"friend"}, p2.TrustEntries(claim.TrustBuild))

	s2, ok := reloaded.FindClaimByID("overworld", sub.ID)
	require.True(t, ok)
	assert.True(t, s2.IsSubdivision())
	assert.Same(t, p2, s2.Parent())
	// Подраздел без собственных списков наследует родителя
	assert.Equal(t, []string{"friend"}, s2.TrustEntries(claim.TrustBuild))

	// Счётчик идентификаторов пережил перезапуск
	next, err := ds.CreateClaim(ctx, "overworld", "owner-2",
		vec.Vec3{X: 100, Y: 0, Z: 100}, vec.Vec3{X: 110, Y: 255, Z: 110})
	require.NoError(t, err)
	assert.Greater(t, next.ID, sub.ID)
}

func TestDataStore_GetClaimAtUsesPlayerHint(t *testing.T) {
	ds := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()

	c, err := ds.CreateClaim(ctx, "overworld", "owner-1",
		vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 30, Y: 255, Z: 30})
	require.NoError(t, err)

	pd, err := ds.GetOrCreatePlayerData(ctx, "player-1")
	require.NoError(t, err)

	found := ds.GetClaimAt("overworld", vec.Vec3{X: 5, Y: 64, Z: 5}, false, pd)
	assert.Same(t, c, found)
	assert.Same(t, c, pd.LastClaimHint(), "попадание кэшируется")

	// Подсказка чужого мира не применяется
	assert.Nil(t, ds.GetClaimAt("nether", vec.Vec3{X: 5, Y: 64, Z: 5}, false, pd))
}

func TestDataStore_DeleteClaimCascade(t *testing.T) {
	backend := NewMemoryBackend()
	ds := newTestStore(t, backend)
	ctx := context.Background()

	parent, err := ds.CreateClaim(ctx, "overworld", "owner-1",
		vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 50, Y: 255, Z: 50})
	require.NoError(t, err)
	_, err = ds.CreateSubdivision(ctx, parent,
		vec.Vec3{X: 10, Y: 0, Z: 10}, vec.Vec3{X: 20, Y: 255, Z: 20})
	require.NoError(t, err)

	var hasChildren *claim.HasChildrenError
	require.ErrorAs(t, ds.DeleteClaim(ctx, parent, false, false), &hasChildren)

	require.NoError(t, ds.DeleteClaim(ctx, parent, true, false))

	records, err := backend.LoadAllClaims(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, records, "каскад подчищает и записи подразделов")
}

func TestDataStore_OrphanSubdivisionDroppedOnLoad(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	// Подраздел ссылается на несуществующего родителя
	require.NoError(t, backend.WriteClaim(ctx, ClaimRecord{
		ID:            5,
		LesserCorner:  "overworld;10;0;10",
		GreaterCorner: "overworld;20;255;20",
		ParentID:      99,
	}))

	ds := newTestStore(t, backend)

	_, ok := ds.FindClaimByID("overworld", 5)
	assert.False(t, ok)

	records, err := backend.LoadAllClaims(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, records, "осиротевшая запись удалена из хранилища")
}

func TestDataStore_UnknownWorldClaimDroppedOnLoad(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	require.NoError(t, backend.WriteClaim(ctx, ClaimRecord{
		ID:            3,
		OwnerID:       "owner-1",
		LesserCorner:  "forgotten_realm;0;0;0",
		GreaterCorner: "forgotten_realm;10;255;10",
		ParentID:      TopLevelParentID,
	}))

	ds := NewDataStore(Options{
		Backend:    backend,
		WorldModes: map[string]claim.WorldMode{"overworld": claim.ModeSurvival},
	})
	require.NoError(t, ds.Initialize(ctx))

	records, err := backend.LoadAllClaims(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDataStore_OverlappingLegacyClaimSkippedButKept(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	base := ClaimRecord{
		ID:            1,
		OwnerID:       "owner-1",
		LesserCorner:  "overworld;0;0;0",
		GreaterCorner: "overworld;20;255;20",
		ParentID:      TopLevelParentID,
	}
	conflicting := ClaimRecord{
		ID:            2,
		OwnerID:       "owner-2",
		LesserCorner:  "overworld;10;0;10",
		GreaterCorner: "overworld;30;255;30",
		ParentID:      TopLevelParentID,
	}
	require.NoError(t, backend.WriteClaim(ctx, base))
	require.NoError(t, backend.WriteClaim(ctx, conflicting))

	ds := newTestStore(t, backend)

	// Зарегистрирована ровно одна из двух конфликтующих заявок
	stats := ds.GetStats()
	assert.Equal(t, 1, stats.Claims)

	// Конфликтная запись не удаляется из хранилища: данные не теряем
	records, err := backend.LoadAllClaims(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestDataStore_PlayerDataLifecycle(t *testing.T) {
	backend := NewMemoryBackend()
	ds := newTestStore(t, backend)
	ctx := context.Background()

	pd, err := ds.GetOrCreatePlayerData(ctx, "player-1")
	require.NoError(t, err)
	assert.Equal(t, 100, pd.AccruedBlocks(), "новый игрок получает стартовые блоки")

	// Повторный запрос возвращает тот же экземпляр
	again, err := ds.GetOrCreatePlayerData(ctx, "player-1")
	require.NoError(t, err)
	assert.Same(t, pd, again)

	pd.Accrue(150, 2000)
	pd.Ignore("rival", claim.IgnoreStandard)
	require.NoError(t, ds.SavePlayerData(ctx, pd))
	assert.False(t, pd.Dirty())

	// Выбрасываем из памяти и загружаем заново из бэкенда
	ds.ClearCachedPlayerData("player-1")
	restored, err := ds.GetOrCreatePlayerData(ctx, "player-1")
	require.NoError(t, err)
	assert.NotSame(t, pd, restored)
	assert.Equal(t, 250, restored.AccruedBlocks())
	assert.True(t, restored.IsIgnoring("rival"))
}

func TestDataStore_GroupBonusBlocks(t *testing.T) {
	backend := NewMemoryBackend()
	ds := newTestStore(t, backend)
	ctx := context.Background()

	require.NoError(t, ds.SetGroupBonusBlocks(ctx, "vip", 500))
	require.NoError(t, ds.SetGroupBonusBlocks(ctx, "elite", 1000))

	assert.Equal(t, 500, ds.GroupBonusBlocks([]string{"vip"}))
	assert.Equal(t, 1500, ds.GroupBonusBlocks([]string{"vip", "elite"}))
	assert.Equal(t, 0, ds.GroupBonusBlocks([]string{"mortal"}))

	// "$"-записи переживают перезапуск
	reloaded := newTestStore(t, backend)
	assert.Equal(t, 1500, reloaded.GroupBonusBlocks([]string{"vip", "elite"}))
}

func TestDataStore_RemainingBlocks(t *testing.T) {
	ds := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()

	pd, err := ds.GetOrCreatePlayerData(ctx, "owner-1")
	require.NoError(t, err)
	require.NoError(t, ds.SetGroupBonusBlocks(ctx, "vip", 50))

	// 10x10 в одном мире и 5x5 в другом
	_, err = ds.CreateClaim(ctx, "overworld", "owner-1",
		vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 9, Y: 255, Z: 9})
	require.NoError(t, err)
	_, err = ds.CreateClaim(ctx, "nether", "owner-1",
		vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 4, Y: 255, Z: 4})
	require.NoError(t, err)

	// 100 стартовых + 50 группового бонуса - 125 занятых
	assert.Equal(t, 25, ds.RemainingBlocks(pd, []string{"vip"}))
}

func TestDataStore_CloseFlushesDirtyPlayers(t *testing.T) {
	backend := NewMemoryBackend()
	ds := newTestStore(t, backend)
	ctx := context.Background()

	pd, err := ds.GetOrCreatePlayerData(ctx, "player-1")
	require.NoError(t, err)
	pd.Accrue(77, 0)
	require.True(t, pd.Dirty())

	require.NoError(t, ds.Close(ctx))

	rec, err := backend.LoadPlayer(ctx, "player-1")
	require.NoError(t, err)
	assert.Equal(t, 177, rec.AccruedBlocks)
}

func TestDataStore_DeleteClaimReleasesBlocks(t *testing.T) {
	backend := NewMemoryBackend()
	ds := newTestStore(t, backend)
	ctx := context.Background()

	// 10x10 = 100 блоков
	c, err := ds.CreateClaim(ctx, "overworld", "owner-1",
		vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 9, Y: 255, Z: 9})
	require.NoError(t, err)

	require.NoError(t, ds.DeleteClaim(ctx, c, false, true))

	pd, err := ds.GetOrCreatePlayerData(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 100, pd.BonusBlocks(), "площадь возвращается бонусными блоками")

	// Компенсация сразу сохранена в бэкенде
	rec, err := backend.LoadPlayer(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 100, rec.BonusBlocks)
}

func TestDataStore_DeleteClaimWithoutRelease(t *testing.T) {
	ds := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()

	c, err := ds.CreateClaim(ctx, "overworld", "owner-1",
		vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 9, Y: 255, Z: 9})
	require.NoError(t, err)

	require.NoError(t, ds.DeleteClaim(ctx, c, false, false))

	pd, err := ds.GetOrCreatePlayerData(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 0, pd.BonusBlocks())
}

func TestDataStore_AdminClaimDeleteNoRelease(t *testing.T) {
	ds := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()

	// Административная заявка без владельца: возвращать блоки некому
	c, err := ds.CreateClaim(ctx, "overworld", "",
		vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 9, Y: 255, Z: 9})
	require.NoError(t, err)
	require.NoError(t, ds.DeleteClaim(ctx, c, false, true))
	assert.Equal(t, 0, len(ds.CachedPlayers()), "запись игрока не создаётся")
}

func TestDataStore_LastLoginStamped(t *testing.T) {
	backend := NewMemoryBackend()
	ds := newTestStore(t, backend)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	pd, err := ds.GetOrCreatePlayerData(ctx, "player-1")
	require.NoError(t, err)
	assert.False(t, pd.LastLogin().IsZero(), "вход фиксируется при загрузке записи")
	assert.False(t, pd.LastLogin().Before(before.Truncate(time.Second)))

	// Время входа переживает сброс и перезагрузку
	require.NoError(t, ds.SavePlayerData(ctx, pd))
	stamped := pd.LastLogin()
	ds.ClearCachedPlayerData("player-1")

	rec, err := backend.LoadPlayer(ctx, "player-1")
	require.NoError(t, err)
	assert.Equal(t, stamped.Unix(), rec.LastLogin)
}
