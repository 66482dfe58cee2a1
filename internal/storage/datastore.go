package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/mmo-claims/internal/cache"
	"github.com/annel0/mmo-claims/internal/claim"
	"github.com/annel0/mmo-claims/internal/directory"
	"github.com/annel0/mmo-claims/internal/eventbus"
	"github.com/annel0/mmo-claims/internal/logging"
	"github.com/annel0/mmo-claims/internal/vec"
)

// Options — зависимости и параметры DataStore.
// Обязателен только Backend; остальное опционально.
type Options struct {
	Backend   Backend
	Bus       eventbus.EventBus       // шина событий заявок
	Directory directory.UserDirectory // справочник для миграции имя→UUID
	Cache     cache.CacheRepo         // горячий кэш записей игроков

	// WorldModes перечисляет известные миры и их режимы. Пустая карта
	// означает «все миры известны», режим по умолчанию — survival.
	WorldModes map[string]claim.WorldMode

	InitialBlocks    int // стартовые блоки нового игрока
	MaxAccruedBlocks int // потолок накопления (<=0 — без лимита)
}

// DataStore — единственная точка доступа к заявкам и записям игроков.
// Читающие операции (поиск заявки, разрешение прав) не блокируются
// дисковым вводом-выводом; все мутации сериализуются writeMu и
// записываются синхронно до возврата.
type DataStore struct {
	opts Options

	// writeMu сериализует мутации хранилища
	writeMu sync.Mutex

	managersMu sync.RWMutex
	managers   map[string]*claim.ClaimWorldManager

	playersMu sync.Mutex
	players   map[string]*claim.PlayerData

	groupMu    sync.RWMutex
	groupBonus map[string]int

	idMu        sync.Mutex
	nextClaimID int64
}

const playerCacheTTL = 10 * time.Minute

// NewDataStore создаёт DataStore; Initialize должен быть вызван до использования
func NewDataStore(opts Options) *DataStore {
	return &DataStore{
		opts:        opts,
		managers:    make(map[string]*claim.ClaimWorldManager),
		players:     make(map[string]*claim.PlayerData),
		groupBonus:  make(map[string]int),
		nextClaimID: 1,
	}
}

// Initialize открывает хранилище, прогоняет миграции и загружает все
// заявки в память. Заявки верхнего уровня восстанавливаются первыми,
// затем к ним привязываются подразделы. Повреждённые записи, заявки
// неизвестных миров и осиротевшие подразделы логируются и удаляются.
func (ds *DataStore) Initialize(ctx context.Context) error {
	version, err := ds.opts.Backend.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("инициализация хранилища: %w", err)
	}
	logging.Info("📦 Хранилище открыто, версия схемы: %d", version)

	if err := Migrate(ctx, ds.opts.Backend, ds.opts.Directory, version); err != nil {
		return fmt.Errorf("миграция схемы: %w", err)
	}

	next, err := ds.opts.Backend.NextClaimID(ctx)
	if err != nil {
		return fmt.Errorf("чтение счётчика идентификаторов: %w", err)
	}
	ds.nextClaimID = next

	records, err := ds.opts.Backend.LoadAllClaims(ctx, func(id int64, loadErr error) {
		logging.Warn("⚠️  Повреждённая запись заявки #%d удалена: %v", id, loadErr)
	})
	if err != nil {
		return fmt.Errorf("загрузка заявок: %w", err)
	}

	var topLevel, subdivisions []ClaimRecord
	for _, rec := range records {
		if rec.ParentID == TopLevelParentID {
			topLevel = append(topLevel, rec)
		} else {
			subdivisions = append(subdivisions, rec)
		}
	}

	loaded := 0
	for _, rec := range topLevel {
		c, worldID, err := ClaimFromRecord(rec)
		if err != nil {
			logging.Warn("⚠️  Запись заявки #%d не читается, удаляется: %v", rec.ID, err)
			ds.deleteRecord(ctx, rec.ID)
			continue
		}
		if !ds.worldKnown(worldID) {
			logging.Warn("⚠️  Заявка #%d ссылается на неизвестный мир %q, удаляется", rec.ID, worldID)
			ds.deleteRecord(ctx, rec.ID)
			continue
		}

		mgr := ds.managerFor(worldID)
		if err := mgr.AddClaim(c, false); err != nil {
			// Унаследованные данные могут нарушать непересечение;
			// конфликтная заявка не регистрируется, но и не удаляется.
			logging.Warn("⚠️  Заявка #%d не зарегистрирована: %v", rec.ID, err)
			continue
		}
		ds.bumpNextClaimID(rec.ID + 1)
		loaded++
	}

	for _, rec := range subdivisions {
		sub, worldID, err := ClaimFromRecord(rec)
		if err != nil {
			logging.Warn("⚠️  Запись подраздела #%d не читается, удаляется: %v", rec.ID, err)
			ds.deleteRecord(ctx, rec.ID)
			continue
		}

		parent, mgr := ds.lookupClaim(worldID, rec.ParentID)
		if parent == nil {
			// Мир подраздела может отличаться от мира родителя только
			// из-за порчи данных; ищем родителя по всем мирам.
			parent, mgr = ds.lookupClaimAnyWorld(rec.ParentID)
		}
		if parent == nil {
			logging.Warn("⚠️  Подраздел #%d осиротел (родитель #%d не найден), удаляется", rec.ID, rec.ParentID)
			ds.deleteRecord(ctx, rec.ID)
			continue
		}

		if err := mgr.AddSubdivision(parent, sub, false); err != nil {
			logging.Warn("⚠️  Подраздел #%d вне границ родителя #%d, удаляется: %v", rec.ID, rec.ParentID, err)
			ds.deleteRecord(ctx, rec.ID)
			continue
		}
		ds.bumpNextClaimID(rec.ID + 1)
		loaded++
	}

	// Групповые бонусы загружаются целиком; записи игроков — лениво.
	playerRecords, err := ds.opts.Backend.LoadAllPlayers(ctx)
	if err != nil {
		return fmt.Errorf("загрузка записей игроков: %w", err)
	}
	groups := 0
	for _, rec := range playerRecords {
		if rec.IsGroupRecord() {
			ds.groupBonus[rec.GroupName()] = rec.BonusBlocks
			groups++
		}
	}

	if err := ds.opts.Backend.SetNextClaimID(ctx, ds.nextClaimID); err != nil {
		return fmt.Errorf("запись счётчика идентификаторов: %w", err)
	}

	logging.Info("✅ Загружено заявок: %d, групповых бонусов: %d, следующий ID: %d",
		loaded, groups, ds.nextClaimID)
	return nil
}

func (ds *DataStore) deleteRecord(ctx context.Context, id int64) {
	if err := ds.opts.Backend.DeleteClaim(ctx, id); err != nil {
		logging.Error("Не удалось удалить запись заявки #%d: %v", id, err)
	}
}

// worldKnown сообщает, сконфигурирован ли мир.
// Пустая конфигурация миров принимает всё.
func (ds *DataStore) worldKnown(worldID string) bool {
	if len(ds.opts.WorldModes) == 0 {
		return true
	}
	_, ok := ds.opts.WorldModes[worldID]
	return ok
}

// WorldMode возвращает режим мира (survival по умолчанию)
func (ds *DataStore) WorldMode(worldID string) claim.WorldMode {
	if mode, ok := ds.opts.WorldModes[worldID]; ok {
		return mode
	}
	return claim.ModeSurvival
}

// GetClaimWorldManager возвращает менеджер заявок мира, создавая его при
// необходимости. Для неизвестного мира возвращает nil.
func (ds *DataStore) GetClaimWorldManager(worldID string) *claim.ClaimWorldManager {
	if !ds.worldKnown(worldID) {
		return nil
	}
	return ds.managerFor(worldID)
}

func (ds *DataStore) managerFor(worldID string) *claim.ClaimWorldManager {
	ds.managersMu.RLock()
	mgr, ok := ds.managers[worldID]
	ds.managersMu.RUnlock()
	if ok {
		return mgr
	}

	ds.managersMu.Lock()
	defer ds.managersMu.Unlock()
	if mgr, ok = ds.managers[worldID]; ok {
		return mgr
	}
	mgr = claim.NewClaimWorldManager(worldID, ds)
	ds.managers[worldID] = mgr
	return mgr
}

func (ds *DataStore) lookupClaim(worldID string, id int64) (*claim.Claim, *claim.ClaimWorldManager) {
	ds.managersMu.RLock()
	mgr, ok := ds.managers[worldID]
	ds.managersMu.RUnlock()
	if !ok {
		return nil, nil
	}
	c, found := mgr.LookupByID(id)
	if !found {
		return nil, mgr
	}
	return c, mgr
}

func (ds *DataStore) lookupClaimAnyWorld(id int64) (*claim.Claim, *claim.ClaimWorldManager) {
	ds.managersMu.RLock()
	defer ds.managersMu.RUnlock()
	for _, mgr := range ds.managers {
		if c, ok := mgr.LookupByID(id); ok {
			return c, mgr
		}
	}
	return nil, nil
}

// FindClaimByID ищет заявку по идентификатору.
// Пустой worldID ищет по всем мирам.
func (ds *DataStore) FindClaimByID(worldID string, id int64) (*claim.Claim, bool) {
	if worldID != "" {
		c, _ := ds.lookupClaim(worldID, id)
		return c, c != nil
	}
	c, _ := ds.lookupClaimAnyWorld(id)
	return c, c != nil
}

// GetClaimAt возвращает самую специфичную заявку в позиции или nil.
// Если передан pd, используется и обновляется его кэш последней заявки.
func (ds *DataStore) GetClaimAt(worldID string, pos vec.Vec3, ignoreHeight bool, pd *claim.PlayerData) *claim.Claim {
	mgr := ds.GetClaimWorldManager(worldID)
	if mgr == nil {
		return nil
	}

	var hint *claim.Claim
	if pd != nil {
		hint = pd.LastClaimHint()
		if hint != nil && hint.WorldID != worldID {
			hint = nil
		}
	}

	c := mgr.GetClaimAt(pos, ignoreHeight, hint)
	if pd != nil && c != nil {
		pd.CacheLastClaim(c)
	}
	return c
}

// === Мутации заявок ===

// CreateClaim создаёт заявку верхнего уровня и синхронно сохраняет её.
// Пустой ownerID создаёт административную заявку.
func (ds *DataStore) CreateClaim(ctx context.Context, worldID, ownerID string, a, b vec.Vec3) (*claim.Claim, error) {
	mgr := ds.GetClaimWorldManager(worldID)
	if mgr == nil {
		return nil, fmt.Errorf("неизвестный мир %q", worldID)
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	c := claim.NewClaim(worldID, ownerID, a, b)
	c.ID = ds.allocateClaimID(ctx)
	if err := mgr.AddClaim(c, true); err != nil {
		return nil, err
	}

	ds.publishClaimEvent(ctx, EventClaimCreated, c, nil)
	return c, nil
}

// CreateSubdivision создаёт подраздел внутри родительской заявки
func (ds *DataStore) CreateSubdivision(ctx context.Context, parent *claim.Claim, a, b vec.Vec3) (*claim.Claim, error) {
	mgr := ds.GetClaimWorldManager(parent.WorldID)
	if mgr == nil {
		return nil, fmt.Errorf("неизвестный мир %q", parent.WorldID)
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	sub := claim.NewSubdivision(parent.WorldID, a, b)
	sub.ID = ds.allocateClaimID(ctx)
	if err := mgr.AddSubdivision(parent, sub, true); err != nil {
		return nil, err
	}

	ds.publishClaimEvent(ctx, EventClaimCreated, sub, nil)
	return sub, nil
}

// DeleteClaim удаляет заявку. Родитель с подразделами удаляется только
// при cascade=true; иначе возвращается HasChildrenError.
//
// releaseBlocks возвращает площадь заявки владельцу бонусными блоками:
// удаление «с компенсацией» для административных сносов. Подразделы и
// административные заявки компенсации не порождают.
func (ds *DataStore) DeleteClaim(ctx context.Context, c *claim.Claim, cascade, releaseBlocks bool) error {
	mgr := ds.GetClaimWorldManager(c.WorldID)
	if mgr == nil {
		return fmt.Errorf("неизвестный мир %q", c.WorldID)
	}

	children := len(c.Children())
	owner := c.OwnerID()
	area := c.Area()

	ds.writeMu.Lock()
	if err := mgr.DeleteClaim(c, cascade); err != nil {
		ds.writeMu.Unlock()
		return err
	}
	ds.writeMu.Unlock()

	if releaseBlocks && !c.IsSubdivision() && owner != "" {
		if err := ds.releaseClaimBlocks(ctx, owner, area); err != nil {
			logging.Error("Возврат %d блоков владельцу %s: %v", area, owner, err)
		}
	}

	ds.publishClaimEvent(ctx, EventClaimDeleted, c, func(p *ClaimEventPayload) {
		p.Cascade = cascade
		p.ChildrenCut = children
	})
	return nil
}

// releaseClaimBlocks зачисляет площадь удалённой заявки в бонусный
// баланс владельца и сразу сохраняет запись
func (ds *DataStore) releaseClaimBlocks(ctx context.Context, ownerID string, area int) error {
	pd, err := ds.GetOrCreatePlayerData(ctx, ownerID)
	if err != nil {
		return err
	}
	pd.SetBonusBlocks(pd.BonusBlocks() + area)
	return ds.SavePlayerData(ctx, pd)
}

// ResizeClaim атомарно заменяет границы заявки, повторно проверяя
// инварианты создания
func (ds *DataStore) ResizeClaim(ctx context.Context, c *claim.Claim, a, b vec.Vec3) error {
	mgr := ds.GetClaimWorldManager(c.WorldID)
	if mgr == nil {
		return fmt.Errorf("неизвестный мир %q", c.WorldID)
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	if err := mgr.ResizeClaim(c, claim.NewBounds(a, b)); err != nil {
		return err
	}

	ds.publishClaimEvent(ctx, EventClaimResized, c, nil)
	return nil
}

// TransferClaimOwner передаёт заявку верхнего уровня новому владельцу.
// Пустой newOwnerID превращает заявку в административную.
func (ds *DataStore) TransferClaimOwner(ctx context.Context, c *claim.Claim, newOwnerID string) error {
	mgr := ds.GetClaimWorldManager(c.WorldID)
	if mgr == nil {
		return fmt.Errorf("неизвестный мир %q", c.WorldID)
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	if err := mgr.TransferClaimOwner(c, newOwnerID); err != nil {
		return err
	}

	ds.publishClaimEvent(ctx, EventClaimTransferred, c, func(p *ClaimEventPayload) {
		p.NewOwnerID = newOwnerID
	})
	return nil
}

// SaveClaimTrust сохраняет заявку после изменения списков доверия
func (ds *DataStore) SaveClaimTrust(ctx context.Context, c *claim.Claim) error {
	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()
	return ds.opts.Backend.WriteClaim(ctx, RecordFromClaim(c))
}

// allocateClaimID выдаёт следующий идентификатор и фиксирует счётчик.
// Идентификаторы монотонны и никогда не переиспользуются, даже после
// удаления заявок.
func (ds *DataStore) allocateClaimID(ctx context.Context) int64 {
	ds.idMu.Lock()
	id := ds.nextClaimID
	ds.nextClaimID++
	next := ds.nextClaimID
	ds.idMu.Unlock()

	if err := ds.opts.Backend.SetNextClaimID(ctx, next); err != nil {
		logging.Error("Не удалось зафиксировать счётчик идентификаторов: %v", err)
	}
	return id
}

func (ds *DataStore) bumpNextClaimID(min int64) {
	ds.idMu.Lock()
	if min > ds.nextClaimID {
		ds.nextClaimID = min
	}
	ds.idMu.Unlock()
}

// === Реализация claim.ClaimPersister ===

// PersistClaim записывает заявку в бэкенд и горячий кэш не трогает:
// кэшируются только записи игроков
func (ds *DataStore) PersistClaim(c *claim.Claim) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return ds.opts.Backend.WriteClaim(ctx, RecordFromClaim(c))
}

// PersistClaimDeletion удаляет запись заявки
func (ds *DataStore) PersistClaimDeletion(worldID string, claimID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return ds.opts.Backend.DeleteClaim(ctx, claimID)
}

// === Записи игроков ===

func playerCacheKey(playerID string) string { return "player:" + playerID }

// GetOrCreatePlayerData возвращает кэшированную запись игрока, загружая
// её из горячего кэша или бэкенда. Новому игроку выдаются стартовые блоки.
func (ds *DataStore) GetOrCreatePlayerData(ctx context.Context, playerID string) (*claim.PlayerData, error) {
	ds.playersMu.Lock()
	if pd, ok := ds.players[playerID]; ok {
		ds.playersMu.Unlock()
		return pd, nil
	}
	ds.playersMu.Unlock()

	pd := claim.NewPlayerData(playerID, ds.opts.InitialBlocks)

	rec, found, err := ds.loadPlayerRecord(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if found {
		ApplyPlayerRecord(pd, rec, ds.opts.MaxAccruedBlocks)
	}
	// Загрузка записи — точка входа игрока: фиксируем время входа.
	pd.SetLastLogin(time.Now())

	ds.playersMu.Lock()
	defer ds.playersMu.Unlock()
	// Конкурентная загрузка того же игрока: победитель уже в карте.
	if existing, ok := ds.players[playerID]; ok {
		return existing, nil
	}
	ds.players[playerID] = pd
	return pd, nil
}

func (ds *DataStore) loadPlayerRecord(ctx context.Context, playerID string) (PlayerRecord, bool, error) {
	if ds.opts.Cache != nil {
		if data, err := ds.opts.Cache.Get(ctx, playerCacheKey(playerID)); err == nil {
			var rec PlayerRecord
			if jsonErr := json.Unmarshal(data, &rec); jsonErr == nil {
				return rec, true, nil
			}
			// Нечитаемое значение в кэше: игнорируем, идём в бэкенд.
			_ = ds.opts.Cache.Delete(ctx, playerCacheKey(playerID))
		}
	}

	rec, err := ds.opts.Backend.LoadPlayer(ctx, playerID)
	if err == ErrPlayerNotFound {
		return PlayerRecord{}, false, nil
	}
	if err != nil {
		return PlayerRecord{}, false, fmt.Errorf("загрузка записи игрока %s: %w", playerID, err)
	}

	ds.cachePlayerRecord(ctx, rec)
	return rec, true, nil
}

func (ds *DataStore) cachePlayerRecord(ctx context.Context, rec PlayerRecord) {
	if ds.opts.Cache == nil {
		return
	}
	if data, err := json.Marshal(&rec); err == nil {
		if err := ds.opts.Cache.Set(ctx, playerCacheKey(rec.Key), data, playerCacheTTL); err != nil {
			logging.Debug("Кэширование записи игрока %s не удалось: %v", rec.Key, err)
		}
	}
}

// SavePlayerData синхронно записывает долговременные поля игрока
func (ds *DataStore) SavePlayerData(ctx context.Context, pd *claim.PlayerData) error {
	rec := RecordFromPlayerData(pd)

	ds.writeMu.Lock()
	err := ds.opts.Backend.SavePlayer(ctx, rec)
	ds.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("сохранение записи игрока %s: %w", pd.PlayerID, err)
	}

	ds.cachePlayerRecord(ctx, rec)
	pd.ClearDirty()
	return nil
}

// AsyncSavePlayerData сохраняет запись игрока в фоне; используется при
// отключении игрока, когда ждать записи незачем
func (ds *DataStore) AsyncSavePlayerData(playerID string) {
	ds.playersMu.Lock()
	pd, ok := ds.players[playerID]
	ds.playersMu.Unlock()
	if !ok {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := ds.SavePlayerData(ctx, pd); err != nil {
			logging.Error("Фоновое сохранение игрока %s: %v", playerID, err)
		}
	}()
}

// ClearCachedPlayerData выбрасывает запись игрока из памяти.
// Вызывается после AsyncSavePlayerData при отключении.
func (ds *DataStore) ClearCachedPlayerData(playerID string) {
	ds.playersMu.Lock()
	delete(ds.players, playerID)
	ds.playersMu.Unlock()
}

// CachedPlayers возвращает снимок записей игроков в памяти
func (ds *DataStore) CachedPlayers() []*claim.PlayerData {
	ds.playersMu.Lock()
	defer ds.playersMu.Unlock()
	out := make([]*claim.PlayerData, 0, len(ds.players))
	for _, pd := range ds.players {
		out = append(out, pd)
	}
	return out
}

// === Групповые бонусы ===

// GroupBonusBlocks возвращает сумму бонусов всех групп актёра
func (ds *DataStore) GroupBonusBlocks(groups []string) int {
	ds.groupMu.RLock()
	defer ds.groupMu.RUnlock()
	total := 0
	for _, g := range groups {
		total += ds.groupBonus[g]
	}
	return total
}

// SetGroupBonusBlocks выставляет бонус группы и сохраняет "$"-запись
func (ds *DataStore) SetGroupBonusBlocks(ctx context.Context, group string, blocks int) error {
	ds.groupMu.Lock()
	ds.groupBonus[group] = blocks
	ds.groupMu.Unlock()

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()
	return ds.opts.Backend.SavePlayer(ctx, PlayerRecord{
		Key:         GroupKeyPrefix + group,
		BonusBlocks: blocks,
	})
}

// RemainingBlocks возвращает доступный игроку остаток блоков по всем мирам
func (ds *DataStore) RemainingBlocks(pd *claim.PlayerData, groups []string) int {
	area := 0
	ds.managersMu.RLock()
	for _, mgr := range ds.managers {
		area += mgr.OwnedArea(pd.PlayerID)
	}
	ds.managersMu.RUnlock()
	return pd.RemainingBlocks(ds.GroupBonusBlocks(groups), area)
}

// PlayerHasClaims сообщает, владеет ли игрок хотя бы одной заявкой
// в любом из миров. Используется при разборе дикой местности:
// игрок без заявок в творческом мире ещё может поставить первую.
func (ds *DataStore) PlayerHasClaims(playerID string) bool {
	if playerID == "" {
		return false
	}
	ds.managersMu.RLock()
	defer ds.managersMu.RUnlock()
	for _, mgr := range ds.managers {
		if mgr.OwnedArea(playerID) > 0 {
			return true
		}
	}
	return false
}

// === Статистика и завершение ===

// Stats — сводка состояния DataStore для /stats и health-чеков
type Stats struct {
	Worlds        int   `json:"worlds"`
	Claims        int   `json:"claims"`
	CachedPlayers int   `json:"cached_players"`
	NextClaimID   int64 `json:"next_claim_id"`
}

// GetStats возвращает сводку состояния
func (ds *DataStore) GetStats() Stats {
	ds.managersMu.RLock()
	worlds := len(ds.managers)
	claims := 0
	for _, mgr := range ds.managers {
		claims += mgr.ClaimCount()
	}
	ds.managersMu.RUnlock()

	ds.playersMu.Lock()
	players := len(ds.players)
	ds.playersMu.Unlock()

	ds.idMu.Lock()
	next := ds.nextClaimID
	ds.idMu.Unlock()

	return Stats{Worlds: worlds, Claims: claims, CachedPlayers: players, NextClaimID: next}
}

// Close сбрасывает несохранённые записи игроков и закрывает бэкенд
func (ds *DataStore) Close(ctx context.Context) error {
	for _, pd := range ds.CachedPlayers() {
		if pd.Dirty() {
			if err := ds.SavePlayerData(ctx, pd); err != nil {
				logging.Error("Сохранение игрока %s при остановке: %v", pd.PlayerID, err)
			}
		}
	}

	ds.idMu.Lock()
	next := ds.nextClaimID
	ds.idMu.Unlock()
	if err := ds.opts.Backend.SetNextClaimID(ctx, next); err != nil {
		logging.Error("Фиксация счётчика идентификаторов при остановке: %v", err)
	}

	return ds.opts.Backend.Close()
}
