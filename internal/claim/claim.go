package claim

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/annel0/mmo-claims/internal/vec"
)

// Claim представляет заявку на территорию: осеориентированный объём
// с владельцем, списками доверия и необязательным родителем.
//
// Геометрия меняется только целиком (атомарная замена границ под блокировкой),
// поэтому конкурентные поисковые запросы никогда не видят полуобновлённую заявку.
type Claim struct {
	// ID уникален в пределах мира, назначается менеджером и неизменен.
	ID int64
	// WorldID — идентификатор мира, в координатах которого заданы границы.
	WorldID string

	mu sync.RWMutex

	// ownerID — стабильный идентификатор владельца.
	// Пустая строка означает административную заявку.
	ownerID string

	bounds Bounds

	parent   *Claim
	children []*Claim

	// trust — записи доверия по уровням. nil означает «не объявлено»:
	// подраздел с nil наследует списки родителя; явно объявленные
	// (пусть и пустые) списки наследование отменяют.
	trust map[TrustLevel]map[string]struct{}

	// inDataStore истинно, пока заявка зарегистрирована в авторитетном
	// in-memory индексе. Отсоединённый экземпляр (в процессе удаления,
	// осиротевший при загрузке) имеет false.
	inDataStore bool

	// version растёт при каждом изменении геометрии; используется для
	// инвалидации слабых ссылок из кэша «последней заявки» игрока.
	version atomic.Uint64

	// watchers — идентификаторы игроков, наблюдающих визуализацию границ.
	// Состояние не персистится.
	watchers map[string]struct{}
}

// NewClaim создаёт заявку верхнего уровня с объявленными (пустыми) списками доверия
func NewClaim(worldID string, ownerID string, a, b vec.Vec3) *Claim {
	c := &Claim{
		WorldID:  worldID,
		ownerID:  ownerID,
		bounds:   NewBounds(a, b),
		watchers: make(map[string]struct{}),
	}
	c.declareTrust()
	return c
}

// NewSubdivision создаёт подраздел без собственных списков доверия (наследует родителя).
// Привязка к родителю выполняется менеджером при добавлении.
func NewSubdivision(worldID string, a, b vec.Vec3) *Claim {
	return &Claim{
		WorldID:  worldID,
		bounds:   NewBounds(a, b),
		watchers: make(map[string]struct{}),
	}
}

func (c *Claim) declareTrust() {
	c.trust = make(map[TrustLevel]map[string]struct{}, len(AllTrustLevels))
	for _, lvl := range AllTrustLevels {
		c.trust[lvl] = make(map[string]struct{})
	}
}

// Bounds возвращает текущие границы (консистентный снимок)
func (c *Claim) Bounds() Bounds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bounds
}

// setBounds атомарно заменяет границы и повышает версию.
// Вызывается только менеджером мира под его блокировкой мутаций.
func (c *Claim) setBounds(b Bounds) {
	c.mu.Lock()
	c.bounds = b
	c.mu.Unlock()
	c.version.Add(1)
}

// Version возвращает счётчик версий геометрии
func (c *Claim) Version() uint64 {
	return c.version.Load()
}

// Contains проверяет, лежит ли позиция внутри заявки
func (c *Claim) Contains(pos vec.Vec3, ignoreHeight bool) bool {
	return c.Bounds().Contains(pos, ignoreHeight)
}

// Parent возвращает родительскую заявку или nil для заявки верхнего уровня
func (c *Claim) Parent() *Claim {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parent
}

// IsSubdivision сообщает, является ли заявка подразделом
func (c *Claim) IsSubdivision() bool {
	return c.Parent() != nil
}

// Children возвращает снимок списка подразделов
func (c *Claim) Children() []*Claim {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Claim, len(c.children))
	copy(out, c.children)
	return out
}

// OwnerID возвращает идентификатор владельца.
// Для подраздела владельцем считается владелец родительской заявки.
func (c *Claim) OwnerID() string {
	c.mu.RLock()
	owner := c.ownerID
	parent := c.parent
	c.mu.RUnlock()

	if parent != nil {
		return parent.OwnerID()
	}
	return owner
}

// IsAdminClaim сообщает, является ли заявка административной (без владельца)
func (c *Claim) IsAdminClaim() bool {
	return c.OwnerID() == ""
}

// setOwner переписывает владельца; вызывается менеджером при передаче
func (c *Claim) setOwner(ownerID string) {
	c.mu.Lock()
	c.ownerID = ownerID
	c.mu.Unlock()
}

// InDataStore сообщает, зарегистрирована ли заявка в авторитетном индексе
func (c *Claim) InDataStore() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inDataStore
}

func (c *Claim) setInDataStore(v bool) {
	c.mu.Lock()
	c.inDataStore = v
	c.mu.Unlock()
}

// Grant добавляет запись доверия на указанном уровне.
// Для подраздела без собственных списков предварительно объявляет их пустыми,
// отменяя наследование.
func (c *Claim) Grant(entry string, level TrustLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trust == nil {
		c.declareTrust()
	}
	for lvl := range c.trust {
		delete(c.trust[lvl], entry)
	}
	c.trust[level][entry] = struct{}{}
}

// Revoke удаляет запись доверия со всех уровней
func (c *Claim) Revoke(entry string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trust == nil {
		return
	}
	for lvl := range c.trust {
		delete(c.trust[lvl], entry)
	}
}

// TrustEntries возвращает отсортированный список записей уровня.
// Для подраздела с наследованием возвращает записи родителя.
func (c *Claim) TrustEntries(level TrustLevel) []string {
	c.mu.RLock()
	trust := c.trust
	parent := c.parent
	c.mu.RUnlock()

	if trust == nil {
		if parent != nil {
			return parent.TrustEntries(level)
		}
		return nil
	}

	entries := make([]string, 0, len(trust[level]))
	c.mu.RLock()
	for e := range trust[level] {
		entries = append(entries, e)
	}
	c.mu.RUnlock()
	sort.Strings(entries)
	return entries
}

// DeclaredTrustEntries возвращает только собственные записи уровня,
// без наследования: nil для подраздела, наследующего родителя.
// Используется сериализацией.
func (c *Claim) DeclaredTrustEntries(level TrustLevel) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.trust == nil {
		return nil
	}
	entries := make([]string, 0, len(c.trust[level]))
	for e := range c.trust[level] {
		entries = append(entries, e)
	}
	sort.Strings(entries)
	return entries
}

// RestoreTrust загружает объявленные списки доверия из хранилища.
// Подраздел, у которого все четыре списка пусты, остаётся наследующим.
func (c *Claim) RestoreTrust(entries map[TrustLevel][]string) {
	declared := false
	for _, list := range entries {
		if len(list) > 0 {
			declared = true
			break
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !declared && c.trust == nil {
		return
	}
	if c.trust == nil {
		c.trust = make(map[TrustLevel]map[string]struct{}, len(AllTrustLevels))
	}
	for _, lvl := range AllTrustLevels {
		set := make(map[string]struct{}, len(entries[lvl]))
		for _, e := range entries[lvl] {
			set[e] = struct{}{}
		}
		c.trust[lvl] = set
	}
}

// hasTrustDeclared сообщает, объявлены ли у заявки собственные списки
func (c *Claim) hasTrustDeclared() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trust != nil
}

// trustedAt проверяет наличие одной из записей на уровне level или выше.
// Учитывает наследование списков родителя подразделом.
func (c *Claim) trustedAt(level TrustLevel, entries []string) bool {
	c.mu.RLock()
	trust := c.trust
	parent := c.parent
	c.mu.RUnlock()

	if trust == nil {
		if parent != nil {
			return parent.trustedAt(level, entries)
		}
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, lvl := range AllTrustLevels {
		if !lvl.Covers(level) {
			continue
		}
		set := c.trust[lvl]
		for _, e := range entries {
			if _, ok := set[e]; ok {
				return true
			}
		}
	}
	return false
}

// AddWatcher регистрирует наблюдателя визуализации границ
func (c *Claim) AddWatcher(playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchers == nil {
		c.watchers = make(map[string]struct{})
	}
	c.watchers[playerID] = struct{}{}
}

// RemoveWatcher снимает наблюдателя визуализации границ
func (c *Claim) RemoveWatcher(playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.watchers, playerID)
}

// Watchers возвращает снимок наблюдателей визуализации
func (c *Claim) Watchers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.watchers))
	for id := range c.watchers {
		out = append(out, id)
	}
	return out
}

// Area возвращает площадь горизонтальной проекции заявки в блоках
func (c *Claim) Area() int {
	return c.Bounds().Area()
}
