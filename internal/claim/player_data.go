package claim

import (
	"sync"
	"time"
)

// IgnoreMode различает обычное и административно-принудительное игнорирование
type IgnoreMode int

const (
	// IgnoreStandard — игрок добавил запись сам и может её убрать
	IgnoreStandard IgnoreMode = iota
	// IgnoreAdmin — запись поставлена администратором и снимается только им
	IgnoreAdmin
)

// PlayerData — кэшируемое состояние пары (игрок, набор миров).
// Долговременные поля (блоки, список игнорирования) переживают перезапуск;
// транзиентные (иммунитет, визуализация, кэш последней заявки) — нет.
// Все методы безопасны для конкурентного вызова.
type PlayerData struct {
	PlayerID string

	mu sync.Mutex

	// Долговременные поля
	accruedBlocks int
	bonusBlocks   int
	lastLogin     time.Time
	ignored       map[string]IgnoreMode

	// Слабый кэш последней заявки: указатель + версия геометрии на момент
	// кэширования. Проверяется по версии, никогда не обязан совпадать.
	lastClaim        *Claim
	lastClaimVersion uint64

	// Транзиентные поля
	pvpImmune     bool
	ignoreClaims  bool
	visualization []VisualElement
	dirty         bool
}

// VisualElement — один псевдоблок клиентской подсветки границ заявки
type VisualElement struct {
	X, Y, Z int
	Kind    string
}

// NewPlayerData создаёт запись с начальными блоками
func NewPlayerData(playerID string, initialBlocks int) *PlayerData {
	return &PlayerData{
		PlayerID:      playerID,
		accruedBlocks: initialBlocks,
		ignored:       make(map[string]IgnoreMode),
	}
}

// AccruedBlocks возвращает накопленные блоки
func (p *PlayerData) AccruedBlocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accruedBlocks
}

// SetAccruedBlocks выставляет накопленные блоки, обрезая по cap (<=0 — без лимита)
func (p *PlayerData) SetAccruedBlocks(n, cap int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cap > 0 && n > cap {
		n = cap
	}
	if n < 0 {
		n = 0
	}
	if n != p.accruedBlocks {
		p.accruedBlocks = n
		p.dirty = true
	}
}

// Accrue добавляет блоки начисления, не превышая cap
func (p *PlayerData) Accrue(delta, cap int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.accruedBlocks + delta
	if cap > 0 && n > cap {
		n = cap
	}
	if n != p.accruedBlocks {
		p.accruedBlocks = n
		p.dirty = true
	}
}

// BonusBlocks возвращает бонусные блоки
func (p *PlayerData) BonusBlocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bonusBlocks
}

// SetBonusBlocks выставляет бонусные блоки
func (p *PlayerData) SetBonusBlocks(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n != p.bonusBlocks {
		p.bonusBlocks = n
		p.dirty = true
	}
}

// RemainingBlocks возвращает доступный остаток: накопленные + бонусные +
// групповые бонусы минус площадь заявок игрока. Может быть отрицательным.
func (p *PlayerData) RemainingBlocks(groupBonus, claimedArea int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accruedBlocks + p.bonusBlocks + groupBonus - claimedArea
}

// LastLogin возвращает время последнего входа (нулевое — вход не зафиксирован)
func (p *PlayerData) LastLogin() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLogin
}

// SetLastLogin фиксирует время последнего входа.
// Секундная точность: запись хранится как Unix-время.
func (p *PlayerData) SetLastLogin(t time.Time) {
	t = t.Truncate(time.Second)
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.Equal(p.lastLogin) {
		return
	}
	p.lastLogin = t
	p.dirty = true
}

// Ignore добавляет игрока в список игнорирования
func (p *PlayerData) Ignore(otherID string, mode IgnoreMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.ignored[otherID]; ok && cur == mode {
		return
	}
	p.ignored[otherID] = mode
	p.dirty = true
}

// Unignore убирает игрока из списка. Административная запись снимается
// только при admin=true.
func (p *PlayerData) Unignore(otherID string, admin bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	mode, ok := p.ignored[otherID]
	if !ok {
		return false
	}
	if mode == IgnoreAdmin && !admin {
		return false
	}
	delete(p.ignored, otherID)
	p.dirty = true
	return true
}

// IsIgnoring сообщает, игнорирует ли игрок otherID
func (p *PlayerData) IsIgnoring(otherID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.ignored[otherID]
	return ok
}

// IgnoredPlayers возвращает копию списка игнорирования
func (p *PlayerData) IgnoredPlayers() map[string]IgnoreMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]IgnoreMode, len(p.ignored))
	for id, mode := range p.ignored {
		out[id] = mode
	}
	return out
}

// ReplaceIgnored заменяет список игнорирования (загрузка из хранилища)
func (p *PlayerData) ReplaceIgnored(ignored map[string]IgnoreMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ignored = make(map[string]IgnoreMode, len(ignored))
	for id, mode := range ignored {
		p.ignored[id] = mode
	}
}

// CacheLastClaim запоминает заявку вместе с её текущей версией геометрии
func (p *PlayerData) CacheLastClaim(c *Claim) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastClaim = c
	if c != nil {
		p.lastClaimVersion = c.Version()
	}
}

// LastClaimHint возвращает кэшированную заявку, если она всё ещё актуальна:
// находится в хранилище и её геометрия не менялась с момента кэширования.
// Устаревшая подсказка молча сбрасывается — это оптимизация, не источник истины.
func (p *PlayerData) LastClaimHint() *Claim {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.lastClaim
	if c == nil {
		return nil
	}
	if !c.InDataStore() || c.Version() != p.lastClaimVersion {
		p.lastClaim = nil
		return nil
	}
	return c
}

// PvPImmune возвращает флаг спавн-иммунитета
func (p *PlayerData) PvPImmune() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pvpImmune
}

// SetPvPImmune выставляет флаг спавн-иммунитета
func (p *PlayerData) SetPvPImmune(v bool) {
	p.mu.Lock()
	p.pvpImmune = v
	p.mu.Unlock()
}

// IgnoringClaims возвращает режим игнорирования заявок (админ-обход)
func (p *PlayerData) IgnoringClaims() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ignoreClaims
}

// SetIgnoringClaims переключает режим игнорирования заявок
func (p *PlayerData) SetIgnoringClaims(v bool) {
	p.mu.Lock()
	p.ignoreClaims = v
	p.mu.Unlock()
}

// SetVisualization заменяет активную визуализацию границ
func (p *PlayerData) SetVisualization(elements []VisualElement) {
	p.mu.Lock()
	p.visualization = elements
	p.mu.Unlock()
}

// TakeVisualization возвращает и сбрасывает активную визуализацию
func (p *PlayerData) TakeVisualization() []VisualElement {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.visualization
	p.visualization = nil
	return v
}

// HasVisualization сообщает, есть ли активная визуализация
func (p *PlayerData) HasVisualization() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visualization != nil
}

// Dirty сообщает о несохранённых изменениях долговременных полей
func (p *PlayerData) Dirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

// ClearDirty сбрасывает флаг после успешной записи
func (p *PlayerData) ClearDirty() {
	p.mu.Lock()
	p.dirty = false
	p.mu.Unlock()
}
