package claim

import (
	"fmt"
	"sync"

	"github.com/annel0/mmo-claims/internal/vec"
)

// ClaimPersister — узкий контракт записи в долговременное хранилище.
// Реализуется слоем storage; менеджер мира вызывает его после успешной
// валидации инвариантов. nil-персистер допустим в тестах.
type ClaimPersister interface {
	// PersistClaim идемпотентно записывает текущее состояние заявки.
	PersistClaim(c *Claim) error
	// PersistClaimDeletion удаляет запись заявки; отсутствие записи не ошибка.
	PersistClaimDeletion(worldID string, claimID int64) error
}

// ClaimWorldManager — авторитетный реестр и пространственный индекс заявок
// одного мира. Поисковые запросы безопасны для конкурентного вызова;
// мутации сериализуются вызывающим (DataStore) поверх внутренней блокировки.
type ClaimWorldManager struct {
	worldID   string
	persister ClaimPersister

	mu sync.RWMutex
	// byID содержит все заявки мира, включая подразделы.
	byID map[int64]*Claim
	// topLevel содержит только заявки верхнего уровня; по инварианту
	// их проекции не пересекаются.
	topLevel map[int64]*Claim
	// cells — сетка чанков: ячейка -> заявки верхнего уровня, покрывающие её.
	cells map[vec.Vec2][]*Claim

	nextClaimID int64
}

// NewClaimWorldManager создаёт менеджер для мира worldID
func NewClaimWorldManager(worldID string, persister ClaimPersister) *ClaimWorldManager {
	return &ClaimWorldManager{
		worldID:     worldID,
		persister:   persister,
		byID:        make(map[int64]*Claim),
		topLevel:    make(map[int64]*Claim),
		cells:       make(map[vec.Vec2][]*Claim),
		nextClaimID: 1,
	}
}

// WorldID возвращает идентификатор мира менеджера
func (m *ClaimWorldManager) WorldID() string { return m.worldID }

// GetClaimAt возвращает самую специфичную заявку, содержащую позицию, или nil.
//
// hint — кэшированная заявка из предыдущего запроса того же игрока;
// если она всё ещё содержит позицию, полный проход по индексу не выполняется.
// На общей границе подраздела и родителя побеждает подраздел.
func (m *ClaimWorldManager) GetClaimAt(pos vec.Vec3, ignoreHeight bool, hint *Claim) *Claim {
	if hint != nil && hint.InDataStore() && hint.Contains(pos, ignoreHeight) {
		if hint.IsSubdivision() {
			return hint
		}
		return mostSpecific(hint, pos, ignoreHeight)
	}

	cell := pos.ToVec2().ToChunkCoords()

	// Снимок списка кандидатов: удаление заявки сдвигает элементы
	// в том же массиве под write-блокировкой, поэтому за пределами
	// RLock можно читать только копию.
	m.mu.RLock()
	candidates := append([]*Claim(nil), m.cells[cell]...)
	m.mu.RUnlock()

	// По инварианту непересечения позицию может содержать максимум одна
	// заявка верхнего уровня.
	for _, top := range candidates {
		if top.Contains(pos, ignoreHeight) {
			return mostSpecific(top, pos, ignoreHeight)
		}
	}
	return nil
}

// mostSpecific возвращает подраздел, содержащий позицию, либо саму заявку
func mostSpecific(top *Claim, pos vec.Vec3, ignoreHeight bool) *Claim {
	for _, child := range top.Children() {
		if child.Contains(pos, ignoreHeight) {
			return child
		}
	}
	return top
}

// LookupByID возвращает заявку по идентификатору
func (m *ClaimWorldManager) LookupByID(id int64) (*Claim, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	return c, ok
}

// TopLevelClaims возвращает снимок заявок верхнего уровня
func (m *ClaimWorldManager) TopLevelClaims() []*Claim {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Claim, 0, len(m.topLevel))
	for _, c := range m.topLevel {
		out = append(out, c)
	}
	return out
}

// ClaimCount возвращает количество заявок, включая подразделы
func (m *ClaimWorldManager) ClaimCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// OwnedArea возвращает суммарную площадь заявок верхнего уровня владельца
func (m *ClaimWorldManager) OwnedArea(ownerID string) int {
	if ownerID == "" {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, c := range m.topLevel {
		if c.OwnerID() == ownerID {
			total += c.Area()
		}
	}
	return total
}

// AddClaim регистрирует заявку верхнего уровня.
// Перед регистрацией выполняется полный тест пересечения прямоугольников
// со всеми заявками верхнего уровня мира: количество заявок на мир
// ограничено, линейный проход приемлем.
func (m *ClaimWorldManager) AddClaim(c *Claim, writeToStorage bool) error {
	if c.Parent() != nil {
		return fmt.Errorf("заявка #%d имеет родителя: используйте AddSubdivision", c.ID)
	}
	if c.WorldID != m.worldID {
		return fmt.Errorf("заявка принадлежит миру %q, менеджер обслуживает %q", c.WorldID, m.worldID)
	}

	bounds := c.Bounds()

	m.mu.Lock()
	for _, other := range m.topLevel {
		if other == c {
			continue
		}
		if bounds.Intersects(other.Bounds()) {
			m.mu.Unlock()
			return &OverlapError{ClaimID: other.ID}
		}
	}

	m.assignIDLocked(c)
	m.topLevel[c.ID] = c
	m.byID[c.ID] = c
	m.indexCellsLocked(c, bounds)
	m.mu.Unlock()

	c.setInDataStore(true)

	if writeToStorage && m.persister != nil {
		return m.persister.PersistClaim(c)
	}
	return nil
}

// AddSubdivision привязывает подраздел к родительской заявке.
// Подраздел обязан целиком лежать внутри родителя и не может иметь
// собственных подразделов.
func (m *ClaimWorldManager) AddSubdivision(parent, sub *Claim, writeToStorage bool) error {
	if parent.IsSubdivision() {
		return ErrSubdivisionDepth
	}
	if !parent.InDataStore() {
		return ErrClaimNotFound
	}
	if !parent.Bounds().ContainsBounds(sub.Bounds()) {
		return &EscapeError{ParentID: parent.ID}
	}

	m.mu.Lock()
	m.assignIDLocked(sub)
	m.byID[sub.ID] = sub
	m.mu.Unlock()

	sub.mu.Lock()
	sub.parent = parent
	sub.WorldID = parent.WorldID
	sub.mu.Unlock()

	parent.mu.Lock()
	parent.children = append(parent.children, sub)
	parent.mu.Unlock()

	sub.setInDataStore(true)

	if writeToStorage && m.persister != nil {
		return m.persister.PersistClaim(sub)
	}
	return nil
}

// DeleteClaim удаляет заявку из индекса и хранилища.
// Родитель с живыми подразделами удаляется только при явном каскаде —
// это сознательное политическое решение, а не унаследованное поведение.
func (m *ClaimWorldManager) DeleteClaim(c *Claim, cascade bool) error {
	children := c.Children()
	if len(children) > 0 && !cascade {
		return &HasChildrenError{ClaimID: c.ID, Children: len(children)}
	}

	deleted := make([]int64, 0, len(children)+1)

	m.mu.Lock()
	for _, child := range children {
		delete(m.byID, child.ID)
		deleted = append(deleted, child.ID)
	}
	delete(m.byID, c.ID)
	if !c.IsSubdivision() {
		delete(m.topLevel, c.ID)
		m.unindexCellsLocked(c)
	}
	deleted = append(deleted, c.ID)
	m.mu.Unlock()

	for _, child := range children {
		child.setInDataStore(false)
	}
	c.setInDataStore(false)

	if parent := c.Parent(); parent != nil {
		parent.mu.Lock()
		for i, child := range parent.children {
			if child == c {
				parent.children = append(parent.children[:i], parent.children[i+1:]...)
				break
			}
		}
		parent.mu.Unlock()
		// Геометрия родителя не изменилась, но кэшированные ссылки на
		// удалённый подраздел должны инвалидироваться.
		parent.version.Add(1)
	}

	if m.persister != nil {
		for _, id := range deleted {
			if err := m.persister.PersistClaimDeletion(m.worldID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// ResizeClaim применяет новые границы, повторно проверяя инварианты создания:
// непересечение для верхнего уровня, вложенность для подразделов,
// сохранность подразделов при сжатии родителя. Изменение геометрии
// применяется как единая атомарная замена границ.
func (m *ClaimWorldManager) ResizeClaim(c *Claim, newBounds Bounds) error {
	if !c.InDataStore() {
		return ErrClaimNotFound
	}

	if parent := c.Parent(); parent != nil {
		if !parent.Bounds().ContainsBounds(newBounds) {
			return &EscapeError{ParentID: parent.ID}
		}
		c.setBounds(newBounds)
	} else {
		m.mu.Lock()
		for _, other := range m.topLevel {
			if other == c {
				continue
			}
			if newBounds.Intersects(other.Bounds()) {
				m.mu.Unlock()
				return &OverlapError{ClaimID: other.ID}
			}
		}
		for _, child := range c.Children() {
			if !newBounds.ContainsBounds(child.Bounds()) {
				m.mu.Unlock()
				return &EscapeError{ParentID: c.ID}
			}
		}
		m.unindexCellsLocked(c)
		c.setBounds(newBounds)
		m.indexCellsLocked(c, newBounds)
		m.mu.Unlock()
	}

	if m.persister != nil {
		return m.persister.PersistClaim(c)
	}
	return nil
}

// TransferClaimOwner переписывает владельца заявки верхнего уровня.
// Подразделы не имеют собственного владения и не передаются.
func (m *ClaimWorldManager) TransferClaimOwner(c *Claim, newOwnerID string) error {
	if c.IsSubdivision() {
		return ErrNoTransferSubdivision
	}
	if !c.InDataStore() {
		return ErrClaimNotFound
	}

	c.setOwner(newOwnerID)

	if m.persister != nil {
		return m.persister.PersistClaim(c)
	}
	return nil
}

// NextClaimID возвращает текущее значение счётчика (для персистентности)
func (m *ClaimWorldManager) NextClaimID() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextClaimID
}

// SeedNextClaimID поднимает счётчик при загрузке из хранилища
func (m *ClaimWorldManager) SeedNextClaimID(next int64) {
	m.mu.Lock()
	if next > m.nextClaimID {
		m.nextClaimID = next
	}
	m.mu.Unlock()
}

// assignIDLocked назначает следующий ID, если заявка его ещё не имеет.
// Идентификаторы монотонно растут и никогда не переиспользуются.
func (m *ClaimWorldManager) assignIDLocked(c *Claim) {
	if c.ID == 0 {
		c.ID = m.nextClaimID
		m.nextClaimID++
		return
	}
	if c.ID >= m.nextClaimID {
		m.nextClaimID = c.ID + 1
	}
}

func (m *ClaimWorldManager) indexCellsLocked(c *Claim, bounds Bounds) {
	for _, cell := range bounds.ChunkCells() {
		m.cells[cell] = append(m.cells[cell], c)
	}
}

func (m *ClaimWorldManager) unindexCellsLocked(c *Claim) {
	for _, cell := range c.Bounds().ChunkCells() {
		list := m.cells[cell]
		for i, other := range list {
			if other == c {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(m.cells, cell)
		} else {
			m.cells[cell] = list
		}
	}
}
