package storage

import (
	"context"
	"sync"
)

// MemoryBackend — хранилище в памяти для тестов и эфемерных запусков.
// Реализует тот же контракт Backend, что и файловый и MariaDB-бэкенды.
type MemoryBackend struct {
	mu          sync.RWMutex
	claims      map[int64]ClaimRecord
	players     map[string]PlayerRecord
	schema      int
	nextClaimID int64
}

// NewMemoryBackend создаёт пустое хранилище в памяти
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		claims:      make(map[int64]ClaimRecord),
		players:     make(map[string]PlayerRecord),
		schema:      LatestSchemaVersion,
		nextClaimID: 1,
	}
}

// Initialize возвращает версию схемы; для памяти всегда последнюю
func (b *MemoryBackend) Initialize(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.schema, nil
}

// LoadAllClaims возвращает копии всех записей заявок
func (b *MemoryBackend) LoadAllClaims(ctx context.Context, onCorrupt func(id int64, err error)) ([]ClaimRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ClaimRecord, 0, len(b.claims))
	for _, rec := range b.claims {
		out = append(out, rec)
	}
	return out, nil
}

// WriteClaim записывает заявку
func (b *MemoryBackend) WriteClaim(ctx context.Context, rec ClaimRecord) error {
	b.mu.Lock()
	b.claims[rec.ID] = rec
	b.mu.Unlock()
	return nil
}

// DeleteClaim удаляет заявку; отсутствие не ошибка
func (b *MemoryBackend) DeleteClaim(ctx context.Context, id int64) error {
	b.mu.Lock()
	delete(b.claims, id)
	b.mu.Unlock()
	return nil
}

// LoadPlayer загружает запись игрока
func (b *MemoryBackend) LoadPlayer(ctx context.Context, key string) (PlayerRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.players[key]
	if !ok {
		return PlayerRecord{}, ErrPlayerNotFound
	}
	return rec, nil
}

// SavePlayer записывает запись игрока
func (b *MemoryBackend) SavePlayer(ctx context.Context, rec PlayerRecord) error {
	b.mu.Lock()
	b.players[rec.Key] = rec
	b.mu.Unlock()
	return nil
}

// LoadAllPlayers возвращает все записи игроков
func (b *MemoryBackend) LoadAllPlayers(ctx context.Context) ([]PlayerRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PlayerRecord, 0, len(b.players))
	for _, rec := range b.players {
		out = append(out, rec)
	}
	return out, nil
}

// RenamePlayerKey переносит запись на новый ключ
func (b *MemoryBackend) RenamePlayerKey(ctx context.Context, oldKey, newKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.players[oldKey]
	if !ok {
		return ErrPlayerNotFound
	}
	delete(b.players, oldKey)
	rec.Key = newKey
	b.players[newKey] = rec
	return nil
}

// SchemaVersion возвращает версию схемы
func (b *MemoryBackend) SchemaVersion(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.schema, nil
}

// SetSchemaVersion фиксирует версию схемы
func (b *MemoryBackend) SetSchemaVersion(ctx context.Context, v int) error {
	b.mu.Lock()
	b.schema = v
	b.mu.Unlock()
	return nil
}

// NextClaimID возвращает счётчик идентификаторов
func (b *MemoryBackend) NextClaimID(ctx context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextClaimID, nil
}

// SetNextClaimID фиксирует счётчик идентификаторов
func (b *MemoryBackend) SetNextClaimID(ctx context.Context, next int64) error {
	b.mu.Lock()
	b.nextClaimID = next
	b.mu.Unlock()
	return nil
}

// Close для памяти не делает ничего
func (b *MemoryBackend) Close() error { return nil }
