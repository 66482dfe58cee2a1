package directory

import (
	"context"
	"strings"
	"sync"
)

// MemoryDirectory — справочник в памяти для тестов и автономных запусков
type MemoryDirectory struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewMemoryDirectory создаёт пустой справочник
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{names: make(map[string]string)}
}

// Put регистрирует соответствие имя → UUID
func (d *MemoryDirectory) Put(name, uuid string) {
	d.mu.Lock()
	d.names[strings.ToLower(name)] = uuid
	d.mu.Unlock()
}

// ResolveName возвращает UUID по имени
func (d *MemoryDirectory) ResolveName(ctx context.Context, name string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	uuid, ok := d.names[strings.ToLower(name)]
	if !ok {
		return "", ErrNameNotFound
	}
	return uuid, nil
}

// Close для памяти не делает ничего
func (d *MemoryDirectory) Close(ctx context.Context) error { return nil }
