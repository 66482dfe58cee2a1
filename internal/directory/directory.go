// Package directory разрешает имена игроков в постоянные UUID-идентификаторы.
// Используется миграцией схемы 0→1: унаследованные записи, ключованные
// именами, переносятся на UUID-ключи.
package directory

import (
	"context"
	"errors"
)

// ErrNameNotFound возвращается, когда имя неизвестно справочнику
var ErrNameNotFound = errors.New("имя не найдено в справочнике пользователей")

// UserDirectory — справочник соответствий имя → UUID.
// Разрешение выполняется по принципу best-effort: вызывающий обязан
// корректно обрабатывать ErrNameNotFound.
type UserDirectory interface {
	// ResolveName возвращает UUID игрока по имени (без учёта регистра)
	ResolveName(ctx context.Context, name string) (string, error)
	// Close освобождает ресурсы справочника
	Close(ctx context.Context) error
}
