package storage

import (
	"context"
	"errors"
)

// ErrPlayerNotFound возвращается при отсутствии записи игрока
var ErrPlayerNotFound = errors.New("запись игрока не найдена")

// Backend определяет контракт долговременного хранилища заявок.
// Реализации: файловое хранилище (основное), MariaDB (совместимость с
// унаследованными установками), in-memory (тесты). Контракт одинаков для
// всех: записи идемпотентны, удаление отсутствующей записи не ошибка.
type Backend interface {
	// Initialize подготавливает хранилище (каталоги, таблицы) и
	// возвращает текущую версию схемы. Свежее хранилище отвечает
	// последней версией.
	Initialize(ctx context.Context) (int, error)

	// LoadAllClaims возвращает все записи заявок без какого-либо порядка.
	// Повреждённые записи пропускаются и сообщаются через onCorrupt.
	LoadAllClaims(ctx context.Context, onCorrupt func(id int64, err error)) ([]ClaimRecord, error)

	// WriteClaim идемпотентно записывает полное состояние заявки
	WriteClaim(ctx context.Context, rec ClaimRecord) error

	// DeleteClaim удаляет запись; отсутствие записи не считается ошибкой
	DeleteClaim(ctx context.Context, id int64) error

	// LoadPlayer загружает запись игрока. Отсутствие — ErrPlayerNotFound.
	LoadPlayer(ctx context.Context, key string) (PlayerRecord, error)

	// SavePlayer идемпотентно записывает запись игрока
	SavePlayer(ctx context.Context, rec PlayerRecord) error

	// LoadAllPlayers возвращает все записи игроков, включая групповые "$"
	LoadAllPlayers(ctx context.Context) ([]PlayerRecord, error)

	// RenamePlayerKey переносит запись на новый ключ (миграция имя→UUID).
	// Существующая запись с новым ключом перезаписывается.
	RenamePlayerKey(ctx context.Context, oldKey, newKey string) error

	// SchemaVersion возвращает сохранённую версию схемы (0, если не записана)
	SchemaVersion(ctx context.Context) (int, error)

	// SetSchemaVersion фиксирует версию схемы
	SetSchemaVersion(ctx context.Context, v int) error

	// NextClaimID возвращает сохранённый счётчик идентификаторов (1, если не записан)
	NextClaimID(ctx context.Context) (int64, error)

	// SetNextClaimID фиксирует счётчик идентификаторов
	SetNextClaimID(ctx context.Context, next int64) error

	// Close освобождает ресурсы хранилища
	Close() error
}
