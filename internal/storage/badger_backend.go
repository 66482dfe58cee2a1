package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/annel0/mmo-claims/internal/logging"
	"github.com/dgraph-io/badger/v3"
)

// Префиксы ключей BadgerDB. Записи заявок и игроков живут в одном
// key-value пространстве и различаются префиксом.
const (
	badgerClaimPrefix  = "claim/"
	badgerPlayerPrefix = "player/"
	badgerSchemaKey    = "meta/schema_version"
	badgerCounterKey   = "meta/next_claim_id"
)

// BadgerBackend хранит заявки и записи игроков во встраиваемой
// key-value базе BadgerDB. Подходит для установок без внешней СУБД,
// где файловое хранилище упирается в число мелких файлов.
type BadgerBackend struct {
	db     *badger.DB
	dbPath string
}

// NewBadgerBackend открывает (или создаёт) базу в каталоге root/claims.db
func NewBadgerBackend(root string) (*BadgerBackend, error) {
	dbPath := filepath.Join(root, "claims.db")

	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerBackend{db: db, dbPath: dbPath}, nil
}

// Initialize возвращает версию схемы; свежая база помечается последней
func (b *BadgerBackend) Initialize(ctx context.Context) (int, error) {
	version, err := b.SchemaVersion(ctx)
	if err != nil {
		return 0, err
	}
	if version > 0 {
		return version, nil
	}

	// Версия не записана: либо база свежая, либо осталась от версии 0.
	empty := true
	err = b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(badgerClaimPrefix)})
		defer it.Close()
		it.Rewind()
		empty = !it.Valid()
		return nil
	})
	if err != nil {
		return 0, err
	}

	if empty {
		if err := b.SetSchemaVersion(ctx, LatestSchemaVersion); err != nil {
			return 0, err
		}
		logging.Info("📦 Создана свежая база BadgerDB: %s", b.dbPath)
		return LatestSchemaVersion, nil
	}
	return 0, nil
}

func (b *BadgerBackend) claimKey(id int64) []byte {
	return []byte(badgerClaimPrefix + strconv.FormatInt(id, 10))
}

func (b *BadgerBackend) playerKey(key string) []byte {
	return []byte(badgerPlayerPrefix + key)
}

// LoadAllClaims перебирает все записи с префиксом заявок
func (b *BadgerBackend) LoadAllClaims(ctx context.Context, onCorrupt func(id int64, err error)) ([]ClaimRecord, error) {
	var records []ClaimRecord

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(badgerClaimPrefix)})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id, parseErr := strconv.ParseInt(strings.TrimPrefix(string(item.Key()), badgerClaimPrefix), 10, 64)
			if parseErr != nil {
				continue
			}

			var rec ClaimRecord
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				if onCorrupt != nil {
					onCorrupt(id, err)
				}
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("чтение заявок из BadgerDB: %w", err)
	}
	return records, nil
}

// WriteClaim записывает полное состояние заявки
func (b *BadgerBackend) WriteClaim(ctx context.Context, rec ClaimRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("сериализация заявки #%d: %w", rec.ID, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.claimKey(rec.ID), data)
	})
}

// DeleteClaim удаляет запись заявки; отсутствие не ошибка
func (b *BadgerBackend) DeleteClaim(ctx context.Context, id int64) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(b.claimKey(id))
	})
}

// LoadPlayer загружает запись игрока по ключу
func (b *BadgerBackend) LoadPlayer(ctx context.Context, key string) (PlayerRecord, error) {
	var rec PlayerRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.playerKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err == badger.ErrKeyNotFound {
		return PlayerRecord{}, ErrPlayerNotFound
	}
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("чтение записи игрока %s: %w", key, err)
	}
	return rec, nil
}

// SavePlayer записывает запись игрока
func (b *BadgerBackend) SavePlayer(ctx context.Context, rec PlayerRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("сериализация записи игрока %s: %w", rec.Key, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.playerKey(rec.Key), data)
	})
}

// LoadAllPlayers перебирает все записи с префиксом игроков
func (b *BadgerBackend) LoadAllPlayers(ctx context.Context) ([]PlayerRecord, error) {
	var records []PlayerRecord

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(badgerPlayerPrefix)})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec PlayerRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				logging.Warn("⚠️  Повреждённая запись игрока %s пропущена: %v", it.Item().Key(), err)
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("чтение записей игроков из BadgerDB: %w", err)
	}
	return records, nil
}

// RenamePlayerKey атомарно переносит запись игрока на новый ключ
func (b *BadgerBackend) RenamePlayerKey(ctx context.Context, oldKey, newKey string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(b.playerKey(oldKey))
		if err == badger.ErrKeyNotFound {
			return ErrPlayerNotFound
		}
		if err != nil {
			return err
		}

		var data []byte
		if err := item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}

		// Ключ хранится и внутри записи
		var rec PlayerRecord
		if err := json.Unmarshal(data, &rec); err == nil {
			rec.Key = newKey
			if rewritten, err := json.Marshal(rec); err == nil {
				data = rewritten
			}
		}

		if err := txn.Set(b.playerKey(newKey), data); err != nil {
			return err
		}
		return txn.Delete(b.playerKey(oldKey))
	})
}

func (b *BadgerBackend) getInt(key string) (int64, bool, error) {
	var value int64
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("некорректное значение ключа %s", key)
			}
			value = int64(binary.BigEndian.Uint64(val))
			found = true
			return nil
		})
	})
	return value, found, err
}

func (b *BadgerBackend) setInt(key string, value int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(value))
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), buf)
	})
}

// SchemaVersion возвращает сохранённую версию схемы
func (b *BadgerBackend) SchemaVersion(ctx context.Context) (int, error) {
	v, found, err := b.getInt(badgerSchemaKey)
	if err != nil || !found {
		return 0, err
	}
	return int(v), nil
}

// SetSchemaVersion фиксирует версию схемы
func (b *BadgerBackend) SetSchemaVersion(ctx context.Context, v int) error {
	return b.setInt(badgerSchemaKey, int64(v))
}

// NextClaimID возвращает сохранённый счётчик идентификаторов
func (b *BadgerBackend) NextClaimID(ctx context.Context) (int64, error) {
	v, found, err := b.getInt(badgerCounterKey)
	if err != nil {
		return 0, err
	}
	if !found {
		return 1, nil
	}
	return v, nil
}

// SetNextClaimID фиксирует счётчик идентификаторов
func (b *BadgerBackend) SetNextClaimID(ctx context.Context, next int64) error {
	return b.setInt(badgerCounterKey, next)
}

// Close закрывает базу
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
