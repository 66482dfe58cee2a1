package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/annel0/mmo-claims/internal/logging"
)

// MariaBackend реализует Backend поверх MariaDB/MySQL.
// Используется унаследованными установками; схема таблиц совместима
// с исходным реляционным форматом (claimdata/playerdata/nextclaimid/
// schemaversion, списки доверия как ";"-строки).
type MariaBackend struct {
	dsn string

	mu sync.Mutex
	db *sql.DB
}

// NewMariaBackend открывает соединение и проверяет его ping-ом
func NewMariaBackend(dsn string) (*MariaBackend, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetMaxOpenConns(8)
	return &MariaBackend{dsn: dsn, db: db}, nil
}

// Initialize создаёт таблицы и возвращает версию схемы
func (b *MariaBackend) Initialize(ctx context.Context) (int, error) {
	if err := b.createTables(ctx); err != nil {
		return 0, err
	}

	version, err := b.SchemaVersion(ctx)
	if err != nil {
		return 0, err
	}

	// Пустая база без записанной версии получает последнюю схему.
	if version == 0 {
		var claims int
		if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM claimdata`).Scan(&claims); err != nil {
			return 0, fmt.Errorf("не удалось посчитать заявки: %w", err)
		}
		var players int
		if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM playerdata`).Scan(&players); err != nil {
			return 0, fmt.Errorf("не удалось посчитать игроков: %w", err)
		}
		if claims == 0 && players == 0 {
			if err := b.SetSchemaVersion(ctx, LatestSchemaVersion); err != nil {
				return 0, err
			}
			return LatestSchemaVersion, nil
		}
	}
	return version, nil
}

func (b *MariaBackend) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS claimdata (
			id            BIGINT        PRIMARY KEY,
			owner         VARCHAR(50)   NOT NULL,
			lessercorner  VARCHAR(100)  NOT NULL,
			greatercorner VARCHAR(100)  NOT NULL,
			builders      TEXT          NOT NULL,
			containers    TEXT          NOT NULL,
			accessors     TEXT          NOT NULL,
			managers      TEXT          NOT NULL,
			parentid      BIGINT        NOT NULL DEFAULT -1,
			INDEX idx_owner (owner)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS playerdata (
			name          VARCHAR(50) PRIMARY KEY,
			lastlogin     BIGINT      NOT NULL DEFAULT 0,
			accruedblocks INT         NOT NULL DEFAULT 0,
			bonusblocks   INT         NOT NULL DEFAULT 0,
			ignored       TEXT        NOT NULL
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS nextclaimid (
			nextid BIGINT NOT NULL
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS schemaversion (
			version INT NOT NULL
		) ENGINE=InnoDB`,
	}
	for _, q := range queries {
		if _, err := b.conn().ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ошибка создания таблиц: %w", err)
		}
	}
	return nil
}

// conn возвращает живое соединение, один раз пытаясь переподключиться
// после обрыва. Таймаут проверки — 3 секунды.
func (b *MariaBackend) conn() *sql.DB {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := b.db.PingContext(ctx); err != nil {
		logging.Warn("⚠️  Соединение с MariaDB потеряно, переподключение: %v", err)
		if fresh, openErr := sql.Open("mysql", b.dsn); openErr == nil {
			if pingErr := fresh.Ping(); pingErr == nil {
				b.db.Close()
				b.db = fresh
				logging.Info("✅ Соединение с MariaDB восстановлено")
			} else {
				fresh.Close()
			}
		}
	}
	return b.db
}

// LoadAllClaims читает все строки claimdata.
// Строки с нечитаемыми полями пропускаются и сообщаются через onCorrupt.
func (b *MariaBackend) LoadAllClaims(ctx context.Context, onCorrupt func(id int64, err error)) ([]ClaimRecord, error) {
	rows, err := b.conn().QueryContext(ctx, `
		SELECT id, owner, lessercorner, greatercorner,
		       builders, containers, accessors, managers, parentid
		FROM claimdata`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения claimdata: %w", err)
	}
	defer rows.Close()

	var out []ClaimRecord
	for rows.Next() {
		var rec ClaimRecord
		var builders, containers, accessors, managers string
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.LesserCorner, &rec.GreaterCorner,
			&builders, &containers, &accessors, &managers, &rec.ParentID); err != nil {
			if onCorrupt != nil {
				onCorrupt(-1, err)
			}
			continue
		}
		rec.Builders = DecodeTrustList(builders)
		rec.Containers = DecodeTrustList(containers)
		rec.Accessors = DecodeTrustList(accessors)
		rec.Managers = DecodeTrustList(managers)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// WriteClaim идемпотентно записывает заявку: DELETE затем INSERT в одной
// транзакции, как в унаследованном реляционном формате.
func (b *MariaBackend) WriteClaim(ctx context.Context, rec ClaimRecord) error {
	tx, err := b.conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM claimdata WHERE id = ?`, rec.ID); err != nil {
		return fmt.Errorf("ошибка перезаписи заявки #%d: %w", rec.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO claimdata
			(id, owner, lessercorner, greatercorner, builders, containers, accessors, managers, parentid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, rec.LesserCorner, rec.GreaterCorner,
		EncodeTrustList(rec.Builders), EncodeTrustList(rec.Containers),
		EncodeTrustList(rec.Accessors), EncodeTrustList(rec.Managers),
		rec.ParentID); err != nil {
		return fmt.Errorf("ошибка записи заявки #%d: %w", rec.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// DeleteClaim удаляет строку; отсутствие строки не ошибка
func (b *MariaBackend) DeleteClaim(ctx context.Context, id int64) error {
	if _, err := b.conn().ExecContext(ctx, `DELETE FROM claimdata WHERE id = ?`, id); err != nil {
		return fmt.Errorf("ошибка удаления заявки #%d: %w", id, err)
	}
	return nil
}

// LoadPlayer читает запись игрока
func (b *MariaBackend) LoadPlayer(ctx context.Context, key string) (PlayerRecord, error) {
	var rec PlayerRecord
	var ignored string
	err := b.conn().QueryRowContext(ctx, `
		SELECT name, lastlogin, accruedblocks, bonusblocks, ignored FROM playerdata WHERE name = ?`, key).
		Scan(&rec.Key, &rec.LastLogin, &rec.AccruedBlocks, &rec.BonusBlocks, &ignored)
	if err == sql.ErrNoRows {
		return PlayerRecord{}, ErrPlayerNotFound
	}
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("ошибка чтения записи игрока %s: %w", key, err)
	}
	rec.Ignored = DecodeTrustList(ignored)
	return rec, nil
}

// SavePlayer идемпотентно записывает запись игрока
func (b *MariaBackend) SavePlayer(ctx context.Context, rec PlayerRecord) error {
	_, err := b.conn().ExecContext(ctx, `
		INSERT INTO playerdata (name, lastlogin, accruedblocks, bonusblocks, ignored)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			lastlogin     = VALUES(lastlogin),
			accruedblocks = VALUES(accruedblocks),
			bonusblocks   = VALUES(bonusblocks),
			ignored       = VALUES(ignored)`,
		rec.Key, rec.LastLogin, rec.AccruedBlocks, rec.BonusBlocks, EncodeTrustList(rec.Ignored))
	if err != nil {
		return fmt.Errorf("ошибка записи игрока %s: %w", rec.Key, err)
	}
	return nil
}

// LoadAllPlayers читает все строки playerdata
func (b *MariaBackend) LoadAllPlayers(ctx context.Context) ([]PlayerRecord, error) {
	rows, err := b.conn().QueryContext(ctx, `
		SELECT name, lastlogin, accruedblocks, bonusblocks, ignored FROM playerdata`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения playerdata: %w", err)
	}
	defer rows.Close()

	var out []PlayerRecord
	for rows.Next() {
		var rec PlayerRecord
		var ignored string
		if err := rows.Scan(&rec.Key, &rec.LastLogin, &rec.AccruedBlocks, &rec.BonusBlocks, &ignored); err != nil {
			continue
		}
		rec.Ignored = DecodeTrustList(ignored)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RenamePlayerKey переносит запись на новый ключ в одной транзакции
func (b *MariaBackend) RenamePlayerKey(ctx context.Context, oldKey, newKey string) error {
	tx, err := b.conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM playerdata WHERE name = ?`, newKey); err != nil {
		return fmt.Errorf("ошибка очистки ключа %s: %w", newKey, err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE playerdata SET name = ? WHERE name = ?`, newKey, oldKey)
	if err != nil {
		return fmt.Errorf("ошибка переноса записи %s -> %s: %w", oldKey, newKey, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения количества затронутых строк: %w", err)
	}
	if affected == 0 {
		return ErrPlayerNotFound
	}
	return tx.Commit()
}

// SchemaVersion читает версию схемы (0, если таблица пуста)
func (b *MariaBackend) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := b.conn().QueryRowContext(ctx, `SELECT version FROM schemaversion LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения версии схемы: %w", err)
	}
	return v, nil
}

// SetSchemaVersion фиксирует версию схемы
func (b *MariaBackend) SetSchemaVersion(ctx context.Context, v int) error {
	tx, err := b.conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schemaversion`); err != nil {
		return fmt.Errorf("ошибка очистки версии схемы: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schemaversion (version) VALUES (?)`, v); err != nil {
		return fmt.Errorf("ошибка записи версии схемы: %w", err)
	}
	return tx.Commit()
}

// NextClaimID читает счётчик идентификаторов (1, если не записан)
func (b *MariaBackend) NextClaimID(ctx context.Context) (int64, error) {
	var next int64
	err := b.conn().QueryRowContext(ctx, `SELECT nextid FROM nextclaimid LIMIT 1`).Scan(&next)
	if err == sql.ErrNoRows {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения счётчика идентификаторов: %w", err)
	}
	return next, nil
}

// SetNextClaimID фиксирует счётчик идентификаторов
func (b *MariaBackend) SetNextClaimID(ctx context.Context, next int64) error {
	tx, err := b.conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM nextclaimid`); err != nil {
		return fmt.Errorf("ошибка очистки счётчика: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO nextclaimid (nextid) VALUES (?)`, next); err != nil {
		return fmt.Errorf("ошибка записи счётчика: %w", err)
	}
	return tx.Commit()
}

// Close закрывает соединение с базой данных
func (b *MariaBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
