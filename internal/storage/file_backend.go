package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// FileBackend — основное хранилище: по JSON-файлу на заявку и на игрока.
//
// Раскладка каталога данных:
//
//	<root>/claims/<id>.json[.gz]  — записи заявок
//	<root>/players/<key>.json     — записи игроков (ключ экранируется)
//	<root>/schema_version         — версия схемы
//	<root>/next_claim_id          — счётчик идентификаторов
//
// Запись выполняется во временный файл с последующим rename, чтобы сбой
// посреди записи не оставил усечённый файл. Сжатие gzip включается
// конфигурацией и распознаётся по расширению при чтении, поэтому смешанный
// каталог после смены настройки остаётся читаемым.
type FileBackend struct {
	root     string
	compress bool
	mu       sync.Mutex
}

const (
	claimsDir         = "claims"
	playersDir        = "players"
	schemaVersionFile = "schema_version"
	nextClaimIDFile   = "next_claim_id"
)

// NewFileBackend создаёт файловый бэкенд с корнем root
func NewFileBackend(root string, compress bool) *FileBackend {
	return &FileBackend{root: root, compress: compress}
}

// Initialize создаёт каталоги и возвращает версию схемы.
// Свежий каталог сразу помечается последней версией.
func (b *FileBackend) Initialize(ctx context.Context) (int, error) {
	for _, dir := range []string{b.root, filepath.Join(b.root, claimsDir), filepath.Join(b.root, playersDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("не удалось создать каталог %s: %w", dir, err)
		}
	}

	versionPath := filepath.Join(b.root, schemaVersionFile)
	if _, err := os.Stat(versionPath); os.IsNotExist(err) {
		// Каталог пуст или унаследован без маркера версии. Пустое
		// хранилище получает последнюю схему; непустое — нулевую,
		// чтобы прогнались все миграции.
		version := LatestSchemaVersion
		if b.hasAnyRecords() {
			version = 0
		}
		if err := b.SetSchemaVersion(ctx, version); err != nil {
			return 0, err
		}
		return version, nil
	}

	return b.SchemaVersion(ctx)
}

func (b *FileBackend) hasAnyRecords() bool {
	for _, dir := range []string{claimsDir, playersDir} {
		entries, err := os.ReadDir(filepath.Join(b.root, dir))
		if err == nil && len(entries) > 0 {
			return true
		}
	}
	return false
}

// LoadAllClaims читает все файлы заявок. Повреждённые файлы пропускаются
// и сообщаются через onCorrupt с удалением файла.
func (b *FileBackend) LoadAllClaims(ctx context.Context, onCorrupt func(id int64, err error)) ([]ClaimRecord, error) {
	dir := filepath.Join(b.root, claimsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать каталог заявок: %w", err)
	}

	out := make([]ClaimRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		id := claimIDFromFilename(entry.Name())

		var rec ClaimRecord
		if err := b.readJSON(path, &rec); err != nil {
			if onCorrupt != nil {
				onCorrupt(id, err)
			}
			_ = os.Remove(path)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func claimIDFromFilename(name string) int64 {
	base := strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".json")
	id, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return -1
	}
	return id
}

// WriteClaim записывает заявку в claims/<id>.json[.gz]
func (b *FileBackend) WriteClaim(ctx context.Context, rec ClaimRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.claimPath(rec.ID, b.compress)
	if err := b.writeJSON(path, &rec); err != nil {
		return fmt.Errorf("не удалось записать заявку #%d: %w", rec.ID, err)
	}
	// Убираем файл с противоположным расширением, оставшийся от
	// прежней настройки сжатия.
	_ = os.Remove(b.claimPath(rec.ID, !b.compress))
	return nil
}

// DeleteClaim удаляет файл заявки; отсутствие файла не ошибка
func (b *FileBackend) DeleteClaim(ctx context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, compressed := range []bool{false, true} {
		if err := os.Remove(b.claimPath(id, compressed)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("не удалось удалить заявку #%d: %w", id, err)
		}
	}
	return nil
}

// LoadPlayer читает запись игрока
func (b *FileBackend) LoadPlayer(ctx context.Context, key string) (PlayerRecord, error) {
	var rec PlayerRecord
	err := b.readJSON(b.playerPath(key), &rec)
	if os.IsNotExist(err) {
		return PlayerRecord{}, ErrPlayerNotFound
	}
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("не удалось прочитать запись игрока %s: %w", key, err)
	}
	return rec, nil
}

// SavePlayer записывает запись игрока
func (b *FileBackend) SavePlayer(ctx context.Context, rec PlayerRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.writeJSON(b.playerPath(rec.Key), &rec); err != nil {
		return fmt.Errorf("не удалось записать запись игрока %s: %w", rec.Key, err)
	}
	return nil
}

// LoadAllPlayers читает все записи игроков
func (b *FileBackend) LoadAllPlayers(ctx context.Context) ([]PlayerRecord, error) {
	dir := filepath.Join(b.root, playersDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать каталог игроков: %w", err)
	}

	out := make([]PlayerRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var rec PlayerRecord
		if err := b.readJSON(filepath.Join(dir, entry.Name()), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// RenamePlayerKey переносит запись игрока на новый ключ
func (b *FileBackend) RenamePlayerKey(ctx context.Context, oldKey, newKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var rec PlayerRecord
	err := b.readJSON(b.playerPath(oldKey), &rec)
	if os.IsNotExist(err) {
		return ErrPlayerNotFound
	}
	if err != nil {
		return fmt.Errorf("не удалось прочитать запись %s: %w", oldKey, err)
	}

	rec.Key = newKey
	if err := b.writeJSON(b.playerPath(newKey), &rec); err != nil {
		return fmt.Errorf("не удалось записать запись %s: %w", newKey, err)
	}
	if err := os.Remove(b.playerPath(oldKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("не удалось удалить старую запись %s: %w", oldKey, err)
	}
	return nil
}

// SchemaVersion читает версию схемы из файла-маркера
func (b *FileBackend) SchemaVersion(ctx context.Context) (int, error) {
	data, err := os.ReadFile(filepath.Join(b.root, schemaVersionFile))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("не удалось прочитать версию схемы: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("некорректная версия схемы %q: %w", string(data), err)
	}
	return v, nil
}

// SetSchemaVersion записывает версию схемы
func (b *FileBackend) SetSchemaVersion(ctx context.Context, v int) error {
	return b.writeAtomic(filepath.Join(b.root, schemaVersionFile), []byte(strconv.Itoa(v)))
}

// NextClaimID читает счётчик идентификаторов
func (b *FileBackend) NextClaimID(ctx context.Context) (int64, error) {
	data, err := os.ReadFile(filepath.Join(b.root, nextClaimIDFile))
	if os.IsNotExist(err) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("не удалось прочитать счётчик идентификаторов: %w", err)
	}
	next, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректный счётчик идентификаторов %q: %w", string(data), err)
	}
	return next, nil
}

// SetNextClaimID записывает счётчик идентификаторов
func (b *FileBackend) SetNextClaimID(ctx context.Context, next int64) error {
	return b.writeAtomic(filepath.Join(b.root, nextClaimIDFile), []byte(strconv.FormatInt(next, 10)))
}

// Close для файлового бэкенда не держит ресурсов
func (b *FileBackend) Close() error { return nil }

func (b *FileBackend) claimPath(id int64, compressed bool) string {
	name := strconv.FormatInt(id, 10) + ".json"
	if compressed {
		name += ".gz"
	}
	return filepath.Join(b.root, claimsDir, name)
}

func (b *FileBackend) playerPath(key string) string {
	// Ключ может быть именем из унаследованных данных: экранируем
	// символы, недопустимые в именах файлов.
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, key)
	return filepath.Join(b.root, playersDir, safe+".json")
}

// readJSON читает JSON-файл, прозрачно распаковывая .gz
func (b *FileBackend) readJSON(path string, v interface{}) error {
	if !strings.HasSuffix(path, ".gz") {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if _, gzErr := os.Stat(path + ".gz"); gzErr == nil {
				path += ".gz"
			}
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("повреждённый gzip-файл %s: %w", path, err)
		}
		defer gz.Close()
		return json.NewDecoder(gz).Decode(v)
	}
	return json.NewDecoder(f).Decode(v)
}

// writeJSON пишет значение во временный файл с переименованием
func (b *FileBackend) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if strings.HasSuffix(path, ".gz") {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return err
		}
		if err := gz.Close(); err != nil {
			return err
		}
		data = buf.Bytes()
	}
	return b.writeAtomic(path, data)
}

func (b *FileBackend) writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
