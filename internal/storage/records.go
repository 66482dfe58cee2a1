package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/annel0/mmo-claims/internal/vec"
)

// ClaimRecord — сериализованная форма заявки, общая для всех бэкендов.
// Списки доверия хранятся как списки записей; угловые точки — как строки
// формата "мир;x;y;z". ParentID == -1 означает заявку верхнего уровня.
type ClaimRecord struct {
	ID            int64    `json:"id"`
	OwnerID       string   `json:"owner"`
	LesserCorner  string   `json:"lessercorner"`
	GreaterCorner string   `json:"greatercorner"`
	Builders      []string `json:"builders"`
	Containers    []string `json:"containers"`
	Accessors     []string `json:"accessors"`
	Managers      []string `json:"managers"`
	ParentID      int64    `json:"parentid"`
}

// PlayerRecord — сериализованная форма записи игрока.
// Ключи, начинающиеся с "$", кодируют групповые бонусные блоки.
// LastLogin — Unix-время последнего входа; 0 — вход не зафиксирован.
type PlayerRecord struct {
	Key           string   `json:"key"`
	LastLogin     int64    `json:"lastlogin"`
	AccruedBlocks int      `json:"accruedblocks"`
	BonusBlocks   int      `json:"bonusblocks"`
	Ignored       []string `json:"ignored,omitempty"`
}

// GroupKeyPrefix отличает записи групповых бонусов от записей игроков
const GroupKeyPrefix = "$"

// TopLevelParentID — значение ParentID заявки верхнего уровня
const TopLevelParentID = -1

// IsGroupRecord сообщает, является ли запись групповым бонусом
func (r *PlayerRecord) IsGroupRecord() bool {
	return strings.HasPrefix(r.Key, GroupKeyPrefix)
}

// GroupName возвращает имя группы без префикса "$"
func (r *PlayerRecord) GroupName() string {
	return strings.TrimPrefix(r.Key, GroupKeyPrefix)
}

// AdminIgnorePrefix помечает принудительную (административную) запись игнорирования
const AdminIgnorePrefix = "!"

// EncodeCorner кодирует угловую точку в строку "мир;x;y;z"
func EncodeCorner(worldID string, p vec.Vec3) string {
	return fmt.Sprintf("%s;%d;%d;%d", worldID, p.X, p.Y, p.Z)
}

// DecodeCorner разбирает строку "мир;x;y;z".
// Лишние поля игнорируются, недостающие — ошибка.
func DecodeCorner(s string) (worldID string, p vec.Vec3, err error) {
	parts := strings.Split(s, ";")
	if len(parts) < 4 {
		return "", vec.Vec3{}, fmt.Errorf("некорректная угловая точка %q: ожидается мир;x;y;z", s)
	}
	worldID = parts[0]
	if worldID == "" {
		return "", vec.Vec3{}, fmt.Errorf("некорректная угловая точка %q: пустой мир", s)
	}
	coords := [3]int{}
	for i := 0; i < 3; i++ {
		v, convErr := strconv.Atoi(parts[i+1])
		if convErr != nil {
			return "", vec.Vec3{}, fmt.Errorf("некорректная угловая точка %q: %w", s, convErr)
		}
		coords[i] = v
	}
	return worldID, vec.Vec3{X: coords[0], Y: coords[1], Z: coords[2]}, nil
}

// EncodeTrustList склеивает записи доверия в ";"-строку для реляционного хранения
func EncodeTrustList(entries []string) string {
	return strings.Join(entries, ";")
}

// DecodeTrustList разбирает ";"-строку, отбрасывая пустые элементы,
// которые оставляет унаследованный формат с завершающим разделителем
func DecodeTrustList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// EncodeIgnoreEntry кодирует запись игнорирования: админская получает префикс "!"
func EncodeIgnoreEntry(playerID string, admin bool) string {
	if admin {
		return AdminIgnorePrefix + playerID
	}
	return playerID
}

// DecodeIgnoreEntry разбирает запись игнорирования
func DecodeIgnoreEntry(entry string) (playerID string, admin bool) {
	if strings.HasPrefix(entry, AdminIgnorePrefix) {
		return strings.TrimPrefix(entry, AdminIgnorePrefix), true
	}
	return entry, false
}

// WorldOfRecord извлекает мир заявки из её меньшего угла
func (r *ClaimRecord) WorldOfRecord() (string, error) {
	worldID, _, err := DecodeCorner(r.LesserCorner)
	return worldID, err
}
