package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/annel0/mmo-claims/internal/directory"
	"github.com/annel0/mmo-claims/internal/logging"
)

// LatestSchemaVersion — текущая версия схемы хранилища.
// История:
//
//	0→1 — записи игроков переносятся с имён на UUID-ключи через
//	      справочник пользователей (best-effort, неразрешённые остаются);
//	1→2 — списки доверия нормализуются: выбрасываются пустые элементы,
//	      оставленные унаследованным ";"-форматом;
//	2→3 — удаляются повреждённые записи заявок с id == -1.
const LatestSchemaVersion = 3

// Migrate последовательно применяет миграции от версии from до последней.
// Каждая миграция идемпотентна; версия фиксируется после каждого шага,
// поэтому сбой посреди цепочки не повторяет завершённые шаги.
func Migrate(ctx context.Context, backend Backend, dir directory.UserDirectory, from int) error {
	if from >= LatestSchemaVersion {
		return nil
	}
	logging.Info("📦 Миграция схемы хранилища: %d → %d", from, LatestSchemaVersion)

	steps := []struct {
		to    int
		apply func(context.Context, Backend, directory.UserDirectory) error
	}{
		{1, migrateNamesToUUIDs},
		{2, migrateNormalizeTrustLists},
		{3, migrateDropCorruptClaims},
	}

	for _, step := range steps {
		if from >= step.to {
			continue
		}
		if err := step.apply(ctx, backend, dir); err != nil {
			return fmt.Errorf("миграция до версии %d: %w", step.to, err)
		}
		if err := backend.SetSchemaVersion(ctx, step.to); err != nil {
			return fmt.Errorf("фиксация версии %d: %w", step.to, err)
		}
		from = step.to
		logging.Info("✅ Схема обновлена до версии %d", step.to)
	}
	return nil
}

// migrateNamesToUUIDs переносит записи игроков с имён на UUID-ключи.
// Ключи, уже являющиеся UUID, и групповые "$"-записи не трогаются.
// Имена, которых справочник не знает, остаются как есть: данные
// не теряются, запись подхватится при следующей миграции.
func migrateNamesToUUIDs(ctx context.Context, backend Backend, dir directory.UserDirectory) error {
	records, err := backend.LoadAllPlayers(ctx)
	if err != nil {
		return err
	}

	resolved, skipped := 0, 0
	for _, rec := range records {
		if rec.IsGroupRecord() {
			continue
		}
		if _, err := uuid.Parse(rec.Key); err == nil {
			continue
		}

		if dir == nil {
			skipped++
			continue
		}
		id, err := dir.ResolveName(ctx, rec.Key)
		if errors.Is(err, directory.ErrNameNotFound) {
			skipped++
			continue
		}
		if err != nil {
			return fmt.Errorf("разрешение имени %q: %w", rec.Key, err)
		}
		if err := backend.RenamePlayerKey(ctx, rec.Key, id); err != nil {
			return fmt.Errorf("перенос записи %q → %q: %w", rec.Key, id, err)
		}
		resolved++
	}

	if skipped > 0 {
		logging.Warn("⚠️  Миграция имён: %d записей перенесено, %d имён не разрешено (оставлены)", resolved, skipped)
	} else {
		logging.Info("Миграция имён: перенесено записей: %d", resolved)
	}
	return nil
}

// migrateNormalizeTrustLists перезаписывает все заявки, прогоняя списки
// доверия через кодек: декодер выбрасывает пустые элементы
func migrateNormalizeTrustLists(ctx context.Context, backend Backend, _ directory.UserDirectory) error {
	records, err := backend.LoadAllClaims(ctx, nil)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := backend.WriteClaim(ctx, rec); err != nil {
			return fmt.Errorf("перезапись заявки #%d: %w", rec.ID, err)
		}
	}
	return nil
}

// migrateDropCorruptClaims удаляет записи с id == -1, оставленные
// унаследованной ошибкой сериализации
func migrateDropCorruptClaims(ctx context.Context, backend Backend, _ directory.UserDirectory) error {
	records, err := backend.LoadAllClaims(ctx, nil)
	if err != nil {
		return err
	}
	dropped := 0
	for _, rec := range records {
		if rec.ID == -1 {
			if err := backend.DeleteClaim(ctx, rec.ID); err != nil {
				return err
			}
			dropped++
		}
	}
	if dropped > 0 {
		logging.Warn("⚠️  Удалено повреждённых записей заявок: %d", dropped)
	}
	return nil
}
