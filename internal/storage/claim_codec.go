package storage

import (
	"fmt"
	"time"

	"github.com/annel0/mmo-claims/internal/claim"
)

// RecordFromClaim сериализует заявку в запись хранилища.
// Списки доверия берутся только собственные: подраздел, наследующий
// родителя, сохраняется с пустыми списками.
func RecordFromClaim(c *claim.Claim) ClaimRecord {
	bounds := c.Bounds()
	parentID := int64(TopLevelParentID)
	owner := ""
	if p := c.Parent(); p != nil {
		parentID = p.ID
	} else {
		owner = c.OwnerID()
	}
	return ClaimRecord{
		ID:            c.ID,
		OwnerID:       owner,
		LesserCorner:  EncodeCorner(c.WorldID, bounds.Lesser),
		GreaterCorner: EncodeCorner(c.WorldID, bounds.Greater),
		Builders:      c.DeclaredTrustEntries(claim.TrustBuild),
		Containers:    c.DeclaredTrustEntries(claim.TrustContainer),
		Accessors:     c.DeclaredTrustEntries(claim.TrustAccess),
		Managers:      c.DeclaredTrustEntries(claim.TrustManage),
		ParentID:      parentID,
	}
}

// ClaimFromRecord восстанавливает заявку из записи.
// Возвращает мир, извлечённый из угловых точек; привязку к родителю
// выполняет вызывающий.
func ClaimFromRecord(rec ClaimRecord) (*claim.Claim, string, error) {
	worldA, lesser, err := DecodeCorner(rec.LesserCorner)
	if err != nil {
		return nil, "", err
	}
	worldB, greater, err := DecodeCorner(rec.GreaterCorner)
	if err != nil {
		return nil, "", err
	}
	if worldA != worldB {
		return nil, "", fmt.Errorf("углы заявки #%d из разных миров: %q и %q", rec.ID, worldA, worldB)
	}

	var c *claim.Claim
	if rec.ParentID == TopLevelParentID {
		c = claim.NewClaim(worldA, rec.OwnerID, lesser, greater)
	} else {
		c = claim.NewSubdivision(worldA, lesser, greater)
	}
	c.ID = rec.ID
	c.RestoreTrust(map[claim.TrustLevel][]string{
		claim.TrustBuild:     rec.Builders,
		claim.TrustContainer: rec.Containers,
		claim.TrustAccess:    rec.Accessors,
		claim.TrustManage:    rec.Managers,
	})
	return c, worldA, nil
}

// RecordFromPlayerData сериализует запись игрока
func RecordFromPlayerData(pd *claim.PlayerData) PlayerRecord {
	ignored := pd.IgnoredPlayers()
	entries := make([]string, 0, len(ignored))
	for id, mode := range ignored {
		entries = append(entries, EncodeIgnoreEntry(id, mode == claim.IgnoreAdmin))
	}
	rec := PlayerRecord{
		Key:           pd.PlayerID,
		AccruedBlocks: pd.AccruedBlocks(),
		BonusBlocks:   pd.BonusBlocks(),
		Ignored:       entries,
	}
	if last := pd.LastLogin(); !last.IsZero() {
		rec.LastLogin = last.Unix()
	}
	return rec
}

// ApplyPlayerRecord наполняет PlayerData значениями из записи
func ApplyPlayerRecord(pd *claim.PlayerData, rec PlayerRecord, maxAccrued int) {
	pd.SetAccruedBlocks(rec.AccruedBlocks, maxAccrued)
	pd.SetBonusBlocks(rec.BonusBlocks)
	if rec.LastLogin > 0 {
		pd.SetLastLogin(time.Unix(rec.LastLogin, 0))
	}
	ignored := make(map[string]claim.IgnoreMode, len(rec.Ignored))
	for _, entry := range rec.Ignored {
		id, admin := DecodeIgnoreEntry(entry)
		mode := claim.IgnoreStandard
		if admin {
			mode = claim.IgnoreAdmin
		}
		ignored[id] = mode
	}
	pd.ReplaceIgnored(ignored)
	pd.ClearDirty()
}
