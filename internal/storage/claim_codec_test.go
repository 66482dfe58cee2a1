package storage

import (
	"testing"
	"time"

	"github.com/annel0/mmo-claims/internal/claim"
	"github.com/annel0/mmo-claims/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimCodec_TopLevelRoundTrip(t *testing.T) {
	m := claim.NewClaimWorldManager("overworld", nil)
	c := claim.NewClaim("overworld", "owner-1", vec.Vec3{X: -5, Y: 0, Z: -5}, vec.Vec3{X: 15, Y: 255, Z: 15})
	require.NoError(t, m.AddClaim(c, false))
	c.Grant("friend", claim.TrustBuild)
	c.Grant("public", claim.TrustAccess)

	rec := RecordFromClaim(c)
	assert.Equal(t, c.ID, rec.ID)
	assert.Equal(t, "owner-1", rec.OwnerID)
	assert.Equal(t, int64(TopLevelParentID), rec.ParentID)
	assert.Equal(t, "overworld;-5;0;-5", rec.LesserCorner)
	assert.Equal(t, []string{"friend"}, rec.Builders)
	assert.Equal(t, []string{"public"}, rec.Accessors)

	restored, worldID, err := ClaimFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, "overworld", worldID)
	assert.Equal(t, c.ID, restored.ID)
	assert.Equal(t, "owner-1", restored.OwnerID())
	assert.Equal(t, c.Bounds(), restored.Bounds())
	assert.Equal(t, []string{"friend"}, restored.TrustEntries(claim.TrustBuild))
}

func TestClaimCodec_InheritingSubdivision(t *testing.T) {
	m := claim.NewClaimWorldManager("overworld", nil)
	parent := claim.NewClaim("overworld", "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 50, Y: 255, Z: 50})
	require.NoError(t, m.AddClaim(parent, false))

	sub := claim.NewSubdivision("overworld", vec.Vec3{X: 10, Y: 0, Z: 10}, vec.Vec3{X: 20, Y: 255, Z: 20})
	require.NoError(t, m.AddSubdivision(parent, sub, false))

	rec := RecordFromClaim(sub)
	assert.Equal(t, parent.ID, rec.ParentID)
	assert.Empty(t, rec.OwnerID, "владелец хранится только у заявки верхнего уровня")
	assert.Nil(t, rec.Builders, "наследующий подраздел сохраняется без списков")

	restored, _, err := ClaimFromRecord(rec)
	require.NoError(t, err)
	// Все списки пусты: восстановленный подраздел снова наследует
	assert.Nil(t, restored.DeclaredTrustEntries(claim.TrustBuild))
}

func TestClaimCodec_CrossWorldCornersRejected(t *testing.T) {
	_, _, err := ClaimFromRecord(ClaimRecord{
		ID:            1,
		LesserCorner:  "overworld;0;0;0",
		GreaterCorner: "nether;10;10;10",
		ParentID:      TopLevelParentID,
	})
	assert.Error(t, err)
}

func TestPlayerCodec_RoundTrip(t *testing.T) {
	login := time.Unix(1700000000, 0)

	pd := claim.NewPlayerData("player-1", 100)
	pd.SetBonusBlocks(40)
	pd.SetLastLogin(login)
	pd.Ignore("rival", claim.IgnoreStandard)
	pd.Ignore("cheater", claim.IgnoreAdmin)

	rec := RecordFromPlayerData(pd)
	assert.Equal(t, "player-1", rec.Key)
	assert.Equal(t, int64(1700000000), rec.LastLogin)
	assert.Equal(t, 100, rec.AccruedBlocks)
	assert.Equal(t, 40, rec.BonusBlocks)
	assert.ElementsMatch(t, []string{"rival", "!cheater"}, rec.Ignored)

	restored := claim.NewPlayerData("player-1", 0)
	ApplyPlayerRecord(restored, rec, 0)
	assert.Equal(t, 100, restored.AccruedBlocks())
	assert.Equal(t, 40, restored.BonusBlocks())
	assert.True(t, restored.LastLogin().Equal(login))
	assert.True(t, restored.IsIgnoring("rival"))
	assert.False(t, restored.Unignore("cheater", false), "административная запись восстановлена как административная")
	assert.False(t, restored.Dirty())
}
