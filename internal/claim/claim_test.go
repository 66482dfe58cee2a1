package claim

import (
	"testing"

	"github.com/annel0/mmo-claims/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaim_TrustGrantRevoke(t *testing.T) {
	c := NewClaim("overworld", "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 10, Y: 255, Z: 10})

	c.Grant("friend-1", TrustBuild)
	c.Grant("friend-2", TrustAccess)

	assert.Equal(t, []string{"friend-1"}, c.TrustEntries(TrustBuild))
	assert.Equal(t, []string{"friend-2"}, c.TrustEntries(TrustAccess))

	// Повторная выдача перемещает запись на новый уровень, а не дублирует
	c.Grant("friend-1", TrustContainer)
	assert.Empty(t, c.TrustEntries(TrustBuild))
	assert.Equal(t, []string{"friend-1"}, c.TrustEntries(TrustContainer))

	c.Revoke("friend-1")
	assert.Empty(t, c.TrustEntries(TrustContainer))
}

func TestClaim_TrustLevelsCover(t *testing.T) {
	c := NewClaim("overworld", "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 10, Y: 255, Z: 10})
	c.Grant("builder", TrustBuild)

	// Уровень build покрывает container и access, но не manage
	assert.True(t, c.trustedAt(TrustAccess, []string{"builder"}))
	assert.True(t, c.trustedAt(TrustContainer, []string{"builder"}))
	assert.True(t, c.trustedAt(TrustBuild, []string{"builder"}))
	assert.False(t, c.trustedAt(TrustManage, []string{"builder"}))
}

func TestClaim_GroupAndPublicEntries(t *testing.T) {
	c := NewClaim("overworld", "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 10, Y: 255, Z: 10})
	c.Grant(GroupEntry("vip"), TrustContainer)
	c.Grant(PublicEntry, TrustAccess)

	assert.True(t, c.trustedAt(TrustContainer, []string{"[vip]"}))
	assert.True(t, c.trustedAt(TrustAccess, []string{"public"}))
	assert.False(t, c.trustedAt(TrustContainer, []string{"public"}))

	assert.True(t, IsGroupEntry("[vip]"))
	assert.False(t, IsGroupEntry("vip"))
	assert.False(t, IsGroupEntry("[]"))
}

func TestSubdivision_InheritsTrustUntilDeclared(t *testing.T) {
	parent := NewClaim("overworld", "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 50, Y: 255, Z: 50})
	parent.Grant("friend", TrustBuild)

	m := NewClaimWorldManager("overworld", nil)
	require.NoError(t, m.AddClaim(parent, false))

	sub := NewSubdivision("overworld", vec.Vec3{X: 10, Y: 0, Z: 10}, vec.Vec3{X: 20, Y: 255, Z: 20})
	require.NoError(t, m.AddSubdivision(parent, sub, false))

	// Пока у подраздела нет собственных списков, действует доверие родителя
	assert.True(t, sub.trustedAt(TrustBuild, []string{"friend"}))
	assert.Equal(t, []string{"friend"}, sub.TrustEntries(TrustBuild))
	assert.Nil(t, sub.DeclaredTrustEntries(TrustBuild))

	// Первая собственная выдача отменяет наследование целиком
	sub.Grant("tenant", TrustContainer)
	assert.False(t, sub.trustedAt(TrustBuild, []string{"friend"}))
	assert.True(t, sub.trustedAt(TrustContainer, []string{"tenant"}))
	assert.Empty(t, sub.TrustEntries(TrustBuild))
}

func TestSubdivision_OwnerComesFromParent(t *testing.T) {
	parent := NewClaim("overworld", "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 50, Y: 255, Z: 50})
	m := NewClaimWorldManager("overworld", nil)
	require.NoError(t, m.AddClaim(parent, false))

	sub := NewSubdivision("overworld", vec.Vec3{X: 10, Y: 0, Z: 10}, vec.Vec3{X: 20, Y: 255, Z: 20})
	require.NoError(t, m.AddSubdivision(parent, sub, false))

	assert.Equal(t, "owner-1", sub.OwnerID())
	assert.True(t, sub.IsSubdivision())
	assert.False(t, parent.IsSubdivision())
}

func TestClaim_AdminClaim(t *testing.T) {
	admin := NewClaim("overworld", "", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 10, Y: 255, Z: 10})
	assert.True(t, admin.IsAdminClaim())

	normal := NewClaim("overworld", "owner-1", vec.Vec3{X: 20, Y: 0, Z: 20}, vec.Vec3{X: 30, Y: 255, Z: 30})
	assert.False(t, normal.IsAdminClaim())
}

func TestClaim_RestoreTrust(t *testing.T) {
	// Все списки пусты: подраздел остаётся наследующим
	sub := NewSubdivision("overworld", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 5, Y: 10, Z: 5})
	sub.RestoreTrust(map[TrustLevel][]string{})
	assert.Nil(t, sub.DeclaredTrustEntries(TrustBuild))

	// Непустой список объявляет собственные списки
	sub2 := NewSubdivision("overworld", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 5, Y: 10, Z: 5})
	sub2.RestoreTrust(map[TrustLevel][]string{TrustAccess: {"guest"}})
	assert.Equal(t, []string{"guest"}, sub2.DeclaredTrustEntries(TrustAccess))
	assert.Equal(t, []string{}, sub2.DeclaredTrustEntries(TrustBuild))
}

func TestClaim_VersionGrowsOnResize(t *testing.T) {
	m := NewClaimWorldManager("overworld", nil)
	c := NewClaim("overworld", "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 10, Y: 255, Z: 10})
	require.NoError(t, m.AddClaim(c, false))

	before := c.Version()
	require.NoError(t, m.ResizeClaim(c, NewBounds(vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 20, Y: 255, Z: 20})))
	assert.Greater(t, c.Version(), before)
}
