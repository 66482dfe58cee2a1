package claim

import (
	"testing"

	"github.com/annel0/mmo-claims/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClaim(t *testing.T, owner string) *Claim {
	t.Helper()
	m := NewClaimWorldManager("overworld", nil)
	c := NewClaim("overworld", owner, vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 50, Y: 255, Z: 50})
	require.NoError(t, m.AddClaim(c, false))
	return c
}

func TestResolve_OwnerAlwaysAllowed(t *testing.T) {
	r := NewPermissionResolver(nil, nil)
	c := testClaim(t, "owner-1")

	assert.NoError(t, r.Resolve(c, Actor{ID: "owner-1"}, ActionBuild))
	assert.NoError(t, r.Resolve(c, Actor{ID: "owner-1"}, ActionManage))
}

func TestResolve_StrangerDenied(t *testing.T) {
	r := NewPermissionResolver(nil, nil)
	c := testClaim(t, "owner-1")

	err := r.Resolve(c, Actor{ID: "stranger"}, ActionBuild)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	require.NotNil(t, denied.MissingTrust)
	assert.Equal(t, TrustBuild, *denied.MissingTrust)
	assert.False(t, denied.Banned)
}

func TestResolve_TrustTiers(t *testing.T) {
	r := NewPermissionResolver(nil, nil)
	c := testClaim(t, "owner-1")
	c.Grant("guest", TrustAccess)
	c.Grant("builder", TrustBuild)

	// access не даёт container и build
	assert.NoError(t, r.Resolve(c, Actor{ID: "guest"}, ActionAccess))
	assert.Error(t, r.Resolve(c, Actor{ID: "guest"}, ActionContainer))
	assert.Error(t, r.Resolve(c, Actor{ID: "guest"}, ActionBuild))

	// build покрывает всё, кроме manage
	assert.NoError(t, r.Resolve(c, Actor{ID: "builder"}, ActionAccess))
	assert.NoError(t, r.Resolve(c, Actor{ID: "builder"}, ActionContainer))
	assert.NoError(t, r.Resolve(c, Actor{ID: "builder"}, ActionBreak))
	assert.Error(t, r.Resolve(c, Actor{ID: "builder"}, ActionManage))
}

func TestResolve_GroupTrust(t *testing.T) {
	r := NewPermissionResolver(nil, nil)
	c := testClaim(t, "owner-1")
	c.Grant(GroupEntry("vip"), TrustContainer)

	assert.NoError(t, r.Resolve(c, Actor{ID: "anyone", Groups: []string{"vip"}}, ActionContainer))
	assert.Error(t, r.Resolve(c, Actor{ID: "anyone", Groups: []string{"mortal"}}, ActionContainer))
}

func TestResolve_PublicTrust(t *testing.T) {
	r := NewPermissionResolver(nil, nil)
	c := testClaim(t, "owner-1")
	c.Grant(PublicEntry, TrustAccess)

	assert.NoError(t, r.Resolve(c, Actor{ID: "anyone"}, ActionAccess))
	assert.Error(t, r.Resolve(c, Actor{ID: "anyone"}, ActionBuild))
}

func TestResolve_BanOverridesTrust(t *testing.T) {
	r := NewPermissionResolver(map[string]string{"build": "стройка отключена на время события"}, nil)
	c := testClaim(t, "owner-1")
	c.Grant("builder", TrustBuild)

	// Запрет действует даже при выданном доверии
	err := r.Resolve(c, Actor{ID: "builder"}, ActionBuild)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.True(t, denied.Banned)
	assert.Equal(t, "стройка отключена на время события", denied.Reason)

	// Владельца запрет не касается
	assert.NoError(t, r.Resolve(c, Actor{ID: "owner-1"}, ActionBuild))
	// Другие действия не затронуты
	assert.NoError(t, r.Resolve(c, Actor{ID: "builder"}, ActionContainer))
}

func TestResolve_BanMatchesSubstringCaseInsensitive(t *testing.T) {
	r := NewPermissionResolver(map[string]string{"BREAK": "ломать нельзя"}, nil)
	c := testClaim(t, "owner-1")
	c.Grant("builder", TrustBuild)

	assert.Error(t, r.Resolve(c, Actor{ID: "builder"}, ActionBreak))
	assert.NoError(t, r.Resolve(c, Actor{ID: "builder"}, ActionBuild))
}

func TestResolve_AdminBypass(t *testing.T) {
	r := NewPermissionResolver(nil, []string{"admin-1"})
	c := testClaim(t, "owner-1")

	assert.NoError(t, r.Resolve(c, Actor{ID: "admin-1"}, ActionManage))
	assert.NoError(t, r.Resolve(c, Actor{ID: "stranger", IgnoreClaims: true}, ActionManage))
}

func TestResolve_AdminClaimHasNoOwner(t *testing.T) {
	r := NewPermissionResolver(nil, nil)
	c := testClaim(t, "")

	// Пустой идентификатор актора не делает его владельцем административной заявки
	err := r.Resolve(c, Actor{ID: "stranger"}, ActionAccess)
	assert.Error(t, err)
}

func TestResolve_SubdivisionInheritance(t *testing.T) {
	r := NewPermissionResolver(nil, nil)

	m := NewClaimWorldManager("overworld", nil)
	parent := NewClaim("overworld", "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 50, Y: 255, Z: 50})
	require.NoError(t, m.AddClaim(parent, false))
	parent.Grant("friend", TrustBuild)

	sub := NewSubdivision("overworld", vec.Vec3{X: 10, Y: 0, Z: 10}, vec.Vec3{X: 20, Y: 255, Z: 20})
	require.NoError(t, m.AddSubdivision(parent, sub, false))

	// Наследование: доверие родителя действует внутри подраздела
	assert.NoError(t, r.Resolve(sub, Actor{ID: "friend"}, ActionBuild))

	// Собственная выдача отсекает наследование
	sub.Grant("tenant", TrustContainer)
	assert.Error(t, r.Resolve(sub, Actor{ID: "friend"}, ActionBuild))
	assert.NoError(t, r.Resolve(sub, Actor{ID: "tenant"}, ActionContainer))
	// Владелец родителя остаётся владельцем подраздела
	assert.NoError(t, r.Resolve(sub, Actor{ID: "owner-1"}, ActionBuild))
}

func TestResolveWilderness(t *testing.T) {
	r := NewPermissionResolver(nil, []string{"admin-1"})
	actor := Actor{ID: "player-1"}

	assert.NoError(t, r.ResolveWilderness(ModeSurvival, actor, false))

	assert.Error(t, r.ResolveWilderness(ModeCreative, actor, false))
	// bootstrap-исключение: установка стартового блока заявки
	assert.NoError(t, r.ResolveWilderness(ModeCreative, actor, true))

	assert.Error(t, r.ResolveWilderness(ModeSurvivalRequiringClaims, actor, false))
	assert.Error(t, r.ResolveWilderness(ModeSurvivalRequiringClaims, actor, true))

	assert.NoError(t, r.ResolveWilderness(ModeSurvivalRequiringClaims, Actor{ID: "admin-1"}, false))
}

func TestParseWorldMode(t *testing.T) {
	assert.Equal(t, ModeCreative, ParseWorldMode("creative"))
	assert.Equal(t, ModeSurvivalRequiringClaims, ParseWorldMode("survival_requiring_claims"))
	assert.Equal(t, ModeSurvival, ParseWorldMode("survival"))
	assert.Equal(t, ModeSurvival, ParseWorldMode(""))
}
