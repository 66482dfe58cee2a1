package storage

import (
	"testing"

	"github.com/annel0/mmo-claims/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCornerCodec(t *testing.T) {
	s := EncodeCorner("overworld", vec.Vec3{X: -12, Y: 64, Z: 900})
	assert.Equal(t, "overworld;-12;64;900", s)

	world, p, err := DecodeCorner(s)
	require.NoError(t, err)
	assert.Equal(t, "overworld", world)
	assert.Equal(t, vec.Vec3{X: -12, Y: 64, Z: 900}, p)
}

func TestDecodeCorner_Errors(t *testing.T) {
	_, _, err := DecodeCorner("overworld;1;2")
	assert.Error(t, err, "недостающие координаты")

	_, _, err = DecodeCorner(";1;2;3")
	assert.Error(t, err, "пустой мир")

	_, _, err = DecodeCorner("overworld;1;abc;3")
	assert.Error(t, err, "нечисловая координата")

	// Лишние поля унаследованного формата игнорируются
	world, p, err := DecodeCorner("overworld;1;2;3;extra")
	require.NoError(t, err)
	assert.Equal(t, "overworld", world)
	assert.Equal(t, vec.Vec3{X: 1, Y: 2, Z: 3}, p)
}

func TestTrustListCodec(t *testing.T) {
	entries := []string{"player-1", "[vip]", "public"}
	encoded := EncodeTrustList(entries)
	assert.Equal(t, "player-1;[vip];public", encoded)
	assert.Equal(t, entries, DecodeTrustList(encoded))

	// Завершающий разделитель и пустые элементы выбрасываются
	assert.Equal(t, []string{"a", "b"}, DecodeTrustList("a;;b;"))
	assert.Nil(t, DecodeTrustList(""))
	assert.Nil(t, DecodeTrustList(";;"))
}

func TestIgnoreEntryCodec(t *testing.T) {
	assert.Equal(t, "player-1", EncodeIgnoreEntry("player-1", false))
	assert.Equal(t, "!player-1", EncodeIgnoreEntry("player-1", true))

	id, admin := DecodeIgnoreEntry("!player-1")
	assert.Equal(t, "player-1", id)
	assert.True(t, admin)

	id, admin = DecodeIgnoreEntry("player-1")
	assert.Equal(t, "player-1", id)
	assert.False(t, admin)
}

func TestPlayerRecord_GroupRecords(t *testing.T) {
	group := PlayerRecord{Key: "$vip", BonusBlocks: 500}
	assert.True(t, group.IsGroupRecord())
	assert.Equal(t, "vip", group.GroupName())

	player := PlayerRecord{Key: "player-1"}
	assert.False(t, player.IsGroupRecord())
}

func TestClaimRecord_WorldOfRecord(t *testing.T) {
	rec := ClaimRecord{LesserCorner: "nether;0;0;0", GreaterCorner: "nether;10;10;10"}
	world, err := rec.WorldOfRecord()
	require.NoError(t, err)
	assert.Equal(t, "nether", world)
}
