package palette

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin_NaturalClassification(t *testing.T) {
	p, err := Builtin("natural")
	require.NoError(t, err)

	cases := map[string]uint8{
		"minecraft:air":                      0,
		"minecraft:cave_air":                 0,
		"minecraft:grass_block[snowy=false]": 2,
		"minecraft:coarse_dirt":              2,
		"minecraft:cobblestone":              3,
		"minecraft:water[level=0]":           5,
		"minecraft:flowing_water":            5,
		"minecraft:oak_log[axis=y]":          6,
		"minecraft:spruce_log":               6,
		"minecraft:birch_leaves":             7,
		"minecraft:diamond_ore":              1,
		"minecraft:oak_planks":               1,
	}
	for id, want := range cases {
		assert.Equal(t, want, p.Classify(id), id)
	}
}

func TestBuiltin_ReplayTables(t *testing.T) {
	natural, err := Builtin("natural")
	require.NoError(t, err)
	assert.Equal(t, "minecraft:dirt", natural.BlockFor(2))
	assert.Equal(t, "minecraft:oak_leaves", natural.BlockFor(7))
	// Label 4 has no block; unknown labels also fall back.
	assert.Equal(t, "minecraft:stone", natural.BlockFor(4))
	assert.Equal(t, "minecraft:stone", natural.BlockFor(99))

	cherry, err := Builtin("cherry")
	require.NoError(t, err)
	assert.Equal(t, "minecraft:cherry_wood", cherry.BlockFor(1))
	assert.Equal(t, "minecraft:cherry_wood", cherry.BlockFor(6))
	assert.Equal(t, "minecraft:grass_block", cherry.BlockFor(2))
	assert.Equal(t, "minecraft:clay", cherry.BlockFor(53))
	assert.Equal(t, "minecraft:red_concrete", cherry.BlockFor(54))
	assert.Equal(t, "minecraft:black_wool", cherry.BlockFor(25))

	assert.NotEqual(t, natural.Digest, cherry.Digest)
	assert.Equal(t, []string{"cherry", "natural"}, BuiltinNames())
}

func TestColor_Alpha(t *testing.T) {
	p, err := Builtin("natural")
	require.NoError(t, err)

	_, a := p.Color(0)
	assert.Equal(t, 0.0, a)
	_, a = p.Color(5)
	assert.Equal(t, TransparentAlpha, a)
	c, a := p.Color(6)
	assert.Equal(t, 1.0, a)
	r, g, b := c.RGB255()
	assert.Equal(t, [3]uint8{128, 82, 33}, [3]uint8{r, g, b})

	// Unknown label borrows the default label colour.
	c99, _ := p.Color(99)
	c1, _ := p.Color(1)
	assert.Equal(t, c1, c99)
}

func TestParse_SchemaRejectsBadProfiles(t *testing.T) {
	bad := []string{
		`labels: [{label: 0, name: air}]`,
		`{name: x, labels: [{label: 300, name: air}]}`,
		`{name: x, labels: [{label: 0, name: air, block: "Stone"}]}`,
		`{name: x, labels: [{label: 0, name: air}], rules: [{label: 1}]}`,
		`{name: x, labels: [{label: 0, name: air, colour: [1,1,1]}]}`,
	}
	for _, doc := range bad {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, doc)
	}

	_, err := Parse([]byte(`{name: x, labels: [{label: 1, name: a}, {label: 1, name: b}]}`))
	assert.ErrorContains(t, err, "duplicate label")
	_, err = Parse([]byte(`{name: x, labels: [{label: 1, name: a}]}`))
	assert.ErrorContains(t, err, "missing label 0")
}

func TestResolve_FileAndBuiltin(t *testing.T) {
	p, err := Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "natural", p.Name)

	path := filepath.Join(t.TempDir(), "glass.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: glass
default_label: 9
labels:
  - {label: 0, name: air}
  - {label: 9, name: glass, block: "minecraft:glass", transparent: true, color: [0.8, 0.9, 1]}
rules:
  - {label: 9, suffix: ["glass"]}
`), 0o644))
	p, err = Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, uint8(9), p.Classify("minecraft:tinted_glass"))
	assert.Equal(t, uint8(9), p.Classify("minecraft:dirt"))
	assert.Equal(t, "minecraft:stone", p.BlockFor(1))

	_, err = Resolve("nope")
	assert.Error(t, err)
}
