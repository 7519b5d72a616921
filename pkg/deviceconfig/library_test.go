package deviceconfig

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLibraryLoads(t *testing.T) {
	lib, err := DefaultLibrary()
	require.NoError(t, err)

	assert.Contains(t, lib.ConfigTypes(), "smartplugv1")
	assert.Contains(t, lib.ConfigTypes(), "smartplugv2")
	assert.Contains(t, lib.ConfigTypes(), "goldair_heater")
}

func TestResolveByLegacyAndConfigType(t *testing.T) {
	lib, err := DefaultLibrary()
	require.NoError(t, err)

	cfg, err := lib.Resolve("kogan_switch")
	require.NoError(t, err)
	assert.Equal(t, "smartplugv1", cfg.ConfigType)

	cfg, err = lib.Resolve("heater")
	require.NoError(t, err)
	assert.Equal(t, "goldair_heater", cfg.ConfigType)

	cfg, err = lib.Resolve("smartplugv2")
	require.NoError(t, err)
	assert.Equal(t, "smartplugv2", cfg.ConfigType)

	_, err = lib.Resolve("toaster")
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}

func TestBestMatchSmartPlugs(t *testing.T) {
	lib, err := DefaultLibrary()
	require.NoError(t, err)

	v1 := map[string]any{"1": true, "2": float64(0), "4": float64(12), "5": float64(230), "6": float64(2401)}
	cfg := lib.BestMatch(v1)
	require.NotNil(t, cfg)
	assert.Equal(t, "smartplugv1", cfg.ConfigType)

	v2 := map[string]any{"1": false, "9": float64(0), "18": float64(0), "19": float64(0), "20": float64(2398)}
	cfg = lib.BestMatch(v2)
	require.NotNil(t, cfg)
	assert.Equal(t, "smartplugv2", cfg.ConfigType)

	assert.Nil(t, lib.BestMatch(map[string]any{"1": true}))
}

func TestBestMatchRejectsWrongTypes(t *testing.T) {
	lib, err := DefaultLibrary()
	require.NoError(t, err)

	// dps 2 must be an integer for the smart plug
	status := map[string]any{"1": true, "2": "0", "4": float64(12), "5": float64(230), "6": float64(2401)}
	assert.Nil(t, lib.BestMatch(status))
}

func TestBestMatchPrefersCoverageThenName(t *testing.T) {
	fsys := fstest.MapFS{
		"b_small.yaml": {Data: []byte("name: small\nprimary_entity:\n  entity: switch\n  dps:\n    - id: 1\n      type: boolean\n")},
		"a_small.yaml": {Data: []byte("name: small too\nprimary_entity:\n  entity: switch\n  dps:\n    - id: 1\n      type: boolean\n")},
		"big.yaml":     {Data: []byte("name: big\nprimary_entity:\n  entity: switch\n  dps:\n    - id: 1\n      type: boolean\n    - id: 2\n      type: integer\n      optional: true\n")},
	}
	lib, err := LoadLibrary(fsys)
	require.NoError(t, err)

	cfg := lib.BestMatch(map[string]any{"1": true})
	require.NotNil(t, cfg)
	assert.Equal(t, "a_small", cfg.ConfigType)

	cfg = lib.BestMatch(map[string]any{"1": true, "2": float64(3)})
	require.NotNil(t, cfg)
	assert.Equal(t, "big", cfg.ConfigType)
}

func TestLoadLibraryDuplicateLegacyType(t *testing.T) {
	fsys := fstest.MapFS{
		"a.yaml": {Data: []byte("name: a\nlegacy_type: plug\n")},
		"b.yaml": {Data: []byte("name: b\nlegacy_type: plug\n")},
	}
	_, err := LoadLibrary(fsys)
	assert.Error(t, err)
}

func TestPlatforms(t *testing.T) {
	lib, err := DefaultLibrary()
	require.NoError(t, err)

	cfg, err := lib.Resolve("goldair_heater")
	require.NoError(t, err)
	assert.Equal(t, []string{"climate", "light", "lock"}, cfg.Platforms())

	lock, ok := cfg.EntityFor("lock")
	require.True(t, ok)
	assert.Equal(t, "Child lock", lock.Name)

	_, ok = cfg.EntityFor("fan")
	assert.False(t, ok)
}
