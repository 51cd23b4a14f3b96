package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddot-watch/river/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, 175, cfg.MaxRiverItems)
	assert.Equal(t, 15, cfg.MinSecsBetwFeedChecks)
	assert.Equal(t, 300, cfg.CtSecsLifeRiverCache)
	assert.True(t, cfg.FlUpdateFeedsInBackground)
	assert.True(t, cfg.FlUseRiverCache)
	assert.Equal(t, ":8080", cfg.ListenAddr())
	assert.NoError(t, cfg.Validate())
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "river.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_river_items = 50
min_secs_betw_feed_checks = 60
fl_use_river_cache = false
log_level = "warn"
`), 0o644))

	t.Setenv("RIVER_MAX_RIVER_ITEMS", "25")
	t.Setenv("RIVER_FL_UPDATE_FEEDS_IN_BACKGROUND", "no")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.MaxRiverItems, "env wins over file")
	assert.Equal(t, 60, cfg.MinSecsBetwFeedChecks, "file wins over default")
	assert.False(t, cfg.FlUseRiverCache)
	assert.False(t, cfg.FlUpdateFeedsInBackground)
	assert.Equal(t, 300, cfg.CtSecsLifeRiverCache, "untouched keys keep defaults")
	assert.Equal(t, zerolog.WarnLevel, cfg.LogLevel)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown key", content: "max_items = 3\n"},
		{name: "zero river cap", content: "max_river_items = 0\n"},
		{name: "unknown fetcher", content: "fetcher = \"curl\"\n"},
		{name: "bad log level", content: "log_level = \"loud\"\n"},
		{name: "malformed toml", content: "max_river_items = \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "river.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := config.Load(path)
			assert.Error(t, err)
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value    string
		def      bool
		expected bool
	}{
		{value: "", def: true, expected: true},
		{value: "yes", def: false, expected: true},
		{value: "N", def: true, expected: false},
		{value: "true", def: false, expected: true},
		{value: "0", def: true, expected: false},
		{value: "maybe", def: true, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("RIVER_TEST_BOOL", tt.value)
			assert.Equal(t, tt.expected, config.GetEnvBool("TEST_BOOL", tt.def))
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected int
	}{
		{name: "unset", value: "", expected: 7},
		{name: "number", value: "42", expected: 42},
		{name: "padded", value: " 3 ", expected: 3},
		{name: "garbage", value: "ten", expected: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("RIVER_TEST_INT", tt.value)
			assert.Equal(t, tt.expected, config.GetEnvInt("TEST_INT", 7))
		})
	}
}
