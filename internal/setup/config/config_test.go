package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/robalyx/sentinel/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const commonTOML = `
[common]
version = 1

[common.debug]
log_level = "debug"

[common.openai]
base_url = "http://localhost:8080/v1"
scam_model = "scam-small"
max_concurrent = 2

[common.openai.model_mappings]
scam-small = "vendor/scam-small-2"
`

const moderationTOML = `
[moderation]
version = 1
pattern_file = "patterns.jsonc"

[moderation.ai]
enabled = true
structured_output = true

[moderation.behavior]
backend = "redis"
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadConfigFromPaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "common.toml", commonTOML)
	writeFile(t, dir, "moderation.toml", moderationTOML)

	cfg, used, err := config.LoadConfigFromPaths([]string{filepath.Join(dir, "missing"), dir})
	require.NoError(t, err)
	assert.Equal(t, dir, used)

	assert.Equal(t, "debug", cfg.Common.Debug.LogLevel)
	assert.Equal(t, "scam-small", cfg.Common.OpenAI.ScamModel)
	assert.Equal(t, int64(2), cfg.Common.OpenAI.MaxConcurrent)
	assert.Equal(t, "vendor/scam-small-2", cfg.Common.OpenAI.ModelMappings["scam-small"])

	assert.True(t, cfg.Moderation.AI.Enabled)
	assert.True(t, cfg.Moderation.AI.StructuredOutput)
	assert.Equal(t, config.BehaviorStoreRedis, cfg.Moderation.Behavior.Backend)
	assert.Equal(t, "patterns.jsonc", cfg.Moderation.PatternFile)

	// Defaults
	assert.InDelta(t, 0.65, cfg.Moderation.AI.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 20000, cfg.Moderation.AI.RequestTimeout)
	assert.Equal(t, 3600, cfg.Moderation.Behavior.SweepInterval)
	assert.Equal(t, 1000, cfg.Moderation.Audit.MaxMessageLength)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		common     string
		moderation string
		wantErr    error
	}{
		{
			name:    "missing moderation file",
			common:  commonTOML,
			wantErr: config.ErrConfigFileNotFound,
		},
		{
			name:       "missing version",
			common:     "[common]\n",
			moderation: moderationTOML,
			wantErr:    config.ErrConfigVersionMissing,
		},
		{
			name:       "version mismatch",
			common:     commonTOML,
			moderation: "[moderation]\nversion = 9\n",
			wantErr:    config.ErrConfigVersionMismatch,
		},
		{
			name:       "unknown behavior backend",
			common:     commonTOML,
			moderation: "[moderation]\nversion = 1\n[moderation.behavior]\nbackend = \"etcd\"\n",
			wantErr:    config.ErrInvalidBehaviorStore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeFile(t, dir, "common.toml", tt.common)

			if tt.moderation != "" {
				writeFile(t, dir, "moderation.toml", tt.moderation)
			}

			_, _, err := config.LoadConfigFromPaths([]string{dir})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadPatterns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "patterns.jsonc", `{
		// Campaign seen in the wild
		"patterns": [
			{"category": "scam", "name": "mega_bonus", "pattern": "mega\\s+bonus"},
			{"category": "phishing", "name": "fake_dex", "pattern": "uniswap-claim\\.", "hasUrl": true},
		],
	}`)

	patterns, err := config.LoadPatterns(dir, "patterns.jsonc")
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.Equal(t, "mega_bonus", patterns[0].Name)
	assert.True(t, patterns[1].HasURL)

	patterns, err = config.LoadPatterns(dir, "")
	require.NoError(t, err)
	assert.Empty(t, patterns)

	_, err = config.ParsePatterns([]byte(`{"patterns": [{"category": "spam"}]}`))
	require.ErrorIs(t, err, config.ErrPatternFileInvalid)
}
