package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NotNil(t, cfg)
	assert.Contains(t, cfg.Credentials, "credentials.json")
	assert.Contains(t, cfg.Token, "token.json")
	assert.Contains(t, cfg.DocumentDB, "documents.db")
	assert.Contains(t, cfg.MessageDB, "messages.db")
	assert.Contains(t, cfg.QueuesFile, "queues.yaml")
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.VacationLabel)
	assert.Zero(t, cfg.AllowedPinCount)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadConfigFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"vacation_label":"fun","allowed_pin_count":3}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "fun", cfg.VacationLabel)
	assert.Equal(t, 3, cfg.AllowedPinCount)
	assert.Contains(t, cfg.DocumentDB, "documents.db", "unset fields keep their defaults")
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.VacationLabel = "travel"
	cfg.AllowedMustDoCount = 6

	require.NoError(t, cfg.Save(path))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "travel", got.VacationLabel)
	assert.Equal(t, 6, got.AllowedMustDoCount)
}

func TestDefaultConfigPathEnvOverride(t *testing.T) {
	t.Setenv("MAILTRIAGE_CONFIG", "/tmp/custom.json")
	assert.Equal(t, "/tmp/custom.json", DefaultConfigPath())
}

func TestLoadQueueSettingsMissingFile(t *testing.T) {
	qs, err := LoadQueueSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, qs.Order)
	// Falls back to alphabetical.
	assert.Negative(t, qs.Compare("alpha", "beta"))
}

func TestLoadQueueSettingsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queues.yaml")
	require.NoError(t, os.WriteFile(path, []byte("order:\n  - work\n  - newsletters\n"), 0o600))

	qs, err := LoadQueueSettings(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"work", "newsletters"}, qs.Order)
	assert.Negative(t, qs.Compare("work", "newsletters"))
	assert.Positive(t, qs.Compare("newsletters", "work"))
}

func TestQueueSettingsCompareSpecialGroups(t *testing.T) {
	qs := NewQueueSettings("work")

	assert.Zero(t, qs.Compare("work", "work"))
	assert.Negative(t, qs.Compare("Stuck", "Retriage"))
	assert.Negative(t, qs.Compare("Stuck", "work"))
	assert.Negative(t, qs.Compare("Retriage", "work"))
	assert.Positive(t, qs.Compare("work", "Stuck"))
	assert.Negative(t, qs.Compare("work", "aaa"), "configured names sort before unknown ones")
}
