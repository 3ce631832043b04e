package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func TestParseConfigPrecedence(t *testing.T) {
	defaults := defaultPersistentConfig()

	// Defaults only.
	cfg, err := parseConfig(nil, noEnv, defaults)
	require.NoError(t, err)
	assert.Equal(t, "live", cfg.mode)
	assert.Equal(t, 64, cfg.alinesPerCross)

	// Env overrides defaults.
	env := func(key string) (string, bool) {
		if key == "OCT_ALINES_PER_CROSS" {
			return "100", true
		}
		return "", false
	}
	cfg, err = parseConfig(nil, env, defaults)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.alinesPerCross)

	// Flags override env.
	cfg, err = parseConfig([]string{"-alines-per-cross", "48", "-mode", "acquire"}, env, defaults)
	require.NoError(t, err)
	assert.Equal(t, 48, cfg.alinesPerCross)
	assert.Equal(t, "acquire", cfg.mode)
}

func TestConfigFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "octscan.yaml")

	first, err := loadOrCreateConfig(path)
	require.NoError(t, err)
	assert.Equal(t, defaultPersistentConfig(), first)

	first.Repeats = 99
	first.WebAddr = ":9999"
	require.NoError(t, saveConfig(path, first))

	second, err := loadOrCreateConfig(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "octscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: [unclosed"), 0o644))
	_, err := loadOrCreateConfig(path)
	require.Error(t, err)
}

func TestSelectBackend(t *testing.T) {
	dev, err := selectBackend(cliConfig{backend: "mock", alinesPerCross: 8, flybackSamples: 2}, nil)
	require.NoError(t, err)
	assert.NotNil(t, dev)

	_, err = selectBackend(cliConfig{backend: "engine"}, nil)
	require.Error(t, err, "engine backend needs an address")

	_, err = selectBackend(cliConfig{backend: "bogus"}, nil)
	require.Error(t, err)
}
