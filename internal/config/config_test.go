package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresEndpointAPIKeyEnginePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fishnet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cores: 2\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fishnet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
endpoint: https://example.org/fishnet
apikey: secret
engine_path: /usr/bin/stockfish
cores: 3
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/fishnet", cfg.Endpoint)
	assert.Equal(t, 3, cfg.ResolvedCores())
}

func TestResolvedCores_AutoClampsToAtLeastOne(t *testing.T) {
	cfg := Config{Cores: 0}
	assert.True(t, cfg.ResolvedCores() >= 1)
}
