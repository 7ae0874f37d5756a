package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConfigCLIOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache_dir: /yaml/cache
db_file: /yaml/db
port: 8000
host: yaml-host
`), 0o644))

	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Parse([]string{
		"--config", path,
		"--cache_dir", "/cli/cache",
		"--db_file", "/cli/db",
		"--port", "9000",
	}))

	cfg, err := buildConfig(cmd.Flags())
	require.NoError(t, err)

	assert.Equal(t, "/cli/cache", cfg.CacheDir, "a passed CLI flag must win over the same YAML key")
	assert.Equal(t, "/cli/db", cfg.DBFile, "a passed CLI flag must win over the same YAML key")
	assert.Equal(t, 9000, cfg.Port, "a passed CLI flag must win over the same YAML key")
	assert.Equal(t, "yaml-host", cfg.Host, "a YAML key with no corresponding CLI flag passed must survive")
}

func TestBuildConfigYAMLOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache_dir: /yaml/cache
db_file: /yaml/db
verbosity: 4
`), 0o644))

	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--config", path}))

	cfg, err := buildConfig(cmd.Flags())
	require.NoError(t, err)

	assert.Equal(t, "/yaml/cache", cfg.CacheDir)
	assert.Equal(t, "/yaml/db", cfg.DBFile)
	assert.Equal(t, 4, cfg.Verbosity)
}

func TestBuildConfigCLIOnlyNoConfigFile(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Parse([]string{
		"--cache_dir", "/cli/cache",
		"--db_file", "/cli/db",
	}))

	cfg, err := buildConfig(cmd.Flags())
	require.NoError(t, err)

	assert.Equal(t, "/cli/cache", cfg.CacheDir)
	assert.Equal(t, "/cli/db", cfg.DBFile)
}

func TestBuildConfigRequiresCacheDirAndDBFile(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Parse(nil))

	_, err := buildConfig(cmd.Flags())
	assert.Error(t, err)
}
