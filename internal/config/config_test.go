package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteSizeSuffixes(t *testing.T) {
	cases := map[string]int64{
		"10kB": 10_000,
		"2MB":  2_000_000,
		"1GB":  1_000_000_000,
		"3TB":  3_000_000_000_000,
		"512":  512,
	}
	for in, want := range cases {
		var b ByteSize
		require.NoError(t, b.UnmarshalText([]byte(in)))
		assert.Equal(t, want, int64(b), in)
	}
}

func TestDurationSuffixes(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1y 2d 3h 4m 5s")))
	want := 365*24*time.Hour + 2*24*time.Hour + 3*time.Hour + 4*time.Minute + 5*time.Second
	assert.Equal(t, want, d.Duration())
}

func TestMergeYAMLFileOverridesOnlyPresentKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache_dir: /var/cache
maintenance:
  max_total_size: "10GB"
  max_age: "7d"
  dry_run: true
auth:
  tok1: alice
`), 0o644))

	cfg := Default()
	cfg.DBFile = "/var/db.sqlite"
	require.NoError(t, MergeYAMLFile(&cfg, path))

	assert.Equal(t, "/var/cache", cfg.CacheDir)
	assert.Equal(t, "/var/db.sqlite", cfg.DBFile, "key absent from YAML must not be overridden")
	assert.Equal(t, int64(10_000_000_000), int64(cfg.Maintenance.MaxTotalSize))
	assert.Equal(t, 7*24*time.Hour, cfg.Maintenance.MaxAge.Duration())
	assert.True(t, cfg.Maintenance.DryRun)
	assert.Equal(t, "alice", cfg.AuthWrite["tok1"])
}

func TestFinalizePortDefaults(t *testing.T) {
	cfg := Default()
	cfg.CacheDir = "/cache"
	cfg.DBFile = "/db"

	require.NoError(t, Finalize(&cfg))
	assert.Equal(t, 80, cfg.Port)

	cfg2 := Default()
	cfg2.CacheDir = "/cache"
	cfg2.DBFile = "/db"
	cfg2.CertAndKey = &CertAndKey{Cert: "c", Key: "k"}
	require.NoError(t, Finalize(&cfg2))
	assert.Equal(t, 443, cfg2.Port)
}

func TestFinalizeRequiresCacheDirAndDBFile(t *testing.T) {
	cfg := Default()
	assert.Error(t, Finalize(&cfg))

	cfg.CacheDir = "/cache"
	assert.Error(t, Finalize(&cfg))
}

func TestAssignCLITokensNumbersFromOne(t *testing.T) {
	cfg := Default()
	AssignCLITokens(&cfg, []string{"tokA", "tokB"})
	assert.Equal(t, "User 1", cfg.AuthWrite["tokA"])
	assert.Equal(t, "User 2", cfg.AuthWrite["tokB"])
}
