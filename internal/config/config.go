// Package config loads server configuration from built-in defaults, an
// optional YAML file, and CLI flags, merged in that order per
// spec.md §4.H, mirroring original_source/src/settings.cpp's
// parseConfig/parseArgs split.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Maintenance holds the four eviction ceilings and the dry-run switch.
type Maintenance struct {
	MaxTotalSize   ByteSize `yaml:"max_total_size"`
	MaxPackageSize ByteSize `yaml:"max_package_size"`
	MaxAge         Duration `yaml:"max_age"`
	MaxUnused      Duration `yaml:"max_unused"`
	DryRun         bool     `yaml:"dry_run"`
}

// CertAndKey is a TLS certificate/key pair; both fields are set together
// or neither is.
type CertAndKey struct {
	Cert string
	Key  string
}

// Config is the fully merged server configuration.
type Config struct {
	CacheDir    string
	DBFile      string
	Port        int
	Host        string
	Verbosity   int
	LogFile     string
	CertAndKey  *CertAndKey
	AuthWrite   map[string]string
	Maintenance Maintenance
}

// Default returns the built-in defaults, matching settings.hpp's
// Settings{} default member initializers.
func Default() Config {
	return Config{
		Port:      -1, // unset sentinel; resolved in Finalize
		Host:      "0.0.0.0",
		Verbosity: 2,
		AuthWrite: map[string]string{},
	}
}

// yamlDoc mirrors the subset of YAML keys settings.cpp's parseConfig
// recognizes.
type yamlDoc struct {
	CacheDir    *string           `yaml:"cache_dir"`
	Port        *int              `yaml:"port"`
	Host        *string           `yaml:"host"`
	Verbosity   *int              `yaml:"verbosity"`
	LogFile     *string           `yaml:"log_file"`
	DBFile      *string           `yaml:"db_file"`
	SSL         *yamlSSL          `yaml:"ssl"`
	Auth        map[string]string `yaml:"auth"`
	Maintenance *Maintenance      `yaml:"maintenance"`
}

type yamlSSL struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// MergeYAMLFile parses the YAML file at path and overlays its values onto
// cfg, following settings.cpp's parseConfig exactly: only keys present in
// the file override the current value.
func MergeYAMLFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	var doc yamlDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if doc.CacheDir != nil {
		cfg.CacheDir = *doc.CacheDir
	}
	if doc.Port != nil {
		cfg.Port = *doc.Port
	}
	if doc.Host != nil {
		cfg.Host = *doc.Host
	}
	if doc.Verbosity != nil {
		cfg.Verbosity = *doc.Verbosity
	}
	if doc.LogFile != nil {
		cfg.LogFile = *doc.LogFile
	}
	if doc.DBFile != nil {
		cfg.DBFile = *doc.DBFile
	}
	if doc.SSL != nil {
		if doc.SSL.Cert == "" || doc.SSL.Key == "" {
			return fmt.Errorf("config: ssl.cert and ssl.key must be set together")
		}
		cfg.CertAndKey = &CertAndKey{Cert: doc.SSL.Cert, Key: doc.SSL.Key}
	}
	for token, user := range doc.Auth {
		cfg.AuthWrite[token] = user
	}
	if doc.Maintenance != nil {
		cfg.Maintenance = *doc.Maintenance
	}

	return nil
}

// Finalize applies the defaulting rules that must run after every
// override has been applied: a cert and key must be given together; port
// defaults to 443 if TLS is configured, else 80; cacheDir and dbFile are
// required.
func Finalize(cfg *Config) error {
	if cfg.CertAndKey != nil && (cfg.CertAndKey.Cert == "" || cfg.CertAndKey.Key == "") {
		return fmt.Errorf("config: cert and key must be set together")
	}
	if cfg.Port < 0 {
		if cfg.CertAndKey != nil {
			cfg.Port = 443
		} else {
			cfg.Port = 80
		}
	}
	if cfg.CacheDir == "" {
		return fmt.Errorf("config: a cache dir must be provided")
	}
	if cfg.DBFile == "" {
		return fmt.Errorf("config: a db file must be provided")
	}
	return nil
}

// AssignCLITokens gives each CLI-supplied bearer token the username
// "User <i>" in argument order, matching settings.cpp's fmt::format("User
// {}", i++) numbering (1-based).
func AssignCLITokens(cfg *Config, tokens []string) {
	for i, tok := range tokens {
		cfg.AuthWrite[tok] = fmt.Sprintf("User %d", i+1)
	}
}
