// Package config loads manga-cli settings from an optional env file and the
// process environment.
//
// Precedence, lowest first: envDefault tags, the env file, the environment,
// then command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every variable name in Config.
const EnvPrefix = "MANGA_CLI_"

const (
	configDirName  = "manga-cli"
	envFileName    = ".env"
	ledgerFileName = "ledger.db"
)

// Config holds the runtime settings of one invocation.
type Config struct {
	// CacheDir is the asset cache root. Each provider gets a subdirectory.
	CacheDir string `env:"CACHE_DIR"`
	// LedgerPath is the SQLite asset ledger. Defaults to CacheDir/ledger.db.
	LedgerPath string `env:"LEDGER_PATH"`
	NoLedger   bool   `env:"NO_LEDGER"`

	Provider   string `env:"PROVIDER"    envDefault:"mangadex"`
	APIURL     string `env:"API_URL"     envDefault:"https://api.mangadex.org"`
	UploadsURL string `env:"UPLOADS_URL" envDefault:"https://uploads.mangadex.org"`
	UserAgent  string `env:"USER_AGENT"  envDefault:"manga-cli/0.1"`

	// Timeout bounds every single catalog or asset request.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"15s"`
	// Proxy is an optional SOCKS5 address (host:port).
	Proxy string `env:"PROXY"`
	// RateLimit is requests per second; zero disables pacing.
	RateLimit float64 `env:"RATE_LIMIT" envDefault:"5"`
	RateBurst int     `env:"RATE_BURST" envDefault:"5"`

	// Locales is the priority list for titles, descriptions and tags.
	Locales []string `env:"LOCALES" envDefault:"en" envSeparator:","`
	// Languages filters the chapter feed by translated language.
	Languages []string `env:"LANGUAGES" envDefault:"en" envSeparator:","`

	KeepCovers int  `env:"KEEP_COVERS" envDefault:"100"`
	Verbose    bool `env:"VERBOSE"`
}

// Dir returns the manga-cli config directory (~/.config/manga-cli).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", configDirName), nil
}

// DefaultEnvFile returns the env file loaded when none is given.
func DefaultEnvFile() string {
	dir, err := Dir()
	if err != nil {
		return envFileName
	}
	return filepath.Join(dir, envFileName)
}

// DefaultCacheDir returns the cache root used when CACHE_DIR is unset.
func DefaultCacheDir() string {
	dir, err := Dir()
	if err != nil {
		return filepath.Join(configDirName, "cache")
	}
	return filepath.Join(dir, "cache")
}

// Load reads envFile (if it exists) into the environment without overriding
// variables that are already set, then parses MANGA_CLI_* into a Config.
// An empty envFile skips the file step.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("unable to read env file %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("unable to parse environment: %w", err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills the derived fields left empty after parsing or after
// flag overrides.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.CacheDir) == "" {
		c.CacheDir = DefaultCacheDir()
	}
	if strings.TrimSpace(c.LedgerPath) == "" {
		c.LedgerPath = filepath.Join(c.CacheDir, ledgerFileName)
	}
	c.Locales = trimAll(c.Locales)
	c.Languages = trimAll(c.Languages)
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	c.UploadsURL = strings.TrimRight(c.UploadsURL, "/")
}

// ProviderCacheDir returns the cache root of the configured provider.
func (c *Config) ProviderCacheDir() string {
	return filepath.Join(c.CacheDir, c.Provider)
}

// Validate checks ranges and URLs.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return errors.New("provider is required")
	}
	for name, raw := range map[string]string{"api url": c.APIURL, "uploads url": c.UploadsURL} {
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("invalid %s: %q must be http or https", name, raw)
		}
		if parsed.Host == "" {
			return fmt.Errorf("invalid %s: %q is missing a host", name, raw)
		}
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.RateLimit < 0 {
		return errors.New("rate limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return errors.New("rate burst must be at least 1")
	}
	if c.KeepCovers < 0 {
		return errors.New("keep covers must not be negative")
	}
	if len(c.Locales) == 0 {
		return errors.New("at least one locale is required")
	}
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
