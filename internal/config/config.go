package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for dvault.
type Config struct {
	Identity     string             `toml:"identity"`
	BaseDir      string             `toml:"base_dir"`
	LogDir       string             `toml:"log_dir"`
	LogLevel     string             `toml:"log_level"` // "debug", "info" (default), "warn", "error"
	Ledger       LedgerConfig       `toml:"ledger"`
	ContentStore ContentStoreConfig `toml:"content_store"`
	Sync         SyncConfig         `toml:"sync"`
	Retry        RetryConfig        `toml:"retry"`
}

// LedgerConfig represents configuration for the ledger backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type LedgerConfig struct {
	Type string `toml:"type"` // "memory", "sqlite", "postgres" or "logfile"

	// Path is the database file (sqlite) or event log (logfile).
	Path string `toml:"path,omitempty"`

	// DatabaseURL is the connection string (postgres).
	DatabaseURL string `toml:"database_url,omitempty"`
}

// ContentStoreConfig represents configuration for the content store backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ContentStoreConfig struct {
	Type string `toml:"type"`           // "memory", "filesystem", "s3" or "pinata"
	Hash string `toml:"hash,omitempty"` // "sha256" (default) or "blake3"; not used by pinata

	// PublicBaseURL, when set, prefixes the URLs reported for stored content.
	PublicBaseURL string `toml:"public_base_url,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"` // custom endpoint, e.g. MinIO
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// Pinata-specific fields (only used when Type == "pinata")
	PinataJWT    string `toml:"pinata_jwt,omitempty"`
	PinataAPIURL string `toml:"pinata_api_url,omitempty"`
	GatewayURL   string `toml:"gateway_url,omitempty"`
}

// SyncConfig tunes the synchronization engine.
type SyncConfig struct {
	CallTimeout         Duration `toml:"call_timeout"`
	EnforceStorageLimit bool     `toml:"enforce_storage_limit"`
	CacheSize           int      `toml:"cache_size"`
}

// RetryConfig configures caller-side retries of idempotent calls.
type RetryConfig struct {
	Enabled      bool     `toml:"enabled"`
	MaxRetries   int      `toml:"max_retries"`
	InitialDelay Duration `toml:"initial_delay"`
	MaxDelay     Duration `toml:"max_delay"`
}

// Duration is a time.Duration written as a string ("15s") in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Defaults for sections left empty in a config file.
const (
	DefaultCallTimeout  = 15 * time.Second
	DefaultCacheSize    = 64
	DefaultMaxRetries   = 3
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMaxDelay     = 5 * time.Second
	DefaultGatewayURL   = "https://gateway.pinata.cloud/ipfs"
)

// NewConfig creates a new Config for identity with local backends under baseDir.
func NewConfig(identity, baseDir string) *Config {
	return &Config{
		Identity: identity,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Ledger: LedgerConfig{
			Type: "sqlite",
			Path: filepath.Join(baseDir, "ledger.db"),
		},
		ContentStore: ContentStoreConfig{
			Type: "filesystem",
			Hash: "sha256",
			Root: filepath.Join(baseDir, "content"),
		},
		Sync: SyncConfig{
			CallTimeout: Duration{DefaultCallTimeout},
			CacheSize:   DefaultCacheSize,
		},
		Retry: RetryConfig{
			Enabled:      true,
			MaxRetries:   DefaultMaxRetries,
			InitialDelay: Duration{DefaultInitialDelay},
			MaxDelay:     Duration{DefaultMaxDelay},
		},
	}
}

// ApplyDefaults fills zero-valued tunables that a hand-written config may omit.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Sync.CallTimeout.Duration == 0 {
		c.Sync.CallTimeout.Duration = DefaultCallTimeout
	}
	if c.Sync.CacheSize == 0 {
		c.Sync.CacheSize = DefaultCacheSize
	}
	if c.Retry.InitialDelay.Duration == 0 {
		c.Retry.InitialDelay.Duration = DefaultInitialDelay
	}
	if c.Retry.MaxDelay.Duration == 0 {
		c.Retry.MaxDelay.Duration = DefaultMaxDelay
	}
	if c.ContentStore.Type == "pinata" && c.ContentStore.GatewayURL == "" {
		c.ContentStore.GatewayURL = DefaultGatewayURL
	}
}

// ApplyEnv overrides secrets and identity from the environment.
// getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("DVAULT_IDENTITY"); v != "" {
		c.Identity = v
	}
	if v := getenv("DVAULT_PINATA_JWT"); v != "" {
		c.ContentStore.PinataJWT = v
	}
	if v := getenv("DVAULT_DATABASE_URL"); v != "" {
		c.Ledger.DatabaseURL = v
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold credentials.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
