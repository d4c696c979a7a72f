package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for mentory.
type Config struct {
	StoreID    string           `toml:"store_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Database   DatabaseConfig   `toml:"database"`
	Analysis   AnalysisConfig   `toml:"analysis"`
	Sync       SyncConfig       `toml:"sync"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// DatabaseConfig represents configuration for the journal database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// AnalysisConfig selects the gateway used to analyze journal entries.
type AnalysisConfig struct {
	Type      string `toml:"type"`                  // "genai" or "canned"
	Model     string `toml:"model,omitempty"`       // only used for type=genai
	APIKeyEnv string `toml:"api_key_env,omitempty"` // env var holding the API key; only used for type=genai
	Timeout   string `toml:"timeout,omitempty"`     // per-request timeout, e.g. "30s"
}

// SyncConfig configures the phone/watch sync transport.
type SyncConfig struct {
	ListenAddr     string `toml:"listen_addr,omitempty"`     // phone side, e.g. "127.0.0.1:8765"
	PeerURL        string `toml:"peer_url,omitempty"`        // watch side, e.g. "ws://127.0.0.1:8765/sync"
	RequestTimeout string `toml:"request_timeout,omitempty"` // how long the watch waits for a reply
}

// VaultConfig represents configuration for a backup vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // for S3-compatible services

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig selects how backups are sealed.
type EncryptionConfig struct {
	Type           string `toml:"type"`                       // "age" (default), "passphrase" or "none"
	PublicKeyPath  string `toml:"public_key_path,omitempty"`  // type=age
	PrivateKeyPath string `toml:"private_key_path,omitempty"` // type=age
	PassphraseEnv  string `toml:"passphrase_env,omitempty"`   // type=passphrase; prompted when unset
}

const (
	DefaultAnalysisModel   = "gemini-2.5-flash-lite"
	DefaultAPIKeyEnv       = "GEMINI_API_KEY"
	DefaultListenAddr      = "127.0.0.1:8765"
	DefaultRequestTimeout  = 5 * time.Second
	DefaultAnalysisTimeout = 30 * time.Second
)

// NewConfig creates a new Config with the provided values and defaults for
// everything else.
func NewConfig(storeID, baseDir string) *Config {
	return &Config{
		StoreID: storeID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Analysis: AnalysisConfig{
			Type:      "genai",
			Model:     DefaultAnalysisModel,
			APIKeyEnv: DefaultAPIKeyEnv,
			Timeout:   DefaultAnalysisTimeout.String(),
		},
		Sync: SyncConfig{
			ListenAddr:     DefaultListenAddr,
			PeerURL:        "ws://" + DefaultListenAddr + "/sync",
			RequestTimeout: DefaultRequestTimeout.String(),
		},
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "vault")},
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "mentory.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "mentory.key"),
		},
	}
}

// AnalysisTimeout parses Analysis.Timeout, falling back to the default when unset.
func (c *Config) AnalysisTimeout() (time.Duration, error) {
	return parseDuration(c.Analysis.Timeout, DefaultAnalysisTimeout, "analysis.timeout")
}

// SyncRequestTimeout parses Sync.RequestTimeout, falling back to the default when unset.
func (c *Config) SyncRequestTimeout() (time.Duration, error) {
	return parseDuration(c.Sync.RequestTimeout, DefaultRequestTimeout, "sync.request_timeout")
}

func parseDuration(raw string, fallback time.Duration, key string) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return d, nil
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

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
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
