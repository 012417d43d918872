package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
)

const configFile = ".loom/config.json"
const lockFile = ".loom/config.json.lock"

// Defaults applied when the config file does not set a value
const (
	DefaultServerURL  = "http://localhost:8701"
	DefaultRoomPrefix = "docs"
	DefaultColor      = "#7571F9"
)

// Config is the on-disk client configuration.
type Config struct {
	ServerURL   string `json:"server_url,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Color       string `json:"color,omitempty"`
	CacheDir    string `json:"cache_dir,omitempty"`
	RoomPrefix  string `json:"room_prefix,omitempty"`
	AuthToken   string `json:"auth_token,omitempty"`
	// LastDocumentID is the document reopened by `loom open` with no args
	LastDocumentID string `json:"last_document_id,omitempty"`
}

// EffectiveServerURL returns the configured server URL or the default.
func (c *Config) EffectiveServerURL() string {
	if c.ServerURL != "" {
		return c.ServerURL
	}
	return DefaultServerURL
}

// EffectiveRoomPrefix returns the configured room prefix or the default.
func (c *Config) EffectiveRoomPrefix() string {
	if c.RoomPrefix != "" {
		return c.RoomPrefix
	}
	return DefaultRoomPrefix
}

// EffectiveColor returns the configured presence color or the default.
func (c *Config) EffectiveColor() string {
	if c.Color != "" {
		return c.Color
	}
	return DefaultColor
}

// EffectiveCacheDir returns the configured cache directory, defaulting to
// .loom/cache under the base directory.
func (c *Config) EffectiveCacheDir(baseDir string) string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	return filepath.Join(baseDir, ".loom", "cache")
}

// Load reads the config from disk. A missing file is not an error; it reads
// as the zero config.
func Load(baseDir string) (*Config, error) {
	configPath := filepath.Join(baseDir, configFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the config to disk using atomic write (temp file + rename)
func Save(baseDir string, cfg *Config) error {
	configPath := filepath.Join(baseDir, configFile)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: temp file in same dir, then rename
	tmp, err := os.CreateTemp(dir, "config-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, configPath)
}

// withConfigLock serializes access to config.json using flock
func withConfigLock(baseDir string, fn func() error) error {
	lockPath := filepath.Join(baseDir, lockFile)

	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return fn()
}

// Update applies fn to the current config under the lock and saves it.
func Update(baseDir string, fn func(*Config)) error {
	return withConfigLock(baseDir, func() error {
		cfg, err := Load(baseDir)
		if err != nil {
			return err
		}
		fn(cfg)
		return Save(baseDir, cfg)
	})
}

// SetLastDocument records the most recently opened document ID.
func SetLastDocument(baseDir, docID string) error {
	return Update(baseDir, func(cfg *Config) {
		cfg.LastDocumentID = docID
	})
}

// GetLastDocument returns the most recently opened document ID, if any.
func GetLastDocument(baseDir string) (string, error) {
	cfg, err := Load(baseDir)
	if err != nil {
		return "", err
	}
	return cfg.LastDocumentID, nil
}

// SetAuthToken persists the API token in local config.
func SetAuthToken(baseDir, token string) error {
	return Update(baseDir, func(cfg *Config) {
		cfg.AuthToken = token
	})
}
