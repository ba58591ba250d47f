package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is every setting spec.md §6 names, plus the ambient logging knobs.
type Config struct {
	FilesRoot     string `yaml:"files_root"`
	MetaCorePath  string `yaml:"meta_core_path"`
	StoreURL      string `yaml:"store_url"`
	StorePrefix   string `yaml:"store_prefix"`
	APIPort       int    `yaml:"api_port"`
	APIHost       string `yaml:"api_host"`
	FileMode      uint32 `yaml:"file_mode"`
	DirMode       uint32 `yaml:"dir_mode"`
	UID           uint32 `yaml:"uid"`
	GID           uint32 `yaml:"gid"`
	ConfigDir     string `yaml:"config_dir"`
	WebDAVBaseURL string `yaml:"webdav_base_url"`

	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Debug bool   `yaml:"debug"`
}

// DefaultConfig mirrors spec.md §6's stated defaults.
func DefaultConfig() *Config {
	return &Config{
		FilesRoot:    "/files",
		MetaCorePath: "meta:",
		StoreURL:     "redis://127.0.0.1:6379/0",
		StorePrefix:  "file:",
		APIPort:      8080,
		APIHost:      "0.0.0.0",
		FileMode:     0o644,
		DirMode:      0o755,
		ConfigDir:    defaultConfigDir(),
		Log:          LogConfig{Level: "info"},
	}
}

// Load loads configuration using the real environment.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadWithEnv loads configuration using the provided environment lookup
// function, so tests can supply isolated environment values without
// mutating the process environment.
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	configPath := getenv("METAFS_CONFIG")
	if configPath == "" {
		configPath = configPathWithEnv(getenv)
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg, getenv)

	if cfg.ConfigDir == "" {
		cfg.ConfigDir = defaultConfigDir()
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	if v := getenv("METAFS_FILES_ROOT"); v != "" {
		cfg.FilesRoot = v
	}
	if v := getenv("METAFS_STORE_URL"); v != "" {
		cfg.StoreURL = v
	}
	if v := getenv("METAFS_STORE_PREFIX"); v != "" {
		cfg.StorePrefix = v
	}
	if v := getenv("METAFS_API_HOST"); v != "" {
		cfg.APIHost = v
	}
	if v := getenv("METAFS_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.APIPort = n
		}
	}
	if v := getenv("METAFS_CONFIG_DIR"); v != "" {
		cfg.ConfigDir = v
	}
	if v := getenv("METAFS_WEBDAV_BASE_URL"); v != "" {
		cfg.WebDAVBaseURL = v
	}
	if v := getenv("METAFS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("METAFS_DEBUG"); v == "1" || v == "true" {
		cfg.Log.Debug = true
	}
}

func configPathWithEnv(getenv func(string) string) string {
	if xdg := getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "metafs-projector", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "metafs-projector", "config.yaml")
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "metafs-projector")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "metafs-projector")
}

// Validate reports configuration errors validate-config surfaces before serve
// attempts to bind a port or dial the store.
func (c *Config) Validate() error {
	if c.FilesRoot == "" {
		return fmt.Errorf("config: files_root must not be empty")
	}
	if c.StoreURL == "" {
		return fmt.Errorf("config: store_url must not be empty")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("config: api_port %d out of range", c.APIPort)
	}
	return nil
}
