package config

import (
	"os"
	"path/filepath"
	"testing"
)

// mockEnv creates an environment lookup function from a map.
func mockEnv(env map[string]string) func(string) string {
	return func(key string) string {
		return env[key]
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	if cfg.FilesRoot != "/files" {
		t.Errorf("DefaultConfig() FilesRoot = %q, want /files", cfg.FilesRoot)
	}
	if cfg.APIPort != 8080 {
		t.Errorf("DefaultConfig() APIPort = %d, want 8080", cfg.APIPort)
	}
	if cfg.FileMode != 0o644 {
		t.Errorf("DefaultConfig() FileMode = %o, want 0644", cfg.FileMode)
	}
	if cfg.DirMode != 0o755 {
		t.Errorf("DefaultConfig() DirMode = %o, want 0755", cfg.DirMode)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("DefaultConfig() Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.WebDAVBaseURL != "" {
		t.Errorf("DefaultConfig() WebDAVBaseURL should be empty, got %q", cfg.WebDAVBaseURL)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "metafs-projector")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `
files_root: /media
store_url: redis://store.internal:6379/2
api_port: 9090
log:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": tmpDir})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.FilesRoot != "/media" {
		t.Errorf("FilesRoot = %q, want /media", cfg.FilesRoot)
	}
	if cfg.StoreURL != "redis://store.internal:6379/2" {
		t.Errorf("StoreURL = %q", cfg.StoreURL)
	}
	if cfg.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", cfg.APIPort)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "metafs-projector")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(`store_url: redis://from-file:6379/0`), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME":  tmpDir,
		"METAFS_STORE_URL": "redis://from-env:6379/0",
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}
	if cfg.StoreURL != "redis://from-env:6379/0" {
		t.Errorf("StoreURL = %q, want env override", cfg.StoreURL)
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": tmpDir})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}
	if cfg.FilesRoot != "/files" {
		t.Errorf("LoadWithEnv() without file should use default FilesRoot, got %q", cfg.FilesRoot)
	}
	if cfg.APIPort != 8080 {
		t.Errorf("LoadWithEnv() without file should use default APIPort, got %d", cfg.APIPort)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "metafs-projector")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("files_root: [this is invalid yaml"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": tmpDir})

	if _, err := LoadWithEnv(env); err == nil {
		t.Error("LoadWithEnv() with invalid YAML should return error")
	}
}

func TestConfigPathXDG(t *testing.T) {
	t.Parallel()
	tmpDir := "/custom/config/path"

	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": tmpDir})

	path := configPathWithEnv(env)
	expected := filepath.Join(tmpDir, "metafs-projector", "config.yaml")
	if path != expected {
		t.Errorf("configPathWithEnv() = %q, want %q", path, expected)
	}
}

func TestConfigPathFallback(t *testing.T) {
	t.Parallel()
	env := mockEnv(map[string]string{})

	path := configPathWithEnv(env)
	home, _ := os.UserHomeDir()
	expected := filepath.Join(home, ".config", "metafs-projector", "config.yaml")
	if path != expected {
		t.Errorf("configPathWithEnv() = %q, want %q", path, expected)
	}
}

func TestLoadPartialConfigPreservesDefaults(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "metafs-projector")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("api_port: 9000\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{"XDG_CONFIG_HOME": tmpDir})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}
	if cfg.APIPort != 9000 {
		t.Errorf("APIPort = %d, want 9000", cfg.APIPort)
	}
	if cfg.FilesRoot != "/files" {
		t.Errorf("FilesRoot = %q, want default /files preserved", cfg.FilesRoot)
	}
}

func TestValidateRejectsEmptyFilesRoot(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.FilesRoot = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject empty FilesRoot")
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.APIPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject out-of-range APIPort")
	}
}
