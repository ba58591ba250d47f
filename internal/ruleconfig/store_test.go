package ruleconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jra3/metafs-projector/internal/rules"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Warnf(format string, args ...any) { l.t.Logf("WARN: "+format, args...) }
func (l testLogger) Infof(format string, args ...any) { l.t.Logf("INFO: "+format, args...) }

func TestGetRulesConfigSeedsDefaultOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, testLogger{t})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	cfg, err := s.GetRulesConfig()
	if err != nil {
		t.Fatalf("GetRulesConfig failed: %v", err)
	}
	if !cfg.IsDefault {
		t.Errorf("expected isDefault=true on first run")
	}
	if _, err := os.Stat(filepath.Join(dir, configFileName)); err != nil {
		t.Errorf("config file was not seeded: %v", err)
	}
}

func TestSaveRulesConfigStripsIsDefaultAndStampsLastModified(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir, testLogger{t})

	cfg := rules.DefaultConfig()
	if err := s.SaveRulesConfig(cfg); err != nil {
		t.Fatalf("SaveRulesConfig failed: %v", err)
	}

	reloaded, err := s.GetRulesConfig()
	if err != nil {
		t.Fatalf("GetRulesConfig failed: %v", err)
	}
	if reloaded.IsDefault {
		t.Errorf("isDefault should be false after an explicit save")
	}
	if reloaded.LastModified.IsZero() {
		t.Errorf("lastModified should be stamped")
	}
}

func TestSaveRulesConfigRotatesBackupsKeepingFive(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir, testLogger{t})

	cfg := rules.DefaultConfig()
	for i := 0; i < 8; i++ {
		if err := s.SaveRulesConfig(cfg); err != nil {
			t.Fatalf("save %d failed: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var backups int
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" && e.Name() != configFileName {
			backups++
		}
	}
	if backups > maxBackups {
		t.Errorf("got %d backups, want at most %d", backups, maxBackups)
	}
}

func TestParseErrorFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, configFileName), []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("write malformed config: %v", err)
	}
	s, _ := New(dir, testLogger{t})

	cfg, err := s.GetRulesConfig()
	if err != nil {
		t.Fatalf("GetRulesConfig should fall back, not error: %v", err)
	}
	if len(cfg.Rules) == 0 {
		t.Errorf("expected default rules after falling back from a parse error")
	}
}
