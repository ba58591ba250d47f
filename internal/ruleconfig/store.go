// Package ruleconfig is the Rule Config Store: JSON file persistence with
// backup rotation, atomic writes, and external-edit detection.
package ruleconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"

	"github.com/jra3/metafs-projector/internal/rules"
)

const (
	configFileName = "renaming-rules.json"
	maxBackups     = 5
)

// Logger is the minimal logging surface this package needs.
type Logger interface {
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
}

// Store reads and writes the rule config file under configDir.
type Store struct {
	dir string
	log Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	// selfWrite suppresses the refresh callback for the fsnotify event our
	// own saveRulesConfig generates.
	selfWrite bool

	onExternalChange func()
}

// New creates a Store rooted at configDir (created if absent).
func New(configDir string, log Logger) (*Store, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("ruleconfig: create config dir: %w", err)
	}
	return &Store{dir: configDir, log: log}, nil
}

func (s *Store) path() string {
	return filepath.Join(s.dir, configFileName)
}

// GetRulesConfig implements spec.md §4.6: if the file is absent, seed it
// from the built-in default and return it with isDefault=true. On parse
// error, fall back to defaults and log.
func (s *Store) GetRulesConfig() (rules.Config, error) {
	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		cfg := rules.DefaultConfig()
		if saveErr := s.SaveRulesConfig(cfg); saveErr != nil {
			return cfg, fmt.Errorf("ruleconfig: seed default config: %w", saveErr)
		}
		return cfg, nil
	}
	if err != nil {
		return rules.Config{}, fmt.Errorf("ruleconfig: read config: %w", err)
	}

	var cfg rules.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		s.log.Warnf("ruleconfig: parse error in %s, falling back to defaults: %v", s.path(), err)
		return rules.DefaultConfig(), nil
	}
	return cfg, nil
}

// SaveRulesConfig implements spec.md §4.6: rotate a timestamped backup of
// the current file, strip isDefault, stamp lastModified, and write
// atomically via temp-then-rename.
func (s *Store) SaveRulesConfig(cfg rules.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rotateBackupLocked(); err != nil {
		s.log.Warnf("ruleconfig: backup rotation failed: %v", err)
	}

	cfg.IsDefault = false
	cfg.LastModified = time.Now().UTC()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("ruleconfig: marshal config: %w", err)
	}

	s.selfWrite = true
	if err := renameio.WriteFile(s.path(), data, 0o644); err != nil {
		return fmt.Errorf("ruleconfig: atomic write: %w", err)
	}
	return nil
}

// rotateBackupLocked copies the current config file to a timestamped
// backup and prunes all but the 5 most recent. Caller must hold s.mu.
func (s *Store) rotateBackupLocked() error {
	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return nil // nothing to back up yet
	}
	if err != nil {
		return err
	}

	backupPath := filepath.Join(s.dir, fmt.Sprintf("renaming-rules.backup.%d.json", time.Now().UnixMilli()))
	if err := renameio.WriteFile(backupPath, data, 0o644); err != nil {
		return err
	}

	return s.pruneBackupsLocked()
}

func (s *Store) pruneBackupsLocked() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	var backups []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), "renaming-rules.backup.") && strings.HasSuffix(e.Name(), ".json") {
			backups = append(backups, e.Name())
		}
	}

	sort.Slice(backups, func(i, j int) bool {
		return backupTimestamp(backups[i]) > backupTimestamp(backups[j])
	})

	for _, name := range backups[min(len(backups), maxBackups):] {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func backupTimestamp(name string) int64 {
	trimmed := strings.TrimPrefix(name, "renaming-rules.backup.")
	trimmed = strings.TrimSuffix(trimmed, ".json")
	ts, _ := strconv.ParseInt(trimmed, 10, 64)
	return ts
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// WatchExternalChanges starts an fsnotify watch on the config file; any
// write not originating from SaveRulesConfig invokes onChange, which the
// service layer wires to the same refresh path `PUT /api/fuse/rules`
// triggers. Call Close to stop watching.
func (s *Store) WatchExternalChanges(onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ruleconfig: create watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return fmt.Errorf("ruleconfig: watch %s: %w", s.dir, err)
	}

	s.mu.Lock()
	s.watcher = w
	s.onExternalChange = onChange
	s.mu.Unlock()

	go s.watchLoop(w)
	return nil
}

func (s *Store) watchLoop(w *fsnotify.Watcher) {
	target := s.path()
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Name != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.mu.Lock()
			self := s.selfWrite
			s.selfWrite = false
			cb := s.onExternalChange
			s.mu.Unlock()
			if self {
				continue
			}
			if cb != nil {
				cb()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Warnf("ruleconfig: watch error: %v", err)
		}
	}
}

// Close stops the external-change watcher, if running.
func (s *Store) Close() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}
