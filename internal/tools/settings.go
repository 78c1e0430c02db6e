package tools

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Settings are the operator-supplied rules injected into every system
// prompt: general rules plus per-repo rules.
type Settings struct {
	GeneralRules      []string            `json:"general_rules"`
	RepoSpecificRules map[string][]string `json:"repo_specific_rules"`
}

// SettingsStore loads settings from <dir>/settings.json and keeps them
// fresh via an fsnotify watch, so edits land on the next agent turn
// without a restart.
type SettingsStore struct {
	mu       sync.RWMutex
	dir      string
	settings Settings
	watcher  *fsnotify.Watcher
}

// OpenSettings loads (creating defaults if needed) the settings file under
// dir and starts watching it for changes.
func OpenSettings(dir string, repos []string) (*SettingsStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create settings dir: %w", err)
	}
	s := &SettingsStore{dir: dir}

	path := s.path()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		defaults := Settings{
			GeneralRules:      []string{},
			RepoSpecificRules: map[string][]string{},
		}
		for _, r := range repos {
			defaults.RepoSpecificRules[r] = []string{}
		}
		if err := writeJSON(path, defaults); err != nil {
			return nil, err
		}
	}
	if err := s.reload(); err != nil {
		return nil, err
	}

	// Ensure every connected repo has a rules slot.
	s.mu.Lock()
	changed := false
	for _, r := range repos {
		if _, ok := s.settings.RepoSpecificRules[r]; !ok {
			s.settings.RepoSpecificRules[r] = []string{}
			changed = true
		}
	}
	snapshot := s.settings
	s.mu.Unlock()
	if changed {
		if err := writeJSON(path, snapshot); err != nil {
			slog.Warn("could not persist settings defaults", "error", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("settings watcher unavailable", "error", err)
		return s, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		slog.Warn("settings watch failed", "dir", dir, "error", err)
		return s, nil
	}
	s.watcher = watcher
	go s.watch()
	return s, nil
}

func (s *SettingsStore) path() string {
	return filepath.Join(s.dir, "settings.json")
}

func (s *SettingsStore) watch() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Name == s.path() && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := s.reload(); err != nil {
					slog.Warn("settings reload failed", "error", err)
				} else {
					slog.Debug("settings reloaded", "path", ev.Name)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("settings watcher error", "error", err)
		}
	}
}

func (s *SettingsStore) reload() error {
	data, err := os.ReadFile(s.path())
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	var parsed Settings
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	if parsed.RepoSpecificRules == nil {
		parsed.RepoSpecificRules = map[string][]string{}
	}
	s.mu.Lock()
	s.settings = parsed
	s.mu.Unlock()
	return nil
}

// Snapshot returns the current settings.
func (s *SettingsStore) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Close stops the file watcher.
func (s *SettingsStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// FormatForPrompt renders the rules relevant to repo as a system prompt
// section. Empty settings render as an empty string.
func (s *SettingsStore) FormatForPrompt(repo string) string {
	snap := s.Snapshot()
	general := snap.GeneralRules
	repoRules := snap.RepoSpecificRules[repo]

	switch {
	case len(general) > 0 && len(repoRules) > 0:
		return fmt.Sprintf(
			"These are additional rules provided by the user of this system which must be followed: %v\nThese rules apply specifically to the repository %s: %v",
			general, repo, repoRules)
	case len(general) > 0:
		return fmt.Sprintf("These are additional rules provided by the user of this system which must be followed: %v", general)
	case len(repoRules) > 0:
		return fmt.Sprintf("These rules apply specifically to the repository %s: %v", repo, repoRules)
	default:
		return ""
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
