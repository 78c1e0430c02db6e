package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// MemoryStore persists one free-text memory note per repo under
// <dir>/memory/<repo>.json. Agents read it into their system prompt and
// update it via <repo_memory> tags in their responses.
type MemoryStore struct {
	mu  sync.RWMutex
	dir string
	mem map[string]string
}

// OpenMemory loads (creating empty files as needed) the memory notes for
// the given repos.
func OpenMemory(dir string, repos []string) (*MemoryStore, error) {
	memDir := filepath.Join(dir, "memory")
	if err := os.MkdirAll(memDir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}

	m := &MemoryStore{dir: memDir, mem: make(map[string]string)}
	for _, repo := range repos {
		path := m.pathFor(repo)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := writeJSON(path, map[string]string{"memory": ""}); err != nil {
				return nil, err
			}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read memory for %s: %w", repo, err)
		}
		var doc struct {
			Memory string `json:"memory"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse memory for %s: %w", repo, err)
		}
		m.mem[repo] = doc.Memory
	}
	return m, nil
}

func (m *MemoryStore) pathFor(repo string) string {
	return filepath.Join(m.dir, repo+".json")
}

// Get returns the memory note for repo.
func (m *MemoryStore) Get(repo string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mem[repo]
}

// Update replaces the memory note for repo, persisting it immediately.
func (m *MemoryStore) Update(repo, memory string) error {
	m.mu.Lock()
	m.mem[repo] = memory
	m.mu.Unlock()
	return writeJSON(m.pathFor(repo), map[string]string{"memory": memory})
}

// FormatForPrompt renders the memory section of the system prompt.
func (m *MemoryStore) FormatForPrompt(repo string) string {
	mem := m.Get(repo)
	if mem == "" {
		return "You have no stored memory about this repository yet. As you learn durable facts about its structure and conventions, record them in a <repo_memory> tag in your response."
	}
	return fmt.Sprintf(
		"Your stored memory about the repository %s:\n%s\nUpdate it with a <repo_memory> tag when you learn something new and durable.",
		repo, mem)
}
