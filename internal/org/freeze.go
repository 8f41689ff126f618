package org

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FrozenEntry represents a single frozen organization in frozen.yaml.
// Each entry records who froze the trail, when, and why — typically after
// a chain verification reported tampering.
type FrozenEntry struct {
	Org      string    `yaml:"org"`
	FrozenAt time.Time `yaml:"frozen_at"`
	Reason   string    `yaml:"reason"`
	FrozenBy string    `yaml:"frozen_by"`
}

// FreezeSwitch manages the set of frozen organizations. It persists state
// to frozen.yaml and maintains an in-memory set for fast lookups.
//
// Thread-safe — IsFrozen() is called on every ingest request from
// concurrent goroutines, while Freeze/Unfreeze/Reload modify the state.
//
// The server file-watches frozen.yaml and calls Reload() when it changes,
// so `auditchain freeze` takes effect immediately without a restart.
type FreezeSwitch struct {
	mu      sync.RWMutex
	frozen  map[string]FrozenEntry // In-memory set for O(1) lookups.
	entries []FrozenEntry          // Ordered list for YAML serialization.
	path    string                 // Path to frozen.yaml.
}

// NewFreezeSwitch loads the freeze state from the given YAML file.
// If the file doesn't exist, returns an empty switch (nothing frozen).
func NewFreezeSwitch(path string) (*FreezeSwitch, error) {
	fs := &FreezeSwitch{
		frozen: make(map[string]FrozenEntry),
		path:   path,
	}

	if err := fs.loadFromFile(); err != nil {
		return nil, err
	}

	return fs, nil
}

// IsFrozen checks whether the given organization's trail is frozen.
//
// Called on every ingest request, so it must be fast — O(1) map lookup
// under a read lock.
func (fs *FreezeSwitch) IsFrozen(org string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, frozen := fs.frozen[org]
	return frozen
}

// List returns all frozen entries in freeze order.
func (fs *FreezeSwitch) List() []FrozenEntry {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]FrozenEntry, len(fs.entries))
	copy(out, fs.entries)
	return out
}

// Freeze adds an organization to the frozen set and persists to
// frozen.yaml. If already frozen, this is a no-op (not an error).
//
// Parameters:
//   - org:    Organization ID
//   - reason: Human-readable reason for the freeze
//   - by:     Who initiated it ("user", "dashboard", etc.)
func (fs *FreezeSwitch) Freeze(org, reason, by string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.frozen[org]; exists {
		return nil
	}

	entry := FrozenEntry{
		Org:      org,
		FrozenAt: time.Now().UTC(),
		Reason:   reason,
		FrozenBy: by,
	}

	fs.frozen[org] = entry
	fs.entries = append(fs.entries, entry)

	slog.Warn("organization frozen", "org", org, "reason", reason, "by", by)
	return fs.saveToFile()
}

// Unfreeze removes an organization from the frozen set and persists to
// frozen.yaml. If the organization is not frozen, this is a no-op.
func (fs *FreezeSwitch) Unfreeze(org string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.frozen[org]; !exists {
		return nil
	}

	delete(fs.frozen, org)

	filtered := make([]FrozenEntry, 0, len(fs.entries))
	for _, e := range fs.entries {
		if e.Org != org {
			filtered = append(filtered, e)
		}
	}
	fs.entries = filtered

	slog.Info("organization unfrozen", "org", org)
	return fs.saveToFile()
}

// Reload re-reads frozen.yaml from disk and updates the in-memory state.
// Called by the file watcher when frozen.yaml changes on disk (e.g. when
// another process like `auditchain freeze` modifies it).
func (fs *FreezeSwitch) Reload() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.frozen = make(map[string]FrozenEntry)
	fs.entries = nil

	if err := fs.loadFromFile(); err != nil {
		return err
	}

	slog.Info("freeze switch reloaded", "frozen_organizations", len(fs.frozen))
	return nil
}

// loadFromFile reads frozen.yaml and populates the in-memory state.
// NOT thread-safe — caller must hold the mutex.
func (fs *FreezeSwitch) loadFromFile() error {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading freeze switch %s: %w", fs.path, err)
	}

	if len(data) == 0 {
		return nil
	}

	var entries []FrozenEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing freeze switch %s: %w", fs.path, err)
	}

	fs.entries = entries
	for _, e := range entries {
		fs.frozen[e.Org] = e
	}

	return nil
}

// saveToFile writes the current frozen set to frozen.yaml.
// NOT thread-safe — caller must hold the mutex.
func (fs *FreezeSwitch) saveToFile() error {
	// If nothing is frozen, write an empty file rather than "[]".
	if len(fs.entries) == 0 {
		return os.WriteFile(fs.path, []byte(""), 0o644)
	}

	data, err := yaml.Marshal(fs.entries)
	if err != nil {
		return fmt.Errorf("marshaling freeze switch: %w", err)
	}

	return os.WriteFile(fs.path, data, 0o644)
}
