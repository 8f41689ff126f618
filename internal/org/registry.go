// Package org manages organization identity, tracking, and the freeze
// switch.
//
// Organizations are auto-discovered when their first audit event arrives:
// the organization ID is taken from the ingest URL path
// (/api/orgs/{orgID}/events) and registered on first sight. The registry
// persists to ~/.auditchain/orgs.yaml and tracks per-organization state:
// event counts, flagged-event counts, first/last seen timestamps, and the
// outcome of the most recent chain verification.
//
// The freeze switch (frozen.yaml) blocks ingest for organizations whose
// trails an operator has marked compromised — the chain core only detects
// tampering, so freezing is the remediation hook the host provides.
package org

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrOrgNotFound is returned by Get for unknown organization IDs.
var ErrOrgNotFound = errors.New("organization not found")

// Organization represents one tracked tenant. Each organization owns
// exactly one hash chain in the ledger.
type Organization struct {
	ID        string    `yaml:"-" json:"id"`
	FirstSeen time.Time `yaml:"first_seen" json:"first_seen"`
	LastSeen  time.Time `yaml:"last_seen" json:"last_seen"`
	Status    string    `yaml:"status" json:"status"`
	Stats     OrgStats  `yaml:"stats" json:"stats"`
}

// OrgStats holds cumulative counters and the latest verification outcome
// for an organization's chain.
type OrgStats struct {
	TotalEvents   uint64    `yaml:"total_events" json:"total_events"`
	FlaggedEvents uint64    `yaml:"flagged_events" json:"flagged_events"`
	LastVerified  time.Time `yaml:"last_verified,omitempty" json:"last_verified,omitempty"`
	ChainValid    bool      `yaml:"chain_valid" json:"chain_valid"`
	ChainErrors   int       `yaml:"chain_errors" json:"chain_errors"`
}

// Registry manages the set of known organizations.
// Thread-safe — the ingest handler calls Touch() concurrently from
// multiple HTTP handler goroutines.
type Registry struct {
	mu   sync.RWMutex
	orgs map[string]*Organization
	path string // Path to orgs.yaml for persistence.
}

// registryFile is the YAML envelope for orgs.yaml.
type registryFile struct {
	Organizations map[string]*Organization `yaml:"organizations"`
}

// NewRegistry loads the organization registry from the given YAML file.
// If the file doesn't exist, returns an empty registry (not an error).
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		orgs: make(map[string]*Organization),
		path: path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("reading organization registry %s: %w", path, err)
	}

	// Handle empty file gracefully.
	if len(data) == 0 {
		return r, nil
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing organization registry %s: %w", path, err)
	}

	// Populate the ID field from the map key (not stored in the YAML value).
	for id, o := range file.Organizations {
		if o == nil {
			continue
		}
		o.ID = id
		r.orgs[id] = o
	}

	slog.Info("organization registry loaded", "organizations", len(r.orgs), "path", path)
	return r, nil
}

// List returns all registered organizations, sorted alphabetically by ID.
func (r *Registry) List() []Organization {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orgs := make([]Organization, 0, len(r.orgs))
	for _, o := range r.orgs {
		orgs = append(orgs, *o)
	}
	sort.Slice(orgs, func(i, j int) bool {
		return orgs[i].ID < orgs[j].ID
	})
	return orgs
}

// Get returns the organization with the given ID, or an error if unknown.
func (r *Registry) Get(id string) (Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orgs[id]
	if !ok {
		return Organization{}, fmt.Errorf("%w: %q", ErrOrgNotFound, id)
	}
	return *o, nil
}

// Touch updates the organization's last seen timestamp and event count,
// auto-registering it on first sight.
//
// Called by the ingest handler on every accepted event.
func (r *Registry) Touch(id string, flagged bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	o, ok := r.orgs[id]
	if !ok {
		o = &Organization{
			ID:        id,
			FirstSeen: now,
			Status:    "active",
		}
		r.orgs[id] = o
		slog.Info("new organization registered", "org", id)
	}

	o.LastSeen = now
	o.Stats.TotalEvents++
	if flagged {
		o.Stats.FlaggedEvents++
	}
}

// RecordVerification stores the outcome of a chain verification run so the
// dashboard and `auditchain orgs` can show trail health at a glance.
func (r *Registry) RecordVerification(id string, valid bool, errorCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orgs[id]
	if !ok {
		return
	}
	o.Stats.LastVerified = time.Now().UTC()
	o.Stats.ChainValid = valid
	o.Stats.ChainErrors = errorCount
}

// SetStatus updates an organization's status (e.g. "active" or "frozen").
// Used by the freeze switch to reflect the frozen state in the registry.
func (r *Registry) SetStatus(id, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o, ok := r.orgs[id]; ok {
		o.Status = status
	}
}

// Save persists the current registry state to orgs.yaml.
// Called on graceful shutdown to avoid losing in-memory stats.
func (r *Registry) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	file := registryFile{Organizations: r.orgs}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("marshaling organization registry: %w", err)
	}

	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("writing organization registry %s: %w", r.path, err)
	}

	return nil
}
