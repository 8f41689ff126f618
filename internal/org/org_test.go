package org

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRegistry_TouchAutoRegisters(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "orgs.yaml"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	r.Touch("org-acme", false)
	r.Touch("org-acme", true)

	o, err := r.Get("org-acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if o.Status != "active" {
		t.Errorf("status: expected active, got %q", o.Status)
	}
	if o.Stats.TotalEvents != 2 {
		t.Errorf("total events: expected 2, got %d", o.Stats.TotalEvents)
	}
	if o.Stats.FlaggedEvents != 1 {
		t.Errorf("flagged events: expected 1, got %d", o.Stats.FlaggedEvents)
	}
	if o.FirstSeen.IsZero() || o.LastSeen.IsZero() {
		t.Error("first/last seen should be set")
	}
}

func TestRegistry_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orgs.yaml")

	r, err := NewRegistry(path)
	if err != nil {
		t.Fatal(err)
	}
	r.Touch("org-acme", false)
	r.Touch("org-globex", false)
	r.RecordVerification("org-acme", false, 3)
	if err := r.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r2, err := NewRegistry(path)
	if err != nil {
		t.Fatal(err)
	}

	orgs := r2.List()
	if len(orgs) != 2 {
		t.Fatalf("expected 2 organizations after reload, got %d", len(orgs))
	}
	// List is sorted by ID.
	if orgs[0].ID != "org-acme" || orgs[1].ID != "org-globex" {
		t.Errorf("unexpected order: %s, %s", orgs[0].ID, orgs[1].ID)
	}

	o, err := r2.Get("org-acme")
	if err != nil {
		t.Fatal(err)
	}
	if o.Stats.ChainValid || o.Stats.ChainErrors != 3 {
		t.Errorf("verification outcome should survive reload, got %+v", o.Stats)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "orgs.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("nope"); !errors.Is(err, ErrOrgNotFound) {
		t.Errorf("expected ErrOrgNotFound, got %v", err)
	}
}

func TestFreezeSwitch_FreezeUnfreeze(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frozen.yaml")

	fs, err := NewFreezeSwitch(path)
	if err != nil {
		t.Fatalf("NewFreezeSwitch: %v", err)
	}

	if fs.IsFrozen("org-acme") {
		t.Error("nothing should be frozen initially")
	}

	if err := fs.Freeze("org-acme", "chain verification failed", "user"); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if !fs.IsFrozen("org-acme") {
		t.Error("org-acme should be frozen")
	}

	// Freezing twice is a no-op, not an error.
	if err := fs.Freeze("org-acme", "again", "user"); err != nil {
		t.Fatalf("second Freeze: %v", err)
	}
	if len(fs.List()) != 1 {
		t.Errorf("expected 1 frozen entry, got %d", len(fs.List()))
	}

	if err := fs.Unfreeze("org-acme"); err != nil {
		t.Fatalf("Unfreeze: %v", err)
	}
	if fs.IsFrozen("org-acme") {
		t.Error("org-acme should be unfrozen")
	}
}

func TestFreezeSwitch_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frozen.yaml")

	// One process freezes...
	writer, err := NewFreezeSwitch(path)
	if err != nil {
		t.Fatal(err)
	}

	// ...another process holds the file open and reloads on change, the
	// way the running server does via the file watcher.
	reader, err := NewFreezeSwitch(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := writer.Freeze("org-acme", "compromised", "user"); err != nil {
		t.Fatal(err)
	}

	if reader.IsFrozen("org-acme") {
		t.Error("reader should not see the freeze before reload")
	}
	if err := reader.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !reader.IsFrozen("org-acme") {
		t.Error("reader should see the freeze after reload")
	}
}

func TestFreezeSwitch_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frozen.yaml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}

	fs, err := NewFreezeSwitch(path)
	if err != nil {
		t.Fatalf("empty file should load cleanly: %v", err)
	}
	if len(fs.List()) != 0 {
		t.Error("empty file should mean nothing frozen")
	}
}
