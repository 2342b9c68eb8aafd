package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"designsync/pkg/db"
	"designsync/pkg/store"
)

func TestMaintenance(t *testing.T) {
	tempDir := t.TempDir()
	d, err := db.Init(filepath.Join(tempDir, "maint_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	s := store.NewSQLiteStore(d)
	ctx := context.Background()

	seedPath := filepath.Join(tempDir, "presets.yaml")
	seed := `presets:
  - name: brand
    query: "?theme=violet&font=outfit&size=abc"
  - name: "has space"
    query: theme=rose
  - name: mono
    query: font=geist-mono
`
	if err := os.WriteFile(seedPath, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	// Stale state row (120 days old) and a fresh one
	old := time.Now().Add(-120 * 24 * time.Hour).UTC().Format("2006-01-02 15:04:05")
	if _, err := d.Exec("INSERT INTO persistent_state (key, value, updated_at) VALUES (?, ?, ?)", "old-key", "v", old); err != nil {
		t.Fatal(err)
	}
	if err := s.SetState(ctx, "new-key", "v"); err != nil {
		t.Fatal(err)
	}

	if err := Run(ctx, s, d, seedPath, 90*24*time.Hour); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Verify Import
	list, err := s.ListPresets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 presets, got %+v", list)
	}
	if list[0].Name != "brand" || list[0].Query != "font=outfit&theme=violet" {
		t.Errorf("Expected normalized brand preset, got %+v", list[0])
	}
	if _, found := s.GetState(ctx, presetsSeedStateKey); !found {
		t.Error("State not updated after import")
	}

	// Verify Pruning
	if _, found := s.GetState(ctx, "old-key"); found {
		t.Error("Expected old-key to be pruned")
	}
	if _, found := s.GetState(ctx, "new-key"); !found {
		t.Error("Expected new-key to survive")
	}

	// Unchanged seed is not re-imported: user edits survive a restart.
	if err := s.SavePreset(ctx, "brand", "theme=rose"); err != nil {
		t.Fatal(err)
	}
	if err := Run(ctx, s, d, seedPath, 0); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	p, err := s.GetPreset(ctx, "brand")
	if err != nil || p == nil {
		t.Fatalf("GetPreset: %+v, %v", p, err)
	}
	if p.Query != "theme=rose" {
		t.Errorf("Expected user edit to survive, got %q", p.Query)
	}
}

func TestMaintenance_PruningKeepsPinnedState(t *testing.T) {
	tempDir := t.TempDir()
	d, err := db.Init(filepath.Join(tempDir, "maint_keep.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	s := store.NewSQLiteStore(d)
	ctx := context.Background()

	seedPath := filepath.Join(tempDir, "presets.yaml")
	if err := os.WriteFile(seedPath, []byte("presets:\n  - name: brand\n    query: theme=violet\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Run(ctx, s, d, seedPath, 0); err != nil {
		t.Fatal(err)
	}

	// Origins override and saved preview query, both untouched for 120 days
	for key, val := range map[string]string{
		"bridge.allowed_origins": `["https://only.example"]`,
		"preview.query":          "theme=violet",
		"scratch":                "v",
	} {
		if err := s.SetState(ctx, key, val); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-120 * 24 * time.Hour).UTC().Format("2006-01-02 15:04:05")
	if _, err := d.Exec("UPDATE persistent_state SET updated_at = ?", old); err != nil {
		t.Fatal(err)
	}

	if err := Run(ctx, s, d, seedPath, 90*24*time.Hour, "bridge.allowed_origins", "preview.query"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if v, found := s.GetState(ctx, "bridge.allowed_origins"); !found || v != `["https://only.example"]` {
		t.Errorf("Expected origins override to survive, got %q (found=%v)", v, found)
	}
	if _, found := s.GetState(ctx, "preview.query"); !found {
		t.Error("Expected preview.query to survive")
	}
	if _, found := s.GetState(ctx, presetsSeedStateKey); !found {
		t.Error("Expected seed marker to survive")
	}
	if _, found := s.GetState(ctx, "scratch"); found {
		t.Error("Expected scratch to be pruned")
	}

	// The marker survived, so an unchanged seed does not overwrite edits.
	if err := s.SavePreset(ctx, "brand", "theme=rose"); err != nil {
		t.Fatal(err)
	}
	if err := Run(ctx, s, d, seedPath, 0); err != nil {
		t.Fatal(err)
	}
	if p, err := s.GetPreset(ctx, "brand"); err != nil || p == nil || p.Query != "theme=rose" {
		t.Errorf("Expected user edit to survive, got %+v, %v", p, err)
	}
}

func TestMaintenance_MissingSeed(t *testing.T) {
	d, err := db.Init(filepath.Join(t.TempDir(), "maint.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	s := store.NewSQLiteStore(d)

	n, err := importPresets(context.Background(), s, filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil || n != 0 {
		t.Errorf("Expected no-op, got %d, %v", n, err)
	}
}
