// Package maintenance runs the startup database chores: seeding presets from
// a YAML file and pruning stale persisted state.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"designsync/pkg/db"
	"designsync/pkg/params"
	"designsync/pkg/store"
)

const presetsSeedStateKey = "presets_seed_mtime"

// SeedFile is the presets seed format.
//
//	presets:
//	  - name: brand
//	    query: theme=violet&font=outfit
type SeedFile struct {
	Presets []SeedPreset `yaml:"presets"`
}

// SeedPreset is one entry of a SeedFile.
type SeedPreset struct {
	Name  string `yaml:"name"`
	Query string `yaml:"query"`
}

// Run executes all maintenance tasks: preset import and state pruning.
// State keys in keep are exempt from pruning. Failures are logged, never fatal.
func Run(ctx context.Context, s store.Store, d *db.DB, seedPath string, retention time.Duration, keep ...string) error {
	slog.Info("Starting database maintenance...")

	if seedPath != "" {
		if n, err := importPresets(ctx, s, seedPath); err != nil {
			slog.Error("Preset import failed", "path", seedPath, "error", err)
		} else if n > 0 {
			slog.Info("Imported presets", "path", seedPath, "count", n)
		}
	}

	if retention > 0 {
		n, err := d.PruneState(retention, append([]string{presetsSeedStateKey}, keep...)...)
		if err != nil {
			slog.Error("State pruning failed", "error", err)
		} else {
			slog.Info("State pruning completed", "rows", n)
		}
	}

	return nil
}

// importPresets loads the seed file when its modification time differs from
// the one recorded by the last import. Names are validated and queries are
// normalized, so a seed can never store what the API would refuse.
func importPresets(ctx context.Context, s store.Store, path string) (int, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat seed: %w", err)
	}
	fileMTime := info.ModTime().UTC().Format(time.RFC3339Nano)

	stored, found := s.GetState(ctx, presetsSeedStateKey)
	if found && stored == fileMTime {
		return 0, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed: %w", err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("failed to parse seed: %w", err)
	}

	count := 0
	for i, p := range seed.Presets {
		if !store.ValidPresetName(p.Name) {
			slog.Warn("Skipping seed preset", "index", i, "name", p.Name, "error", store.ErrInvalidPresetName)
			continue
		}
		if err := s.SavePreset(ctx, p.Name, params.Parse(p.Query).Encode()); err != nil {
			return count, fmt.Errorf("failed to save preset %s: %w", p.Name, err)
		}
		count++
	}

	if err := s.SetState(ctx, presetsSeedStateKey, fileMTime); err != nil {
		return count, fmt.Errorf("failed to update state: %w", err)
	}
	return count, nil
}
