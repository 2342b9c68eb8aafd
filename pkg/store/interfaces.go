package store

import (
	"context"
	"time"
)

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}

// Preset is a named bookmark of a canonical parameter query.
type Preset struct {
	Name      string    `json:"name"`
	Query     string    `json:"query"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PresetStore handles named presets.
type PresetStore interface {
	SavePreset(ctx context.Context, name, query string) error
	// GetPreset returns nil without error when the preset does not exist.
	GetPreset(ctx context.Context, name string) (*Preset, error)
	ListPresets(ctx context.Context) ([]Preset, error)
	// DeletePreset reports whether a preset was removed.
	DeletePreset(ctx context.Context, name string) (bool, error)
}
