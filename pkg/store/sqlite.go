package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"designsync/pkg/db"
)

// ErrInvalidPresetName is returned for names outside [A-Za-z0-9_-]{1,64}.
var ErrInvalidPresetName = errors.New("store: invalid preset name")

var presetName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidPresetName reports whether name can be used as a preset name.
func ValidPresetName(name string) bool {
	return presetName.MatchString(name)
}

// Store composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	StateStore
	PresetStore

	// Close closes the store connection.
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(db *db.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Warn("Store: state lookup failed", "key", key, "error", err)
		}
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT INTO persistent_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query, key, val, timestamp(time.Now()))
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}

// --- Presets ---

func (s *SQLiteStore) SavePreset(ctx context.Context, name, query string) error {
	if !ValidPresetName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidPresetName, name)
	}
	now := timestamp(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO presets (name, query, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET query = excluded.query, updated_at = excluded.updated_at`,
		name, query, now, now)
	return err
}

func (s *SQLiteStore) GetPreset(ctx context.Context, name string) (*Preset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, query, created_at, updated_at FROM presets WHERE name = ?`, name)
	p, err := scanPreset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) ListPresets(ctx context.Context) ([]Preset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, query, created_at, updated_at FROM presets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Preset
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeletePreset(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM presets WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPreset(row scanner) (*Preset, error) {
	var p Preset
	var created, updated string
	if err := row.Scan(&p.Name, &p.Query, &created, &updated); err != nil {
		return nil, err
	}
	p.CreatedAt = parseTimestamp(created)
	p.UpdatedAt = parseTimestamp(updated)
	return &p, nil
}

const timeLayout = "2006-01-02 15:04:05"

// timestamp formats t like SQLite's CURRENT_TIMESTAMP.
func timestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
