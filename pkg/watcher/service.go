// Package watcher reloads the configuration file when it changes on disk.
package watcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"designsync/pkg/config"
)

// ReloadFunc receives each successfully loaded configuration.
type ReloadFunc func(cfg *config.Config)

// Service watches one config file. The parent directory is watched rather
// than the file itself so editors that save by rename are still seen.
type Service struct {
	path     string
	debounce time.Duration
	onReload ReloadFunc
	logger   *slog.Logger

	mu       sync.Mutex
	lastHash [sha256.Size]byte
	pending  bool
	reloads  int
}

// NewService creates a watcher for path. debounce defaults to 250ms.
func NewService(path string, debounce time.Duration, onReload ReloadFunc, logger *slog.Logger) (*Service, error) {
	if onReload == nil {
		return nil, errors.New("watcher: reload func is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watcher: resolve %s: %w", path, err)
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{path: abs, debounce: debounce, onReload: onReload, logger: logger}
	if data, err := os.ReadFile(abs); err == nil {
		s.lastHash = sha256.Sum256(data)
	}
	return s, nil
}

// Reloads returns how many times the reload func has been called.
func (s *Service) Reloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloads
}

// Run watches until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watcher: watch %s: %w", filepath.Dir(s.path), err)
	}
	s.logger.Info("Watcher: watching config", "path", s.path, "debounce", s.debounce)

	ticker := time.NewTicker(s.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				s.mu.Lock()
				s.pending = true
				s.mu.Unlock()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("Watcher: fsnotify error", "error", err)

		case <-ticker.C:
			s.flush()
		}
	}
}

// flush reloads once per quiet period, and only when the content changed.
func (s *Service) flush() {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		// Mid-rename; the Create that follows marks it pending again.
		s.logger.Debug("Watcher: config not readable yet", "error", err)
		return
	}
	hash := sha256.Sum256(data)

	s.mu.Lock()
	unchanged := hash == s.lastHash
	s.mu.Unlock()
	if unchanged {
		return
	}

	cfg, err := config.Load(s.path)
	if err != nil {
		s.logger.Warn("Watcher: keeping previous config", "error", err)
		return
	}

	s.mu.Lock()
	s.lastHash = hash
	s.reloads++
	s.mu.Unlock()

	s.logger.Info("Watcher: config reloaded", "path", s.path)
	s.onReload(cfg)
}
