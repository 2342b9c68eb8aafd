package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"designsync/pkg/bridge"
	"designsync/pkg/store"
)

// Provider gives access to settings that can be overridden at runtime.
type Provider interface {
	AllowedOrigins(ctx context.Context) []string
	SetAllowedOrigins(ctx context.Context, origins []string) error
	ClearAllowedOrigins(ctx context.Context) error

	// Raw access (for components that need deep access)
	AppConfig() *Config
}

// UnifiedProvider implements Provider by bridging static Config and persistent Store.
// Values written through the provider win over the file.
type UnifiedProvider struct {
	mu    sync.RWMutex
	base  *Config
	store store.StateStore
}

// NewProvider creates a new UnifiedProvider.
func NewProvider(base *Config, st store.StateStore) *UnifiedProvider {
	return &UnifiedProvider{
		base:  base,
		store: st,
	}
}

// AppConfig returns the file configuration currently in effect.
func (p *UnifiedProvider) AppConfig() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.base
}

// SetBase swaps the file configuration, e.g. after a reload.
func (p *UnifiedProvider) SetBase(cfg *Config) {
	p.mu.Lock()
	p.base = cfg
	p.mu.Unlock()
}

// AllowedOrigins returns the stored override, or the configured list.
func (p *UnifiedProvider) AllowedOrigins(ctx context.Context) []string {
	return p.getList(ctx, KeyAllowedOrigins, p.AppConfig().Bridge.AllowedOrigins)
}

// SetAllowedOrigins validates and stores an override.
func (p *UnifiedProvider) SetAllowedOrigins(ctx context.Context, origins []string) error {
	if _, err := bridge.NewOriginPolicy(origins); err != nil {
		return err
	}
	if p.store == nil {
		return fmt.Errorf("no state store configured")
	}
	data, err := json.Marshal(origins)
	if err != nil {
		return err
	}
	return p.store.SetState(ctx, KeyAllowedOrigins, string(data))
}

// ClearAllowedOrigins drops the override so the configured list applies again.
func (p *UnifiedProvider) ClearAllowedOrigins(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	return p.store.DeleteState(ctx, KeyAllowedOrigins)
}

// --- Helpers ---

func (p *UnifiedProvider) getList(ctx context.Context, key string, fallback []string) []string {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			var list []string
			if err := json.Unmarshal([]byte(val), &list); err == nil && len(list) > 0 {
				return list
			}
			slog.Warn("Config: ignoring unreadable override", "key", key)
		}
	}
	return fallback
}
