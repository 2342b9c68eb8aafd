package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"designsync/pkg/message"
	"designsync/pkg/params"
)

func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "designsync.yaml")

	tests := []struct {
		name          string
		setup         func()
		validate      func(*testing.T, *Config)
		checkFile     func(*testing.T)
		expectedError bool
	}{
		{
			name:  "NewFile_Defaults",
			setup: func() {}, // No file
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Server.Address != "127.0.0.1:4100" {
					t.Errorf("expected default address, got '%s'", cfg.Server.Address)
				}
				if cfg.Zoom.Max != 2 {
					t.Errorf("expected zoom max 2, got %g", cfg.Zoom.Max)
				}
				if got := cfg.Tracked(); len(got) != len(params.DefaultTrackedKeys) {
					t.Errorf("expected default tracked keys, got %v", got)
				}
				if cfg.MessageKind() != message.KindParams {
					t.Errorf("expected params kind, got %v", cfg.MessageKind())
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if !strings.Contains(string(content), "message_type: design-system-params") {
					t.Error("config file missing default values")
				}
				if !strings.Contains(string(content), "# Frame origins accepted by the parent") {
					t.Error("config file missing allowed_origins comment")
				}
			},
		},
		{
			name: "ExistingFile_Override",
			setup: func() {
				err := os.WriteFile(configPath, []byte("server:\n  address: 0.0.0.0:9000\nbridge:\n  ping_interval: 5s\n  allowed_origins: [\"https://preview.example.com\"]\nsync:\n  tracked_keys: [theme, font]\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Server.Address != "0.0.0.0:9000" {
					t.Errorf("expected overridden address, got '%s'", cfg.Server.Address)
				}
				if cfg.Bridge.PingInterval.Std() != 5*time.Second {
					t.Errorf("expected ping interval 5s, got %v", cfg.Bridge.PingInterval.Std())
				}
				if len(cfg.Bridge.AllowedOrigins) != 1 {
					t.Errorf("file list should replace defaults, got %v", cfg.Bridge.AllowedOrigins)
				}
				if cfg.Bridge.InboxSize != 64 {
					t.Errorf("expected default inbox size to survive, got %d", cfg.Bridge.InboxSize)
				}
				if got := cfg.Tracked(); len(got) != 2 || got[0] != params.KeyTheme {
					t.Errorf("unexpected tracked keys %v", got)
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if strings.Contains(string(content), "message_type") {
					t.Error("existing config file must not be rewritten")
				}
			},
		},
		{
			name: "AllowedOrigins_Env_Fallback",
			setup: func() {
				t.Setenv(EnvAllowedOrigins, "https://a.example, https://b.example")
				err := os.WriteFile(configPath, []byte("bridge:\n  allowed_origins: []\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			validate: func(t *testing.T, cfg *Config) {
				want := []string{"https://a.example", "https://b.example"}
				if strings.Join(cfg.Bridge.AllowedOrigins, ",") != strings.Join(want, ",") {
					t.Errorf("expected %v, got %v", want, cfg.Bridge.AllowedOrigins)
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if strings.Contains(string(content), "a.example") {
					t.Error("environment value should NOT be persisted to config file")
				}
			},
		},
		{
			name: "No_Origins_Anywhere",
			setup: func() {
				t.Setenv(EnvAllowedOrigins, "")
				err := os.WriteFile(configPath, []byte("bridge:\n  allowed_origins: []\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			expectedError: true,
		},
		{
			name: "Invalid_YAML",
			setup: func() {
				err := os.WriteFile(configPath, []byte("bridge: [not a map]"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			expectedError: true,
		},
		{
			name: "Invalid_Tracked_Key",
			setup: func() {
				err := os.WriteFile(configPath, []byte("sync:\n  tracked_keys: [theme, colour]\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			expectedError: true,
		},
		{
			name: "Params_Message_Type_Alias",
			setup: func() {
				err := os.WriteFile(configPath, []byte("sync:\n  message_type: params\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.MessageKind() != message.KindParams {
					t.Errorf("expected params kind, got %v", cfg.MessageKind())
				}
			},
			checkFile: func(t *testing.T) {},
		},
		{
			name: "Zoom_Message_Type_Rejected",
			setup: func() {
				err := os.WriteFile(configPath, []byte("sync:\n  message_type: canva-zoom\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			expectedError: true,
		},
		{
			name: "Invalid_Zoom_Limits",
			setup: func() {
				err := os.WriteFile(configPath, []byte("zoom:\n  min: 3\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Remove(configPath)
			tt.setup()

			cfg, err := Load(configPath)
			if (err != nil) != tt.expectedError {
				t.Fatalf("Load() error = %v, expectedError %v", err, tt.expectedError)
			}
			if err == nil {
				tt.validate(t, cfg)
				tt.checkFile(t)
			}
		})
	}
}

func TestGenerateDefault(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nested", "default_config.yaml")

	err := GenerateDefault(configPath)
	if err != nil {
		t.Fatalf("GenerateDefault() error = %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("GenerateDefault() did not create file")
	}

	// The generated file must load cleanly.
	if _, err := Load(configPath); err != nil {
		t.Errorf("Load() of generated file failed: %v", err)
	}

	// Running again should not fail
	err = GenerateDefault(configPath)
	if err != nil {
		t.Errorf("GenerateDefault() error on second run = %v", err)
	}
}
