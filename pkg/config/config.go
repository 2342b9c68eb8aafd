package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"designsync/pkg/bridge"
	"designsync/pkg/message"
	"designsync/pkg/params"
	"designsync/pkg/zoom"
)

// EnvAllowedOrigins is read when the config file lists no allowed origins.
// Values are comma separated.
const EnvAllowedOrigins = "DESIGNSYNC_ALLOWED_ORIGINS"

// Config holds the application configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	DB     DBConfig     `yaml:"db"`
	Bridge BridgeConfig `yaml:"bridge"`
	Relay  RelayConfig  `yaml:"relay"`
	Sync   SyncConfig   `yaml:"sync"`
	Zoom   zoom.Limits  `yaml:"zoom"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address         string   `yaml:"address"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
	// StateRetention prunes persisted state older than this at startup. Zero keeps everything.
	StateRetention Duration `yaml:"state_retention"`
	// PresetsSeed is imported into the presets table whenever the file changes.
	PresetsSeed string `yaml:"presets_seed"`
}

// BridgeConfig holds settings for the parent endpoint and its frame connections.
type BridgeConfig struct {
	// Origin is the parent's own origin as frames see it.
	Origin         string   `yaml:"origin"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	InboxSize      int      `yaml:"inbox_size"`
	SendQueue      int      `yaml:"send_queue"`
	WriteTimeout   Duration `yaml:"write_timeout"`
	PingInterval   Duration `yaml:"ping_interval"`
	MaxMessageSize int64    `yaml:"max_message_size"`
}

// RelayConfig holds settings for frame-side relay clients.
type RelayConfig struct {
	URL         string        `yaml:"url"`
	MaxFailures int           `yaml:"max_failures"`
	Backoff     BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// SyncConfig holds settings for parameter broadcasts.
type SyncConfig struct {
	MessageType string   `yaml:"message_type"`
	TrackedKeys []string `yaml:"tracked_keys"`
	// InitialQuery seeds the parent when nothing was persisted.
	InitialQuery string `yaml:"initial_query"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	tracked := make([]string, len(params.DefaultTrackedKeys))
	for i, k := range params.DefaultTrackedKeys {
		tracked[i] = string(k)
	}
	return &Config{
		Server: ServerConfig{
			Address:         "127.0.0.1:4100",
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path:           "./data/designsync.db",
			StateRetention: Duration(90 * Day),
			PresetsSeed:    "./configs/presets.yaml",
		},
		Bridge: BridgeConfig{
			Origin:         "http://127.0.0.1:4100",
			AllowedOrigins: []string{"http://127.0.0.1:4100", "http://localhost:4100"},
			InboxSize:      64,
			SendQueue:      32,
			WriteTimeout:   Duration(10 * time.Second),
			PingInterval:   Duration(30 * time.Second),
			MaxMessageSize: 64 * 1024,
		},
		Relay: RelayConfig{
			URL:         "ws://127.0.0.1:4100/ws/frame",
			MaxFailures: 0,
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
		Sync: SyncConfig{
			MessageType: message.TypeDesignSystemParams,
			TrackedKeys: tracked,
		},
		Zoom: zoom.DefaultLimits,
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT save back to disk (to preserve user formatting and comments).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// An explicit list in the file replaces the default one.
		cfg.Bridge.AllowedOrigins = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	// Env fallback, never saved back to disk
	if len(cfg.Bridge.AllowedOrigins) == 0 {
		cfg.Bridge.AllowedOrigins = splitList(os.Getenv(EnvAllowedOrigins))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the settings that cannot fall back to a default.
func (c *Config) Validate() error {
	if len(c.Bridge.AllowedOrigins) == 0 {
		return fmt.Errorf("bridge.allowed_origins is empty and %s is not set", EnvAllowedOrigins)
	}
	if _, err := bridge.NewOriginPolicy(c.Bridge.AllowedOrigins); err != nil {
		return fmt.Errorf("bridge.allowed_origins: %w", err)
	}
	if _, err := bridge.NormalizeOrigin(c.Bridge.Origin); err != nil {
		return fmt.Errorf("bridge.origin: %w", err)
	}
	kind, err := message.ParseKind(c.Sync.MessageType)
	if err != nil {
		return fmt.Errorf("sync.message_type: %w", err)
	}
	if kind != message.KindParams {
		return fmt.Errorf("sync.message_type: %q does not carry parameters", c.Sync.MessageType)
	}
	if _, err := params.ParseKeys(c.Sync.TrackedKeys); err != nil {
		return fmt.Errorf("sync.tracked_keys: %w", err)
	}
	if err := c.Zoom.Validate(); err != nil {
		return fmt.Errorf("zoom: %w", err)
	}
	return nil
}

// Tracked returns the parsed tracked keys. Call after Validate.
func (c *Config) Tracked() []params.Key {
	keys, _ := params.ParseKeys(c.Sync.TrackedKeys)
	return keys
}

// MessageKind returns the parsed sync.message_type. Call after Validate.
func (c *Config) MessageKind() message.Kind {
	kind, _ := message.ParseKind(c.Sync.MessageType)
	return kind
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# designsync configuration
# ------------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)

`)
	data = append(header, data...)

	// Inject comments above selected keys, keeping their indentation.
	reOrigins := regexp.MustCompile(`(?m)^(\s+)allowed_origins:`)
	data = reOrigins.ReplaceAll(data, []byte("${1}# Frame origins accepted by the parent. Leave empty to read "+EnvAllowedOrigins+".\n${1}allowed_origins:"))

	reType := regexp.MustCompile(`(?m)^(\s+)message_type:`)
	data = reType.ReplaceAll(data, []byte("${1}# Options: "+message.TypeDesignSystemParams+"\n${1}message_type:"))

	reTracked := regexp.MustCompile(`(?m)^(\s+)tracked_keys:`)
	data = reTracked.ReplaceAll(data, []byte("${1}# Any of: "+strings.Join(keyNames(), ", ")+"\n${1}tracked_keys:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func keyNames() []string {
	keys := params.Keys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, do nothing
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
