package config

// Persistent state keys (Registry)
const (
	KeyAllowedOrigins = "bridge.allowed_origins"
)
