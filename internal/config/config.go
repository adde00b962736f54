package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config is the application configuration stored in runtime.json.
type Config struct {
	Port       string `json:"port,omitempty"`
	Password   string `json:"password,omitempty"`
	Shell      string `json:"shell,omitempty"`
	DefaultDir string `json:"default_dir,omitempty"`
	// IdleTTLMinutes is how long an unattached session with no input
	// survives before it is reaped. Defaults to an hour.
	IdleTTLMinutes int `json:"idle_ttl_minutes,omitempty"`

	Protocol Protocol `json:"protocol"`
}

func (c *Config) IdleTTL() time.Duration {
	if c.IdleTTLMinutes > 0 {
		return time.Duration(c.IdleTTLMinutes) * time.Minute
	}
	return time.Hour
}

// Protocol carries the input-channel policy knobs. The values are policy
// choices, not protocol requirements, so deployments can tune them.
type Protocol struct {
	KeepaliveSeconds       int `json:"keepalive_seconds,omitempty"`
	PongTimeoutSeconds     int `json:"pong_timeout_seconds,omitempty"`
	MalformedFrameLimit    int `json:"malformed_frame_limit,omitempty"`
	MalformedWindowSeconds int `json:"malformed_window_seconds,omitempty"`
	BindAckTimeoutSeconds  int `json:"bind_ack_timeout_seconds,omitempty"`
}

func (p Protocol) KeepaliveInterval() time.Duration {
	return secondsOr(p.KeepaliveSeconds, 15*time.Second)
}

func (p Protocol) PongTimeout() time.Duration {
	return secondsOr(p.PongTimeoutSeconds, 45*time.Second)
}

func (p Protocol) MalformedWindow() time.Duration {
	return secondsOr(p.MalformedWindowSeconds, 10*time.Second)
}

func (p Protocol) BindAckTimeout() time.Duration {
	return secondsOr(p.BindAckTimeoutSeconds, 5*time.Second)
}

func (p Protocol) FrameLimit() int {
	if p.MalformedFrameLimit > 0 {
		return p.MalformedFrameLimit
	}
	return 5
}

func secondsOr(n int, fallback time.Duration) time.Duration {
	if n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// DefaultConfigDir returns the config directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp"
	}
	return filepath.Join(home, ".config", "openchamber-relay")
}

// ConfigPath returns the path to runtime.json.
func ConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "runtime.json")
}

// Load reads runtime.json, overlaying defaults; a missing file yields
// the defaults. Environment variables win over the file.
func Load() (*Config, error) {
	cfg := &Config{Port: "8080"}

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if port := os.Getenv("OPENCHAMBER_PORT"); port != "" {
		cfg.Port = port
	}
	if shell := os.Getenv("OPENCHAMBER_SHELL"); shell != "" {
		cfg.Shell = shell
	}

	return cfg, nil
}

// Save writes the configuration back to runtime.json.
func Save(cfg *Config) error {
	dir := DefaultConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(ConfigPath(), data, 0600)
}
