// Package config loads server settings from a YAML file, then applies
// environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	State     StateConfig     `yaml:"state"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	HotReload HotReloadConfig `yaml:"hot_reload"`
	Status    StatusConfig    `yaml:"status"`
	Tools     ToolsConfig     `yaml:"tools"`
}

type ServerConfig struct {
	Port              int    `yaml:"port" env:"DASHBOARD_PORT"`
	Host              string `yaml:"host" env:"DASHBOARD_HOST"`
	LogLevel          string `yaml:"log_level" env:"LOG_LEVEL"`
	DevMode           bool   `yaml:"dev_mode" env:"DEV_MODE"`
	EnableCORS        bool   `yaml:"enable_cors" env:"ENABLE_CORS"`
	EnableDebugRoutes bool   `yaml:"enable_debug_routes" env:"ENABLE_DEBUG_ROUTES"`
}

type WebSocketConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"WEBSOCKET_ALLOWED_ORIGINS" envSeparator:","`
	// DevBypass skips origin validation entirely.
	DevBypass bool `yaml:"dev_bypass" env:"WEBSOCKET_DEV_BYPASS"`
	// MaxConnections caps concurrent socket clients. Zero means unlimited.
	MaxConnections int `yaml:"max_connections" env:"WEBSOCKET_MAX_CONNECTIONS"`
}

type StateConfig struct {
	LedgerCapacity int `yaml:"ledger_capacity" env:"LEDGER_CAPACITY"`
	EventQueueSize int `yaml:"event_queue_size" env:"EVENT_QUEUE_SIZE"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout" env:"SESSION_IDLE_TIMEOUT"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SESSION_SWEEP_INTERVAL"`
}

// ReconnectConfig drives the reconnecting client used by `opsboard watch`.
type ReconnectConfig struct {
	BaseDelay         time.Duration `yaml:"base_delay" env:"RECONNECT_BASE_DELAY"`
	MaxDelay          time.Duration `yaml:"max_delay" env:"RECONNECT_MAX_DELAY"`
	MaxAttempts       int           `yaml:"max_attempts" env:"RECONNECT_MAX_ATTEMPTS"`
	Jitter            time.Duration `yaml:"jitter" env:"RECONNECT_JITTER"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" env:"KEEPALIVE_INTERVAL"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	ReloadGrace       time.Duration `yaml:"reload_grace" env:"RELOAD_GRACE"`
}

type HotReloadConfig struct {
	Enabled  bool          `yaml:"enabled" env:"HOT_RELOAD"`
	Paths    []string      `yaml:"paths" env:"HOT_RELOAD_PATHS" envSeparator:","`
	Debounce time.Duration `yaml:"debounce" env:"HOT_RELOAD_DEBOUNCE"`
}

// ToolsConfig confines read_file and list_dir to Root.
type ToolsConfig struct {
	Root string `yaml:"root" env:"TOOLS_ROOT"`
}

type StatusConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval" env:"STATUS_SAMPLE_INTERVAL"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			Host:     "127.0.0.1",
			LogLevel: "info",
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: []string{
				"http://localhost:8080",
				"http://127.0.0.1:8080",
			},
		},
		State: StateConfig{
			LedgerCapacity: 1000,
			EventQueueSize: 256,
		},
		Sessions: SessionConfig{
			IdleTimeout:   30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Reconnect: ReconnectConfig{
			BaseDelay:         time.Second,
			MaxDelay:          30 * time.Second,
			MaxAttempts:       10,
			Jitter:            time.Second,
			KeepaliveInterval: 30 * time.Second,
			HandshakeTimeout:  10 * time.Second,
			ReloadGrace:       500 * time.Millisecond,
		},
		HotReload: HotReloadConfig{
			Paths:    []string{"internal/frontend/static"},
			Debounce: 500 * time.Millisecond,
		},
		Status: StatusConfig{
			SampleInterval: 5 * time.Second,
		},
		Tools: ToolsConfig{
			Root: ".",
		},
	}
}

// Default returns the built-in configuration with environment overrides
// applied.
func Default() (*Config, error) {
	cfg := defaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to Default when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default()
	}
	return cfg, err
}

func applyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

// Validate returns the first setting that would make the server unsafe or
// unable to run.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port < 1 || c.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	case c.State.LedgerCapacity <= 0:
		return errors.New("state.ledger_capacity must be positive")
	case c.State.EventQueueSize <= 0:
		return errors.New("state.event_queue_size must be positive")
	case c.WebSocket.MaxConnections < 0:
		return errors.New("websocket.max_connections must not be negative")
	case c.Reconnect.BaseDelay <= 0:
		return errors.New("reconnect.base_delay must be positive")
	case c.Reconnect.MaxDelay < c.Reconnect.BaseDelay:
		return errors.New("reconnect.max_delay must not be below base_delay")
	case c.Reconnect.MaxAttempts < 1:
		return errors.New("reconnect.max_attempts must be at least 1")
	case c.Reconnect.Jitter < 0:
		return errors.New("reconnect.jitter must not be negative")
	case c.Server.EnableDebugRoutes && !c.Server.DevMode:
		return errors.New("debug routes cannot be enabled outside dev mode")
	}
	return nil
}

// Warnings lists settings that are allowed but risky outside dev mode.
func (c *Config) Warnings() []string {
	if c.Server.DevMode {
		return nil
	}
	var w []string
	if c.Server.EnableCORS {
		w = append(w, "CORS is enabled outside dev mode")
	}
	if c.WebSocket.DevBypass {
		w = append(w, "websocket origin checking is bypassed outside dev mode")
	}
	if c.Server.Host == "0.0.0.0" {
		w = append(w, "server is binding to all interfaces")
	}
	return w
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
