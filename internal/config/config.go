package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// FileEnv names the environment variable pointing at an optional settings file.
const FileEnv = "BRIDGE_CONFIG"

var ErrUnsupportedFormat = errors.New("config: unsupported settings file format")

// Config holds all bridge configuration.
type Config struct {
	Scripts ScriptsConfig `toml:"scripts" yaml:"scripts"`
	Engine  EngineConfig  `toml:"engine" yaml:"engine"`
	Spawn   SpawnConfig   `toml:"spawn" yaml:"spawn"`
	Net     NetConfig     `toml:"net" yaml:"net"`
	Logging LogConfig     `toml:"logging" yaml:"logging"`
	Control ControlConfig `toml:"control" yaml:"control"`

	// File is the settings file that was overlaid, if any.
	File string `ignored:"true" toml:"-" yaml:"-"`
}

// ScriptsConfig controls which user scripts are loaded.
type ScriptsConfig struct {
	Dir      string   `envconfig:"BRIDGE_SCRIPTS_DIR" default:"scripts" toml:"dir" yaml:"dir"`
	Patterns []string `envconfig:"BRIDGE_SCRIPTS_PATTERNS" default:"**/*.js,**/*.tar,**/*.tar.gz,**/*.tar.zst" toml:"patterns" yaml:"patterns"`
	LibDir   string   `envconfig:"BRIDGE_LIB_DIR" default:"lib" toml:"lib_dir" yaml:"lib_dir"`
	Enabled  bool     `envconfig:"BRIDGE_SCRIPTS_ENABLED" default:"true" toml:"enabled" yaml:"enabled"`
}

// EngineConfig tunes the script runtime.
type EngineConfig struct {
	MaxCallStackSize int `envconfig:"BRIDGE_MAX_CALL_STACK" default:"1024" toml:"max_call_stack" yaml:"max_call_stack"`
	TimerFloorMS     int `envconfig:"BRIDGE_TIMER_FLOOR_MS" default:"1" toml:"timer_floor_ms" yaml:"timer_floor_ms"`
}

// SpawnConfig controls subprocesses started by scripts.
type SpawnConfig struct {
	AllowTerminal bool `envconfig:"BRIDGE_SPAWN_TERMINAL" default:"true" toml:"allow_terminal" yaml:"allow_terminal"`
	MaxLineBytes  int  `envconfig:"BRIDGE_SPAWN_MAX_LINE" default:"65536" toml:"max_line_bytes" yaml:"max_line_bytes"`
}

// NetConfig configures net.sendRequest.
type NetConfig struct {
	TimeoutMS int    `envconfig:"BRIDGE_NET_TIMEOUT_MS" default:"30000" toml:"timeout_ms" yaml:"timeout_ms"`
	Retries   int    `envconfig:"BRIDGE_NET_RETRIES" default:"2" toml:"retries" yaml:"retries"`
	UserAgent string `envconfig:"BRIDGE_NET_USER_AGENT" default:"scriptbridge/1.0" toml:"user_agent" yaml:"user_agent"`

	// A host failing BreakerThreshold requests in a row is refused for
	// BreakerCooldownMS. Zero disables the breaker.
	BreakerThreshold  int `envconfig:"BRIDGE_NET_BREAKER_THRESHOLD" default:"5" toml:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerCooldownMS int `envconfig:"BRIDGE_NET_BREAKER_COOLDOWN_MS" default:"30000" toml:"breaker_cooldown_ms" yaml:"breaker_cooldown_ms"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"BRIDGE_LOG_LEVEL" default:"info" toml:"level" yaml:"level"`
	Development bool   `envconfig:"BRIDGE_LOG_DEV" default:"false" toml:"development" yaml:"development"`
}

// ControlConfig holds the remote-control server configuration.
type ControlConfig struct {
	Enabled           bool   `envconfig:"BRIDGE_CONTROL_ENABLED" default:"false" toml:"enabled" yaml:"enabled"`
	Address           string `envconfig:"BRIDGE_CONTROL_ADDR" default:"127.0.0.1:8765" toml:"address" yaml:"address"`
	RequestsPerSecond int    `envconfig:"BRIDGE_CONTROL_RPS" default:"20" toml:"requests_per_second" yaml:"requests_per_second"`
	Burst             int    `envconfig:"BRIDGE_CONTROL_BURST" default:"40" toml:"burst" yaml:"burst"`

	// AllowOrigins enables CORS for browser clients. Empty disables it.
	AllowOrigins []string `envconfig:"BRIDGE_CONTROL_ORIGINS" toml:"allow_origins" yaml:"allow_origins"`
	// REPL enables the websocket evaluation endpoint at /repl.
	REPL bool `envconfig:"BRIDGE_CONTROL_REPL" default:"true" toml:"repl" yaml:"repl"`
}

// Load reads the environment and then overlays the settings file named by
// BRIDGE_CONFIG. Keys present in the file win over the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.Overlay(path); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration or falls back to Default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Overlay decodes a TOML or YAML settings file over cfg, chosen by extension.
func (c *Config) Overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	c.File = path
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Scripts: ScriptsConfig{
			Dir:      "scripts",
			Patterns: []string{"**/*.js", "**/*.tar", "**/*.tar.gz", "**/*.tar.zst"},
			LibDir:   "lib",
			Enabled:  true,
		},
		Engine: EngineConfig{
			MaxCallStackSize: 1024,
			TimerFloorMS:     1,
		},
		Spawn: SpawnConfig{
			AllowTerminal: true,
			MaxLineBytes:  65536,
		},
		Net: NetConfig{
			TimeoutMS: 30000,
			Retries:   2,
			UserAgent: "scriptbridge/1.0",

			BreakerThreshold:  5,
			BreakerCooldownMS: 30000,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Control: ControlConfig{
			Enabled:           false,
			Address:           "127.0.0.1:8765",
			RequestsPerSecond: 20,
			Burst:             40,
			REPL:              true,
		},
	}
}
