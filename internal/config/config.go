// Package config manages gctrl daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gctrl configuration.
type Config struct {
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Grbl    GrblConfig    `koanf:"grbl"`
	TinyG2  TinyG2Config  `koanf:"tinyg2"`
	Macros  string        `koanf:"macros"`
	Ports   []PortConfig  `koanf:"ports"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// GrblConfig holds the default Grbl/Smoothie character-counting sender
// parameters.
type GrblConfig struct {
	// BufferSize is the byte window budgeted against the device's receive
	// buffer. Grbl advertises 127; a value strictly below that leaves
	// head-room for the out-of-band "?" and "$G" queries.
	BufferSize int `koanf:"buffer_size"`
}

// TinyG2Config holds the default TinyG2/g2core send/response sender
// parameters.
type TinyG2Config struct {
	// LowWaterMark is the planner queue-report threshold below which the
	// device is considered to have no room; above it, sending may advance.
	LowWaterMark int `koanf:"low_water_mark"`
}

// PortConfig describes a serial port to auto-open on daemon startup.
type PortConfig struct {
	// Port is the serial device path (e.g., "/dev/ttyUSB0").
	Port string `koanf:"port"`

	// BaudRate overrides core.DefaultBaudRate when nonzero.
	BaudRate int `koanf:"baud_rate"`

	// Firmware hints the controller family to build for this port:
	// "grbl" or "tinyg2". Required.
	Firmware string `koanf:"firmware"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Grbl: GrblConfig{
			BufferSize: 120,
		},
		TinyG2: TinyG2Config{
			LowWaterMark: 4,
		},
		Macros: "macros.yaml",
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gctrl configuration.
// Variables are named GCTRL_<section>_<key>, e.g., GCTRL_METRICS_ADDR.
const envPrefix = "GCTRL_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GCTRL_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms GCTRL_METRICS_ADDR -> metrics.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"metrics.addr":          defaults.Metrics.Addr,
		"metrics.path":          defaults.Metrics.Path,
		"log.level":             defaults.Log.Level,
		"log.format":            defaults.Log.Format,
		"grbl.buffer_size":      defaults.Grbl.BufferSize,
		"tinyg2.low_water_mark": defaults.TinyG2.LowWaterMark,
		"macros":                defaults.Macros,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrInvalidBufferSize indicates the Grbl sender's buffer size is not
	// strictly positive.
	ErrInvalidBufferSize = errors.New("grbl.buffer_size must be > 0")

	// ErrInvalidLowWaterMark indicates the TinyG2 low-water-mark is negative.
	ErrInvalidLowWaterMark = errors.New("tinyg2.low_water_mark must be >= 0")

	// ErrEmptyPortPath indicates a declarative port entry has no device path.
	ErrEmptyPortPath = errors.New("port entry must set port")

	// ErrUnknownFirmware indicates a declarative port entry names a firmware
	// family this controller does not implement.
	ErrUnknownFirmware = errors.New("port firmware must be grbl or tinyg2")

	// ErrDuplicatePort indicates two port entries name the same device path.
	ErrDuplicatePort = errors.New("duplicate port entry")
)

// ValidFirmwareNames lists the recognized firmware hint strings.
var ValidFirmwareNames = map[string]bool{
	"grbl":   true,
	"tinyg2": true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Grbl.BufferSize <= 0 {
		return ErrInvalidBufferSize
	}

	if cfg.TinyG2.LowWaterMark < 0 {
		return ErrInvalidLowWaterMark
	}

	return validatePorts(cfg.Ports)
}

// validatePorts checks each declarative port entry for correctness.
func validatePorts(ports []PortConfig) error {
	seen := make(map[string]struct{}, len(ports))

	for i, p := range ports {
		if p.Port == "" {
			return fmt.Errorf("ports[%d]: %w", i, ErrEmptyPortPath)
		}

		if !ValidFirmwareNames[p.Firmware] {
			return fmt.Errorf("ports[%d] firmware %q: %w", i, p.Firmware, ErrUnknownFirmware)
		}

		if _, dup := seen[p.Port]; dup {
			return fmt.Errorf("ports[%d] %q: %w", i, p.Port, ErrDuplicatePort)
		}
		seen[p.Port] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
