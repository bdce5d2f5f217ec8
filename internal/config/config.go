package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mcdiamondfire/modapi/internal/protocol"
)

// Environment overrides, applied after the config file.
const (
	EnvLogLevel   = "MODAPI_LOG_LEVEL"
	EnvListenAddr = "MODAPI_LISTEN_ADDR"
)

// Config holds the server configuration.
type Config struct {
	ServerName       string
	ListenAddr       string
	DatabasePath     string
	MaxMessageSize   int
	Protocol         string
	Subprotocol      string
	JournalEnabled   bool
	JournalRetention time.Duration
	Log              LogConfig
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string
	// Format: console or json
	Format string
	// Outputs: stdout, stderr, or file paths
	Outputs     []string
	Rotation    RotationConfig
	Development bool
}

// RotationConfig controls rotation of file outputs.
type RotationConfig struct {
	Enable     bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ServerName:       "modapi",
		ListenAddr:       ":8080",
		DatabasePath:     "modapi.db",
		MaxMessageSize:   65536, // 64KB
		Protocol:         protocol.NameModAPI,
		Subprotocol:      "modapi.v1",
		JournalEnabled:   true,
		JournalRetention: 24 * time.Hour,
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

type fileConfig struct {
	ServerName       string  `toml:"server_name"`
	ListenAddr       string  `toml:"listen_addr"`
	DatabasePath     string  `toml:"database_path"`
	MaxMessageSize   int     `toml:"max_message_size"`
	Protocol         string  `toml:"protocol"`
	Subprotocol      string  `toml:"subprotocol"`
	JournalEnabled   bool    `toml:"journal_enabled"`
	JournalRetention string  `toml:"journal_retention"`
	Log              fileLog `toml:"log"`
}

type fileLog struct {
	Level       string       `toml:"level"`
	Format      string       `toml:"format"`
	Outputs     []string     `toml:"outputs"`
	Development bool         `toml:"development"`
	Rotation    fileRotation `toml:"rotation"`
}

type fileRotation struct {
	Enable     bool `toml:"enable"`
	MaxSizeMB  int  `toml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days"`
	Compress   bool `toml:"compress"`
}

// Load reads a TOML config file over DefaultConfig. Only keys present in the
// file replace defaults. An empty path skips the file. Environment overrides
// are applied last and the result is validated.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		var raw fileConfig
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
		}
		if err := apply(&cfg, raw, meta); err != nil {
			return Config{}, err
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg *Config, raw fileConfig, meta toml.MetaData) error {
	if meta.IsDefined("server_name") {
		cfg.ServerName = strings.TrimSpace(raw.ServerName)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("database_path") {
		cfg.DatabasePath = strings.TrimSpace(raw.DatabasePath)
	}
	if meta.IsDefined("max_message_size") {
		cfg.MaxMessageSize = raw.MaxMessageSize
	}
	if meta.IsDefined("protocol") {
		cfg.Protocol = strings.ToLower(strings.TrimSpace(raw.Protocol))
	}
	if meta.IsDefined("subprotocol") {
		cfg.Subprotocol = strings.TrimSpace(raw.Subprotocol)
	}
	if meta.IsDefined("journal_enabled") {
		cfg.JournalEnabled = raw.JournalEnabled
	}
	if meta.IsDefined("journal_retention") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.JournalRetention))
		if err != nil {
			return fmt.Errorf("parse journal_retention: %w", err)
		}
		cfg.JournalRetention = d
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = strings.TrimSpace(raw.Log.Format)
	}
	if meta.IsDefined("log", "outputs") {
		cfg.Log.Outputs = normalizeOutputs(raw.Log.Outputs)
	}
	if meta.IsDefined("log", "development") {
		cfg.Log.Development = raw.Log.Development
	}
	if meta.IsDefined("log", "rotation", "enable") {
		cfg.Log.Rotation.Enable = raw.Log.Rotation.Enable
	}
	if meta.IsDefined("log", "rotation", "max_size_mb") {
		cfg.Log.Rotation.MaxSizeMB = raw.Log.Rotation.MaxSizeMB
	}
	if meta.IsDefined("log", "rotation", "max_backups") {
		cfg.Log.Rotation.MaxBackups = raw.Log.Rotation.MaxBackups
	}
	if meta.IsDefined("log", "rotation", "max_age_days") {
		cfg.Log.Rotation.MaxAgeDays = raw.Log.Rotation.MaxAgeDays
	}
	if meta.IsDefined("log", "rotation", "compress") {
		cfg.Log.Rotation.Compress = raw.Log.Rotation.Compress
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvListenAddr)); v != "" {
		cfg.ListenAddr = v
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("config: listen_addr is empty")
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("config: max_message_size must be positive, got %d", c.MaxMessageSize)
	}
	if _, err := protocol.ByName(c.Protocol); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Subprotocol == "" {
		return errors.New("config: subprotocol is empty")
	}
	if c.JournalEnabled && c.DatabasePath == "" {
		return errors.New("config: database_path is required when the journal is enabled")
	}
	if c.JournalRetention < 0 {
		return fmt.Errorf("config: journal_retention must not be negative, got %s", c.JournalRetention)
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if len(c.Log.Outputs) == 0 {
		return errors.New("config: log outputs are empty")
	}
	return nil
}

func normalizeOutputs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		v := strings.TrimSpace(o)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
