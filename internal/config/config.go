// Package config provides Viper-based configuration loading for the gateway.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cory-johannsen/floe/internal/datamodel"
)

// Credential backends selectable through auth.backend.
const (
	AuthBackendStatic   = "static"
	AuthBackendPostgres = "postgres"
)

// ServerConfig holds the XT listener settings.
type ServerConfig struct {
	// Host is the bind address for the game listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the game listener.
	Port int `mapstructure:"port"`
	// HandshakeTimeout bounds the whole XML login exchange.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// IdleTimeout is the per-read deadline once a player is authenticated.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// WriteTimeout is the per-write deadline for outbound frames.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// MaxFrameSize is the largest accepted inbound frame in bytes.
	MaxFrameSize int `mapstructure:"max_frame_size"`
	// OutboxSize is the number of outbound frames queued per connection
	// before deliveries to it fail.
	OutboxSize int `mapstructure:"outbox_size"`
	// ShutdownGrace is how long in-flight connections may drain after a signal.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// HealthInterval spaces the periodic pings; zero disables them.
	HealthInterval time.Duration `mapstructure:"health_interval"`
	HealthTimeout  time.Duration `mapstructure:"health_timeout"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// File, when set, additionally writes logs to a rotated file.
	File string `mapstructure:"file"`
	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `mapstructure:"max_backups"`
	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// StaticAccount is a single account served by the static credential backend.
type StaticAccount struct {
	Username string `mapstructure:"username"`
	// Password may be empty, in which case any password is accepted.
	Password string `mapstructure:"password"`
	PlayerID int64  `mapstructure:"player_id"`
	Nickname string `mapstructure:"nickname"`
}

// AuthConfig holds handshake and credential settings.
type AuthConfig struct {
	// Backend selects the credential validator: "static" or "postgres".
	Backend string `mapstructure:"backend"`
	// RandomKey is the fixed key answered to rndK requests.
	RandomKey string `mapstructure:"random_key"`
	// Accounts is the account table used by the static backend.
	Accounts []StaticAccount `mapstructure:"accounts"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	// Capacity is the per-subscriber queue length before events are dropped.
	Capacity int `mapstructure:"capacity"`
}

// HeartbeatConfig holds heartbeat system settings.
type HeartbeatConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Addr returns the "host:port" metrics address.
func (m MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// WorldConfig points at static world content.
type WorldConfig struct {
	// RoomsFile is the YAML room catalogue.
	RoomsFile string `mapstructure:"rooms_file"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Bus       BusConfig       `mapstructure:"bus"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	World     WorldConfig     `mapstructure:"world"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateAuth(c.Auth); err != nil {
		errs = append(errs, err.Error())
	}
	// The database is only consulted by the postgres credential backend.
	if c.Auth.Backend == AuthBackendPostgres {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Bus.Capacity < 1 {
		errs = append(errs, fmt.Sprintf("bus.capacity must be >= 1, got %d", c.Bus.Capacity))
	}
	if c.Heartbeat.Interval <= 0 {
		errs = append(errs, "heartbeat.interval must be positive")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		errs = append(errs, fmt.Sprintf("metrics.port must be 1-65535, got %d", c.Metrics.Port))
	}
	if c.World.RoomsFile == "" {
		errs = append(errs, "world.rooms_file must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if s.HandshakeTimeout < 0 {
		errs = append(errs, "server.handshake_timeout must not be negative")
	}
	if s.IdleTimeout < 0 {
		errs = append(errs, "server.idle_timeout must not be negative")
	}
	if s.WriteTimeout < 0 {
		errs = append(errs, "server.write_timeout must not be negative")
	}
	if s.MaxFrameSize < 64 {
		errs = append(errs, fmt.Sprintf("server.max_frame_size must be >= 64, got %d", s.MaxFrameSize))
	}
	if s.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("server.outbox_size must be >= 1, got %d", s.OutboxSize))
	}
	if s.ShutdownGrace < 0 {
		errs = append(errs, "server.shutdown_grace must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAuth(a AuthConfig) error {
	var errs []string
	switch a.Backend {
	case AuthBackendStatic:
		if len(a.Accounts) == 0 {
			errs = append(errs, "auth.accounts must not be empty for the static backend")
		}
		seen := make(map[string]bool, len(a.Accounts))
		for i, acct := range a.Accounts {
			if acct.Username == "" {
				errs = append(errs, fmt.Sprintf("auth.accounts[%d].username must not be empty", i))
			}
			nick := acct.Nickname
			if nick == "" {
				nick = acct.Username
			}
			if err := datamodel.ValidateNickname(nick); err != nil && nick != "" {
				errs = append(errs, fmt.Sprintf("auth.accounts[%d].nickname: %v", i, err))
			}
			if acct.PlayerID < 1 {
				errs = append(errs, fmt.Sprintf("auth.accounts[%d].player_id must be >= 1, got %d", i, acct.PlayerID))
			}
			if seen[acct.Username] {
				errs = append(errs, fmt.Sprintf("auth.accounts[%d].username %q is duplicated", i, acct.Username))
			}
			seen[acct.Username] = true
		}
	case AuthBackendPostgres:
	default:
		errs = append(errs, fmt.Sprintf("auth.backend must be one of [static, postgres], got %q", a.Backend))
	}
	if a.RandomKey == "" {
		errs = append(errs, "auth.random_key must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if d.HealthInterval < 0 {
		errs = append(errs, fmt.Sprintf("database.health_interval must be >= 0, got %s", d.HealthInterval))
	}
	if d.HealthTimeout < 0 {
		errs = append(errs, fmt.Sprintf("database.health_timeout must be >= 0, got %s", d.HealthTimeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	if l.File != "" && l.MaxSizeMB < 1 {
		return errors.New("logging.max_size_mb must be >= 1 when logging.file is set")
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with FLOE_ prefix
	v.SetEnvPrefix("FLOE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance populated only with default values.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 1337)
	v.SetDefault("server.handshake_timeout", "30s")
	v.SetDefault("server.idle_timeout", "5m")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.max_frame_size", 65536)
	v.SetDefault("server.outbox_size", 256)
	v.SetDefault("server.shutdown_grace", "3s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "floe")
	v.SetDefault("database.password", "floe")
	v.SetDefault("database.name", "floe")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.health_interval", "30s")
	v.SetDefault("database.health_timeout", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)

	v.SetDefault("auth.backend", AuthBackendStatic)
	v.SetDefault("auth.random_key", "e4a2dbcca10a7246817a83cd")
	v.SetDefault("auth.accounts", []map[string]any{
		{"username": "kirill", "player_id": 102, "nickname": "Kirill"},
	})

	v.SetDefault("bus.capacity", 1024)
	v.SetDefault("heartbeat.interval", "1s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.host", "127.0.0.1")
	v.SetDefault("metrics.port", 9137)

	v.SetDefault("world.rooms_file", "content/rooms.yaml")
}
