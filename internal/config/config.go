// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for onedrive-serve. Values are layered
// defaults -> config file -> environment -> CLI flags, and the file can be
// reloaded while the server runs.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Drive      DriveConfig      `toml:"drive"`
	Cache      CacheConfig      `toml:"cache"`
	Store      StoreConfig      `toml:"store"`
	Auth       AuthConfig       `toml:"auth"`
	Protection ProtectionConfig `toml:"protection"`
	Logging    LoggingConfig    `toml:"logging"`
	Network    NetworkConfig    `toml:"network"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// ServerConfig controls the HTTP listener and the mount points of the two
// endpoints.
type ServerConfig struct {
	ListenAddr      string `toml:"listen_addr" validate:"required,hostname_port"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	FilesPrefix     string `toml:"files_prefix" validate:"required,startswith=/"`
	WebDAVPrefix    string `toml:"webdav_prefix" validate:"required,startswith=/"`
}

// DriveConfig addresses the drive being served. API is the Graph drive
// endpoint, e.g. https://graph.microsoft.com/v1.0/me/drive.
type DriveConfig struct {
	API           string `toml:"api" validate:"required,url"`
	BaseDirectory string `toml:"base_directory"`
	MaxItems      int    `toml:"max_items" validate:"min=1,max=200"`
}

// CacheConfig holds the Cache-Control header sent for unprotected listings.
type CacheConfig struct {
	ControlHeader string `toml:"control_header"`
}

// StoreConfig selects where tokens are persisted.
type StoreConfig struct {
	Backend    string `toml:"backend" validate:"oneof=redis sqlite"`
	RedisURL   string `toml:"redis_url" validate:"required_if=Backend redis,omitempty,url"`
	SQLitePath string `toml:"sqlite_path"`
	KeyPrefix  string `toml:"key_prefix"`
}

// AuthConfig identifies the application registration used by login and
// refresh. Empty values fall back to the built-in public client.
type AuthConfig struct {
	ClientID string   `toml:"client_id"`
	Tenant   string   `toml:"tenant"`
	Scopes   []string `toml:"scopes"`
}

// ProtectionConfig lists password-protected folders.
type ProtectionConfig struct {
	Routes       []string `toml:"routes" validate:"dive,startswith=/"`
	PasswordFile string   `toml:"password_file" validate:"required,excludesall=/"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	Level         string `toml:"level" validate:"oneof=debug info warn error"`
	Format        string `toml:"format" validate:"oneof=auto text json"`
	File          string `toml:"file"`
	RetentionDays int    `toml:"retention_days" validate:"min=1"`
}

// NetworkConfig controls the outbound HTTP client.
type NetworkConfig struct {
	RequestTimeout string `toml:"request_timeout"`
	ConnectTimeout string `toml:"connect_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path" validate:"required_if=Enabled true,omitempty,startswith=/"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	ListenAddr *string // --listen flag
	LogLevel   *string // --verbose / --quiet
}

// ShutdownTimeout returns the parsed server.shutdown_timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return mustDuration(c.Server.ShutdownTimeout, defaultShutdownTimeout)
}

// RequestTimeout returns the parsed network.request_timeout.
func (c *Config) RequestTimeout() time.Duration {
	return mustDuration(c.Network.RequestTimeout, defaultRequestTimeout)
}

// ConnectTimeout returns the parsed network.connect_timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return mustDuration(c.Network.ConnectTimeout, defaultConnectTimeout)
}

// mustDuration parses a validated duration string, falling back to def.
func mustDuration(s, def string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}

	return d
}
