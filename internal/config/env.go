package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig        = "ONEDRIVE_SERVE_CONFIG"
	EnvListenAddr    = "ONEDRIVE_SERVE_LISTEN_ADDR"
	EnvDriveAPI      = "ONEDRIVE_SERVE_DRIVE_API"
	EnvBaseDirectory = "ONEDRIVE_SERVE_BASE_DIRECTORY"
	EnvStoreBackend  = "ONEDRIVE_SERVE_STORE_BACKEND"
	EnvRedisURL      = "ONEDRIVE_SERVE_REDIS_URL"
	EnvKeyPrefix     = "ONEDRIVE_SERVE_KEY_PREFIX"
	EnvClientID      = "ONEDRIVE_SERVE_CLIENT_ID"
	EnvLogLevel      = "ONEDRIVE_SERVE_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables. Empty
// strings mean "not set".
type EnvOverrides struct {
	ConfigPath    string
	ListenAddr    string
	DriveAPI      string
	BaseDirectory string
	StoreBackend  string
	RedisURL      string
	KeyPrefix     string
	ClientID      string
	LogLevel      string
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Apply does.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:    os.Getenv(EnvConfig),
		ListenAddr:    os.Getenv(EnvListenAddr),
		DriveAPI:      os.Getenv(EnvDriveAPI),
		BaseDirectory: os.Getenv(EnvBaseDirectory),
		StoreBackend:  os.Getenv(EnvStoreBackend),
		RedisURL:      os.Getenv(EnvRedisURL),
		KeyPrefix:     os.Getenv(EnvKeyPrefix),
		ClientID:      os.Getenv(EnvClientID),
		LogLevel:      os.Getenv(EnvLogLevel),
	}
}

// Apply copies every set override into cfg.
func (e EnvOverrides) Apply(cfg *Config) {
	setIf(&cfg.Server.ListenAddr, e.ListenAddr)
	setIf(&cfg.Drive.API, e.DriveAPI)
	setIf(&cfg.Drive.BaseDirectory, e.BaseDirectory)
	setIf(&cfg.Store.Backend, e.StoreBackend)
	setIf(&cfg.Store.RedisURL, e.RedisURL)
	setIf(&cfg.Store.KeyPrefix, e.KeyPrefix)
	setIf(&cfg.Auth.ClientID, e.ClientID)
	setIf(&cfg.Logging.Level, e.LogLevel)
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
