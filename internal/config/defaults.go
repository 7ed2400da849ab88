package config

// Default values for configuration options. These are the first layer of
// the override chain and give a working server without any config file.
const (
	defaultListenAddr       = ":8080"
	defaultShutdownTimeout  = "30s"
	defaultFilesPrefix      = "/api/files"
	defaultWebDAVPrefix     = "/api/webdav"
	defaultDriveAPI         = "https://graph.microsoft.com/v1.0/me/drive"
	defaultMaxItems         = 100
	defaultCacheControl     = "max-age=0, s-maxage=60, stale-while-revalidate"
	defaultStoreBackend     = "sqlite"
	defaultKeyPrefix        = ""
	defaultPasswordFile     = ".password"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultLogRetentionDays = 30
	defaultRequestTimeout   = "30s"
	defaultConnectTimeout   = "10s"
	defaultMetricsPath      = "/metrics"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      defaultListenAddr,
			ShutdownTimeout: defaultShutdownTimeout,
			FilesPrefix:     defaultFilesPrefix,
			WebDAVPrefix:    defaultWebDAVPrefix,
		},
		Drive: DriveConfig{
			API:      defaultDriveAPI,
			MaxItems: defaultMaxItems,
		},
		Cache: CacheConfig{
			ControlHeader: defaultCacheControl,
		},
		Store: StoreConfig{
			Backend:    defaultStoreBackend,
			SQLitePath: DefaultStorePath(),
			KeyPrefix:  defaultKeyPrefix,
		},
		Protection: ProtectionConfig{
			PasswordFile: defaultPasswordFile,
		},
		Logging: LoggingConfig{
			Level:         defaultLogLevel,
			Format:        defaultLogFormat,
			RetentionDays: defaultLogRetentionDays,
		},
		Network: NetworkConfig{
			RequestTimeout: defaultRequestTimeout,
			ConnectTimeout: defaultConnectTimeout,
		},
		Metrics: MetricsConfig{
			Path: defaultMetricsPath,
		},
	}
}
