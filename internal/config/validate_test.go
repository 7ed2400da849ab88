package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_TagRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"listen addr", func(c *Config) { c.Server.ListenAddr = "nope" }, "server.listen_addr"},
		{"files prefix", func(c *Config) { c.Server.FilesPrefix = "files" }, "server.files_prefix"},
		{"drive api", func(c *Config) { c.Drive.API = "" }, "drive.api"},
		{"max items low", func(c *Config) { c.Drive.MaxItems = 0 }, "drive.max_items"},
		{"max items high", func(c *Config) { c.Drive.MaxItems = 201 }, "drive.max_items"},
		{"backend", func(c *Config) { c.Store.Backend = "memcached" }, "store.backend"},
		{"redis url required", func(c *Config) { c.Store.Backend = "redis" }, "store.redis_url"},
		{"route prefix", func(c *Config) { c.Protection.Routes = []string{"Private"} }, "protection.routes[0]"},
		{"password file", func(c *Config) { c.Protection.PasswordFile = "a/b" }, "protection.password_file"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"retention", func(c *Config) { c.Logging.RetentionDays = 0 }, "logging.retention_days"},
		{"metrics path", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Path = "" }, "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_Durations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.ShutdownTimeout = "soon"
	cfg.Network.RequestTimeout = "10ms"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `server.shutdown_timeout: invalid duration "soon"`)
	assert.Contains(t, err.Error(), "network.request_timeout: must be at least 1s")
}

func TestValidate_CrossField(t *testing.T) {
	t.Run("sqlite needs a path", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Store.SQLitePath = ""

		assert.ErrorContains(t, Validate(cfg), "store.sqlite_path")
	})

	t.Run("nested prefixes", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.FilesPrefix = "/api"
		cfg.Server.WebDAVPrefix = "/api/webdav"

		assert.ErrorContains(t, Validate(cfg), "overlaps")
	})

	t.Run("metrics under an endpoint", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Metrics.Enabled = true
		cfg.Metrics.Path = "/api/files/metrics"

		assert.ErrorContains(t, Validate(cfg), "metrics.path")
	})

	t.Run("metrics disabled ignores path", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Metrics.Path = "/api/files"

		assert.NoError(t, Validate(cfg))
	})
}

func TestValidate_ReportsEveryError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Drive.MaxItems = 0
	cfg.Logging.Level = "loud"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drive.max_items")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestOverlaps(t *testing.T) {
	assert.True(t, overlaps("/a", "/a/"))
	assert.True(t, overlaps("/a", "/a/b"))
	assert.True(t, overlaps("/a/b", "/a"))
	assert.True(t, overlaps("/", "/x"))
	assert.False(t, overlaps("/api/files", "/api/webdav"))
	assert.False(t, overlaps("/ab", "/a"))
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 1, levenshtein("listen_adr", "listen_addr"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, "logging", closestMatch("loging", knownSectionsList))
	assert.Empty(t, closestMatch("completely_different", knownSectionsList))
}
