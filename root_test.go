package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/onedrive-serve/internal/config"
	"github.com/tonimelisma/onedrive-serve/internal/tokencache"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests either
// set globals after newRootCmd() returns, or let Cobra parse flags through
// cmd.SetArgs() + cmd.Execute().

// writeConfig writes a config file whose token store lives in a temp dir.
// storeLines are appended to the [store] section.
func writeConfig(t *testing.T, extra string, storeLines ...string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := extra + "\n[store]\nsqlite_path = \"" + filepath.Join(dir, "tokens.db") + "\"\n" + strings.Join(storeLines, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	t.Cleanup(func() {
		resolvedCfg = nil
		resolvedPath = ""
	})

	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

func TestBuildLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Logging.Level = tt.level
			cfg.Logging.Format = "text"

			h := buildLogger(cfg).Handler()
			assert.True(t, h.Enabled(context.Background(), tt.want))

			if tt.want > slog.LevelDebug {
				assert.False(t, h.Enabled(context.Background(), tt.want-4))
			}
		})
	}
}

func TestBuildLogger_NilConfigDefaultsToInfo(t *testing.T) {
	h := buildLogger(nil).Handler()
	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_FileOutput(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.File = filepath.Join(t.TempDir(), "serve.log")
	cfg.Logging.Format = "json"

	buildLogger(cfg).Info("hello", slog.String("k", "v"))

	data, err := os.ReadFile(cfg.Logging.File)
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "v", line["k"])
}

func TestCLIOverrides(t *testing.T) {
	cmd := newRootCmd()

	flagVerbose = true
	flagQuiet = false

	t.Cleanup(func() { flagVerbose = false })

	cli := cliOverrides(cmd)
	require.NotNil(t, cli.LogLevel)
	assert.Equal(t, "debug", *cli.LogLevel)
	assert.Nil(t, cli.ListenAddr)
}

func TestNewHTTPClient_ConnectTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Network.ConnectTimeout = "3s"

	c := newHTTPClient(cfg)
	assert.Zero(t, c.Timeout)
	require.NotNil(t, c.Transport)
}

func TestConfigShow_TOML(t *testing.T) {
	path := writeConfig(t, "[drive]\nbase_directory = \"/Public\"\n")

	out, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# "+path)
	assert.Contains(t, out, `base_directory = "/Public"`)
}

func TestConfigShow_JSON(t *testing.T) {
	path := writeConfig(t, "")

	out, err := execute(t, "--config", path, "--json", "config", "show")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "/api/files", cfg.Server.FilesPrefix)
}

func TestInvalidConfigFails(t *testing.T) {
	path := writeConfig(t, "[drive]\nmax_itemz = 3\n")

	_, err := execute(t, "--config", path, "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_items")
}

func TestTokenStatus_Empty(t *testing.T) {
	path := writeConfig(t, "")

	out, err := execute(t, "--config", path, "--json", "token")
	require.NoError(t, err)

	var st tokenStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "sqlite", st.Backend)
	assert.Equal(t, tokenStateMissing, st.AccessState)
	assert.Equal(t, tokenStateMissing, st.RefreshState)
	assert.Equal(t, "access_token", st.AccessKey)
}

func TestTokenStatus_AfterStore(t *testing.T) {
	path := writeConfig(t, "", `key_prefix = "od_"`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	ctx := context.Background()
	tokens, closeStore, err := openTokens(ctx, cfg, slog.Default())
	require.NoError(t, err)

	require.NoError(t, tokens.Store(ctx, tokencache.Tokens{
		AccessToken:  "at",
		AccessTTL:    time.Hour,
		RefreshToken: "rt",
	}))
	closeStore()

	out, err := execute(t, "--config", path, "token")
	require.NoError(t, err)
	assert.Contains(t, out, "od_access_token")
	assert.Contains(t, out, "od_refresh_token")
	assert.Contains(t, out, tokenStateValid)
	assert.NotContains(t, out, tokenStateMissing)
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	path := writeConfig(t, "")

	_, err := execute(t, "--config", path, "--quiet", "refresh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login")
}

func TestReload_NoServer(t *testing.T) {
	path := writeConfig(t, "")
	pid := filepath.Join(t.TempDir(), "serve.pid")

	_, err := execute(t, "--config", path, "reload", "--pid-file", pid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no running server")
}
