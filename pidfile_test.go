package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecord(t *testing.T, path string, rec serverRecord) {
	t.Helper()

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestLockPIDFile_PublishesRecord(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "serve.pid")

	lock, err := lockPIDFile(path)
	require.NoError(t, err)
	defer lock.Release()

	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, lock.Publish(serverRecord{
		PID:     os.Getpid(),
		Listen:  "127.0.0.1:8080",
		Config:  "/etc/onedrive-serve/config.toml",
		Started: started,
	}))

	rec, err := readServerRecord(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), rec.PID)
	assert.Equal(t, "127.0.0.1:8080", rec.Listen)
	assert.Equal(t, "/etc/onedrive-serve/config.toml", rec.Config)
	assert.True(t, started.Equal(rec.Started))
}

func TestLockPIDFile_RepublishOverwrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "serve.pid")

	lock, err := lockPIDFile(path)
	require.NoError(t, err)
	defer lock.Release()

	require.NoError(t, lock.Publish(serverRecord{PID: 1, Listen: "[::]:18080", Config: "/a/much/longer/config/path.toml"}))
	require.NoError(t, lock.Publish(serverRecord{PID: 2, Listen: ":80"}))

	rec, err := readServerRecord(path)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.PID)
	assert.Equal(t, ":80", rec.Listen)
	assert.Empty(t, rec.Config)
}

func TestLockPIDFile_SecondServerNamesFirst(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "serve.pid")

	lock, err := lockPIDFile(path)
	require.NoError(t, err)
	defer lock.Release()

	require.NoError(t, lock.Publish(serverRecord{PID: os.Getpid(), Listen: "127.0.0.1:9999"}))

	second, err := lockPIDFile(path)
	require.Error(t, err)
	assert.Nil(t, second)
	assert.Contains(t, err.Error(), "already running")
	assert.Contains(t, err.Error(), "127.0.0.1:9999")
}

func TestLockPIDFile_ReleaseRemovesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "serve.pid")

	lock, err := lockPIDFile(path)
	require.NoError(t, err)

	lock.Release()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLockPIDFile_EmptyPath(t *testing.T) {
	t.Parallel()

	lock, err := lockPIDFile("")
	require.Error(t, err)
	assert.Nil(t, lock)
	assert.Contains(t, err.Error(), "empty")
}

func TestReadServerRecord_Invalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	for name, content := range map[string]string{
		"plain-pid": "12345\n",
		"no-pid":    `{"listen":":8080"}`,
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		_, err := readServerRecord(path)
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "invalid server record")
	}
}

func TestSignalReload_NoPIDFile(t *testing.T) {
	t.Parallel()

	_, err := signalReload(filepath.Join(t.TempDir(), "nonexistent.pid"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no running server")
}

func TestSignalReload_StaleRecordRemoved(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "serve.pid")
	// PID 999999999 is almost certainly not a running process.
	writeRecord(t, path, serverRecord{PID: 999999999, Listen: ":8080"})

	_, err := signalReload(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSignalReload_ConfigMismatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "serve.pid")
	writeRecord(t, path, serverRecord{PID: os.Getpid(), Listen: ":8080", Config: "/srv/a.toml"})

	_, err := signalReload(path, "/srv/b.toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/srv/a.toml")

	// The record is left for the server that owns it.
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestSignalReload_SendsToRecordedProcess(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	defer signal.Stop(sigCh)

	path := filepath.Join(t.TempDir(), "serve.pid")
	writeRecord(t, path, serverRecord{PID: os.Getpid(), Listen: "127.0.0.1:8080", Config: "/srv/a.toml"})

	rec, err := signalReload(path, "/srv/./a.toml")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", rec.Listen)

	select {
	case sig := <-sigCh:
		assert.Equal(t, syscall.SIGHUP, sig)
	case <-time.After(5 * time.Second):
		t.Fatal("SIGHUP not delivered")
	}
}
