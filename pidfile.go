package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// serverRecord is what a running server publishes in its PID file so that
// reload can find it and check it is the server the caller means.
type serverRecord struct {
	PID     int       `json:"pid"`
	Listen  string    `json:"listen"`
	Config  string    `json:"config,omitempty"`
	Started time.Time `json:"started"`
}

// serverLock is a held, flock'd PID file.
type serverLock struct {
	path string
	f    *os.File
}

// lockPIDFile opens path and takes an exclusive non-blocking flock on it.
// Failure to lock means another server owns the file.
func lockPIDFile(path string) (*serverLock, error) {
	if path == "" {
		return nil, errors.New("PID file path is empty: cannot determine data directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if rec, readErr := readServerRecord(path); readErr == nil {
			return nil, fmt.Errorf("another onedrive-serve is already running (PID %d on %s)", rec.PID, rec.Listen)
		}

		return nil, fmt.Errorf("another onedrive-serve is already running (could not lock %s)", path)
	}

	return &serverLock{path: path, f: f}, nil
}

// Publish replaces the file content with rec.
func (l *serverLock) Publish(rec serverRecord) error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding PID file: %w", err)
	}

	if err := json.NewEncoder(l.f).Encode(rec); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}

	return l.f.Sync()
}

// Release removes the file and drops the lock.
func (l *serverLock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

func readServerRecord(path string) (serverRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return serverRecord{}, fmt.Errorf("reading PID file: %w", err)
	}

	var rec serverRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.PID <= 0 {
		return serverRecord{}, fmt.Errorf("invalid server record in %s", path)
	}

	return rec, nil
}

// signalReload sends SIGHUP to the server recorded in pidPath. When
// configPath is set it must be the file that server loaded. A record whose
// process is gone is removed.
func signalReload(pidPath, configPath string) (serverRecord, error) {
	rec, err := readServerRecord(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rec, fmt.Errorf("no running server found (no PID file at %s)", pidPath)
		}

		return rec, err
	}

	if configPath != "" && rec.Config != "" && filepath.Clean(configPath) != filepath.Clean(rec.Config) {
		return rec, fmt.Errorf("server (PID %d) was started with config %s, not %s: pass --config %s",
			rec.PID, rec.Config, configPath, rec.Config)
	}

	proc, err := os.FindProcess(rec.PID)
	if err != nil {
		return rec, fmt.Errorf("finding process %d: %w", rec.PID, err)
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)

		return rec, fmt.Errorf("server (PID %d) is not running (stale PID file removed)", rec.PID)
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return rec, fmt.Errorf("sending SIGHUP to server (PID %d): %w", rec.PID, err)
	}

	return rec, nil
}
