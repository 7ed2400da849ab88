package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tonimelisma/onedrive-serve/internal/kvstore"
)

// Validation range constants.
const (
	minShutdownTimeout = 1 * time.Second
	minRequestTimeout  = 1 * time.Second
	minConnectTimeout  = 1 * time.Second
)

var validate = newValidator()

// newValidator reports fields by their TOML keys.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// Validate checks all configuration values and returns all errors found.
// Struct tags cover single-field rules; the rest are checked by hand.
func Validate(cfg *Config) error {
	var errs []error

	if err := validate.Struct(cfg); err != nil {
		errs = append(errs, formatValidationErrors(err)...)
	}

	errs = append(errs, validateDurations(cfg)...)
	errs = append(errs, validateCrossField(cfg)...)

	return errors.Join(errs...)
}

// formatValidationErrors converts validator errors into one message per
// field, named by TOML section and key.
func formatValidationErrors(err error) []error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []error{err}
	}

	out := make([]error, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			strings.TrimPrefix(e.Namespace(), "Config."), e.Tag(), e.Value()))
	}

	return out
}

func validateDurations(cfg *Config) []error {
	var errs []error

	check := func(key, value string, lower time.Duration) {
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q: %w", key, value, err))
			return
		}

		if d < lower {
			errs = append(errs, fmt.Errorf("%s: must be at least %s, got %s", key, lower, d))
		}
	}

	check("server.shutdown_timeout", cfg.Server.ShutdownTimeout, minShutdownTimeout)
	check("network.request_timeout", cfg.Network.RequestTimeout, minRequestTimeout)
	check("network.connect_timeout", cfg.Network.ConnectTimeout, minConnectTimeout)

	return errs
}

func validateCrossField(cfg *Config) []error {
	var errs []error

	if cfg.Store.Backend == kvstore.BackendSQLite && cfg.Store.SQLitePath == "" {
		errs = append(errs, errors.New("store.sqlite_path: required when store.backend is \"sqlite\""))
	}

	if overlaps(cfg.Server.FilesPrefix, cfg.Server.WebDAVPrefix) {
		errs = append(errs, fmt.Errorf("server.webdav_prefix: %q overlaps server.files_prefix %q",
			cfg.Server.WebDAVPrefix, cfg.Server.FilesPrefix))
	}

	if cfg.Metrics.Enabled {
		for _, p := range []string{cfg.Server.FilesPrefix, cfg.Server.WebDAVPrefix} {
			if overlaps(cfg.Metrics.Path, p) {
				errs = append(errs, fmt.Errorf("metrics.path: %q overlaps endpoint prefix %q", cfg.Metrics.Path, p))
			}
		}
	}

	return errs
}

// overlaps reports whether one mount point equals or contains the other.
// Catch-all routes cannot share a subtree.
func overlaps(a, b string) bool {
	a = strings.TrimSuffix(a, "/")
	b = strings.TrimSuffix(b, "/")

	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}
