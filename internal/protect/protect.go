// Package protect guards folders with a password kept in the drive itself.
// A protected folder holds a password file; clients prove knowledge of the
// password by sending its hex SHA-256 in the od-protected-token header.
package protect

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/tonimelisma/onedrive-serve/internal/drivepath"
	"github.com/tonimelisma/onedrive-serve/internal/graph"
)

// HeaderName carries the client's hashed password.
const HeaderName = "od-protected-token"

// DefaultPasswordFile is the name of the password file inside a protected folder.
const DefaultPasswordFile = ".password"

// maxPasswordBytes bounds how much of a password file is read.
const maxPasswordBytes = 4096

// Messages returned with guard results.
const (
	MsgNoPassword    = "You didn't set a password."
	MsgRequired      = "Password required."
	MsgAuthenticated = "Authenticated."
	MsgInternal      = "Internal server error."
)

// Result is the outcome of a check. Code is an HTTP status; anything but
// 200 denies the request. An empty Message on 200 means the path is not
// protected at all.
type Result struct {
	Code    int
	Message string
}

// OK reports whether the request may proceed.
func (r Result) OK() bool { return r.Code == http.StatusOK }

// Protected reports whether the path fell under a protected route.
func (r Result) Protected() bool { return r.Message != "" }

// ContentReader fetches small files from the drive. graph.Client implements it.
type ContentReader interface {
	ReadContent(ctx context.Context, apiPath string, limit int64) ([]byte, error)
}

// Checker evaluates requests against a set of protected route prefixes.
type Checker struct {
	routes       []string
	passwordFile string
	baseDir      string
	reader       ContentReader
	logger       *slog.Logger
}

// New creates a Checker. routes are absolute folder paths relative to the
// served tree (before the base directory is applied).
func New(routes []string, passwordFile, baseDir string, reader ContentReader, logger *slog.Logger) *Checker {
	if passwordFile == "" {
		passwordFile = DefaultPasswordFile
	}

	if logger == nil {
		logger = slog.Default()
	}

	normalized := make([]string, 0, len(routes))

	for _, r := range routes {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}

		normalized = append(normalized, drivepath.Resolve("", r).Path)
	}

	return &Checker{
		routes:       normalized,
		passwordFile: passwordFile,
		baseDir:      baseDir,
		reader:       reader,
		logger:       logger,
	}
}

// Route returns the first protected route containing p, or "" if none does.
func (c *Checker) Route(p string) string {
	for _, r := range c.routes {
		if r == "/" || p == r || strings.HasPrefix(p, r+"/") {
			return r
		}
	}

	return ""
}

// Check decides whether a request for p carrying header may proceed.
func (c *Checker) Check(ctx context.Context, p, header string) Result {
	route := c.Route(p)
	if route == "" {
		return Result{Code: http.StatusOK}
	}

	pwPath := drivepath.Resolve(c.baseDir, path.Join(route, c.passwordFile))

	data, err := c.reader.ReadContent(ctx, pwPath.APIPath(), maxPasswordBytes)
	if errors.Is(err, graph.ErrNotFound) || errors.Is(err, graph.ErrNoDownloadURL) {
		c.logger.Warn("protected route has no password file",
			slog.String("route", route),
		)

		return Result{Code: http.StatusNotFound, Message: MsgNoPassword}
	}

	if err != nil {
		c.logger.Error("reading password file failed",
			slog.String("route", route),
			slog.String("error", err.Error()),
		)

		return Result{Code: http.StatusInternalServerError, Message: MsgInternal}
	}

	if !Matches(header, string(data)) {
		c.logger.Info("protected route denied", slog.String("route", route))
		return Result{Code: http.StatusUnauthorized, Message: MsgRequired}
	}

	return Result{Code: http.StatusOK, Message: MsgAuthenticated}
}

// Hash returns the token a client must send for password.
func Hash(password string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(password)))
	return hex.EncodeToString(sum[:])
}

// Matches reports whether header is the token for password.
func Matches(header, password string) bool {
	want := Hash(password)

	return subtle.ConstantTimeCompare([]byte(strings.ToLower(header)), []byte(want)) == 1
}
