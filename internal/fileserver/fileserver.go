// Package fileserver serves directory listings out of an abstract
// filesystem. It never reads file contents: the filesystem it is given only
// knows how to stat, list and resolve paths, which is all a listing needs.
package fileserver

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"
)

// FileSystem is the view of a directory tree the server reads from.
type FileSystem interface {
	Lstat(p string) (fs.FileInfo, error)
	ReadDir(p string) ([]string, error)
	RealPath(p string) (string, error)
}

// Rewrite maps request paths matching Source to Destination before the
// filesystem is consulted. Source is a path.Match pattern; "**" matches
// every path.
type Rewrite struct {
	Source      string
	Destination string
}

// MatchAll is the Source that matches any path.
const MatchAll = "**"

// Options configure a single Serve call.
type Options struct {
	Rewrites []Rewrite

	// CleanURLs redirects "/x.html" to "/x" and lets "/x" find "x.html".
	CleanURLs bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Entry is one row of a rendered listing.
type Entry struct {
	Name     string `json:"name"`
	Href     string `json:"href"`
	Size     int64  `json:"size"`
	Modified string `json:"modified,omitempty"`
	IsDir    bool   `json:"-"`
}

// Serve answers r from fsys. Directories are rendered as an HTML listing, or
// as JSON when the client accepts application/json. Paths that do not exist
// and regular files (whose content fsys cannot provide) answer 404.
func Serve(w http.ResponseWriter, r *http.Request, opts Options, fsys FileSystem) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, r, http.StatusMethodNotAllowed)

		return
	}

	requestPath := path.Clean("/" + r.URL.Path)

	if opts.CleanURLs && strings.HasSuffix(requestPath, ".html") {
		http.Redirect(w, r, strings.TrimSuffix(requestPath, ".html"), http.StatusMovedPermanently)
		return
	}

	target := applyRewrites(requestPath, opts.Rewrites)

	resolved, err := fsys.RealPath(target)
	if err != nil {
		logger.Warn("resolving path failed", slog.String("path", target), slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError)

		return
	}

	info, err := stat(fsys, resolved, opts.CleanURLs)
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, r, http.StatusNotFound)
		return
	}

	if err != nil {
		logger.Warn("stat failed", slog.String("path", resolved), slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError)

		return
	}

	if !info.IsDir() {
		logger.Debug("regular file requested from listing server", slog.String("path", resolved))
		writeError(w, r, http.StatusNotFound)

		return
	}

	entries, err := readEntries(fsys, resolved, requestPath, logger)
	if err != nil {
		logger.Warn("reading directory failed", slog.String("path", resolved), slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError)

		return
	}

	if acceptsJSON(r) {
		writeJSONListing(w, r, requestPath, entries)
		return
	}

	writeHTMLListing(w, r, requestPath, entries, logger)
}

func applyRewrites(p string, rewrites []Rewrite) string {
	for _, rw := range rewrites {
		if rw.Source == MatchAll {
			return rw.Destination
		}

		if ok, err := path.Match(rw.Source, p); err == nil && ok {
			return rw.Destination
		}
	}

	return p
}

func stat(fsys FileSystem, p string, cleanURLs bool) (fs.FileInfo, error) {
	info, err := fsys.Lstat(p)
	if err == nil || !cleanURLs || !errors.Is(err, fs.ErrNotExist) {
		return info, err
	}

	return fsys.Lstat(p + ".html")
}

// readEntries stats every name in dir. Names that fail to stat are skipped.
// Directories sort before files; order within each group is kept.
func readEntries(fsys FileSystem, dir, requestPath string, logger *slog.Logger) ([]Entry, error) {
	names, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("fileserver: reading %s: %w", dir, err)
	}

	entries := make([]Entry, 0, len(names))

	for _, name := range names {
		info, err := fsys.Lstat(path.Join(dir, name))
		if err != nil {
			logger.Debug("skipping unstatable entry",
				slog.String("name", name),
				slog.String("error", err.Error()),
			)

			continue
		}

		e := Entry{
			Name:  name,
			Href:  hrefFor(requestPath, name, info.IsDir()),
			Size:  info.Size(),
			IsDir: info.IsDir(),
		}

		if !info.ModTime().IsZero() {
			e.Modified = info.ModTime().UTC().Format("2006-01-02T15:04:05Z")
		}

		entries = append(entries, e)
	}

	slices.SortStableFunc(entries, func(a, b Entry) int {
		switch {
		case a.IsDir == b.IsDir:
			return 0
		case a.IsDir:
			return -1
		default:
			return 1
		}
	})

	return entries, nil
}

func acceptsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
