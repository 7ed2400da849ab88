// Package vfs presents one fully fetched remote folder listing as a
// read-only filesystem rooted at the request path. It answers stat and
// readdir from memory; nothing here performs I/O.
package vfs

import (
	"io/fs"
	"path"
	"slices"
	"time"

	"github.com/tonimelisma/onedrive-serve/internal/graph"
)

// Listing is the materialized children of a single folder. Build it only
// after pagination is exhausted.
type Listing struct {
	root    string
	builtAt time.Time
	names   []string
	byName  map[string]*graph.Item
}

// NewListing indexes items by name. root is the request path the listing is
// served under; it is the only path that stats as a directory of its own.
// When two items share a name the later one wins, keeping the position of
// the first.
func NewListing(root string, items []graph.Item) *Listing {
	l := &Listing{
		root:    root,
		builtAt: time.Now(),
		names:   make([]string, 0, len(items)),
		byName:  make(map[string]*graph.Item, len(items)),
	}

	for i := range items {
		name := items[i].Name
		if _, seen := l.byName[name]; !seen {
			l.names = append(l.names, name)
		}

		l.byName[name] = &items[i]
	}

	return l
}

// Root returns the path the listing is rooted at.
func (l *Listing) Root() string { return l.root }

// Len returns the number of distinct names.
func (l *Listing) Len() int { return len(l.names) }

// Stat describes p. The root is a synthetic directory; any other path is
// looked up by its base name alone, since the listing is one level deep.
func (l *Listing) Stat(p string) (*FileInfo, bool) {
	if p == l.root {
		return &FileInfo{
			name:    path.Base(p),
			mode:    fs.ModeDir,
			modTime: l.builtAt,
		}, true
	}

	item, ok := l.byName[path.Base(p)]
	if !ok {
		return nil, false
	}

	return infoFromItem(item), true
}

// ReadDir returns every name in listing order. The argument is ignored: the
// listing only ever holds one directory.
func (l *Listing) ReadDir(string) []string {
	return slices.Clone(l.names)
}

// RealPath returns p unchanged. There are no links to resolve.
func (l *Listing) RealPath(p string) string {
	return p
}

// Item returns the item stored under name.
func (l *Listing) Item(name string) (*graph.Item, bool) {
	item, ok := l.byName[name]
	return item, ok
}

// FS wraps the listing in the error-returning interface a file server
// consumes.
func (l *Listing) FS() *DirFS {
	return &DirFS{listing: l}
}

// DirFS adapts a Listing to error returns. A stat miss becomes
// fs.ErrNotExist.
type DirFS struct {
	listing *Listing
}

// Lstat implements the file server's stat call.
func (d *DirFS) Lstat(p string) (fs.FileInfo, error) {
	info, ok := d.listing.Stat(p)
	if !ok {
		return nil, &fs.PathError{Op: "lstat", Path: p, Err: fs.ErrNotExist}
	}

	return info, nil
}

// ReadDir lists the listing's names.
func (d *DirFS) ReadDir(p string) ([]string, error) {
	return d.listing.ReadDir(p), nil
}

// RealPath resolves p, which is always p itself.
func (d *DirFS) RealPath(p string) (string, error) {
	return d.listing.RealPath(p), nil
}
