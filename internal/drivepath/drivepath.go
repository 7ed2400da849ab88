// Package drivepath turns inbound request paths into canonical drive paths
// and into the path fragments the Graph API expects after "/root".
package drivepath

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Resolved is a request path resolved once per request.
type Resolved struct {
	// Path is the canonical absolute request path ("/", "/Documents/a b").
	// It is the identity of the virtual directory served for the request.
	Path string

	// Remote is Path joined under the configured base directory; it is what
	// the drive is actually asked for.
	Remote string
}

// Resolve builds a canonical absolute POSIX path from the given parts, the
// way a shell would resolve them from "/". Empty parts, "." and ".." are
// collapsed; ".." never climbs above the root. Each segment is normalized to
// NFC because OneDrive stores names in composed form.
func Resolve(baseDir string, parts ...string) Resolved {
	p := clean(strings.Join(parts, "/"))

	return Resolved{
		Path:   p,
		Remote: clean(path.Join(clean(baseDir), p)),
	}
}

// IsRoot reports whether the remote path is the drive root.
func (r Resolved) IsRoot() bool {
	return r.Remote == "/"
}

// APIPath returns the fragment appended to ".../root" to address the item:
// "" for the drive root, ":/a/b%20c" otherwise.
func (r Resolved) APIPath() string {
	if r.IsRoot() {
		return ""
	}

	return ":" + EncodeSegments(r.Remote)
}

// ChildrenPath returns the fragment appended to ".../root" to list the
// item's children. The root takes no path-terminating colon.
func (r Resolved) ChildrenPath() string {
	if r.IsRoot() {
		return "/children"
	}

	return r.APIPath() + ":/children"
}

// Child returns the resolved path of a direct child named name.
func (r Resolved) Child(name string) Resolved {
	return Resolved{
		Path:   path.Join(r.Path, name),
		Remote: path.Join(r.Remote, name),
	}
}

// EncodeSegments URL-encodes each segment of a slash-separated path.
// Characters like #, ?, % and spaces are encoded per segment so the result
// is safe for interpolation into Graph API URLs.
func EncodeSegments(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

func clean(p string) string {
	p = path.Clean("/" + p)

	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = norm.NFC.String(seg)
	}

	return strings.Join(segments, "/")
}
