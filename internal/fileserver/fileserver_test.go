package fileserver

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/onedrive-serve/internal/graph"
	"github.com/tonimelisma/onedrive-serve/internal/vfs"
)

func testFS(root string) FileSystem {
	mod := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	return vfs.NewListing(root, []graph.Item{
		{Name: "a b.txt", Size: 1536, IsFile: true, ModifiedAt: mod},
		{Name: "Music", IsFolder: true, ModifiedAt: mod},
		{Name: "z#1.md", Size: 10, IsFile: true, ModifiedAt: mod},
	}).FS()
}

func rewriteTo(p string) Options {
	return Options{Rewrites: []Rewrite{{Source: MatchAll, Destination: p}}}
}

func TestServe_HTMLListing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/files/Docs", nil)
	rec := httptest.NewRecorder()

	Serve(rec, req, rewriteTo("/Docs"), testFS("/Docs"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "Index of /files/Docs")
	assert.Contains(t, body, `href="/files"`)
	assert.Contains(t, body, `href="/files/Docs/a%20b.txt"`)
	assert.Contains(t, body, `href="/files/Docs/Music/"`)
	assert.Contains(t, body, `href="/files/Docs/z%231.md"`)
	assert.Contains(t, body, "1.5 kB")
	assert.Less(t, strings.Index(body, "Music"), strings.Index(body, "a b.txt"), "directories first")
}

func TestServe_JSONListing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/files/Docs", nil)
	req.Header.Set("Accept", "application/json")

	rec := httptest.NewRecorder()
	Serve(rec, req, rewriteTo("/Docs"), testFS("/Docs"))

	require.Equal(t, http.StatusOK, rec.Code)

	var got jsonListing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "/files/Docs", got.Path)
	require.Len(t, got.Directories, 1)
	assert.Equal(t, "Music", got.Directories[0].Name)
	require.Len(t, got.Files, 2)
	assert.Equal(t, "a b.txt", got.Files[0].Name)
	assert.Equal(t, "z#1.md", got.Files[1].Name)
	assert.Equal(t, "2024-01-02T03:04:05Z", got.Files[0].Modified)
}

func TestServe_EmptyDirectoryJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "application/json")

	rec := httptest.NewRecorder()
	Serve(rec, req, rewriteTo("/"), vfs.NewListing("/", nil).FS())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"path":"/","directories":[],"files":[]}`, rec.Body.String())
}

func TestServe_NoRewriteMissesRoot(t *testing.T) {
	// Without the rewrite the request path is not the listing root and its
	// base name is not an entry.
	req := httptest.NewRequest(http.MethodGet, "/files/Docs", nil)
	rec := httptest.NewRecorder()

	Serve(rec, req, Options{}, testFS("/Docs"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_RegularFileIsNotFound(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/files/Docs/a%20b.txt", nil)
	rec := httptest.NewRecorder()

	Serve(rec, req, rewriteTo("/Docs/a b.txt"), testFS("/Docs"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_MethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/files", nil)
	rec := httptest.NewRecorder()

	Serve(rec, req, rewriteTo("/"), testFS("/"))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

func TestServe_Head(t *testing.T) {
	req := httptest.NewRequest(http.MethodHead, "/files", nil)
	rec := httptest.NewRecorder()

	Serve(rec, req, rewriteTo("/"), testFS("/"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestServe_CleanURLs(t *testing.T) {
	t.Run("disabled keeps .html paths", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/page.html", nil)
		rec := httptest.NewRecorder()

		Serve(rec, req, Options{}, testFS("/"))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("enabled redirects .html paths", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/page.html", nil)
		rec := httptest.NewRecorder()

		Serve(rec, req, Options{CleanURLs: true}, testFS("/"))
		assert.Equal(t, http.StatusMovedPermanently, rec.Code)
		assert.Equal(t, "/page", rec.Header().Get("Location"))
	})
}

func TestApplyRewrites(t *testing.T) {
	rewrites := []Rewrite{
		{Source: "/old/*", Destination: "/new"},
		{Source: "[", Destination: "/never"},
	}

	assert.Equal(t, "/new", applyRewrites("/old/x", rewrites))
	assert.Equal(t, "/old/x/y", applyRewrites("/old/x/y", rewrites))
	assert.Equal(t, "/anything", applyRewrites("/anything", nil))
	assert.Equal(t, "/dest", applyRewrites("/a/b/c", []Rewrite{{Source: MatchAll, Destination: "/dest"}}))
}

// brokenFS fails every call.
type brokenFS struct{ err error }

func (b brokenFS) Lstat(string) (fs.FileInfo, error) { return nil, b.err }
func (b brokenFS) ReadDir(string) ([]string, error)  { return nil, b.err }
func (b brokenFS) RealPath(p string) (string, error) { return p, nil }

func TestServe_FilesystemError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "application/json")

	rec := httptest.NewRecorder()
	Serve(rec, req, Options{}, brokenFS{err: errors.New("disk on fire")})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error"}`, rec.Body.String())
}

func TestHrefFor(t *testing.T) {
	assert.Equal(t, "/a", hrefFor("/", "a", false))
	assert.Equal(t, "/x/sub/", hrefFor("/x", "sub", true))
	assert.Equal(t, "/x/%3Fq", hrefFor("/x", "?q", false))
}
