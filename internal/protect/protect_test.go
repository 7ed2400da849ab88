package protect

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/onedrive-serve/internal/graph"
)

// fakeReader serves password files from a map keyed by API path.
type fakeReader struct {
	files map[string]string
	err   error
	reads []string
}

func (f *fakeReader) ReadContent(_ context.Context, apiPath string, _ int64) ([]byte, error) {
	f.reads = append(f.reads, apiPath)

	if f.err != nil {
		return nil, f.err
	}

	content, ok := f.files[apiPath]
	if !ok {
		return nil, &graph.GraphError{StatusCode: http.StatusNotFound, Err: graph.ErrNotFound}
	}

	return []byte(content), nil
}

func TestCheck_Unprotected(t *testing.T) {
	reader := &fakeReader{}
	c := New([]string{"/Private"}, "", "", reader, nil)

	res := c.Check(context.Background(), "/Public/a.txt", "")
	assert.Equal(t, Result{Code: http.StatusOK}, res)
	assert.True(t, res.OK())
	assert.False(t, res.Protected())
	assert.Empty(t, reader.reads)
}

func TestCheck_PrefixIsSegmentAware(t *testing.T) {
	c := New([]string{"/Private"}, "", "", &fakeReader{}, nil)

	assert.Equal(t, "/Private", c.Route("/Private"))
	assert.Equal(t, "/Private", c.Route("/Private/sub/x"))
	assert.Empty(t, c.Route("/PrivateNot"))
}

func TestCheck_NoPasswordFile(t *testing.T) {
	c := New([]string{"/Private/"}, "", "", &fakeReader{files: map[string]string{}}, nil)

	res := c.Check(context.Background(), "/Private/doc", Hash("x"))
	assert.Equal(t, Result{Code: http.StatusNotFound, Message: MsgNoPassword}, res)
	assert.False(t, res.OK())
}

func TestCheck_WrongPassword(t *testing.T) {
	reader := &fakeReader{files: map[string]string{":/Private/.password": "secret\n"}}
	c := New([]string{"/Private"}, "", "", reader, nil)

	res := c.Check(context.Background(), "/Private", Hash("guess"))
	assert.Equal(t, Result{Code: http.StatusUnauthorized, Message: MsgRequired}, res)

	res = c.Check(context.Background(), "/Private", "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestCheck_Authenticated(t *testing.T) {
	reader := &fakeReader{files: map[string]string{":/Private/.password": "  secret\n"}}
	c := New([]string{"/Private"}, "", "", reader, nil)

	res := c.Check(context.Background(), "/Private/a/b", Hash("secret"))
	assert.Equal(t, Result{Code: http.StatusOK, Message: MsgAuthenticated}, res)
	assert.True(t, res.Protected())
}

func TestCheck_BaseDirectoryAndCustomFile(t *testing.T) {
	reader := &fakeReader{files: map[string]string{":/Share/My%20Stuff/.pw": "pw"}}
	c := New([]string{"/My Stuff"}, ".pw", "/Share", reader, nil)

	res := c.Check(context.Background(), "/My Stuff/x", Hash("pw"))
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, []string{":/Share/My%20Stuff/.pw"}, reader.reads)
}

func TestCheck_ReadFailure(t *testing.T) {
	c := New([]string{"/Private"}, "", "", &fakeReader{err: errors.New("boom")}, nil)

	res := c.Check(context.Background(), "/Private", Hash("x"))
	assert.Equal(t, http.StatusInternalServerError, res.Code)
}

func TestCheck_RootRouteProtectsEverything(t *testing.T) {
	c := New([]string{"/"}, "", "", &fakeReader{}, nil)

	assert.Equal(t, "/", c.Route("/anything"))
}

func TestHashAndMatches(t *testing.T) {
	// sha256("password")
	const want = "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8"

	assert.Equal(t, want, Hash("password"))
	assert.Equal(t, want, Hash(" password \n"))
	assert.True(t, Matches(want, "password"))
	assert.True(t, Matches("5E884898DA28047151D0E56F8DC6292773603D0D6AABBDD62A11EF721D1542D8", "password"))
	assert.False(t, Matches("", "password"))
}
