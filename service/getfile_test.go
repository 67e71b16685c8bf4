package service

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEntry() *Entry {
	return &Entry{Args: map[string][]string{}, Headers: map[string]string{}, ResponseHeaders: map[string]string{}}
}

func TestGetFileService_ServesExistingFileInChunks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.html")
	const content = "<html>hello</html>"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	fac := NewGetFileService(path)
	e := newTestEntry()
	g := fac(e)

	require.True(t, g.BeforeResponseStatus(e))
	assert.Equal(t, 200, e.ResponseStatus)

	require.True(t, g.BeforeResponseHeaders(e))
	assert.Equal(t, strconv.Itoa(len(content)), e.ResponseHeaders["Content-Length"])
	assert.Equal(t, "text/html", e.ResponseHeaders["Content-Type"])

	var body []byte
	for {
		done := g.BeforeResponseContent(e, 4)
		body = e.ResponseBody
		if done {
			break
		}
	}
	assert.Equal(t, content, string(body))

	g.BeforeTerminate(e)
}

func TestGetFileService_MissingFileYields404(t *testing.T) {
	fac := NewGetFileService(filepath.Join(t.TempDir(), "does-not-exist.html"))
	e := newTestEntry()
	g := fac(e)

	require.True(t, g.BeforeResponseStatus(e))
	assert.Equal(t, 404, e.ResponseStatus)
}
