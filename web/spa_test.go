package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assets() fstest.MapFS {
	return fstest.MapFS{
		"index.html":    {Data: []byte("<html>dashboard</html>")},
		"assets/app.js": {Data: []byte("console.log('tdd')")},
	}
}

func get(t *testing.T, h http.Handler, target string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestSPAHandlerServesFiles(t *testing.T) {
	h, err := SPAHandler(assets())
	require.NoError(t, err)

	code, body := get(t, h, "/assets/app.js")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "console.log")

	code, body = get(t, h, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "dashboard")
}

func TestSPAHandlerFallsBackToIndex(t *testing.T) {
	h, err := SPAHandler(assets())
	require.NoError(t, err)

	for _, target := range []string{"/cycle/red", "/assets", "/../../etc/passwd"} {
		code, body := get(t, h, target)
		assert.Equal(t, http.StatusOK, code, target)
		assert.Contains(t, body, "dashboard", target)
	}
}

func TestSPAHandlerRequiresIndex(t *testing.T) {
	_, err := SPAHandler(fstest.MapFS{"app.js": {Data: []byte("x")}})
	assert.ErrorIs(t, err, ErrNoIndex)
}
