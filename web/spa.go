// Package web serves a prebuilt session dashboard as a single-page app.
package web

import (
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// ErrNoIndex is returned when the asset tree has no index.html.
var ErrNoIndex = errors.New("web: index.html not found")

// SPAHandler serves files from assets and falls back to index.html for
// unknown paths so client-side routes resolve.
func SPAHandler(assets fs.FS) (http.Handler, error) {
	if _, err := fs.Stat(assets, "index.html"); err != nil {
		return nil, ErrNoIndex
	}
	fileServer := http.FileServer(http.FS(assets))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" {
			fileServer.ServeHTTP(w, r)
			return
		}
		if info, err := fs.Stat(assets, name); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}

		r2 := r.Clone(r.Context())
		r2.URL.Path = "/"
		fileServer.ServeHTTP(w, r2)
	}), nil
}
