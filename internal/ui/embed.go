// Package ui embeds the static web client for the bug tracker.
package ui

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// pages maps client routes to the HTML file that renders them.
var pages = map[string]string{
	"/":      "/",
	"/board": "/board.html",
	"/login": "/",
}

// DistFS returns the embedded dist/ filesystem with the "dist" prefix stripped.
func DistFS() (fs.FS, error) {
	return fs.Sub(distFS, "dist")
}

// Handler serves the embedded client. Known routes map to their page,
// existing files are served as-is, and anything else with an extension is a 404.
// Unknown extension-less paths fall back to index.html.
func Handler() (http.Handler, error) {
	sub, err := DistFS()
	if err != nil {
		return nil, err
	}
	fileServer := http.FileServerFS(sub)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := path.Clean(r.URL.Path)
		if page, ok := pages[p]; ok {
			w.Header().Set("Cache-Control", "no-cache")
			r.URL.Path = page
			fileServer.ServeHTTP(w, r)
			return
		}

		name := strings.TrimPrefix(p, "/")
		if _, err := fs.Stat(sub, name); err == nil {
			fileServer.ServeHTTP(w, r)
			return
		}
		if strings.Contains(path.Base(name), ".") {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	}), nil
}
