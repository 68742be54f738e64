// Package frontend serves the dashboard's static assets, embedded in the
// binary or, in dev mode, straight from disk so edits show up on reload.
package frontend

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
)

//go:embed static/*
var staticFiles embed.FS

// Static returns the embedded asset tree rooted at static/.
func Static() fs.FS {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// Handler serves dir from disk when it names an existing directory, and the
// embedded assets otherwise. Disk-served responses are marked uncacheable.
func Handler(dir string) http.Handler {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return noCache(http.FileServer(http.Dir(dir)))
		}
	}
	return http.FileServer(http.FS(Static()))
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
