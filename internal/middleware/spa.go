package middleware

import (
	"fmt"
	"io/fs"
	"net/http"
	"strings"
)

// reservedPrefixes are owned by API routes and never fall back to the page.
var reservedPrefixes = []string{"/api/", "/ws", "/health", "/metrics"}

// StaticHandler serves the embedded terminal page and its assets. Unknown
// paths fall back to index.html.
type StaticHandler struct {
	fs        http.FileSystem
	indexHTML []byte
}

// NewStaticHandler fails when fsys has no index.html.
func NewStaticHandler(fsys fs.FS) (*StaticHandler, error) {
	index, err := fs.ReadFile(fsys, "index.html")
	if err != nil {
		return nil, fmt.Errorf("read index.html: %w", err)
	}
	return &StaticHandler{
		fs:        http.FS(fsys),
		indexHTML: index,
	}, nil
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.NotFound(w, r)
		return
	}

	for _, p := range reservedPrefixes {
		if strings.HasPrefix(r.URL.Path, p) {
			http.NotFound(w, r)
			return
		}
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	if path != "" && path != "index.html" {
		if f, err := h.fs.Open(path); err == nil {
			defer f.Close()
			if stat, err := f.Stat(); err == nil && !stat.IsDir() {
				http.FileServer(h.fs).ServeHTTP(w, r)
				return
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(h.indexHTML)
}
