package service

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// mimeByExt mirrors original_source/http/server/services.py's MIME_MAPPING.
var mimeByExt = map[string]string{
	"html": "text/html",
	"png":  "image/png",
	"txt":  "text/plain",
}

// GetFileService serves one fixed file read-only, streaming it in chunks
// honoring max_buffer (spec.md §4.6), grounded on
// original_source/http/server/services.py's GetFileService.
type GetFileService struct {
	BaseService

	path string
	f    *os.File
	size int64
	sent int64
}

// NewGetFileService constructs a Factory serving path for every request.
func NewGetFileService(path string) Factory {
	return func(*Entry) Service {
		return &GetFileService{path: path}
	}
}

func (g *GetFileService) BeforeResponseStatus(e *Entry) bool {
	f, err := os.Open(g.path)
	if err != nil {
		e.SetStatus(404, "not found")
		return true
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		e.SetStatus(500, "")
		return true
	}
	g.f = f
	g.size = info.Size()
	e.SetStatus(200, "")
	return true
}

func (g *GetFileService) BeforeResponseHeaders(e *Entry) bool {
	if g.f == nil {
		return true
	}
	e.ResponseHeaders["Content-Length"] = strconv.FormatInt(g.size, 10)
	ext := strings.TrimPrefix(filepath.Ext(g.path), ".")
	ct, ok := mimeByExt[ext]
	if !ok {
		ct = "application/octet-stream"
	}
	e.ResponseHeaders["Content-Type"] = ct
	return true
}

func (g *GetFileService) BeforeResponseContent(e *Entry, maxBuffer int) bool {
	if g.f == nil || g.sent >= g.size {
		return true
	}
	chunk := maxBuffer
	if chunk <= 0 || int64(chunk) > g.size-g.sent {
		chunk = int(g.size - g.sent)
	}
	buf := make([]byte, chunk)
	n, err := g.f.Read(buf)
	if n > 0 {
		e.ResponseBody = append(e.ResponseBody, buf[:n]...)
		g.sent += int64(n)
	}
	if err != nil && err != io.EOF {
		return true
	}
	return g.sent >= g.size
}

func (g *GetFileService) BeforeTerminate(*Entry) {
	if g.f != nil {
		_ = g.f.Close()
		g.f = nil
	}
}
