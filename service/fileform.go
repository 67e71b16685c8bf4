package service

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
)

// ffState mirrors original_source/http/server/services.py's
// START_STATE/HEADERS_STATE/CONTENT_STATE/END_STATE sub-machine.
type ffState int

const (
	ffStart ffState = iota
	ffHeaders
	ffContent
	ffEnd
)

// FileFormService ingests a multipart/form-data upload, used by the
// Frontend's admin upload page (spec.md §4.6, SUPPLEMENTAL FEATURES item
// 4). Grounded on original_source/http/server/services.py's
// FileFormService: a sub-state machine advancing across streamed chunks
// of arbitrary size, writing to a temp file and renaming into place on
// part completion (Open Question (a): atomic write-to-temp + rename).
type FileFormService struct {
	BaseService

	destDir  string
	boundary string
	state    ffState
	buf      []byte

	curFilename string
	tmp         *os.File
	tmpPath     string
	finalPath   string
	uploaded    string
}

// NewFileFormService constructs a Factory that persists uploaded files
// into destDir.
func NewFileFormService(destDir string) Factory {
	return func(*Entry) Service {
		return &FileFormService{destDir: destDir, state: ffStart}
	}
}

func (f *FileFormService) WantedHeaders() []string { return []string{"Content-Type"} }

func (f *FileFormService) BeforeContent(e *Entry) bool {
	ct, _ := e.Header("content-type")
	const marker = "boundary="
	if i := strings.Index(ct, marker); i >= 0 {
		f.boundary = strings.Trim(ct[i+len(marker):], `"`)
	}
	return f.boundary != ""
}

func (f *FileFormService) HandleContent(e *Entry, chunk []byte) {
	f.buf = append(f.buf, chunk...)
	for f.processBuf() {
	}
}

// processBuf advances the sub-state machine as far as the currently
// buffered bytes allow, returning true if it should be called again
// immediately (more progress may be possible on the same buffer).
func (f *FileFormService) processBuf() bool {
	delim := []byte("--" + f.boundary)
	switch f.state {
	case ffStart:
		idx := bytes.Index(f.buf, delim)
		if idx < 0 {
			return false
		}
		rest := f.buf[idx+len(delim):]
		if bytes.HasPrefix(rest, []byte("\r\n")) {
			f.buf = rest[2:]
			f.state = ffHeaders
			return true
		}
		if bytes.HasPrefix(rest, []byte("--")) {
			f.state = ffEnd
			f.buf = nil
			return false
		}
		return false

	case ffHeaders:
		idx := bytes.Index(f.buf, []byte("\r\n\r\n"))
		if idx < 0 {
			return false
		}
		headerBlock := string(f.buf[:idx])
		f.buf = f.buf[idx+4:]
		f.curFilename = extractFilename(headerBlock)
		if f.curFilename != "" {
			tmp, err := os.CreateTemp(f.destDir, "upload-*.tmp")
			if err == nil {
				f.tmp = tmp
				f.tmpPath = tmp.Name()
				f.finalPath = filepath.Join(f.destDir, filepath.Base(f.curFilename))
			}
		}
		f.state = ffContent
		return true

	case ffContent:
		partDelim := []byte("\r\n--" + f.boundary)
		idx := bytes.Index(f.buf, partDelim)
		if idx < 0 {
			// Flush everything except a safe tail that might be a
			// partially-received delimiter, supporting arbitrary chunk
			// sizes (spec.md §8 invariant "Multipart").
			safe := len(f.buf) - len(partDelim)
			if safe > 0 {
				f.writePart(f.buf[:safe])
				f.buf = f.buf[safe:]
			}
			return false
		}
		f.writePart(f.buf[:idx])
		rest := f.buf[idx+len(partDelim):]
		f.closePart()
		if bytes.HasPrefix(rest, []byte("--")) {
			f.state = ffEnd
			f.buf = nil
			return false
		}
		if bytes.HasPrefix(rest, []byte("\r\n")) {
			f.buf = rest[2:]
			f.state = ffHeaders
			return true
		}
		return false

	case ffEnd:
		return false
	}
	return false
}

func (f *FileFormService) writePart(b []byte) {
	if f.tmp != nil && len(b) > 0 {
		_, _ = f.tmp.Write(b)
	}
}

func (f *FileFormService) closePart() {
	if f.tmp == nil {
		return
	}
	_ = f.tmp.Close()
	if err := os.Rename(f.tmpPath, f.finalPath); err == nil {
		f.uploaded = f.finalPath
	}
	f.tmp = nil
}

func (f *FileFormService) BeforeResponseStatus(e *Entry) bool {
	if f.uploaded == "" && f.state != ffEnd {
		e.SetStatus(400, "incomplete upload")
	} else {
		e.SetStatus(200, "")
	}
	return true
}

func (f *FileFormService) BeforeResponseContent(*Entry, int) bool { return true }

func (f *FileFormService) BeforeTerminate(*Entry) {
	if f.tmp != nil {
		_ = f.tmp.Close()
		_ = os.Remove(f.tmpPath)
		f.tmp = nil
	}
}

// extractFilename reads Content-Disposition: form-data; filename="..." out
// of a part's header block; returns "" for parts with no filename
// attribute (only filename parts are persisted, per spec.md §4.6).
func extractFilename(headerBlock string) string {
	for _, line := range strings.Split(headerBlock, "\r\n") {
		low := strings.ToLower(line)
		if !strings.HasPrefix(low, "content-disposition:") {
			continue
		}
		const marker = "filename=\""
		i := strings.Index(low, marker)
		if i < 0 {
			return ""
		}
		rest := line[i+len(marker):]
		j := strings.IndexByte(rest, '"')
		if j < 0 {
			return ""
		}
		return rest[:j]
	}
	return ""
}
