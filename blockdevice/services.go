package blockdevice

import (
	"crypto/subtle"
	"strconv"

	"github.com/joeycumines/raid5/internal/raiderr"
	"github.com/joeycumines/raid5/service"
)

// AppContext is the Block Device's shared application state, reached by
// every Service through Entry.App — mirroring
// original_source/block_device/__main__.py's application_context dict.
type AppContext struct {
	Store        *Store
	DiskUUID     string
	VolumeUUID   string
	LongPassword string
	Limiter      *LoginLimiter
}

// GetBlockService implements `GET /get_block?block=<n>` (spec.md §6).
type GetBlockService struct {
	service.BaseService
	data []byte
	sent bool
}

func NewGetBlockService() service.Factory {
	return func(*service.Entry) service.Service { return &GetBlockService{} }
}

func (g *GetBlockService) WantedArgs() []string { return []string{"block"} }

func (g *GetBlockService) BeforeResponseStatus(e *service.Entry) bool {
	app := e.App.(*AppContext)
	blockArg, _ := e.Arg("block")
	k, err := strconv.ParseInt(blockArg, 10, 64)
	if err != nil {
		e.SetStatus(400, "block must be an integer")
		return true
	}
	data, err := app.Store.ReadBlock(k)
	if err != nil {
		e.SetStatus(404, "block unreadable")
		return true
	}
	g.data = data
	e.SetStatus(200, "")
	return true
}

func (g *GetBlockService) BeforeResponseHeaders(e *service.Entry) bool {
	e.ResponseHeaders["Content-Length"] = strconv.Itoa(len(g.data))
	e.ResponseHeaders["Content-Type"] = "application/octet-stream"
	return true
}

func (g *GetBlockService) BeforeResponseContent(e *service.Entry, _ int) bool {
	if g.sent {
		return true
	}
	e.ResponseBody = append(e.ResponseBody, g.data...)
	g.sent = true
	return true
}

// SetBlockService implements `POST /set_block?block=<n>` (spec.md §6).
type SetBlockService struct {
	service.BaseService
	body []byte
}

func NewSetBlockService() service.Factory {
	return func(*service.Entry) service.Service { return &SetBlockService{} }
}

func (s *SetBlockService) WantedArgs() []string    { return []string{"block"} }
func (s *SetBlockService) WantedHeaders() []string { return []string{"Content-Length"} }

func (s *SetBlockService) HandleContent(e *service.Entry, chunk []byte) {
	s.body = append(s.body, chunk...)
}

func (s *SetBlockService) BeforeResponseStatus(e *service.Entry) bool {
	app := e.App.(*AppContext)
	blockArg, _ := e.Arg("block")
	k, err := strconv.ParseInt(blockArg, 10, 64)
	if err != nil {
		e.SetStatus(400, "block must be an integer")
		return true
	}
	if len(s.body) != app.Store.BlockSize() {
		e.SetStatus(400, "body must be exactly block_size bytes")
		return true
	}
	if err := app.Store.WriteBlock(k, s.body); err != nil {
		e.SetStatus(500, "")
		return true
	}
	e.SetStatus(200, "")
	return true
}

func (s *SetBlockService) BeforeResponseHeaders(e *service.Entry) bool {
	e.ResponseHeaders["Content-Length"] = "0"
	return true
}

// GetDiskInfoService serves the disk's header block. Grounded on
// original_source/block_device/services/get_disk_info_service.py, which
// specializes GetFileService to serve one fixed path; here the "fixed
// path" is the on-disk header the Data Model section defines (block -1),
// so the specialization reads the header directly rather than a file.
type GetDiskInfoService struct {
	service.BaseService
	data []byte
	sent bool
}

func NewGetDiskInfoService() service.Factory {
	return func(*service.Entry) service.Service { return &GetDiskInfoService{} }
}

func (g *GetDiskInfoService) BeforeResponseStatus(e *service.Entry) bool {
	app := e.App.(*AppContext)
	data, err := app.Store.ReadBlock(-1)
	if err != nil {
		e.SetStatus(500, "")
		return true
	}
	g.data = data
	e.SetStatus(200, "")
	return true
}

func (g *GetDiskInfoService) BeforeResponseHeaders(e *service.Entry) bool {
	e.ResponseHeaders["Content-Length"] = strconv.Itoa(len(g.data))
	return true
}

func (g *GetDiskInfoService) BeforeResponseContent(e *service.Entry, _ int) bool {
	if g.sent {
		return true
	}
	e.ResponseBody = append(e.ResponseBody, g.data...)
	g.sent = true
	return true
}

// LoginService implements `POST /login` with body `password=<long_password>`
// (spec.md §6). Throttled per remote address by LoginLimiter.
type LoginService struct {
	service.BaseService
	body []byte
}

func NewLoginService() service.Factory {
	return func(*service.Entry) service.Service { return &LoginService{} }
}

func (l *LoginService) WantedHeaders() []string { return []string{"Content-Length"} }

func (l *LoginService) HandleContent(e *service.Entry, chunk []byte) {
	l.body = append(l.body, chunk...)
}

func (l *LoginService) BeforeResponseStatus(e *service.Entry) bool {
	app := e.App.(*AppContext)

	if app.Limiter != nil && !app.Limiter.Allow(e.RemoteAddr) {
		e.SetStatus(401, raiderr.ReasonFor(401))
		return true
	}

	const prefix = "password="
	ok := false
	if len(l.body) > len(prefix) && string(l.body[:len(prefix)]) == prefix {
		given := l.body[len(prefix):]
		ok = subtle.ConstantTimeCompare(given, []byte(app.LongPassword)) == 1
	}
	if !ok {
		e.SetStatus(401, "")
		if app.Limiter != nil {
			app.Limiter.RecordFailure(e.RemoteAddr)
		}
		return true
	}
	e.SetStatus(200, "")
	return true
}

func (l *LoginService) BeforeResponseHeaders(e *service.Entry) bool {
	e.ResponseHeaders["Content-Length"] = "0"
	return true
}
