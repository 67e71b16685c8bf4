// Package service implements the HTTP-framed request/response protocol:
// the per-connection ServiceSocket state machine (spec.md §4.5) dispatching
// into pluggable Service handlers (spec.md §4.6), grounded on
// _examples/original_source/http/server/services.py's Service base class
// and _examples/original_source/common/pollables/listener_socket.py.
package service

import (
	"strings"

	"github.com/joeycumines/raid5/internal/logx"
)

// Entry is the per-ServiceSocket request context (spec.md §3): URI, parsed
// query, headers, declared content length, and the response being built.
// ServiceSocket hands request body chunks to Service.HandleContent and
// does not fill Body.
type Entry struct {
	Method     string
	URI        string
	Args       map[string][]string
	Headers    map[string]string // lower-cased header names
	RemoteAddr string

	ContentLength int
	Body          []byte

	ResponseStatus  int
	ResponseReason  string
	ResponseHeaders map[string]string
	ResponseBody    []byte // appended to by BeforeResponseContent, then moved to the send buffer

	// Service-private state. The built-in Services keep their own state
	// (such as GetFileService's open file) on the Service value instead.
	Local any

	// App is the shared application context (disk store, volume table,
	// etc.), opaque to the protocol layer. Concrete Services type-assert it.
	App any

	Log logx.Logger
}

func newEntry(log logx.Logger) *Entry {
	return &Entry{
		Args:            map[string][]string{},
		Headers:         map[string]string{},
		ResponseHeaders: map[string]string{},
		Log:             log,
	}
}

// Header returns a request header by case-insensitive name.
func (e *Entry) Header(name string) (string, bool) {
	v, ok := e.Headers[strings.ToLower(name)]
	return v, ok
}

// Arg returns the first value of a query argument, if present.
func (e *Entry) Arg(name string) (string, bool) {
	v, ok := e.Args[name]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// SetStatus records the response status code and reason phrase. An empty
// reason is filled from internal/raiderr.ReasonFor when SEND_STATUS writes
// the status line.
func (e *Entry) SetStatus(code int, reason string) {
	e.ResponseStatus = code
	e.ResponseReason = reason
}

// Service is the phase-hook contract every concrete handler implements.
// Hooks return true to advance the ServiceSocket's state machine, false to
// be re-invoked on the next poll round (spec.md §9: "a state variable + a
// dispatch switch, no coroutines required").
type Service interface {
	// WantedHeaders lists header names that must be present in the
	// request (case-insensitive); missing any yields 400.
	WantedHeaders() []string
	// WantedArgs lists query argument names that must match exactly
	// (spec.md §4.5 "wanted_args equality with received arg keys").
	WantedArgs() []string

	// BeforeContent is called once headers are fully parsed and
	// validated. Returning false skips GET_CONTENT entirely (e.g. GET
	// requests with no body).
	BeforeContent(e *Entry) bool
	// HandleContent is called with each chunk of request body as it
	// arrives, in GET_CONTENT.
	HandleContent(e *Entry, chunk []byte)

	// BeforeResponseStatus prepares e.ResponseStatus/ResponseReason.
	BeforeResponseStatus(e *Entry) bool
	// BeforeResponseHeaders prepares e.ResponseHeaders, including
	// Content-Length if known up front.
	BeforeResponseHeaders(e *Entry) bool
	// BeforeResponseContent is called repeatedly, each call may append up
	// to maxBuffer bytes to e.ResponseBody; return true once the full
	// response body has been produced (possibly with zero bytes this
	// call, if parked awaiting another pollable).
	BeforeResponseContent(e *Entry, maxBuffer int) bool

	// BeforeTerminate is called once, when the ServiceSocket is about to
	// close (normal completion or error), so the Service can release
	// resources such as an open file descriptor.
	BeforeTerminate(e *Entry)
}

// BaseService provides no-op defaults for every hook, mirroring the phase
// hooks original_source/http/server/services.py's Service base class
// leaves as pass-throughs.
type BaseService struct{}

func (BaseService) WantedHeaders() []string                        { return nil }
func (BaseService) WantedArgs() []string                           { return nil }
func (BaseService) BeforeContent(*Entry) bool                      { return true }
func (BaseService) HandleContent(*Entry, []byte)                   {}
func (BaseService) BeforeResponseStatus(*Entry) bool                { return true }
func (BaseService) BeforeResponseHeaders(*Entry) bool                { return true }
func (BaseService) BeforeResponseContent(*Entry, int) bool           { return true }
func (BaseService) BeforeTerminate(*Entry)                          {}

// Factory constructs a Service instance for one request. Factories are
// registered into a Registry keyed by exact URI path (spec.md §9 "Service
// plugin registry").
type Factory func(e *Entry) Service

// Registry is the map<URI, factory> spec.md §9 calls for, replacing the
// source's class-metadata lookup.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds uri (exact match) to factory.
func (r *Registry) Register(uri string, factory Factory) {
	r.factories[uri] = factory
}

// Lookup returns the factory for uri, or (nil, false) on an unknown URI
// (spec.md §4.5: "Unknown URI: 404").
func (r *Registry) Lookup(uri string) (Factory, bool) {
	f, ok := r.factories[uri]
	return f, ok
}
