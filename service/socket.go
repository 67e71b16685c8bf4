package service

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/joeycumines/raid5/internal/logx"
	"github.com/joeycumines/raid5/internal/raiderr"
	"github.com/joeycumines/raid5/netutil"
	"github.com/joeycumines/raid5/reactor"
)

// socketState is the per-connection HTTP state machine of spec.md §4.5.
type socketState int

const (
	stateGetRequest socketState = iota
	stateGetHeaders
	stateGetContent
	stateSendStatus
	stateSendHeaders
	stateSendContent
	stateClosing
)

const maxRequestLineHeadersBuf = 64 * 1024

// ServiceSocket is the per-connection request/response state machine (C6),
// grounded directly on spec.md §4.5's state diagram; the "return false to
// retry" hook contract is implemented as a plain dispatch switch per
// spec.md §9, with no coroutines.
type ServiceSocket struct {
	reactor.BaseConn

	fd         int
	state      socketState
	reg        *Registry
	maxBuf     int
	app        any
	log        logx.Logger
	remoteAddr string

	readBuf  []byte
	writeBuf []byte

	entry         *Entry
	svc           Service
	contentNeeded int
	contentRead   int
	keepAlive     bool
	closeAfter    bool
}

// NewServiceSocket wraps an already-accepted, non-blocking connection fd.
// remoteAddr is fixed for the connection's lifetime and is carried onto
// every Entry built for it, including ones built fresh after a keep-alive
// reset (spec.md §9 "Shared-secret auth" keys its throttle by remote
// address, which must stay stable across pipelined requests).
func NewServiceSocket(fd int, reg *Registry, maxBuf int, app any, log logx.Logger, remoteAddr string) *ServiceSocket {
	s := &ServiceSocket{
		fd:         fd,
		reg:        reg,
		maxBuf:     maxBuf,
		app:        app,
		log:        log,
		keepAlive:  true,
		remoteAddr: remoteAddr,
	}
	s.entry = newEntry(log)
	s.entry.App = app
	s.entry.RemoteAddr = remoteAddr
	return s
}

func (s *ServiceSocket) FD() int { return s.fd }

func (s *ServiceSocket) Events() reactor.IOEvents {
	ev := reactor.EventError
	switch s.state {
	case stateGetRequest, stateGetHeaders, stateGetContent:
		ev |= reactor.EventRead
	}
	if len(s.writeBuf) > 0 {
		ev |= reactor.EventWrite
	}
	return ev
}

func (s *ServiceSocket) IsTerminating() bool { return s.state == stateClosing }
func (s *ServiceSocket) DataToSend() int     { return len(s.writeBuf) }

func (s *ServiceSocket) OnClose() {
	if s.svc != nil {
		s.svc.BeforeTerminate(s.entry)
	}
	_ = netutil.CloseFD(s.fd)
}

func (s *ServiceSocket) OnError(err error) {
	s.log.Warning().Err(err).Log("service socket error")
	s.state = stateClosing
}

func (s *ServiceSocket) OnIdle() { s.advance() }

func (s *ServiceSocket) OnRead() {
	var buf [16 * 1024]byte
	for {
		n, err := netutil.ReadFD(s.fd, buf[:])
		if err != nil {
			if n <= 0 {
				s.state = stateClosing
			}
			return
		}
		if n == 0 {
			s.state = stateClosing
			return
		}
		s.readBuf = append(s.readBuf, buf[:n]...)
		if n < len(buf) {
			break
		}
	}
	s.advance()
}

func (s *ServiceSocket) OnWrite() {
	if len(s.writeBuf) == 0 {
		return
	}
	n, err := netutil.WriteFD(s.fd, s.writeBuf)
	if err != nil {
		s.state = stateClosing
		return
	}
	s.writeBuf = s.writeBuf[n:]
	if len(s.writeBuf) == 0 {
		s.advance()
	}
}

// advance drives the state machine forward as far as it can go without
// blocking, mirroring spec.md §4.2's "a handler that would block ...
// returns, the next poll round retries."
func (s *ServiceSocket) advance() {
	for {
		progressed, stop := s.safeStep()
		if stop {
			return
		}
		if !progressed {
			return
		}
	}
}

// safeStep recovers a panicking Service hook, escalating to CLOSING with a
// 500 response (spec.md §4.5 "Error policy"), mirroring eventloop's
// safeExecute/PanicError convention: log the failure, never crash the
// reactor.
func (s *ServiceSocket) safeStep() (progressed bool, stop bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Err().Interface("panic", r).Log("service hook panicked")
			if s.entry.ResponseStatus < 400 {
				s.entry.ResponseStatus = 500
				s.entry.ResponseReason = ""
			}
			s.closeAfter = true
			if len(s.writeBuf) > 0 || s.state == stateSendHeaders || s.state == stateSendContent {
				s.state = stateClosing
			} else {
				s.svc = noopService{}
				s.state = stateSendStatus
			}
			progressed, stop = true, false
		}
	}()
	return s.step()
}

// step runs one state's logic. Returns (progressed, stop): stop means wait
// for more input/output before calling step again.
func (s *ServiceSocket) step() (progressed bool, stop bool) {
	switch s.state {
	case stateGetRequest:
		return s.stepGetRequest()
	case stateGetHeaders:
		return s.stepGetHeaders()
	case stateGetContent:
		return s.stepGetContent()
	case stateSendStatus:
		return s.stepSendStatus()
	case stateSendHeaders:
		return s.stepSendHeaders()
	case stateSendContent:
		return s.stepSendContent()
	case stateClosing:
		return false, true
	default:
		return false, true
	}
}

func (s *ServiceSocket) stepGetRequest() (bool, bool) {
	idx := bytes.Index(s.readBuf, []byte("\r\n"))
	if idx < 0 {
		if len(s.readBuf) > maxRequestLineHeadersBuf {
			s.fail(400, "request line too long")
			return true, false
		}
		return false, true
	}
	line := string(s.readBuf[:idx])
	s.readBuf = s.readBuf[idx+2:]

	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/1.1") {
		s.fail(400, "malformed request line")
		return true, false
	}
	s.entry.Method = parts[0]

	rawURI := parts[1]
	path := rawURI
	var rawQuery string
	if i := strings.IndexByte(rawURI, '?'); i >= 0 {
		path = rawURI[:i]
		rawQuery = rawURI[i+1:]
	}
	s.entry.URI = path
	if rawQuery != "" {
		values, err := url.ParseQuery(rawQuery)
		if err != nil {
			s.fail(400, "malformed query string")
			return true, false
		}
		s.entry.Args = values
	}

	factory, ok := s.reg.Lookup(path)
	if !ok {
		s.fail(404, "unknown service")
		return true, false
	}
	s.svc = factory(s.entry)

	s.state = stateGetHeaders
	return true, false
}

func (s *ServiceSocket) stepGetHeaders() (bool, bool) {
	var raw string
	if bytes.HasPrefix(s.readBuf, []byte("\r\n")) {
		// Empty header block: the request line's own CRLF is already consumed.
		s.readBuf = s.readBuf[2:]
	} else {
		idx := bytes.Index(s.readBuf, []byte("\r\n\r\n"))
		if idx < 0 {
			if len(s.readBuf) > maxRequestLineHeadersBuf {
				s.fail(400, "headers too long")
				return true, false
			}
			return false, true
		}
		raw = string(s.readBuf[:idx])
		s.readBuf = s.readBuf[idx+4:]
	}

	for _, line := range strings.Split(raw, "\r\n") {
		if line == "" {
			continue
		}
		i := strings.IndexByte(line, ':')
		if i < 0 {
			s.fail(400, "malformed header")
			return true, false
		}
		name := strings.ToLower(strings.TrimSpace(line[:i]))
		val := strings.TrimSpace(line[i+1:])
		s.entry.Headers[name] = val
	}

	for _, want := range s.svc.WantedHeaders() {
		if _, ok := s.entry.Header(want); !ok {
			s.fail(400, "missing required header "+want)
			return true, false
		}
	}
	if wantedArgs := s.svc.WantedArgs(); wantedArgs != nil {
		if !argKeysMatch(s.entry.Args, wantedArgs) {
			s.fail(400, "argument mismatch")
			return true, false
		}
	}

	if cl, ok := s.entry.Header("content-length"); ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			s.fail(400, "malformed content-length")
			return true, false
		}
		s.entry.ContentLength = n
		s.contentNeeded = n
	}

	if conn, ok := s.entry.Header("connection"); ok && strings.EqualFold(conn, "close") {
		s.closeAfter = true
	}

	if !s.svc.BeforeContent(s.entry) {
		s.state = stateSendStatus
		return true, false
	}
	if s.contentNeeded == 0 {
		s.state = stateSendStatus
	} else {
		s.state = stateGetContent
	}
	return true, false
}

func (s *ServiceSocket) stepGetContent() (bool, bool) {
	remaining := s.contentNeeded - s.contentRead
	if remaining <= 0 {
		s.state = stateSendStatus
		return true, false
	}
	if len(s.readBuf) == 0 {
		return false, true
	}
	n := len(s.readBuf)
	if n > remaining {
		n = remaining
	}
	chunk := s.readBuf[:n]
	s.readBuf = s.readBuf[n:]
	s.svc.HandleContent(s.entry, chunk)
	s.contentRead += n
	if s.contentRead >= s.contentNeeded {
		s.state = stateSendStatus
	}
	return true, false
}

func (s *ServiceSocket) stepSendStatus() (bool, bool) {
	if s.entry.ResponseStatus == 0 {
		s.entry.ResponseStatus = 200
	}
	if !s.svc.BeforeResponseStatus(s.entry) {
		return false, true
	}
	if s.entry.ResponseReason == "" {
		s.entry.ResponseReason = raiderr.ReasonFor(s.entry.ResponseStatus)
	}
	s.writeBuf = append(s.writeBuf, []byte(fmt.Sprintf("HTTP/1.1 %d %s\r\n", s.entry.ResponseStatus, s.entry.ResponseReason))...)
	s.state = stateSendHeaders
	return true, false
}

func (s *ServiceSocket) stepSendHeaders() (bool, bool) {
	if !s.svc.BeforeResponseHeaders(s.entry) {
		return false, true
	}
	if _, ok := s.entry.ResponseHeaders["Content-Length"]; !ok && len(s.entry.ResponseBody) == 0 {
		s.entry.ResponseHeaders["Content-Length"] = "0"
	}
	for name, val := range s.entry.ResponseHeaders {
		s.writeBuf = append(s.writeBuf, []byte(name+": "+val+"\r\n")...)
	}
	s.writeBuf = append(s.writeBuf, []byte("\r\n")...)
	s.state = stateSendContent
	return true, false
}

func (s *ServiceSocket) stepSendContent() (bool, bool) {
	if len(s.writeBuf) >= s.maxBuf && s.maxBuf > 0 {
		// Back-pressure: wait for OnWrite to drain below the cap before
		// asking the service to produce more (spec.md §8 invariant 3).
		return false, true
	}
	done := s.svc.BeforeResponseContent(s.entry, s.maxBuf)
	if len(s.entry.ResponseBody) > 0 {
		s.writeBuf = append(s.writeBuf, s.entry.ResponseBody...)
		s.entry.ResponseBody = nil
	}
	if !done {
		if len(s.writeBuf) == 0 {
			// Parked awaiting another pollable (e.g. a BlockDeviceClient);
			// nothing more to do until the next idle tick or OnWrite.
			return false, true
		}
		return true, false
	}
	s.finishResponse()
	return true, false
}

func (s *ServiceSocket) finishResponse() {
	s.svc.BeforeTerminate(s.entry)
	s.svc = nil
	if s.closeAfter {
		s.state = stateClosing
		return
	}
	if respConn, ok := s.entry.ResponseHeaders["Connection"]; ok && strings.EqualFold(respConn, "close") {
		s.state = stateClosing
		return
	}
	// Keep-alive: reset for the next pipelined request (spec.md §9 open
	// question (b): RFC-default keep-alive).
	s.entry = newEntry(s.log)
	s.entry.App = s.app
	s.entry.RemoteAddr = s.remoteAddr
	s.svc = nil
	s.contentNeeded = 0
	s.contentRead = 0
	s.closeAfter = false
	s.state = stateGetRequest
}

// fail sets the response status for a protocol-level failure and jumps
// straight to SEND_STATUS, per spec.md §4.5's per-state error handling.
func (s *ServiceSocket) fail(status int, reason string) {
	s.entry.ResponseStatus = status
	s.entry.ResponseReason = reason
	s.closeAfter = true
	s.svc = noopService{}
	s.state = stateSendStatus
}

func argKeysMatch(args map[string][]string, wanted []string) bool {
	if len(args) != len(wanted) {
		return false
	}
	for _, w := range wanted {
		if _, ok := args[w]; !ok {
			return false
		}
	}
	return true
}

// noopService replaces the Service once a request fails protocol
// validation (malformed request line, unknown URI, missing header,
// argument mismatch), so SEND_STATUS still has something to call and no
// Service hook overwrites the failure status.
type noopService struct{ BaseService }
