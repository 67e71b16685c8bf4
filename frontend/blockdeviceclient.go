// Package frontend implements the Frontend server role: the RAID-5
// orchestrator (C9), volume manager (C10), multicast discovery listener
// (C5), and the outbound BlockDeviceClient (C8) that drives requests
// toward Block Devices (spec.md §4.7-§4.9), grounded on
// _examples/original_source/frontend/__main__.py.
package frontend

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joeycumines/raid5/internal/logx"
	"github.com/joeycumines/raid5/internal/raiderr"
	"github.com/joeycumines/raid5/netutil"
	"github.com/joeycumines/raid5/reactor"
)

// Client errors are classified per spec.md §4.9.
var (
	ErrClientConnect       = errors.New("frontend: connect failed")
	ErrClientTimeout       = errors.New("frontend: request timed out")
	ErrClientBadStatus     = errors.New("frontend: bad status")
	ErrClientShortResponse = errors.New("frontend: short response")
)

type bdcState int

const (
	bdcConnecting bdcState = iota
	bdcWriting
	bdcReadStatus
	bdcReadHeaders
	bdcReadBody
	bdcDone
)

// Response is a completed BlockDeviceClient exchange.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// OnDone is invoked exactly once per BlockDeviceClient, with either a
// Response or a classified error. The client holds the callback as a
// direct function value; there is no id-based lookup.
type OnDone func(resp Response, err error)

// BlockDeviceClient is the outbound counterpart of service.ServiceSocket:
// it drives one HTTP-framed request toward a Block Device and parses the
// response into the same shape (spec.md §4.9).
type BlockDeviceClient struct {
	reactor.BaseConn

	fd       int
	state    bdcState
	writeBuf []byte
	readBuf  []byte

	status        int
	reason        string
	headers       map[string]string
	contentLength int
	haveLength    bool
	body          []byte

	deadline time.Time
	onDone   OnDone
	fired    bool
	log      logx.Logger
}

// Dial starts a non-blocking outbound connection to addr:port and, once
// connected, sends an HTTP-framed request built from method/uri/headers/
// body. onDone fires exactly once, with either a parsed Response or a
// classified error (Connect/Timeout/BadStatus/ShortResponse).
func Dial(addr string, port int, method, uri string, headers map[string]string, body []byte, timeout time.Duration, log logx.Logger, onDone OnDone) (*BlockDeviceClient, error) {
	fd, err := netutil.DialTCP(addr, port)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientConnect, err)
	}

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(uri)
	b.WriteString(" HTTP/1.1\r\n")
	if headers == nil {
		headers = map[string]string{}
	}
	if len(body) > 0 {
		headers["Content-Length"] = strconv.Itoa(len(body))
	}
	for name, val := range headers {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(val)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")

	c := &BlockDeviceClient{
		fd:       fd,
		state:    bdcConnecting,
		writeBuf: append([]byte(b.String()), body...),
		headers:  map[string]string{},
		deadline: time.Now().Add(timeout),
		onDone:   onDone,
		log:      log,
	}
	return c, nil
}

func (c *BlockDeviceClient) FD() int { return c.fd }

func (c *BlockDeviceClient) Events() reactor.IOEvents {
	ev := reactor.EventError
	switch c.state {
	case bdcConnecting, bdcWriting:
		ev |= reactor.EventWrite
	case bdcReadStatus, bdcReadHeaders, bdcReadBody:
		ev |= reactor.EventRead
	}
	return ev
}

func (c *BlockDeviceClient) IsTerminating() bool { return c.state == bdcDone }
func (c *BlockDeviceClient) DataToSend() int {
	if c.state == bdcWriting {
		return len(c.writeBuf)
	}
	return 0
}

func (c *BlockDeviceClient) OnClose() { _ = netutil.CloseFD(c.fd) }

func (c *BlockDeviceClient) OnError(err error) {
	c.finish(Response{}, fmt.Errorf("%w: %v", ErrClientConnect, err))
}

func (c *BlockDeviceClient) OnIdle() {
	if c.state != bdcDone && time.Now().After(c.deadline) {
		c.finish(Response{}, ErrClientTimeout)
	}
}

func (c *BlockDeviceClient) OnWrite() {
	switch c.state {
	case bdcConnecting:
		if err := netutil.ConnectError(c.fd); err != nil {
			c.finish(Response{}, fmt.Errorf("%w: %v", ErrClientConnect, err))
			return
		}
		c.state = bdcWriting
		fallthrough
	case bdcWriting:
		if len(c.writeBuf) == 0 {
			c.state = bdcReadStatus
			return
		}
		n, err := netutil.WriteFD(c.fd, c.writeBuf)
		if err != nil {
			c.finish(Response{}, fmt.Errorf("%w: %v", ErrClientConnect, err))
			return
		}
		c.writeBuf = c.writeBuf[n:]
		if len(c.writeBuf) == 0 {
			c.state = bdcReadStatus
		}
	}
}

func (c *BlockDeviceClient) OnRead() {
	var buf [16 * 1024]byte
	eof := false
	for {
		n, err := netutil.ReadFD(c.fd, buf[:])
		if err != nil {
			if n <= 0 {
				break
			}
		}
		if n > 0 {
			c.readBuf = append(c.readBuf, buf[:n]...)
		}
		if n == 0 {
			eof = true
			break
		}
		if n < len(buf) {
			break
		}
	}
	c.advance()
	if eof && c.state != bdcDone {
		c.finish(Response{}, ErrClientShortResponse)
	}
}

func (c *BlockDeviceClient) advance() {
	for c.step() {
	}
}

func (c *BlockDeviceClient) step() bool {
	switch c.state {
	case bdcReadStatus:
		idx := strings.Index(string(c.readBuf), "\r\n")
		if idx < 0 {
			return false
		}
		line := string(c.readBuf[:idx])
		c.readBuf = c.readBuf[idx+2:]
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 2 {
			c.finish(Response{}, ErrClientBadStatus)
			return false
		}
		status, err := strconv.Atoi(parts[1])
		if err != nil {
			c.finish(Response{}, ErrClientBadStatus)
			return false
		}
		c.status = status
		if len(parts) == 3 {
			c.reason = parts[2]
		}
		c.state = bdcReadHeaders
		return true

	case bdcReadHeaders:
		idx := strings.Index(string(c.readBuf), "\r\n\r\n")
		if idx < 0 {
			return false
		}
		raw := string(c.readBuf[:idx])
		c.readBuf = c.readBuf[idx+4:]
		for _, line := range strings.Split(raw, "\r\n") {
			if line == "" {
				continue
			}
			i := strings.IndexByte(line, ':')
			if i < 0 {
				continue
			}
			name := strings.ToLower(strings.TrimSpace(line[:i]))
			val := strings.TrimSpace(line[i+1:])
			c.headers[name] = val
			if name == "content-length" {
				if n, err := strconv.Atoi(val); err == nil {
					c.contentLength = n
					c.haveLength = true
				}
			}
		}
		c.state = bdcReadBody
		return true

	case bdcReadBody:
		if !c.haveLength || c.contentLength == 0 {
			c.finish(Response{Status: c.status, Headers: c.headers, Body: c.body}, nil)
			return false
		}
		if len(c.readBuf) < c.contentLength {
			return false
		}
		c.body = c.readBuf[:c.contentLength]
		c.finish(Response{Status: c.status, Headers: c.headers, Body: c.body}, nil)
		return false
	}
	return false
}

func (c *BlockDeviceClient) finish(resp Response, err error) {
	if c.fired {
		return
	}
	c.fired = true
	c.state = bdcDone
	if err == nil && (resp.Status >= 500 || resp.Status == 0) {
		err = fmt.Errorf("%w: status %d", ErrClientBadStatus, resp.Status)
	}
	if c.onDone != nil {
		c.onDone(resp, err)
	}
}

// ClassifyStatus converts a client-side failure into the per-disk policy
// the Orchestrator applies (spec.md §4.8 "Failure detection").
func ClassifyStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrClientTimeout):
		return raiderr.Wrap(raiderr.ErrTimeoutExceeded, "block device request")
	case errors.Is(err, ErrClientConnect):
		return raiderr.Wrap(raiderr.ErrPeerUnreachable, "block device unreachable")
	default:
		return raiderr.Wrap(raiderr.ErrDiskIO, "block device request failed")
	}
}
