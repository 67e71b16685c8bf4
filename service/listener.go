package service

import (
	"github.com/joeycumines/raid5/internal/logx"
	"github.com/joeycumines/raid5/netutil"
	"github.com/joeycumines/raid5/reactor"
)

// listenerState mirrors original_source/common/pollables/listener_socket.py's
// LISTEN/CLOSING pair.
type listenerState int

const (
	listenerListen listenerState = iota
	listenerClosing
)

// ListenerSocket accepts TCP connections and hands each off to the
// Reactor as a new ServiceSocket (spec.md §4.4). Back-pressure at
// max_connections is expressed purely through Events, per
// listener_socket.py's get_events — never by rejecting an accept().
type ListenerSocket struct {
	reactor.BaseConn

	fd       int
	state    listenerState
	reg      *Registry
	maxBuf   int
	r        *reactor.Reactor
	log      logx.Logger
	app      any
}

// NewListenerSocket wraps an already-listening fd (see netutil.ListenTCP).
func NewListenerSocket(fd int, reg *Registry, r *reactor.Reactor, maxBuf int, app any, log logx.Logger) *ListenerSocket {
	return &ListenerSocket{
		fd:     fd,
		state:  listenerListen,
		reg:    reg,
		maxBuf: maxBuf,
		r:      r,
		app:    app,
		log:    log,
	}
}

func (l *ListenerSocket) FD() int { return l.fd }

// Events omits EventRead once the Reactor is at capacity, letting the
// kernel's accept backlog absorb the overflow (spec.md §4.2 step 5).
func (l *ListenerSocket) Events() reactor.IOEvents {
	ev := reactor.EventError
	if l.state == listenerListen {
		if max := l.r.MaxConnections(); max <= 0 || l.r.Count() < max {
			ev |= reactor.EventRead
		}
	}
	return ev
}

func (l *ListenerSocket) OnRead() {
	for {
		fd, raddr, err := netutil.Accept(l.fd)
		if err != nil {
			l.log.Warning().Err(err).Log("accept failed")
			return
		}
		if fd < 0 {
			return // EAGAIN: no more pending connections this round
		}
		ss := NewServiceSocket(fd, l.reg, l.maxBuf, l.app, l.log, raddr)
		l.r.Submit(ss)
	}
}

func (l *ListenerSocket) OnError(err error) {
	l.log.Err().Err(err).Log("listener error")
}

func (l *ListenerSocket) OnClose() {
	_ = netutil.CloseFD(l.fd)
}

func (l *ListenerSocket) IsTerminating() bool { return l.state == listenerClosing }

// Close transitions to CLOSING; the Reactor removes it once DataToSend is
// empty (always zero for a listener).
func (l *ListenerSocket) Close() { l.state = listenerClosing }
