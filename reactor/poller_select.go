//go:build linux

package reactor

import (
	"sync"

	"golang.org/x/sys/unix"
)

// selectFDSetSize is the number of fds addressable by unix.FdSet on this
// platform (len(Bits) * 64).
const selectFDSetSize = len(unix.FdSet{}.Bits) * 64

// selectPoller is the fd-count-capped backend (spec.md §4.1: "the select
// variant caps at implementation-defined fd count"). No file in the
// retrieved pack implements a select-based poller; this is written in the
// epoll backend's idiom (same EINTR-as-empty-result convention, same
// Poller contract) directly against golang.org/x/sys/unix.Select.
type selectPoller struct {
	mu      sync.Mutex
	watched map[int]IOEvents
}

func newSelectPoller() (Poller, error) {
	return &selectPoller{watched: make(map[int]IOEvents)}, nil
}

func (p *selectPoller) Register(fd int, events IOEvents) error {
	if fd >= selectFDSetSize {
		return ErrFDOutOfRange
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watched[fd] = events
	return nil
}

func (p *selectPoller) Modify(fd int, events IOEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.watched[fd]; !ok {
		return ErrFDNotRegistered
	}
	p.watched[fd] = events
	return nil
}

func (p *selectPoller) Unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watched, fd)
	return nil
}

func (p *selectPoller) Poll(timeoutMs int) ([]ReadyFD, error) {
	p.mu.Lock()
	watched := make(map[int]IOEvents, len(p.watched))
	for fd, ev := range p.watched {
		watched[fd] = ev
	}
	p.mu.Unlock()

	var rfds, wfds, efds unix.FdSet
	maxFD := 0
	for fd, ev := range watched {
		if ev&EventRead != 0 {
			fdSet(&rfds, fd)
		}
		if ev&EventWrite != 0 {
			fdSet(&wfds, fd)
		}
		// ERROR is always of interest, mirroring ListenerSocket.get_events.
		fdSet(&efds, fd)
		if fd > maxFD {
			maxFD = fd
		}
	}

	var timeout *unix.Timeval
	if timeoutMs >= 0 {
		tv := unix.NsecToTimeval(int64(timeoutMs) * int64(1e6))
		timeout = &tv
	}

	_, err := unix.Select(maxFD+1, &rfds, &wfds, &efds, timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	var out []ReadyFD
	for fd, ev := range watched {
		var got IOEvents
		if ev&EventRead != 0 && fdIsSet(&rfds, fd) {
			got |= EventRead
		}
		if ev&EventWrite != 0 && fdIsSet(&wfds, fd) {
			got |= EventWrite
		}
		if fdIsSet(&efds, fd) {
			got |= EventError
		}
		if got != 0 {
			out = append(out, ReadyFD{FD: fd, Events: got})
		}
	}
	return out, nil
}

func (p *selectPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watched = nil
	return nil
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}
