package reactor

import "errors"

// Poller is the readiness-multiplexer contract shared by both backends
// (epoll and select). A poll timeout interrupted by a signal must behave
// as an empty result, never an error.
type Poller interface {
	// Register starts monitoring fd for the given event mask.
	Register(fd int, events IOEvents) error
	// Modify updates the event mask for an already-registered fd.
	Modify(fd int, events IOEvents) error
	// Unregister stops monitoring fd. Safe to call even if fd was never
	// registered (no-op).
	Unregister(fd int) error
	// Poll blocks for up to timeoutMs (or indefinitely if negative),
	// returning every ready fd, each alongside the IOEvents actually
	// observed. Returns (nil, nil) on zero readiness, never confusing a
	// timeout for an error.
	Poll(timeoutMs int) ([]ReadyFD, error)
	// Close releases the poller's own resources (e.g. the epoll fd).
	Close() error
}

// ReadyFD pairs a ready file descriptor with its observed events.
type ReadyFD struct {
	FD     int
	Events IOEvents
}

// ErrFDNotRegistered is returned by Modify when called on an fd the poller
// does not know about.
var ErrFDNotRegistered = errors.New("reactor: fd not registered")

// ErrFDOutOfRange is returned by Register when fd exceeds what the backend
// can address (only the select backend has such a limit).
var ErrFDOutOfRange = errors.New("reactor: fd out of range for this poller")

// NewPoller constructs the poller backend named by kind ("epoll" or
// "select"). Both implementations satisfy the same Poller contract; epoll
// has no fd-count cap, select is bounded by the platform's FD_SETSIZE.
func NewPoller(kind string) (Poller, error) {
	switch kind {
	case "", "epoll", "poll":
		return newEpollPoller()
	case "select":
		return newSelectPoller()
	default:
		return nil, errors.New("reactor: unknown poll-type " + kind)
	}
}
