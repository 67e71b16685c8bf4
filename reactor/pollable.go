// Package reactor implements the single-threaded, non-blocking I/O core:
// a readiness-poll abstraction (Poller) driving a set of Pollables through
// one cooperative dispatch loop (Reactor).
package reactor

// IOEvents is a bitmask of readiness conditions reported by a Poller.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// Pollable is the capability contract every reactor-owned socket satisfies.
// It is a tagged union in spirit: ListenerSocket, ServiceSocket,
// DeclarerSocket, IdentifierSocket and BlockDeviceClient all implement it,
// with most hooks left as no-ops via embedding BaseConn.
type Pollable interface {
	// FD returns the underlying file descriptor. Must remain stable for the
	// lifetime of the Pollable once registered.
	FD() int

	// Events returns the event mask the Pollable currently wants to be
	// polled for. Called once per reactor iteration, before polling.
	Events() IOEvents

	// OnRead is invoked when the fd is readable.
	OnRead()
	// OnWrite is invoked when the fd is writable; it should drain as many
	// bytes as possible from any pending send buffer.
	OnWrite()
	// OnError is invoked when the poller reports an error or hangup.
	OnError(err error)
	// OnClose is invoked exactly once, when the Reactor removes the
	// Pollable from its set. Must release the underlying fd. Must be
	// idempotent (a Pollable may already have closed its own fd).
	OnClose()
	// OnIdle is invoked on every Pollable when a poll round returns no
	// events within the configured timeout.
	OnIdle()

	// IsTerminating reports whether this Pollable wants to be removed. The
	// Reactor only removes it once DataToSend is also empty.
	IsTerminating() bool
	// DataToSend returns the number of bytes still queued for OnWrite to
	// drain before this Pollable may be safely removed.
	DataToSend() int
}

// BaseConn supplies no-op implementations of every Pollable hook, so
// concrete types need only override what they care about.
type BaseConn struct{}

func (BaseConn) OnRead()          {}
func (BaseConn) OnWrite()         {}
func (BaseConn) OnError(error)    {}
func (BaseConn) OnClose()         {}
func (BaseConn) OnIdle()          {}
func (BaseConn) IsTerminating() bool { return false }
func (BaseConn) DataToSend() int  { return 0 }
