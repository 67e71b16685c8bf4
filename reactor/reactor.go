package reactor

import (
	"sync"
	"time"

	"github.com/joeycumines/raid5/internal/logx"
)

// Config configures a Reactor. Grounded on eventloop.Loop's constructor
// options, trimmed to what a plain socket reactor needs (no timer heap, no
// microtasks — this isn't a JS engine).
type Config struct {
	// PollType selects "epoll" (default, uncapped) or "select" (capped,
	// spec.md §4.1).
	PollType string
	// PollTimeout bounds how long a single Poll call may block before
	// OnIdle fires on every Pollable (spec.md §4.2 step 2).
	PollTimeout time.Duration
	// MaxConnections is read by ListenerSocket.Events to decide whether to
	// keep accepting (spec.md §4.2 step 5); the Reactor itself only counts
	// pollables for that purpose.
	MaxConnections int
	Logger         logx.Logger
}

// Reactor is the AsyncServer (C2): owns every Pollable keyed by fd, and
// drives exactly the five-step loop of spec.md §4.2. Strictly
// single-threaded and cooperative: Run must be called from one goroutine,
// and no Pollable hook may block.
type Reactor struct {
	poller  Poller
	wake    *wakeFD
	timeout time.Duration
	maxConn int
	log     logx.Logger

	state atomicState

	mu        sync.Mutex // guards pollables against Submit-from-other-goroutines
	pollables map[int]Pollable
	pending   []Pollable // registered via Submit, drained at the top of each tick
}

// New constructs a Reactor using the configured poll backend.
func New(cfg Config) (*Reactor, error) {
	poller, err := NewPoller(cfg.PollType)
	if err != nil {
		return nil, err
	}
	wake, err := newWakeFD()
	if err != nil {
		_ = poller.Close()
		return nil, err
	}
	if err := poller.Register(wake.FD(), EventRead); err != nil {
		_ = poller.Close()
		_ = wake.Close()
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logx.Discard()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Reactor{
		poller:    poller,
		wake:      wake,
		timeout:   timeout,
		maxConn:   cfg.MaxConnections,
		log:       log,
		pollables: make(map[int]Pollable),
	}, nil
}

// MaxConnections returns the configured cap, so a ListenerSocket can
// compare against Reactor.Count without the Reactor exposing its map.
func (r *Reactor) MaxConnections() int { return r.maxConn }

// Count returns the number of Pollables currently owned by the Reactor.
func (r *Reactor) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pollables)
}

// Submit registers a new Pollable. Safe to call from within a Pollable
// hook (e.g. ListenerSocket.OnRead constructing a ServiceSocket) or from
// another goroutine (in which case it wakes a blocked Poll).
func (r *Reactor) Submit(p Pollable) {
	r.mu.Lock()
	r.pending = append(r.pending, p)
	r.mu.Unlock()
	r.wake.Signal()
}

// Close requests an orderly shutdown: the running Run call will finish its
// current tick, flush every Pollable's remaining data_to_send, then return.
func (r *Reactor) Close() {
	if r.state.TryTransition(StateAwake, StateTerminated) {
		return
	}
	r.state.TryTransition(StateRunning, StateTerminating)
	r.wake.Signal()
}

// Run drives the reactor loop until Close is called and every Pollable has
// drained, or poll itself returns a fatal error.
func (r *Reactor) Run() error {
	if !r.state.TryTransition(StateAwake, StateRunning) {
		return nil
	}
	defer func() {
		r.state.Store(StateTerminated)
		for _, p := range r.pollables {
			p.OnClose()
		}
		_ = r.poller.Close()
		_ = r.wake.Close()
	}()

	for {
		r.drainPending()

		if r.state.Load() == StateTerminating {
			drained := true
			for _, p := range r.pollables {
				if p.DataToSend() > 0 {
					drained = false
					break
				}
			}
			if drained {
				return nil
			}
		}

		// Step 1: collect each pollable's current event mask and (re)sync
		// it with the poller.
		for fd, p := range r.pollables {
			ev := p.Events()
			if err := r.poller.Modify(fd, ev); err != nil {
				if err == ErrFDNotRegistered {
					_ = r.poller.Register(fd, ev)
				}
			}
		}

		ready, err := r.poller.Poll(int(r.timeout / time.Millisecond))
		if err != nil {
			r.log.Err().Err(err).Log("poll failed")
			return &PollError{Op: "wait", Cause: err}
		}

		if len(ready) == 0 {
			// Step 2: idle tick.
			for _, p := range r.pollables {
				p.OnIdle()
			}
		} else {
			// Step 3: dispatch.
			for _, rd := range ready {
				if rd.FD == r.wake.FD() {
					r.wake.Drain()
					continue
				}
				p, ok := r.pollables[rd.FD]
				if !ok {
					continue
				}
				if rd.Events&(EventError|EventHangup) != 0 {
					p.OnError(nil)
				}
				if rd.Events&EventRead != 0 {
					p.OnRead()
				}
				if rd.Events&EventWrite != 0 {
					p.OnWrite()
				}
			}
		}

		// Step 4: reap terminated, drained pollables.
		for fd, p := range r.pollables {
			if p.IsTerminating() && p.DataToSend() == 0 {
				delete(r.pollables, fd)
				_ = r.poller.Unregister(fd)
				p.OnClose()
			}
		}
	}
}

func (r *Reactor) drainPending() {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, p := range pending {
		fd := p.FD()
		r.pollables[fd] = p
		_ = r.poller.Register(fd, p.Events())
	}
}
