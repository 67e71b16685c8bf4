package reactor

import "sync/atomic"

// State is the Reactor's own lifecycle, distinct from any individual
// Pollable's state. Grounded on eventloop's FastState/LoopState pattern:
// a lock-free CAS state machine instead of a mutex-guarded field.
type State uint32

const (
	StateAwake State = iota
	StateRunning
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwake:
		return "awake"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// atomicState is a thin atomic.Uint32 wrapper, CAS-only (no lock), mirroring
// eventloop.FastState without its cache-line padding (this reactor doesn't
// run under the same core-to-core contention the JS loop was tuned for).
type atomicState struct {
	v atomic.Uint32
}

func (s *atomicState) Load() State { return State(s.v.Load()) }

func (s *atomicState) Store(state State) { s.v.Store(uint32(state)) }

func (s *atomicState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
