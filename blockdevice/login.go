package blockdevice

import (
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
)

// LoginLimiter throttles repeated /login failures per remote address,
// using github.com/joeycumines/go-catrate's sliding-window limiter
// (grounded on catrate/limiter.go's NewLimiter/Allow API) instead of a
// hand-rolled counter. Auth is a placeholder shared-secret check (spec.md
// §9), so the interesting engineering problem is bounding brute-force
// attempts, not the comparison itself.
//
// catrate.Limiter.Allow both checks and registers an event in the same
// call, with no side-effect-free "peek" method. Since only failed login
// attempts should ever count against the budget (a successful login, or
// the mere act of checking whether an address is currently blocked, must
// not consume it), LoginLimiter calls catrate.Limiter.Allow exclusively
// from RecordFailure and caches the "not before" time it returns;
// LoginLimiter.Allow itself only ever consults that cache.
type LoginLimiter struct {
	limiter *catrate.Limiter

	mu      sync.Mutex
	blocked map[string]time.Time
}

// NewLoginLimiter allows up to maxFailures failed attempts per remote
// address within window, and maxFailures*4 within 10x the window (a
// two-tier sliding window, matching catrate's multi-rate design).
func NewLoginLimiter(maxFailures int, window time.Duration) *LoginLimiter {
	return &LoginLimiter{
		limiter: catrate.NewLimiter(map[time.Duration]int{
			window:      maxFailures,
			window * 10: maxFailures * 4,
		}),
		blocked: map[string]time.Time{},
	}
}

// Allow reports whether addr is currently permitted to attempt another
// login, based solely on previously recorded failures: checking (and
// successful logins) never themselves count against the budget.
func (l *LoginLimiter) Allow(addr string) bool {
	if l == nil || l.limiter == nil {
		return true
	}
	l.mu.Lock()
	until, blocked := l.blocked[addr]
	l.mu.Unlock()
	if !blocked {
		return true
	}
	return !time.Now().Before(until)
}

// RecordFailure registers one failed login attempt against addr's budget.
// Call only after the password check itself has failed; once the budget
// is exceeded, Allow rejects addr until the window catrate returns has
// elapsed.
func (l *LoginLimiter) RecordFailure(addr string) {
	if l == nil || l.limiter == nil {
		return
	}
	until, ok := l.limiter.Allow(addr)
	if ok {
		return
	}
	l.mu.Lock()
	l.blocked[addr] = until
	l.mu.Unlock()
}
