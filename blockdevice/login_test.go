package blockdevice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoginLimiter_OnlyFailuresCountAgainstBudget(t *testing.T) {
	l := NewLoginLimiter(2, time.Minute)

	// Allow alone, with no recorded failures, never blocks (successful
	// logins and mere checks must not themselves consume the budget).
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("1.2.3.4"))
	}

	l.RecordFailure("1.2.3.4")
	assert.True(t, l.Allow("1.2.3.4"), "one failure is within the threshold")

	l.RecordFailure("1.2.3.4")
	assert.False(t, l.Allow("1.2.3.4"), "threshold exceeded after maxFailures recorded failures")
}

func TestLoginLimiter_IndependentPerAddress(t *testing.T) {
	l := NewLoginLimiter(1, time.Minute)

	l.RecordFailure("1.2.3.4")
	assert.False(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("5.6.7.8"), "a different remote address has its own budget")
}

func TestLoginLimiter_NilIsAlwaysAllowed(t *testing.T) {
	var l *LoginLimiter
	assert.True(t, l.Allow("anything"))
	l.RecordFailure("anything") // must not panic
}
