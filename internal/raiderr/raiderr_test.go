package raiderr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusFor_Mapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{nil, 200},
		{ErrProtocolMalformed, 400},
		{ErrAuthFailed, 401},
		{ErrServiceNotFound, 404},
		{ErrDiskMissing, 404},
		{ErrVolumeDead, 507},
		{ErrVolumeDegraded, 503},
		{ErrPeerUnreachable, 503},
		{ErrTimeoutExceeded, 503},
		{ErrDiskIO, 500},
		{ErrInternal, 500},
		{ErrHeaderCorrupt, 500},
	}
	for _, c := range cases {
		assert.Equal(t, c.status, StatusFor(c.err), "status for %v", c.err)
	}
}

func TestWrap_PreservesIs(t *testing.T) {
	wrapped := Wrap(ErrDiskMissing, "reading stripe 4")
	assert.True(t, errors.Is(wrapped, ErrDiskMissing))
	assert.Equal(t, "reading stripe 4: raid5: disk missing", wrapped.Error())
}

func TestReasonFor_KnownAndUnknown(t *testing.T) {
	assert.Equal(t, "OK", ReasonFor(200))
	assert.Equal(t, "Insufficient Storage", ReasonFor(507))
	assert.Equal(t, "Unknown", ReasonFor(999))
}
