package blockdevice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/raid5/internal/logx"
	"github.com/joeycumines/raid5/netutil"
	"github.com/joeycumines/raid5/reactor"
	"github.com/joeycumines/raid5/wire"
)

const testMulticastGroup = "239.7.8.9"

func TestDeclarerSocket_EventsIsErrorOnly(t *testing.T) {
	d, err := NewDeclarerSocket(testMulticastGroup, 23991, "disk-x", 4000, "vol-x", logx.Discard())
	require.NoError(t, err)
	t.Cleanup(d.OnClose)

	assert.Equal(t, reactor.EventError, d.Events())
}

func TestDeclarerSocket_OnIdleSendsDecodableBeacon(t *testing.T) {
	const group = testMulticastGroup
	const port = 23992

	rfd, err := netutil.ListenMulticastUDP(group, port)
	require.NoError(t, err)
	t.Cleanup(func() { _ = netutil.CloseFD(rfd) })

	d, err := NewDeclarerSocket(group, port, "disk-42", 5150, "vol-99", logx.Discard())
	require.NoError(t, err)
	t.Cleanup(d.OnClose)

	d.OnIdle()

	var decl wire.Declaration
	buf := make([]byte, 2048)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n, ok, err := netutil.RecvFromUDP(rfd, buf)
		require.NoError(t, err)
		if ok {
			decl, err = wire.DecodeDeclaration(buf[:n])
			require.NoError(t, err)
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	assert.Equal(t, "disk-42", decl.DiskUUID)
	assert.Equal(t, 5150, decl.BindPort)
	assert.Equal(t, "vol-99", decl.VolumeUUID)
}

func TestDeclarerSocket_OnCloseClosesFD(t *testing.T) {
	d, err := NewDeclarerSocket(testMulticastGroup, 23993, "disk-y", 1, "vol-y", logx.Discard())
	require.NoError(t, err)
	fd := d.FD()
	d.OnClose()
	// a second close of the same fd must fail, proving OnClose actually closed it.
	assert.Error(t, netutil.CloseFD(fd))
}
