package frontend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/raid5/internal/logx"
	"github.com/joeycumines/raid5/netutil"
	"github.com/joeycumines/raid5/wire"
)

const testIdentifierGroup = "239.11.12.13"

func TestIdentifierSocket_OnReadRecordsDeclarationIntoDirectory(t *testing.T) {
	const port = 24001

	dir := NewDirectory()
	vm := NewVolumeManager()
	ident, err := NewIdentifierSocket(testIdentifierGroup, port, dir, vm, logx.Discard())
	require.NoError(t, err)
	t.Cleanup(ident.OnClose)

	senderFD, err := netutil.DeclareSocketUDP()
	require.NoError(t, err)
	t.Cleanup(func() { _ = netutil.CloseFD(senderFD) })

	decl := wire.Declaration{DiskUUID: "disk-7", BindPort: 6000, VolumeUUID: "vol-7"}.Encode()

	sent := false
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !sent {
		ok, err := netutil.SendToUDP(senderFD, testIdentifierGroup, port, decl)
		require.NoError(t, err)
		sent = ok
		if !sent {
			time.Sleep(5 * time.Millisecond)
		}
	}
	require.True(t, sent)

	var snap map[string]DiscoveredDisk
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ident.OnRead()
		snap = dir.Snapshot()
		if len(snap) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	require.Contains(t, snap, "disk-7")
	got := snap["disk-7"]
	assert.Equal(t, "vol-7", got.VolumeUUID)
	assert.Equal(t, 6000, got.Port)
}

func TestIdentifierSocket_OnIdleReconcilesIntoMatchingVolume(t *testing.T) {
	dir := NewDirectory()
	vm := NewVolumeManager()

	vol := NewVolume("vol-recon", "secret", 2, 16)
	vm.Register(vol)

	dir.Observe(DiscoveredDisk{DiskUUID: "disk-a", VolumeUUID: "vol-recon", Address: "127.0.0.1", Port: 5555})

	ident, err := NewIdentifierSocket(testIdentifierGroup, 24002, dir, vm, logx.Discard())
	require.NoError(t, err)
	t.Cleanup(ident.OnClose)

	ident.OnIdle()

	slot := vol.Slot(0)
	assert.Equal(t, "disk-a", slot.DiskUUID)
	assert.Equal(t, 5555, slot.Port)
	assert.Equal(t, SlotOnline, slot.State)
}

func TestIdentifierSocket_OnIdleExpiresStaleEntries(t *testing.T) {
	dir := NewDirectory()
	fixed := time.Unix(1000, 0)
	dir.now = func() time.Time { return fixed }
	vm := NewVolumeManager()

	dir.Observe(DiscoveredDisk{DiskUUID: "disk-b", VolumeUUID: "vol-b", Address: "127.0.0.1", Port: 1})
	require.Len(t, dir.Snapshot(), 1)

	dir.now = func() time.Time { return fixed.Add(DiscoveryTTL + time.Second) }

	ident, err := NewIdentifierSocket(testIdentifierGroup, 24003, dir, vm, logx.Discard())
	require.NoError(t, err)
	t.Cleanup(ident.OnClose)

	ident.OnIdle()
	assert.Empty(t, dir.Snapshot())
}

func TestSplitHostPort_StripsTrailingPort(t *testing.T) {
	host, port, err := splitHostPort("192.168.1.5:4000")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.5", host)
	assert.Equal(t, "4000", port)
}
