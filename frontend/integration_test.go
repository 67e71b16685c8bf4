package frontend_test

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/raid5/blockdevice"
	"github.com/joeycumines/raid5/frontend"
	"github.com/joeycumines/raid5/internal/logx"
	"github.com/joeycumines/raid5/reactor"
	"github.com/joeycumines/raid5/wire"
)

// These tests stand up real Block Device servers over loopback TCP and
// drive a real Orchestrator/Volume against them, bypassing multicast
// discovery (Volume.Bind is called directly with each disk's known
// address) to keep the RAID-5 read/write/reconstruction properties
// (spec.md §8) deterministic and fast.

const testBlockSize = 16

func startTestDisk(t *testing.T, diskUUID, volUUID string) *blockdevice.Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), diskUUID+".img")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	srv, err := blockdevice.New(blockdevice.Config{
		BindAddress:     "127.0.0.1",
		BindPort:        0,
		DiskName:        path,
		DiskUUID:        diskUUID,
		VolumeUUID:      volUUID,
		BlockSize:       testBlockSize,
		PollTimeout:     20 * time.Millisecond,
		LoginMaxFailure: 5,
		LoginWindow:     time.Minute,
	})
	require.NoError(t, err)
	go srv.Run()
	t.Cleanup(srv.Close)
	return srv
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

// buildTestVolume starts n disks, binds them in order into a new Volume,
// and returns the Volume plus an Orchestrator driving a reactor goroutine
// that is torn down via t.Cleanup.
func buildTestVolume(t *testing.T, n int) (*frontend.Volume, *frontend.Orchestrator) {
	t.Helper()

	const volUUID = "vol1"
	r, err := reactor.New(reactor.Config{PollTimeout: 10 * time.Millisecond, Logger: logx.Discard()})
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- r.Run() }()
	t.Cleanup(func() {
		r.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("orchestrator reactor did not shut down")
		}
	})

	vol := frontend.NewVolume(volUUID, "secret", n, testBlockSize)
	require.True(t, vol.BeginInitialize())
	for i := 0; i < n; i++ {
		diskUUID := fmt.Sprintf("disk%d", i)
		srv := startTestDisk(t, diskUUID, volUUID)
		host, port := splitAddr(t, srv.Addr())
		require.True(t, vol.Bind(diskUUID, host, port))
	}
	require.True(t, vol.AllSlotsOnline())
	vol.FinishInitialize()

	orch := frontend.NewOrchestrator(r, vol, 2*time.Second, logx.Discard())
	return vol, orch
}

func writeAndWait(t *testing.T, orch *frontend.Orchestrator, lba int64, data []byte) error {
	t.Helper()
	ch := make(chan error, 1)
	orch.Write(lba, data, func(err error) { ch <- err })
	select {
	case err := <-ch:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("write did not complete in time")
		return nil
	}
}

func readAndWait(t *testing.T, orch *frontend.Orchestrator, lba int64) ([]byte, error) {
	t.Helper()
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	orch.Read(lba, func(data []byte, err error) { ch <- result{data, err} })
	select {
	case r := <-ch:
		return r.data, r.err
	case <-time.After(3 * time.Second):
		t.Fatal("read did not complete in time")
		return nil, nil
	}
}

func TestRAID5_WriteThenReadRoundTrip(t *testing.T) {
	_, orch := buildTestVolume(t, 3)

	data := []byte("0123456789abcdef")
	require.NoError(t, writeAndWait(t, orch, 0, data))

	got, err := readAndWait(t, orch, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRAID5_DegradedReadReconstructsViaParity(t *testing.T) {
	vol, orch := buildTestVolume(t, 3)

	data := []byte("raid5-is-neat!!!")
	require.NoError(t, writeAndWait(t, orch, 0, data))

	layout := wire.Locate(0, 3)
	vol.SetSlotState(layout.DataDisk, frontend.SlotOffline)
	assert.Equal(t, frontend.VolumeDegraded, vol.State())

	got, err := readAndWait(t, orch, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got, "degraded read must reconstruct the exact original bytes via parity")
}

func TestRAID5_ReadFailsWhenTwoDisksOffline(t *testing.T) {
	vol, orch := buildTestVolume(t, 3)

	require.NoError(t, writeAndWait(t, orch, 0, []byte("0123456789abcdef")))

	vol.SetSlotState(0, frontend.SlotOffline)
	vol.SetSlotState(1, frontend.SlotOffline)
	assert.True(t, vol.Dead())

	_, err := readAndWait(t, orch, 0)
	assert.Error(t, err)
}

func TestRAID5_DegradedWriteMarksParityStale(t *testing.T) {
	vol, orch := buildTestVolume(t, 3)

	layout := wire.Locate(0, 3)
	vol.SetSlotState(layout.ParityDisk, frontend.SlotOffline)

	err := writeAndWait(t, orch, 0, []byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.True(t, vol.ParityStale(layout.Stripe))
}

// unusedTCPPort returns a port nothing is listening on, by briefly binding
// then releasing it.
func unusedTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close())
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

// TestRAID5_ReadReconstructsOnTransientFailureWithoutFlippingSlot guards
// against a reconstruction path that only excludes the failed disk once
// its slot has actually flipped to SlotFailed. markFailed's hysteresis
// budget means a single failed /get_block leaves the data disk's slot
// SlotOnline, so Read's step-2-to-3 fallback (spec.md §4.8) must still
// exclude that disk from the XOR even though its slot says "online".
func TestRAID5_ReadReconstructsOnTransientFailureWithoutFlippingSlot(t *testing.T) {
	vol, orch := buildTestVolume(t, 3)

	data := []byte("raid5-is-neat!!!")
	require.NoError(t, writeAndWait(t, orch, 0, data))

	layout := wire.Locate(0, 3)
	diskUUID := fmt.Sprintf("disk%d", layout.DataDisk)
	require.True(t, vol.Bind(diskUUID, "127.0.0.1", unusedTCPPort(t)))
	require.Equal(t, frontend.SlotOnline, vol.Slot(layout.DataDisk).State,
		"a single transient failure must not itself flip the slot")

	got, err := readAndWait(t, orch, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got, "reconstruction must exclude the target data disk even while its slot is still online")
}

func TestRAID5_MultipleLBAsInDifferentStripes(t *testing.T) {
	_, orch := buildTestVolume(t, 3)

	for lba := int64(0); lba < 6; lba++ {
		data := []byte(fmt.Sprintf("blk-%012d", lba))
		require.NoError(t, writeAndWait(t, orch, lba, data))
	}
	for lba := int64(0); lba < 6; lba++ {
		want := []byte(fmt.Sprintf("blk-%012d", lba))
		got, err := readAndWait(t, orch, lba)
		require.NoError(t, err)
		assert.Equal(t, want, got, "lba %d", lba)
	}
}
