package blockdevice

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/raid5/wire"
)

func openTestStore(t *testing.T, blockSize int) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	s, err := Open(path, blockSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_WriteThenReadBlockRoundTrip(t *testing.T) {
	s := openTestStore(t, 16)

	data := []byte("0123456789abcdef")
	require.NoError(t, s.WriteBlock(3, data))

	got, err := s.ReadBlock(3)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStore_HeaderBlockIsIndexNegativeOne(t *testing.T) {
	s := openTestStore(t, wire.HeaderSize)

	h := wire.Header{
		VolumeUUID: wire.UUIDBytes("vol"),
		DiskUUID:   wire.UUIDBytes("disk"),
		DiskIndex:  1,
		N:          3,
		BlockSize:  uint32(wire.HeaderSize),
		Generation: 7,
	}
	require.NoError(t, s.WriteHeader(h))

	got, err := s.ReadHeader()
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestStore_WriteBlockRejectsWrongSize(t *testing.T) {
	s := openTestStore(t, 16)
	err := s.WriteBlock(0, []byte("short"))
	assert.Error(t, err)
}

func TestStore_UnwrittenHoleReadsAsZeros(t *testing.T) {
	s := openTestStore(t, 8)
	// Writing a far block first extends the backing file, so an earlier,
	// never-written block falls inside the file's (zero-filled) sparse
	// region rather than past EOF.
	require.NoError(t, s.WriteBlock(9, []byte("deadbeef")))

	got, err := s.ReadBlock(5)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), got)
}

func TestStore_ReadPastEndOfFileReadsAsZeros(t *testing.T) {
	// A completely untouched disk file must still serve its stripes as
	// zeros, otherwise the first write to a freshly initialized volume
	// (which reads old data/parity before computing the new parity)
	// would fail outright.
	s := openTestStore(t, 8)
	got, err := s.ReadBlock(5)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), got)
}

func TestStore_BlockSizeReportsConfigured(t *testing.T) {
	s := openTestStore(t, 4096)
	assert.Equal(t, 4096, s.BlockSize())
}
