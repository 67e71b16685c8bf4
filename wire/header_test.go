package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader_RoundTrip(t *testing.T) {
	h := Header{
		VolumeUUID: UUIDBytes("11111111-1111-1111-1111-111111111111"),
		DiskUUID:   UUIDBytes("22222222-2222-2222-2222-222222222222"),
		DiskIndex:  2,
		N:          3,
		BlockSize:  4096,
		Generation: 42,
	}
	buf := h.Encode()
	require.Len(t, buf, HeaderSize)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestHeader_CorruptedByteFailsCRC(t *testing.T) {
	h := Header{VolumeUUID: UUIDBytes("v"), DiskUUID: UUIDBytes("d"), DiskIndex: 0, N: 3, BlockSize: 4096, Generation: 1}
	buf := h.Encode()
	buf[10] ^= 0xFF

	_, err := Decode(buf)
	assert.Error(t, err)
}

func TestHeader_BadMagic(t *testing.T) {
	h := Header{N: 3, BlockSize: 4096}
	buf := h.Encode()
	buf[0] ^= 0xFF

	_, err := Decode(buf)
	assert.Error(t, err)
}

func TestHeader_ShortBuffer(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize-1))
	assert.Error(t, err)
}

func TestUUIDBytes_TruncatesAndPads(t *testing.T) {
	short := UUIDBytes("abc")
	assert.Equal(t, byte('a'), short[0])
	assert.Equal(t, byte(0), short[15])

	long := UUIDBytes("0123456789abcdefghij")
	assert.Len(t, long, 16)
	assert.Equal(t, byte('0'), long[0])
}
