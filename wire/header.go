// Package wire implements the byte-level contracts that cross process
// boundaries: the on-disk block -1 header, RAID-5 LBA addressing, and the
// UDP multicast discovery datagram (spec.md §3, §4.7, §6).
package wire

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/joeycumines/raid5/internal/raiderr"
)

// HeaderSize is the fixed on-disk size of the block -1 header, per
// spec.md §3: magic(4) | volume_uuid(16) | disk_uuid(16) | disk_index(4) |
// N(4) | block_size(4) | generation(8) | crc32(4).
const HeaderSize = 4 + 16 + 16 + 4 + 4 + 4 + 8 + 4

// Magic identifies a valid header block.
var Magic = [4]byte{'R', 'D', '5', 0x01}

// Header is the decoded block -1 contents.
type Header struct {
	VolumeUUID [16]byte
	DiskUUID   [16]byte
	DiskIndex  uint32
	N          uint32
	BlockSize  uint32
	Generation uint64
}

// Encode serializes h into a HeaderSize-byte buffer, computing its CRC32
// over every preceding byte (hash/crc32 is stdlib: a one-function CRC-32
// checksum has no business pulling in a third-party dependency).
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	off := 0
	copy(buf[off:], Magic[:])
	off += 4
	copy(buf[off:], h.VolumeUUID[:])
	off += 16
	copy(buf[off:], h.DiskUUID[:])
	off += 16
	binary.BigEndian.PutUint32(buf[off:], h.DiskIndex)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], h.N)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], h.BlockSize)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], h.Generation)
	off += 8
	sum := crc32.ChecksumIEEE(buf[:off])
	binary.BigEndian.PutUint32(buf[off:], sum)
	return buf
}

// UUIDBytes packs an identifier string into a 16-byte header field. The
// source spec treats disk_uuid/volume_uuid as opaque 16-byte identifiers
// without mandating RFC 4122 parsing; this repo's identifiers are plain
// config-supplied strings, so they are copied (truncated or zero-padded)
// rather than parsed as canonical UUIDs.
func UUIDBytes(s string) [16]byte {
	var b [16]byte
	copy(b[:], s)
	return b
}

// Decode parses and CRC-validates a header block, returning
// raiderr.ErrHeaderCorrupt if the magic or checksum does not match.
func Decode(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, raiderr.Wrap(raiderr.ErrHeaderCorrupt, "short header block")
	}
	if [4]byte(buf[0:4]) != Magic {
		return h, raiderr.Wrap(raiderr.ErrHeaderCorrupt, "bad magic")
	}
	want := binary.BigEndian.Uint32(buf[HeaderSize-4:])
	got := crc32.ChecksumIEEE(buf[:HeaderSize-4])
	if want != got {
		return h, raiderr.Wrap(raiderr.ErrHeaderCorrupt, "crc mismatch")
	}
	off := 4
	copy(h.VolumeUUID[:], buf[off:off+16])
	off += 16
	copy(h.DiskUUID[:], buf[off:off+16])
	off += 16
	h.DiskIndex = binary.BigEndian.Uint32(buf[off:])
	off += 4
	h.N = binary.BigEndian.Uint32(buf[off:])
	off += 4
	h.BlockSize = binary.BigEndian.Uint32(buf[off:])
	off += 4
	h.Generation = binary.BigEndian.Uint64(buf[off:])
	return h, nil
}
