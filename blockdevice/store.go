// Package blockdevice implements the Block Device server role: local
// block storage behind GetBlockService/SetBlockService, disk-info and
// login services, and multicast self-announcement (spec.md §4.6, §4.7,
// §6), grounded on _examples/original_source/block_device/*.
package blockdevice

import (
	"io"
	"os"
	"sync"

	"github.com/joeycumines/raid5/internal/raiderr"
	"github.com/joeycumines/raid5/wire"
)

// Store is one disk's local block storage: a single file addressed as
// spec.md §3 describes — block -1 (the header) at offset 0, block k at
// offset block_size*(k+1).
type Store struct {
	mu        sync.Mutex
	f         *os.File
	blockSize int
}

// Open opens (creating if necessary) the backing file for a disk.
func Open(path string, blockSize int) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, raiderr.Wrap(raiderr.ErrDiskIO, "open disk file")
	}
	return &Store{f: f, blockSize: blockSize}, nil
}

func (s *Store) offset(k int64) int64 {
	return s.blockSize64() * (k + 1)
}

func (s *Store) blockSize64() int64 { return int64(s.blockSize) }

// ReadBlock reads exactly block_size bytes for block index k (k may be -1
// for the header). A block that has never been written (including one
// past the current end of the file) reads as all zeros, matching a fresh
// disk member's untouched stripes.
func (s *Store) ReadBlock(k int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, s.blockSize)
	if _, err := s.f.ReadAt(buf, s.offset(k)); err != nil && err != io.EOF {
		return nil, raiderr.Wrap(raiderr.ErrDiskIO, "read block")
	}
	return buf, nil
}

// WriteBlock writes exactly block_size bytes at block index k.
func (s *Store) WriteBlock(k int64, data []byte) error {
	if len(data) != s.blockSize {
		return raiderr.Wrap(raiderr.ErrProtocolMalformed, "block must be exactly block_size bytes")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.WriteAt(data, s.offset(k)); err != nil {
		return raiderr.Wrap(raiderr.ErrDiskIO, "write block")
	}
	return nil
}

// ReadHeader reads and CRC-validates block -1.
func (s *Store) ReadHeader() (wire.Header, error) {
	buf, err := s.ReadBlock(-1)
	if err != nil {
		return wire.Header{}, err
	}
	return wire.Decode(buf)
}

// WriteHeader serializes and writes h to block -1 (on volume initialize
// and on every rebuild completion, per spec.md §3).
func (s *Store) WriteHeader(h wire.Header) error {
	buf := h.Encode()
	padded := make([]byte, s.blockSize)
	copy(padded, buf)
	return s.WriteBlock(-1, padded)
}

func (s *Store) BlockSize() int { return s.blockSize }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
