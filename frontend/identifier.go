package frontend

import (
	"time"

	"github.com/joeycumines/raid5/internal/logx"
	"github.com/joeycumines/raid5/netutil"
	"github.com/joeycumines/raid5/reactor"
	"github.com/joeycumines/raid5/wire"
)

// DiscoveredDisk is one Block Device as last heard from multicast
// discovery (spec.md §4.7), keyed by disk_uuid in Directory.
type DiscoveredDisk struct {
	DiskUUID   string
	VolumeUUID string
	Address    string
	Port       int
	LastSeen   time.Time
}

// DiscoveryTTL is how long a disk is considered present after its last
// declaration before Directory expires it (spec.md §4.7 "stale entries
// removed"); no explicit multiplier is given in spec.md, so three missed
// beacon intervals is used, matching the hysteresis style already used
// for disk failure detection elsewhere in this package.
const DiscoveryTTL = 3 * time.Second

// Directory tracks every currently-declared Block Device disk, expiring
// entries that have gone quiet.
type Directory struct {
	now     func() time.Time
	ttl     time.Duration
	entries map[string]DiscoveredDisk
}

// NewDirectory constructs an empty Directory using wall-clock time.
func NewDirectory() *Directory {
	return &Directory{now: time.Now, ttl: DiscoveryTTL, entries: map[string]DiscoveredDisk{}}
}

// Observe records or refreshes a declaration.
func (d *Directory) Observe(disk DiscoveredDisk) {
	disk.LastSeen = d.now()
	d.entries[disk.DiskUUID] = disk
}

// Expire drops every entry not seen within the TTL.
func (d *Directory) Expire() {
	now := d.now()
	for k, v := range d.entries {
		if now.Sub(v.LastSeen) > d.ttl {
			delete(d.entries, k)
		}
	}
}

// Snapshot returns a copy of every currently-known disk, keyed by
// disk_uuid.
func (d *Directory) Snapshot() map[string]DiscoveredDisk {
	out := make(map[string]DiscoveredDisk, len(d.entries))
	for k, v := range d.entries {
		out[k] = v
	}
	return out
}

// IdentifierSocket is the Frontend side of multicast discovery (spec.md
// §4.7): a receive-only UDP socket that decodes every Block Device
// declaration datagram and feeds it into a Directory, periodically
// reconciling the Directory against a VolumeManager. Grounded on
// original_source/frontend's identifier pollable (not present in the
// retrieved source tree, so this is built directly from spec.md §4.7
// mirroring blockdevice.DeclarerSocket's encode/send counterpart) and
// blockdevice/declarer.go's Pollable shape.
type IdentifierSocket struct {
	reactor.BaseConn

	fd  int
	dir *Directory
	vm  *VolumeManager
	buf [2048]byte
	log logx.Logger

	rebuilds []rebuildTarget
	active   map[rebuildKey]*Rebuilder
}

// NewIdentifierSocket joins group:port and begins listening for
// declarations, reconciling discoveries into vm.
func NewIdentifierSocket(group string, port int, dir *Directory, vm *VolumeManager, log logx.Logger) (*IdentifierSocket, error) {
	fd, err := netutil.ListenMulticastUDP(group, port)
	if err != nil {
		return nil, err
	}
	return &IdentifierSocket{fd: fd, dir: dir, vm: vm, log: log, active: map[rebuildKey]*Rebuilder{}}, nil
}

// TrackRebuild registers a volume/orchestrator pair whose slots should be
// watched for a SlotRebuilding transition, so a Rebuilder can be spun up
// automatically once discovery binds a replacement disk (spec.md §4.7
// "Volume binding", §4.8 "Rebuild").
func (s *IdentifierSocket) TrackRebuild(vol *Volume, orch *Orchestrator, totalStripes int64) {
	s.rebuilds = append(s.rebuilds, rebuildTarget{vol: vol, orch: orch, totalStripes: totalStripes})
}

type rebuildTarget struct {
	vol          *Volume
	orch         *Orchestrator
	totalStripes int64
}

type rebuildKey struct {
	volumeUUID string
	diskIndex  int
}

// stepRebuilds notices any slot that Reconcile has just moved into
// SlotRebuilding, starts a Rebuilder for it if one isn't already running,
// and steps every active Rebuilder once (spec.md §4.8 "Rebuild").
func (s *IdentifierSocket) stepRebuilds() {
	for _, t := range s.rebuilds {
		for i, slot := range t.vol.Slots() {
			key := rebuildKey{volumeUUID: t.vol.UUID, diskIndex: i}
			if slot.State != SlotRebuilding {
				delete(s.active, key)
				continue
			}
			rb, ok := s.active[key]
			if !ok {
				rb = NewRebuilder(t.vol, t.orch, i, t.totalStripes, s.log)
				s.active[key] = rb
			}
			if rb.Done() {
				delete(s.active, key)
				continue
			}
			rb.Step()
		}
	}
}

func (s *IdentifierSocket) FD() int                  { return s.fd }
func (s *IdentifierSocket) Events() reactor.IOEvents { return reactor.EventRead | reactor.EventError }

// OnRead drains every pending declaration datagram, decoding and
// recording each into the Directory (spec.md §4.7).
func (s *IdentifierSocket) OnRead() {
	for {
		n, addr, ok, err := netutil.RecvFromUDPAddr(s.fd, s.buf[:])
		if err != nil {
			s.log.Warning().Err(err).Log("identifier recv failed")
			return
		}
		if !ok {
			return
		}
		decl, err := wire.DecodeDeclaration(s.buf[:n])
		if err != nil {
			s.log.Warning().Err(err).Log("malformed declaration datagram")
			continue
		}
		host := addr
		if h, _, splitErr := splitHostPort(addr); splitErr == nil {
			host = h
		}
		s.dir.Observe(DiscoveredDisk{
			DiskUUID:   decl.DiskUUID,
			VolumeUUID: decl.VolumeUUID,
			Address:    host,
			Port:       decl.BindPort,
		})
	}
}

func (s *IdentifierSocket) OnError(err error) {
	s.log.Warning().Err(err).Log("identifier socket error")
}

// OnIdle expires stale entries and reconciles current discoveries
// against every registered volume (spec.md §4.7 "Volume binding").
func (s *IdentifierSocket) OnIdle() {
	s.dir.Expire()
	s.vm.Reconcile(s.dir.Snapshot())
	s.stepRebuilds()
}

func (s *IdentifierSocket) OnClose() { _ = netutil.CloseFD(s.fd) }

// splitHostPort strips the ":port" suffix netutil's address formatting
// appends, since the declaration's own bind_port field (not the UDP
// source port) is the disk's reachable TCP port.
func splitHostPort(addr string) (string, string, error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return addr, "", nil
}
