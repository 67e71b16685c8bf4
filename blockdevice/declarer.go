package blockdevice

import (
	"github.com/joeycumines/raid5/internal/logx"
	"github.com/joeycumines/raid5/netutil"
	"github.com/joeycumines/raid5/reactor"
	"github.com/joeycumines/raid5/wire"
)

// DeclarerSocket is the Block Device side of multicast discovery (spec.md
// §4.7): a send-only UDP socket that beacons this disk's identity on
// every reactor idle tick, grounded on
// original_source/block_device/pollables/declarer_socket.py.
type DeclarerSocket struct {
	reactor.BaseConn

	fd    int
	group string
	port  int

	decl []byte
	log  logx.Logger
}

// NewDeclarerSocket opens the send-only multicast socket for disk_uuid,
// announcing bindPort/volume_uuid to group:port.
func NewDeclarerSocket(group string, port int, diskUUID string, bindPort int, volumeUUID string, log logx.Logger) (*DeclarerSocket, error) {
	fd, err := netutil.DeclareSocketUDP()
	if err != nil {
		return nil, err
	}
	decl := wire.Declaration{DiskUUID: diskUUID, BindPort: bindPort, VolumeUUID: volumeUUID}.Encode()
	return &DeclarerSocket{fd: fd, group: group, port: port, decl: decl, log: log}, nil
}

func (d *DeclarerSocket) FD() int { return d.fd }

// Events returns only ERROR: no read interest, per spec.md §4.7.
func (d *DeclarerSocket) Events() reactor.IOEvents { return reactor.EventError }

func (d *DeclarerSocket) OnError(err error) {
	d.log.Warning().Err(err).Log("declarer socket error")
}

// OnIdle sends one beacon datagram per idle tick (roughly every
// poll_timeout, per spec.md §4.7).
func (d *DeclarerSocket) OnIdle() {
	if _, err := netutil.SendToUDP(d.fd, d.group, d.port, d.decl); err != nil {
		d.log.Warning().Err(err).Log("declare send failed")
	}
}

func (d *DeclarerSocket) OnClose() { _ = netutil.CloseFD(d.fd) }
