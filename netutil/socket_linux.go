//go:build linux

// Package netutil provides the raw non-blocking socket primitives the
// reactor's Pollables are built on. Grounded on eventloop/fd_unix.go's
// thin-wrapper-over-unix convention, extended from plain read/write/close
// to the listen/accept/connect/multicast calls a socket reactor needs —
// the teacher's eventloop package assumes fds are already open (it's
// generic over any fd source), so this is new code in its idiom rather
// than an adaptation of an existing file.
package netutil

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// ReadFD, WriteFD and CloseFD mirror eventloop/fd_unix.go exactly: thin
// wrappers so callers never import golang.org/x/sys/unix directly.
func ReadFD(fd int, buf []byte) (int, error)  { return unix.Read(fd, buf) }
func WriteFD(fd int, buf []byte) (int, error) { return unix.Write(fd, buf) }
func CloseFD(fd int) error                    { return unix.Close(fd) }

// ListenTCP creates a non-blocking, listening IPv4 TCP socket bound to
// addr:port. Passing port 0 lets the kernel choose; BoundPort reports the
// result.
func ListenTCP(addr string, port int) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	sa, err := inet4Addr(addr, port)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// BoundPort returns the local port a socket (e.g. from ListenTCP with
// port 0) was bound to.
func BoundPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	if v, ok := sa.(*unix.SockaddrInet4); ok {
		return v.Port, nil
	}
	return 0, fmt.Errorf("netutil: unexpected sockaddr type %T", sa)
}

// Accept accepts one pending connection from a non-blocking listening
// socket, returning (fd, remoteAddr). A nil error with fd -1 means "no
// pending connection" (EAGAIN) rather than a real failure — callers must
// check fd before treating it as an error.
func Accept(listenFD int) (fd int, remoteAddr string, err error) {
	connFD, sa, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN {
			return -1, "", nil
		}
		return -1, "", err
	}
	if v, ok := sa.(*unix.SockaddrInet4); ok {
		remoteAddr = fmt.Sprintf("%d.%d.%d.%d:%d", v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3], v.Port)
	}
	return connFD, remoteAddr, nil
}

// DialTCP starts a non-blocking outbound connection. The connect may still
// be in progress (EINPROGRESS) when this returns; the caller must wait for
// the fd to become writable before treating it as connected.
func DialTCP(addr string, port int) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	sa, err := inet4Addr(addr, port)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// ConnectError returns the pending error on a socket whose non-blocking
// connect just became writable (SO_ERROR), nil meaning connect succeeded.
func ConnectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

// ListenMulticastUDP opens a non-blocking UDP socket bound to port,
// joined to group so datagrams sent to that multicast address are
// delivered locally. Used by IdentifierSocket (Frontend side).
func ListenMulticastUDP(group string, port int) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	sa := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	ip := net.ParseIP(group).To4()
	if ip == nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netutil: invalid multicast group %q", group)
	}
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], ip)
	if err := unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// DeclareSocketUDP opens a non-blocking UDP socket suitable for sending
// multicast beacons (DeclarerSocket, Block Device side). It does not join
// the group — it only transmits.
func DeclareSocketUDP() (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	ttl := 1
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, ttl); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// SendToUDP sends buf to group:port. EAGAIN is reported via ok=false,
// err=nil (the caller retries on the next idle tick rather than treating
// it as failure).
func SendToUDP(fd int, group string, port int, buf []byte) (ok bool, err error) {
	sa, err := inet4Addr(group, port)
	if err != nil {
		return false, err
	}
	if err := unix.Sendto(fd, buf, 0, sa); err != nil {
		if err == unix.EAGAIN {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RecvFromUDP reads one pending datagram. ok=false, err=nil signals
// EAGAIN (no datagram pending).
func RecvFromUDP(fd int, buf []byte) (n int, ok bool, err error) {
	n, _, err = unix.Recvfrom(fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, false, nil
		}
		return 0, false, err
	}
	return n, true, nil
}

// RecvFromUDPAddr is RecvFromUDP plus the sender's address, used by
// IdentifierSocket (spec.md §4.7) to learn a declaring Block Device's
// reachable address from the multicast datagram's own source, rather
// than from the (self-reported, spoofable) datagram payload.
func RecvFromUDPAddr(fd int, buf []byte) (n int, addr string, ok bool, err error) {
	var sa unix.Sockaddr
	n, sa, err = unix.Recvfrom(fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, "", false, nil
		}
		return 0, "", false, err
	}
	if v, ok := sa.(*unix.SockaddrInet4); ok {
		addr = fmt.Sprintf("%d.%d.%d.%d:%d", v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3], v.Port)
	}
	return n, addr, true, nil
}

func inet4Addr(addr string, port int) (unix.Sockaddr, error) {
	if addr == "" {
		return &unix.SockaddrInet4{Port: port}, nil
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		host, portStr, err := net.SplitHostPort(addr)
		if err == nil {
			ip = net.ParseIP(host)
			if p, err2 := strconv.Atoi(portStr); err2 == nil {
				port = p
			}
		}
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("netutil: invalid IPv4 address %q", addr)
	}
	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], ip4)
	return sa, nil
}
