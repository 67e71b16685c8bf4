//go:build linux

package reactor

import "golang.org/x/sys/unix"

// wakeFD lets goroutines outside the reactor (e.g. a BlockDeviceClient
// dial completing on its own goroutine is intentionally NOT used by this
// spec, which is strictly single-threaded; wakeFD exists for Reactor.Close
// being callable from a signal handler goroutine) interrupt a blocked
// Poll call. Grounded on eventloop's createWakeFd/drainWakeUpPipe pair,
// simplified to the single eventfd-as-both-ends Linux case.
type wakeFD struct {
	fd int
}

func newWakeFD() (*wakeFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &wakeFD{fd: fd}, nil
}

func (w *wakeFD) FD() int { return w.fd }

// Signal wakes a blocked Poll call. Safe to call from any goroutine.
func (w *wakeFD) Signal() {
	var buf [8]byte
	buf[7] = 1
	_, _ = unix.Write(w.fd, buf[:])
}

// Drain consumes any pending wakeups so the eventfd stops reading ready.
func (w *wakeFD) Drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(w.fd, buf[:])
		if err != nil {
			return
		}
	}
}

func (w *wakeFD) Close() error {
	return unix.Close(w.fd)
}
