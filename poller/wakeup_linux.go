//go:build linux
// +build linux

package poller

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"
)

// Wakeup is an eventfd-backed source whose only purpose is unblocking a
// wait from another thread. Registering it readable and calling Set forces
// the next (or current) wait to return, which is how the reactor interrupts
// an infinite-timeout wait at shutdown.
type Wakeup struct {
	fd int
}

func NewWakeup() (*Wakeup, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("eventfd", err)
	}
	return &Wakeup{fd: fd}, nil
}

func (w *Wakeup) Fd() int {
	return w.fd
}

// Set makes the wakeup readable.
func (w *Wakeup) Set() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(w.fd, buf[:])
	if err == unix.EAGAIN {
		// counter saturated, a wakeup is already pending
		return nil
	}
	return os.NewSyscallError("write", err)
}

// Clear drains the pending counter so the next Set fires a fresh edge.
func (w *Wakeup) Clear() error {
	var buf [8]byte
	_, err := unix.Read(w.fd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return os.NewSyscallError("read", err)
}

func (w *Wakeup) Close() error {
	return os.NewSyscallError("close", unix.Close(w.fd))
}
