//go:build linux
// +build linux

package poller

import (
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fzft/go-mini-reactor/log"
)

const (
	readEvents  = unix.EPOLLPRI | unix.EPOLLIN
	writeEvents = unix.EPOLLOUT
)

// DefaultMaxEvents caps how many events one wait call drains.
const DefaultMaxEvents = 1024

// epollSelector is the Linux backend. Registrations are edge-triggered so a
// readiness transition fires at most once until the owner re-registers,
// matching the one-shot waker discipline upstairs.
type epollSelector struct {
	epfd      int
	maxEvents int
	closed    int32
}

// NewSelector opens a new epoll instance.
func NewSelector(maxEvents int) (Selector, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		log.Logger.Error("failed to create epoll", zap.Error(err))
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	return &epollSelector{epfd: epfd, maxEvents: maxEvents}, nil
}

func (s *epollSelector) Register(fd int, token Token, interest Interest) error {
	// the kernel echoes the event data back on wait, so the token rides
	// in the fd slot of the data union
	ev := &unix.EpollEvent{
		Events: epollFlags(interest),
		Fd:     int32(token),
	}

	err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, ev)
	if err == unix.EEXIST {
		return os.NewSyscallError("epoll_ctl mod", unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, ev))
	}
	return os.NewSyscallError("epoll_ctl add", err)
}

func (s *epollSelector) Deregister(fd int) error {
	return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil))
}

func (s *epollSelector) Wait(timeout time.Duration) ([]Event, error) {
	if atomic.LoadInt32(&s.closed) == 1 {
		return nil, ErrSelectorClosed
	}

	msec := -1
	if timeout >= 0 {
		msec = int(timeout.Milliseconds())
	}

	buf := make([]unix.EpollEvent, s.maxEvents)
	for {
		n, err := unix.EpollWait(s.epfd, buf, msec)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, os.NewSyscallError("epoll_wait", err)
		}

		events := make([]Event, 0, n)
		for i := 0; i < n; i++ {
			events = append(events, Event{
				Token:    Token(buf[i].Fd),
				Interest: observedInterest(buf[i].Events),
			})
		}
		return events, nil
	}
}

func (s *epollSelector) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return ErrSelectorClosed
	}
	return os.NewSyscallError("close", unix.Close(s.epfd))
}

func epollFlags(interest Interest) uint32 {
	flags := uint32(unix.EPOLLET)
	if interest.IsReadable() {
		flags |= readEvents
	}
	if interest.IsWritable() {
		flags |= writeEvents
	}
	return flags
}

// observedInterest maps raw epoll flags back onto the Interest bitmask.
// EPOLLERR and EPOLLHUP surface as both conditions so the waiting owner is
// woken to observe the failure on its own descriptor.
func observedInterest(events uint32) Interest {
	var interest Interest
	if events&(readEvents|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		interest |= Readable
	}
	if events&(writeEvents|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		interest |= Writable
	}
	return interest
}
