//go:build linux
// +build linux

// Package httpc is a minimal HTTP GET client expressed as a hand-written
// state-machine future. It exists to exercise the runtime against real
// sockets; the connection is an ordinary source to the core, there is no
// protocol handling beyond writing one request and buffering the response.
package httpc

import (
	"bytes"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fzft/go-mini-reactor/log"
	"github.com/fzft/go-mini-reactor/poller"
	"github.com/fzft/go-mini-reactor/runtime"
)

const (
	stateNotStarted = iota
	stateWaiting
	stateDone
)

// GetFuture resolves with the raw HTTP response as a string, or with an
// error value if the request failed. One tagged state per suspension point:
// {stateNotStarted, stateWaiting, stateDone}.
type GetFuture struct {
	reactor *runtime.Reactor
	addr    string
	path    string

	state int
	fd    int
	id    uint64
	buf   bytes.Buffer
	out   string
}

// Get prepares a GET request for path against addr (host:port). Nothing
// happens until the future is first polled.
func Get(rt *runtime.Runtime, addr, path string) *GetFuture {
	return &GetFuture{
		reactor: rt.Reactor(),
		addr:    addr,
		path:    path,
		fd:      -1,
	}
}

// Fd exposes the connection's descriptor so the registry can track it.
func (g *GetFuture) Fd() int {
	return g.fd
}

func (g *GetFuture) Poll(w *runtime.Waker) runtime.PollState {
	if g.state == stateDone {
		return runtime.Ready(g.out)
	}

	if g.state == stateNotStarted {
		if err := g.start(); err != nil {
			g.state = stateDone
			return runtime.Ready(err)
		}

		g.id = g.reactor.NextID()
		if err := g.reactor.Register(g, poller.Readable, g.id); err != nil {
			g.closeSocket()
			g.state = stateDone
			return runtime.Ready(err)
		}
		g.state = stateWaiting

		// fall through and read right away: the response may already
		// be buffered, and edge-triggered delivery will not repeat
		// the edge we might otherwise miss
	}

	g.reactor.SetWaker(w, g.id)

	chunk := make([]byte, 4096)
	for {
		n, err := unix.Read(g.fd, chunk)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return runtime.NotReady
		case err != nil:
			g.teardown()
			return runtime.Ready(os.NewSyscallError("read", err))
		case n == 0:
			// peer closed, response complete
			g.teardown()
			g.out = g.buf.String()
			return runtime.Ready(g.out)
		default:
			g.buf.Write(chunk[:n])
		}
	}
}

// Close is the cancellation path: deregister outstanding interest and
// release the socket.
func (g *GetFuture) Close() error {
	if g.state != stateWaiting {
		return nil
	}
	g.teardown()
	g.state = stateDone
	return nil
}

// start connects and writes the request while the socket is still in
// blocking mode, then switches it nonblocking for the read side.
func (g *GetFuture) start() error {
	sa, family, err := resolve(g.addr)
	if err != nil {
		return err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return os.NewSyscallError("socket", err)
	}

	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return os.NewSyscallError("connect", err)
	}

	req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", g.path, g.addr)
	if _, err := unix.Write(fd, []byte(req)); err != nil {
		unix.Close(fd)
		return os.NewSyscallError("write", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return os.NewSyscallError("set nonblock", err)
	}

	g.fd = fd
	log.Logger.Debug("request sent", zap.String("addr", g.addr), zap.String("path", g.path), zap.Int("fd", fd))
	return nil
}

func (g *GetFuture) teardown() {
	if err := g.reactor.Deregister(g, g.id); err != nil {
		log.Logger.Debug("deregister failed", zap.Error(err))
	}
	g.closeSocket()
	g.state = stateDone
}

func (g *GetFuture) closeSocket() {
	if g.fd >= 0 {
		unix.Close(g.fd)
		g.fd = -1
	}
}

func resolve(addr string) (unix.Sockaddr, int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, 0, err
	}

	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}

	sa := &unix.SockaddrInet6{Port: tcpAddr.Port}
	copy(sa.Addr[:], tcpAddr.IP.To16())
	return sa, unix.AF_INET6, nil
}
