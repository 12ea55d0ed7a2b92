// Package testserver runs the delay-inducing HTTP harness: GET /{ms}/{msg}
// sleeps ms milliseconds and echoes msg. It exists only to manufacture slow
// I/O for integration tests.
package testserver

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Server struct {
	ln  net.Listener
	srv *http.Server
}

// Start listens on addr (use "127.0.0.1:0" for an ephemeral port) and
// serves in the background.
func Start(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{Handler: http.HandlerFunc(delayHandler)}
	go srv.Serve(ln)

	return &Server{ln: ln, srv: srv}, nil
}

// Addr reports the bound address, host:port.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Close() error {
	return s.srv.Close()
}

func delayHandler(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	if len(parts) != 2 {
		http.Error(w, "want /{delay-ms}/{message}", http.StatusBadRequest)
		return
	}

	delay, err := strconv.Atoi(parts[0])
	if err != nil || delay < 0 {
		http.Error(w, "bad delay", http.StatusBadRequest)
		return
	}

	time.Sleep(time.Duration(delay) * time.Millisecond)
	fmt.Fprint(w, parts[1])
}
