// Package command implements the line-oriented UNIX-socket command
// server spec.md §6 describes: an external management collaborator sends
// one of start/stop/status/reload per line and gets back a single
// response line. It is an opaque front end onto the scan-cycle engine's
// own state machine — the server only ever calls Engine methods, never
// touches image tables or the journal directly.
//
// Grounded on internal/transport/server.go's ListenAndServe(ctx) shape:
// stale-socket cleanup, a single accept loop, and a ctx.Done/errCh select
// for shutdown.
package command

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/plcrun/plcrun/internal/scan"
)

type Server struct {
	engine     *scan.Engine
	socketPath string
	reload     func() error
}

// NewServer returns a Server bound to engine. reload, if non-nil, is
// invoked for the "reload" command (typically re-reading the plugin
// descriptor file); a nil reload makes "reload" always fail.
func NewServer(engine *scan.Engine, socketPath string, reload func() error) *Server {
	return &Server{engine: engine, socketPath: socketPath, reload: reload}
}

// ListenAndServe binds the command socket and serves connections until
// ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", s.socketPath, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.acceptLoop(ln) }()

	select {
	case <-ctx.Done():
		ln.Close()
		os.Remove(s.socketPath)
		return nil
	case err := <-errCh:
		os.Remove(s.socketPath)
		return err
	}
}

func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}
	cmd := strings.TrimSpace(scanner.Text())

	resp := s.dispatch(cmd)
	fmt.Fprintln(conn, resp)
}

func (s *Server) dispatch(cmd string) string {
	switch cmd {
	case "start":
		return s.handleStart()
	case "stop":
		s.engine.Stop()
		return "OK"
	case "status":
		return s.handleStatus()
	case "reload":
		return s.handleReload()
	default:
		return "ERR unknown command " + cmd
	}
}

func (s *Server) handleStart() string {
	switch s.engine.State() {
	case scan.Init, scan.Stopped:
		go s.engine.Start(context.Background())
		return "OK"
	case scan.Running:
		return "ERR already running"
	default:
		return fmt.Sprintf("ERR cannot start from state %s", s.engine.State())
	}
}

func (s *Server) handleStatus() string {
	snap := s.engine.Stats()
	return fmt.Sprintf("OK state=%s tick=%d overruns=%d scan_mean=%s",
		s.engine.State(), s.engine.TickCounter(), snap.Overruns, snap.ScanMean)
}

func (s *Server) handleReload() string {
	if s.reload == nil {
		return "ERR reload not supported"
	}
	if err := s.reload(); err != nil {
		return "ERR " + err.Error()
	}
	return "OK"
}
