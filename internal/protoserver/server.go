package protoserver

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/plcrun/plcrun/internal/image"
)

// state names the protocol plugin's own state machine, independent of
// the scan-cycle engine's: UNINITIALISED -> INITIALISED -> RUNNING <->
// STOPPED -> CLEANED (spec.md §4.5).
type state int

const (
	stateUninitialised state = iota
	stateInitialised
	stateRunning
	stateStopped
	stateCleaned
)

// Server is the reference protocol-server plugin's TCP listener and area
// registry. Grounded on internal/direct/server.go's listener-under-mutex
// lifecycle (Start/Close with a guarded net.Listener field), adapted from
// an HTTP/WebSocket server to a raw binary-framed TCP server.
type Server struct {
	cfg   Config
	log   *slog.Logger
	areas map[areaKey]*Area

	tables  *image.Tables
	journal JournalWriter

	mu       sync.Mutex
	state    state
	listener net.Listener
	conns    map[net.Conn]struct{}
}

type areaKey struct {
	code   AreaCode
	number int
}

// New builds a Server from a validated Config, allocating one Area per
// declared data_blocks[] entry and enabled system area.
func New(cfg Config, tables *image.Tables, j JournalWriter, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     log,
		areas:   make(map[areaKey]*Area),
		tables:  tables,
		journal: j,
		conns:   make(map[net.Conn]struct{}),
	}

	if cfg.SystemAreas.PE.Enabled {
		a, err := NewArea(AreaPE, 0, cfg.SystemAreas.PE.SizeBytes, cfg.SystemAreas.PE.Mapping)
		if err != nil {
			return nil, err
		}
		s.areas[areaKey{AreaPE, 0}] = a
	}
	if cfg.SystemAreas.PA.Enabled {
		a, err := NewArea(AreaPA, 0, cfg.SystemAreas.PA.SizeBytes, cfg.SystemAreas.PA.Mapping)
		if err != nil {
			return nil, err
		}
		s.areas[areaKey{AreaPA, 0}] = a
	}
	if cfg.SystemAreas.MK.Enabled {
		a, err := NewArea(AreaMK, 0, cfg.SystemAreas.MK.SizeBytes, cfg.SystemAreas.MK.Mapping)
		if err != nil {
			return nil, err
		}
		s.areas[areaKey{AreaMK, 0}] = a
	}
	for _, db := range cfg.DataBlocks {
		a, err := NewArea(AreaDB, db.DBNumber, db.SizeBytes, db.Mapping)
		if err != nil {
			return nil, err
		}
		s.areas[areaKey{AreaDB, db.DBNumber}] = a
	}

	s.state = stateInitialised
	return s, nil
}

// Start binds the listener and begins accepting connections in the
// background. Bind failure on a privileged port is reported with a
// specific hint, per spec.md §4.5's failure semantics.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.state != stateInitialised && s.state != stateStopped {
		s.mu.Unlock()
		return fmt.Errorf("protoserver: Start called in state %d, want INITIALISED or STOPPED", s.state)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.BindAddress, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		if s.cfg.Server.Port < 1024 {
			return fmt.Errorf("protoserver: bind %s failed (port < 1024 may need elevated privileges): %w", addr, err)
		}
		return fmt.Errorf("protoserver: bind %s failed: %w", addr, err)
	}

	s.listener = ln
	s.state = stateRunning
	s.mu.Unlock()

	if s.cfg.Logging.LogConnections {
		s.log.Info("protocol server listening", "addr", addr)
	}

	go s.acceptLoop(ln)
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if len(s.conns) >= s.cfg.Server.MaxClients {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		if s.cfg.Logging.LogConnections {
			s.log.Info("protocol server client connected", "remote", conn.RemoteAddr())
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	recvTimeout := time.Duration(s.cfg.Server.RecvTimeoutMs) * time.Millisecond
	sendTimeout := time.Duration(s.cfg.Server.SendTimeoutMs) * time.Millisecond

	for {
		if recvTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(recvTimeout))
		}
		req, err := ReadRequest(conn, s.cfg.Server.PDUSize)
		if err != nil {
			return
		}

		if sendTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(sendTimeout))
		}
		s.handleRequest(conn, req)
	}
}

func (s *Server) handleRequest(conn net.Conn, req Request) {
	if req.Op == OpIdentity {
		if s.cfg.Logging.LogDataAccess {
			s.log.Debug("protocol server identity query")
		}
		WriteResponse(conn, StatusOK, encodeIdentity(s.cfg.Identity))
		return
	}

	area, ok := s.areas[areaKey{req.Area, int(req.Number)}]
	if !ok {
		if s.cfg.Logging.LogErrors {
			s.log.Warn("protocol server unknown area", "code", req.Area, "number", req.Number)
		}
		WriteResponse(conn, StatusUnknownArea, nil)
		return
	}

	switch req.Op {
	case OpRead:
		s.tables.Lock()
		payload, err := area.Snapshot(s.tables, int(req.Offset), int(req.Length))
		s.tables.Unlock()
		if err != nil {
			WriteResponse(conn, StatusOutOfRange, nil)
			return
		}
		if s.cfg.Logging.LogDataAccess {
			s.log.Debug("protocol server read", "area", req.Area, "number", req.Number, "offset", req.Offset, "length", req.Length)
		}
		WriteResponse(conn, StatusOK, payload)

	case OpWrite:
		if err := area.WriteThroughJournal(s.journal, int(req.Offset), req.Data); err != nil {
			WriteResponse(conn, StatusOutOfRange, nil)
			return
		}
		if s.cfg.Logging.LogDataAccess {
			s.log.Debug("protocol server write", "area", req.Area, "number", req.Number, "offset", req.Offset, "length", len(req.Data))
		}
		WriteResponse(conn, StatusOK, nil)

	default:
		WriteResponse(conn, StatusUnsupportedOp, nil)
	}
}

// Stop closes the listener and drains connected clients.
func (s *Server) Stop() error {
	s.mu.Lock()
	ln := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.state = stateStopped
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	return nil
}

// Cleanup frees staging buffers (by dropping references to the area
// registry) and marks the plugin CLEANED.
func (s *Server) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.areas = nil
	s.state = stateCleaned
	return nil
}
