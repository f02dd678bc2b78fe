package protoserver

import (
	"bytes"
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/plcrun/plcrun/internal/image"
	"github.com/plcrun/plcrun/internal/journal"
)

func newTestServer(t *testing.T) (*Server, *image.Tables) {
	t.Helper()
	tables := image.New()
	var cell uint8
	tables.BindByte(image.ByteOutput, 0, &cell)

	j := journal.New(tables)
	j.Init()

	cfg := DefaultConfig()
	cfg.Server.BindAddress = "127.0.0.1"
	cfg.Server.Port = 0 // placeholder, overwritten below via a probe listener
	cfg.SystemAreas.MK.Enabled = false
	cfg.SystemAreas.PE.Enabled = false
	cfg.SystemAreas.PA = SystemAreaConfig{Enabled: true, SizeBytes: 16, Mapping: Mapping{Type: MappingByte}}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s, err := New(cfg, tables, j, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, tables
}

func newTestServerWithPE(t *testing.T) (*Server, *journal.Journal, *uint8) {
	t.Helper()
	tables := image.New()
	var cell uint8
	tables.BindByte(image.ByteInput, 0, &cell)

	j := journal.New(tables)
	j.Init()

	cfg := DefaultConfig()
	cfg.Server.BindAddress = "127.0.0.1"
	cfg.SystemAreas.MK.Enabled = false
	cfg.SystemAreas.PA.Enabled = false
	cfg.SystemAreas.PE = SystemAreaConfig{Enabled: true, SizeBytes: 16, Mapping: Mapping{Type: MappingByte}}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s, err := New(cfg, tables, j, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, j, &cell
}

func dialServer(t *testing.T, s *Server) net.Conn {
	t.Helper()
	addr := "127.0.0.1:" + strconv.Itoa(s.cfg.Server.Port)
	var conn net.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, err = net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("dial %s: %v", addr, err)
	return nil
}

func TestServerReadReturnsCurrentValue(t *testing.T) {
	s, tables := newTestServer(t)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	var cell uint8
	tables.BindByte(image.ByteOutput, 0, &cell)
	cell = 7

	conn := dialServer(t, s)
	defer conn.Close()

	req := make([]byte, requestHeaderSize)
	req[0] = byte(OpRead)
	req[1] = byte(AreaPA)
	binary.BigEndian.PutUint32(req[4:8], 0)
	binary.BigEndian.PutUint32(req[8:12], 1)
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("Write: %v", err)
	}

	resp := make([]byte, 5+1)
	if _, err := readFull(conn, resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp[0] != byte(StatusOK) {
		t.Fatalf("status = %d, want StatusOK", resp[0])
	}
	if resp[5] != 7 {
		t.Fatalf("read value = %d, want 7", resp[5])
	}
}

func TestServerUnknownAreaReturnsStatus(t *testing.T) {
	s, _ := newTestServer(t)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn := dialServer(t, s)
	defer conn.Close()

	req := make([]byte, requestHeaderSize)
	req[0] = byte(OpRead)
	req[1] = byte(AreaDB)
	binary.BigEndian.PutUint16(req[2:4], 99)
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("Write: %v", err)
	}

	resp := make([]byte, 5)
	if _, err := readFull(conn, resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp[0] != byte(StatusUnknownArea) {
		t.Fatalf("status = %d, want StatusUnknownArea", resp[0])
	}
}

func TestServerStopClosesListener(t *testing.T) {
	s, _ := newTestServer(t)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(s.cfg.Server.Port), 50*time.Millisecond); err == nil {
		t.Fatal("dial succeeded after Stop, want connection refused")
	}
}

func TestServerWriteToPEAreaIsSilentlyDropped(t *testing.T) {
	s, j, cell := newTestServerWithPE(t)
	*cell = 0x42
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn := dialServer(t, s)
	defer conn.Close()

	writeReq := make([]byte, requestHeaderSize+1)
	writeReq[0] = byte(OpWrite)
	writeReq[1] = byte(AreaPE)
	binary.BigEndian.PutUint32(writeReq[8:12], 1)
	writeReq[requestHeaderSize] = 0x99
	if _, err := conn.Write(writeReq); err != nil {
		t.Fatalf("Write: %v", err)
	}

	writeResp := make([]byte, 5)
	if _, err := readFull(conn, writeResp); err != nil {
		t.Fatalf("read write response: %v", err)
	}
	// The wire accepts the write (the remote client gets no error); the
	// journal silently drops it without queueing an entry, matching a real
	// PE write from an industrial HMI client.
	if writeResp[0] != byte(StatusOK) {
		t.Fatalf("write status = %d, want StatusOK", writeResp[0])
	}

	s.tables.Lock()
	j.ApplyAndClear()
	s.tables.Unlock()

	if *cell != 0x42 {
		t.Fatalf("cell = %#x after applying a PE write, want unchanged 0x42", *cell)
	}

	readReq := make([]byte, requestHeaderSize)
	readReq[0] = byte(OpRead)
	readReq[1] = byte(AreaPE)
	binary.BigEndian.PutUint32(readReq[8:12], 1)
	if _, err := conn.Write(readReq); err != nil {
		t.Fatalf("Write: %v", err)
	}

	readResp := make([]byte, 5+1)
	if _, err := readFull(conn, readResp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if readResp[0] != byte(StatusOK) {
		t.Fatalf("read status = %d, want StatusOK", readResp[0])
	}
	if readResp[5] != 0x42 {
		t.Fatalf("PE read-back = %#x, want unchanged 0x42", readResp[5])
	}
}

func TestServerIdentityQueryReturnsConfiguredStrings(t *testing.T) {
	s, _, _ := newTestServerWithPE(t)
	s.cfg.Identity = identityConfig{VendorName: "plcrun", ModuleName: "ref", SerialNumber: "1"}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn := dialServer(t, s)
	defer conn.Close()

	req := make([]byte, requestHeaderSize)
	req[0] = byte(OpIdentity)
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("Write: %v", err)
	}

	header := make([]byte, 5)
	if _, err := readFull(conn, header); err != nil {
		t.Fatalf("read response header: %v", err)
	}
	if header[0] != byte(StatusOK) {
		t.Fatalf("status = %d, want StatusOK", header[0])
	}
	length := binary.BigEndian.Uint32(header[1:])
	payload := make([]byte, length)
	if _, err := readFull(conn, payload); err != nil {
		t.Fatalf("read response payload: %v", err)
	}
	want := encodeIdentity(s.cfg.Identity)
	if !bytes.Equal(payload, want) {
		t.Fatalf("payload = %v, want %v", payload, want)
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	conn.SetReadDeadline(time.Now().Add(time.Second))
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
