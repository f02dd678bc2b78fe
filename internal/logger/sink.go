package logger

import (
	"net"
	"sync"
	"time"
)

// SinkWriter is an io.Writer over a UNIX-domain socket that reconnects on
// every write failure instead of giving up, so a restarted log collector
// picks back up without the core needing to notice. Failed writes are
// swallowed (logging must never block or crash the scan-cycle thread on a
// missing collector).
type SinkWriter struct {
	path string

	mu   sync.Mutex
	conn net.Conn
}

// NewSinkWriter returns a SinkWriter for the UNIX socket at path. The
// first connection attempt happens lazily, on the first Write.
func NewSinkWriter(path string) *SinkWriter {
	return &SinkWriter{path: path}
}

func (w *SinkWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		conn, err := net.DialTimeout("unix", w.path, 500*time.Millisecond)
		if err != nil {
			return len(p), nil
		}
		w.conn = conn
	}

	if _, err := w.conn.Write(p); err != nil {
		w.conn.Close()
		w.conn = nil
	}
	return len(p), nil
}

// Close releases the underlying connection, if any.
func (w *SinkWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}
