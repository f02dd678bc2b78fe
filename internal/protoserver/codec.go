package protoserver

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/plcrun/plcrun/internal/perr"
)

func putBigEndian16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func putBigEndian32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func putBigEndian64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }

func getBigEndian16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func getBigEndian32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func getBigEndian64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

// Op names a request frame's operation.
type Op uint8

const (
	OpRead     Op = 1
	OpWrite    Op = 2
	OpIdentity Op = 3 // identity query; area/number/offset/length are ignored
)

// requestHeaderSize is the fixed 12-byte header every frame carries:
// 1 byte op, 1 byte area code, 2 bytes area number, 4 bytes offset,
// 4 bytes length. A write frame's payload (length bytes) follows the
// header; a read frame carries no payload.
const requestHeaderSize = 12

// Request is one decoded client frame.
type Request struct {
	Op     Op
	Area   AreaCode
	Number uint16
	Offset uint32
	Length uint32
	Data   []byte // populated for OpWrite
}

// ReadRequest reads one frame from r. It enforces maxPDU on the header's
// declared length, rejecting oversized frames the way a real PDU
// negotiation would (spec.md §4.5 PDU size).
func ReadRequest(r io.Reader, maxPDU int) (Request, error) {
	header := make([]byte, requestHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Request{}, err
	}

	req := Request{
		Op:     Op(header[0]),
		Area:   AreaCode(header[1]),
		Number: getBigEndian16(header[2:4]),
		Offset: getBigEndian32(header[4:8]),
		Length: getBigEndian32(header[8:12]),
	}

	if int(req.Length) > maxPDU {
		return Request{}, fmt.Errorf("request length %d exceeds negotiated PDU size %d: %w", req.Length, maxPDU, perr.ErrPeerProtocolError)
	}

	if req.Op == OpWrite {
		req.Data = make([]byte, req.Length)
		if _, err := io.ReadFull(r, req.Data); err != nil {
			return Request{}, err
		}
	}

	return req, nil
}

// Status is the one-byte result code every response frame leads with.
type Status uint8

const (
	StatusOK              Status = 0
	StatusUnknownArea     Status = 1
	StatusOutOfRange      Status = 2
	StatusUnsupportedOp   Status = 3
)

// WriteResponse writes a response frame: 1 byte status, 4 bytes payload
// length, then the payload (empty for writes and errors).
func WriteResponse(w io.Writer, status Status, payload []byte) error {
	header := make([]byte, 5)
	header[0] = byte(status)
	putBigEndian32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// encodeIdentity frames an OpIdentity response payload: vendor_name,
// module_name, and serial_number in that order, each as a 2-byte
// big-endian length prefix followed by its UTF-8 bytes.
func encodeIdentity(id identityConfig) []byte {
	fields := []string{id.VendorName, id.ModuleName, id.SerialNumber}
	out := make([]byte, 0, len(fields)*2)
	for _, f := range fields {
		var lenBuf [2]byte
		putBigEndian16(lenBuf[:], uint16(len(f)))
		out = append(out, lenBuf[:]...)
		out = append(out, f...)
	}
	return out
}
