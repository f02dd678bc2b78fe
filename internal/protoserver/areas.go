package protoserver

import (
	"fmt"

	"github.com/plcrun/plcrun/internal/image"
	"github.com/plcrun/plcrun/internal/perr"
)

// JournalWriter is the five journal-write operations an Area needs to
// push a remote write through. It mirrors internal/plugin.JournalWriter's
// method set structurally so this package does not need to import the
// plugin host just to describe the shape of a write sink.
type JournalWriter interface {
	WriteBool(bt image.BufferType, index uint16, bit uint8, value bool) error
	WriteByte(bt image.BufferType, index uint16, value uint8) error
	WriteInt(bt image.BufferType, index uint16, value uint16) error
	WriteDint(bt image.BufferType, index uint16, value uint32) error
	WriteLint(bt image.BufferType, index uint16, value uint64) error
}

// AreaCode names one of the four area kinds a remote frame can address.
type AreaCode uint8

const (
	AreaPE AreaCode = 1 // process inputs
	AreaPA AreaCode = 2 // process outputs
	AreaMK AreaCode = 3 // markers
	AreaDB AreaCode = 4 // numbered data blocks
)

func (c AreaCode) String() string {
	switch c {
	case AreaPE:
		return "PE"
	case AreaPA:
		return "PA"
	case AreaMK:
		return "MK"
	case AreaDB:
		return "DB"
	default:
		return "unknown"
	}
}

// Area is one declared data region: a contiguous byte range bound to an
// image-table family starting at a fixed element index. The plugin
// allocates one staging buffer per area, sized to the area's byte
// length (spec.md §4.5's "Data path").
type Area struct {
	Code      AreaCode
	Number    int // DB number for AreaDB, 0 for the three fixed areas
	SizeBytes int
	Mapping   Mapping
	BufType   image.BufferType

	staging []byte
}

// role returns the logical table-family role an area code implies: a
// remote write to an input area must be dropped (spec.md §4.5's
// input-write-suppression rule), which the journal's Write* methods
// already enforce for any family classified IsInput.
func (c AreaCode) role() string {
	switch c {
	case AreaPE:
		return "input"
	case AreaPA:
		return "output"
	default:
		return "memory"
	}
}

// NewArea resolves a configured area into a runtime Area with its
// staging buffer allocated and its buffer type pinned.
func NewArea(code AreaCode, number, sizeBytes int, mapping Mapping) (*Area, error) {
	bt, err := bufferTypeFor(mapping.Type, code.role())
	if err != nil {
		return nil, fmt.Errorf("area %s#%d: %w", code, number, err)
	}
	return &Area{
		Code:      code,
		Number:    number,
		SizeBytes: sizeBytes,
		Mapping:   mapping,
		BufType:   bt,
		staging:   make([]byte, sizeBytes),
	}, nil
}

// elementWidth returns the byte width of one image-table element for the
// area's mapping. Bool mappings address individual bits within a
// byte-granular cell index, so their element width for offset arithmetic
// is 1 byte (8 bits), matching byte mappings.
func (a *Area) elementWidth() int {
	switch a.Mapping.Type {
	case MappingInt:
		return 2
	case MappingDint:
		return 4
	case MappingLint:
		return 8
	default:
		return 1
	}
}

// Snapshot transcodes [offset, offset+length) of the area into network
// byte order under the image lock, per spec.md §4.5's "On read" path:
// the caller acquires the lock, calls Snapshot, then releases it,
// producing an immediate, consistent view. bool areas are bit-packed;
// 16/32/64-bit areas are big-endian.
func (a *Area) Snapshot(tables *image.Tables, offset, length int) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > a.SizeBytes {
		return nil, fmt.Errorf("area %s#%d: offset %d length %d out of range [0,%d): %w",
			a.Code, a.Number, offset, length, a.SizeBytes, perr.ErrPeerProtocolError)
	}

	out := make([]byte, length)
	width := a.elementWidth()

	switch a.Mapping.Type {
	case MappingBool:
		for i := 0; i < length; i++ {
			idx := a.Mapping.StartBuffer + offset + i
			var b byte
			for bit := 0; bit < 8; bit++ {
				v, _ := tables.ReadBool(a.BufType, idx, bit)
				if v {
					b |= 1 << uint(bit)
				}
			}
			out[i] = b
		}
	case MappingByte:
		for i := 0; i < length; i++ {
			idx := a.Mapping.StartBuffer + offset + i
			v, _ := tables.ReadByte(a.BufType, idx)
			out[i] = v
		}
	case MappingInt:
		for i := 0; i < length/width; i++ {
			idx := a.Mapping.StartBuffer + offset/width + i
			v, _ := tables.ReadInt(a.BufType, idx)
			putBigEndian16(out[i*width:], v)
		}
	case MappingDint:
		for i := 0; i < length/width; i++ {
			idx := a.Mapping.StartBuffer + offset/width + i
			v, _ := tables.ReadDint(a.BufType, idx)
			putBigEndian32(out[i*width:], v)
		}
	case MappingLint:
		for i := 0; i < length/width; i++ {
			idx := a.Mapping.StartBuffer + offset/width + i
			v, _ := tables.ReadLint(a.BufType, idx)
			putBigEndian64(out[i*width:], v)
		}
	}

	copy(a.staging, out)
	return out, nil
}

// WriteThroughJournal decodes data (wire big-endian / bit-packed) and
// emits one journal write per element, per spec.md §4.5's "On write"
// path: no lock is taken; writes land through the journal's own locking,
// and order within the frame is preserved by sequence numbers assigned
// on insertion. A write to an input area is silently dropped by the
// journal's Write* methods (image.BufferType.IsInput), which return nil
// without queueing an entry, not here — the plugin still emits the call,
// matching the "no error reported" contract.
func (a *Area) WriteThroughJournal(j JournalWriter, offset int, data []byte) error {
	if offset < 0 || offset+len(data) > a.SizeBytes {
		return fmt.Errorf("area %s#%d: write offset %d length %d out of range [0,%d): %w",
			a.Code, a.Number, offset, len(data), a.SizeBytes, perr.ErrPeerProtocolError)
	}

	width := a.elementWidth()

	switch a.Mapping.Type {
	case MappingBool:
		for i, b := range data {
			idx := a.Mapping.StartBuffer + offset + i
			for bit := 0; bit < 8; bit++ {
				v := b&(1<<uint(bit)) != 0
				if err := j.WriteBool(a.BufType, uint16(idx), uint8(bit), v); err != nil {
					return err
				}
			}
		}
	case MappingByte:
		for i, b := range data {
			idx := a.Mapping.StartBuffer + offset + i
			if err := j.WriteByte(a.BufType, uint16(idx), b); err != nil {
				return err
			}
		}
	case MappingInt:
		for i := 0; i+width <= len(data); i += width {
			idx := a.Mapping.StartBuffer + (offset+i)/width
			if err := j.WriteInt(a.BufType, uint16(idx), getBigEndian16(data[i:])); err != nil {
				return err
			}
		}
	case MappingDint:
		for i := 0; i+width <= len(data); i += width {
			idx := a.Mapping.StartBuffer + (offset+i)/width
			if err := j.WriteDint(a.BufType, uint16(idx), getBigEndian32(data[i:])); err != nil {
				return err
			}
		}
	case MappingLint:
		for i := 0; i+width <= len(data); i += width {
			idx := a.Mapping.StartBuffer + (offset+i)/width
			if err := j.WriteLint(a.BufType, uint16(idx), getBigEndian64(data[i:])); err != nil {
				return err
			}
		}
	}
	return nil
}
