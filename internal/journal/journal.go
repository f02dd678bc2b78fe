// Package journal implements the journal buffer: an append-only, bounded
// write log that absorbs plugin writes between scan-cycle ticks and applies
// them to the image tables, in sequence order, exactly once per tick.
package journal

import (
	"fmt"
	"sync"

	"github.com/plcrun/plcrun/internal/image"
	"github.com/plcrun/plcrun/internal/perr"
)

// Capacity is J in spec.md: the fixed number of entries the journal can
// hold before an emergency flush is triggered.
const Capacity = 1024

// ErrNotInitialised is returned by a Write* call made before Init or after
// Cleanup once it has passed its type and bit checks and targets a
// non-input family. A write to an input family returns nil whether or not
// the journal is initialised.
var ErrNotInitialised = perr.ErrJournalNotInitialised

var (
	ErrInvalidType     = fmt.Errorf("journal: buffer type out of range for this write family")
	ErrInvalidBitIndex = fmt.Errorf("journal: bit index out of range")
)

// Entry is one pending write, value-typed so the journal can store entries
// inline without pointers.
type Entry struct {
	Sequence   uint32
	BufferType image.BufferType
	BitIndex   uint8 // 0..7 for bool families, image.NoBit otherwise
	Index      uint16
	Value      uint64
}

// Journal is the (entries, count, next_sequence, journal_lock, image_lock_ref)
// state described in spec.md §3. The zero value is not initialised; call
// Init before use.
type Journal struct {
	mu           sync.Mutex
	entries      [Capacity]Entry
	count        int
	nextSequence uint32
	initialised  bool

	tables *image.Tables
}

// New returns a Journal bound to tables but not yet initialised.
func New(tables *image.Tables) *Journal {
	return &Journal{tables: tables}
}

// Init zeroes the entry log and marks the journal ready to accept writes.
func (j *Journal) Init() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = [Capacity]Entry{}
	j.count = 0
	j.nextSequence = 0
	j.initialised = true
}

// Cleanup marks the journal uninitialised and zeroes its state.
func (j *Journal) Cleanup() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = [Capacity]Entry{}
	j.count = 0
	j.nextSequence = 0
	j.initialised = false
}

// Pending returns the current entry count.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

// WriteBool appends a 1-bit write. bt must name a bool family and bit must
// be in 0..7.
func (j *Journal) WriteBool(bt image.BufferType, index uint16, bit uint8, value bool) error {
	if !bt.IsBool() {
		return ErrInvalidType
	}
	if bit > 7 {
		return ErrInvalidBitIndex
	}
	if bt.IsInput() {
		return nil
	}
	var v uint64
	if value {
		v = 1
	}
	return j.append(bt, bit, index, v)
}

// WriteByte appends an 8-bit write. bt must name a byte family.
func (j *Journal) WriteByte(bt image.BufferType, index uint16, value uint8) error {
	if !bt.IsByte() {
		return ErrInvalidType
	}
	if bt.IsInput() {
		return nil
	}
	return j.append(bt, image.NoBit, index, uint64(value))
}

// WriteInt appends a 16-bit write. bt must name an int family.
func (j *Journal) WriteInt(bt image.BufferType, index uint16, value uint16) error {
	if !bt.IsInt() {
		return ErrInvalidType
	}
	if bt.IsInput() {
		return nil
	}
	return j.append(bt, image.NoBit, index, uint64(value))
}

// WriteDint appends a 32-bit write. bt must name a dint family.
func (j *Journal) WriteDint(bt image.BufferType, index uint16, value uint32) error {
	if !bt.IsDint() {
		return ErrInvalidType
	}
	if bt.IsInput() {
		return nil
	}
	return j.append(bt, image.NoBit, index, uint64(value))
}

// WriteLint appends a 64-bit write. bt must name a lint family.
func (j *Journal) WriteLint(bt image.BufferType, index uint16, value uint64) error {
	if !bt.IsLint() {
		return ErrInvalidType
	}
	if bt.IsInput() {
		return nil
	}
	return j.append(bt, image.NoBit, index, value)
}

// append assigns the next sequence number and stores the entry, performing
// an emergency flush first if the log is already full. Bounds checks on
// index are deferred to apply time, so writers stay O(1) and panic-free.
// Writes against an input buffer type never reach here: each Write*
// caller drops them before calling append, since a remote write to an
// input area is silently suppressed, not merely deferred.
func (j *Journal) append(bt image.BufferType, bit uint8, index uint16, value uint64) error {
	j.mu.Lock()
	if !j.initialised {
		j.mu.Unlock()
		return ErrNotInitialised
	}

	if j.count == Capacity {
		// Emergency flush: release the journal lock, acquire the image lock,
		// reacquire the journal lock (strict image-then-journal ordering),
		// apply-and-clear, release the image lock. This is the only path
		// inside the journal that acquires the image lock on its own.
		j.mu.Unlock()
		j.tables.Lock()
		j.mu.Lock()
		j.applyAndClearLocked()
		j.tables.Unlock()
		// j.mu is still held here; count is now 0 and we fall through to
		// the normal insertion path below.
	}

	seq := j.nextSequence
	j.entries[j.count] = Entry{
		Sequence:   seq,
		BufferType: bt,
		BitIndex:   bit,
		Index:      index,
		Value:      value,
	}
	j.count++
	j.nextSequence++
	j.mu.Unlock()
	return nil
}

// ApplyAndClear applies every pending entry to the image tables, in
// insertion (= sequence) order, then resets the journal to empty. The
// caller must already hold the image lock — this is the scan-cycle
// engine's responsibility at the start of every tick.
func (j *Journal) ApplyAndClear() {
	j.mu.Lock()
	j.applyAndClearLocked()
	j.mu.Unlock()
}

// applyAndClearLocked does the actual apply-and-clear work. Callers must
// already hold j.mu; the image lock must be held by the journal's caller
// (either the tick body or the emergency-flush path, both of which take it
// before calling in).
func (j *Journal) applyAndClearLocked() {
	for i := 0; i < j.count; i++ {
		e := j.entries[i]
		j.tables.Apply(e.BufferType, e.BitIndex, e.Index, e.Value)
	}
	j.count = 0
	j.nextSequence = 0
}
