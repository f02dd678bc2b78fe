package protoserver

import (
	"testing"

	"github.com/plcrun/plcrun/internal/image"
	"github.com/plcrun/plcrun/internal/journal"
)

func TestSnapshotReadsByteAreaInOrder(t *testing.T) {
	tables := image.New()
	var cells [4]uint8
	for i := range cells {
		cells[i] = uint8(10 + i)
		tables.BindByte(image.ByteOutput, i, &cells[i])
	}

	area, err := NewArea(AreaPA, 0, 4, Mapping{Type: MappingByte, StartBuffer: 0})
	if err != nil {
		t.Fatalf("NewArea: %v", err)
	}

	tables.Lock()
	out, err := area.Snapshot(tables, 0, 4)
	tables.Unlock()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	want := []byte{10, 11, 12, 13}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestSnapshotRejectsOutOfRange(t *testing.T) {
	tables := image.New()
	area, err := NewArea(AreaMK, 0, 4, Mapping{Type: MappingByte})
	if err != nil {
		t.Fatalf("NewArea: %v", err)
	}
	tables.Lock()
	_, err = area.Snapshot(tables, 2, 10)
	tables.Unlock()
	if err == nil {
		t.Fatal("Snapshot() err = nil, want out-of-range error")
	}
}

func TestSnapshotEncodesIntBigEndian(t *testing.T) {
	tables := image.New()
	var cell uint16 = 0x0102
	tables.BindInt(image.IntMemory, 0, &cell)

	area, err := NewArea(AreaMK, 0, 2, Mapping{Type: MappingInt})
	if err != nil {
		t.Fatalf("NewArea: %v", err)
	}
	tables.Lock()
	out, err := area.Snapshot(tables, 0, 2)
	tables.Unlock()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if out[0] != 0x01 || out[1] != 0x02 {
		t.Fatalf("out = %v, want big-endian [0x01, 0x02]", out)
	}
}

func TestWriteThroughJournalAppliesByteValue(t *testing.T) {
	tables := image.New()
	var cell uint8
	tables.BindByte(image.ByteOutput, 0, &cell)

	j := journal.New(tables)
	j.Init()

	area, err := NewArea(AreaPA, 0, 1, Mapping{Type: MappingByte})
	if err != nil {
		t.Fatalf("NewArea: %v", err)
	}
	if err := area.WriteThroughJournal(j, 0, []byte{0x42}); err != nil {
		t.Fatalf("WriteThroughJournal: %v", err)
	}

	tables.Lock()
	j.ApplyAndClear()
	tables.Unlock()

	if cell != 0x42 {
		t.Fatalf("cell = %#x, want 0x42", cell)
	}
}

func TestWriteThroughJournalDecodesDintBigEndian(t *testing.T) {
	tables := image.New()
	var cell uint32
	tables.BindDint(image.DintMemory, 0, &cell)

	j := journal.New(tables)
	j.Init()

	area, err := NewArea(AreaMK, 0, 4, Mapping{Type: MappingDint})
	if err != nil {
		t.Fatalf("NewArea: %v", err)
	}
	if err := area.WriteThroughJournal(j, 0, []byte{0x00, 0x00, 0x01, 0x00}); err != nil {
		t.Fatalf("WriteThroughJournal: %v", err)
	}

	tables.Lock()
	j.ApplyAndClear()
	tables.Unlock()

	if cell != 0x100 {
		t.Fatalf("cell = %#x, want 0x100", cell)
	}
}

func TestWriteThroughJournalRejectsOutOfRange(t *testing.T) {
	tables := image.New()
	j := journal.New(tables)
	j.Init()

	area, err := NewArea(AreaPA, 0, 2, Mapping{Type: MappingByte})
	if err != nil {
		t.Fatalf("NewArea: %v", err)
	}
	if err := area.WriteThroughJournal(j, 1, []byte{1, 2, 3}); err == nil {
		t.Fatal("WriteThroughJournal() err = nil, want out-of-range error")
	}
}

func TestWriteThroughJournalDropsInputAreaWrite(t *testing.T) {
	tables := image.New()
	var cell uint8
	tables.BindByte(image.ByteInput, 0, &cell)
	cell = 0x55

	j := journal.New(tables)
	j.Init()

	area, err := NewArea(AreaPE, 0, 1, Mapping{Type: MappingByte})
	if err != nil {
		t.Fatalf("NewArea: %v", err)
	}
	if err := area.WriteThroughJournal(j, 0, []byte{0x99}); err != nil {
		t.Fatalf("WriteThroughJournal: %v", err)
	}

	tables.Lock()
	j.ApplyAndClear()
	tables.Unlock()

	if cell != 0x55 {
		t.Fatalf("cell = %#x, want unchanged 0x55 (a PE write must be silently dropped)", cell)
	}
}

func TestAreaRoleClassifiesInputAreasForWriteSuppression(t *testing.T) {
	if AreaPE.role() != "input" {
		t.Fatalf("AreaPE.role() = %q, want input", AreaPE.role())
	}
	if !image.ByteInput.IsInput() {
		t.Fatal("image.ByteInput.IsInput() = false, want true")
	}
}
