package sna

import (
	"bytes"
	"errors"
	"testing"
)

func TestFlagOffsets(t *testing.T) {
	tests := []struct {
		name   string
		offset int
		size   int
	}{
		{"Z80_AF", 0x11, 2},
		{"Z80_PC", 0x23, 2},
		{"Z80_HX", 0x2D, 1},
		{"GA_PEN", 0x2E, 1},
		{"CRTC_SEL", 0x42, 1},
		{"ROM_UP", 0x55, 1},
		{"CPC_TYPE", 0x6D, 1},
		{"FDD_MOTOR", 0x9C, 1},
		{"CRTC_STATE", 0xB0, 2},
		{"INT_REQ", 0xB4, 1},
	}
	for _, tt := range tests {
		f, err := ParseFlag(tt.name)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if f.Offset() != tt.offset || f.ElemSize() != tt.size {
			t.Errorf("%s: offset 0x%02X size %d, want 0x%02X %d",
				tt.name, f.Offset(), f.ElemSize(), tt.offset, tt.size)
		}
	}
}

func TestFlagTaxonomyIsClosed(t *testing.T) {
	if got := len(flagTable); got != 67 {
		t.Errorf("flag table has %d members, want 67", got)
	}
}

func TestIndexedFlags(t *testing.T) {
	f, err := ParseFlag("GA_PAL:4")
	if err != nil {
		t.Fatal(err)
	}
	if f.Offset() != 0x2F+4 {
		t.Errorf("GA_PAL:4 offset = 0x%02X", f.Offset())
	}
	if _, err := ParseFlag("GA_PAL:17"); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("palette index 17: %v", err)
	}
	if _, err := ParseFlag("CRTC_REG:18"); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("crtc index 18: %v", err)
	}
	if _, err := ParseFlag("Z80_PC:1"); err == nil {
		t.Error("indexing a scalar flag should fail")
	}
	if _, err := ParseFlag("NOT_A_FLAG"); !errors.Is(err, ErrUnknownFlag) {
		t.Errorf("unknown flag: %v", err)
	}
}

func TestSetFlagLastWriteWins(t *testing.T) {
	s := New()
	f, _ := ParseFlag("Z80_SP")
	if err := s.SetFlag(f, 0x1234); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFlag(f, 0xBEEF); err != nil {
		t.Fatal(err)
	}
	if got := s.GetFlag(f); got != 0xBEEF {
		t.Errorf("Z80_SP = 0x%04X, want 0xBEEF", got)
	}
	if s.Header[0x21] != 0xEF || s.Header[0x22] != 0xBE {
		t.Errorf("little-endian layout: % X", s.Header[0x21:0x23])
	}
}

func TestSetFlagValueTooLarge(t *testing.T) {
	s := New()
	f, _ := ParseFlag("GA_PEN")
	if err := s.SetFlag(f, 0x100); !errors.Is(err, ErrValueTooLarge) {
		t.Errorf("byte flag with word value: %v", err)
	}
}

func TestRoundTripV3(t *testing.T) {
	s := New()
	pc, _ := ParseFlag("Z80_PC")
	s.SetFlag(pc, 0x4000)
	copy(s.Main[0x4000:], []byte{0x3E, 0x2A, 0xC9})

	page := make([]byte, PageSize)
	for i := range page {
		page[i] = byte(i)
	}
	s.Pages[2] = page
	s.AddBreakpoints([]Breakpoint{{Address: 0x4001, Type: 1}})
	s.SetSymbols("START 4000\n")

	loaded, err := Read(s.Bytes())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if loaded.GetFlag(pc) != 0x4000 {
		t.Errorf("PC = 0x%04X", loaded.GetFlag(pc))
	}
	if !bytes.Equal(loaded.Main[0x4000:0x4003], []byte{0x3E, 0x2A, 0xC9}) {
		t.Error("main memory lost")
	}
	if !bytes.Equal(loaded.Pages[2], page) {
		t.Error("extra page lost")
	}
	rows := loaded.Breakpoints()
	if len(rows) != 1 || rows[0].Address != 0x4001 || rows[0].Type != 1 {
		t.Errorf("breakpoints = %+v", rows)
	}
}

func TestV1DropsHighPages(t *testing.T) {
	s := New()
	s.Version = 1
	s.Pages[0] = make([]byte, PageSize)
	s.Pages[6] = make([]byte, PageSize)

	raw := s.Bytes()
	if len(s.Warnings) == 0 {
		t.Error("dropping page 6 should warn")
	}
	// 128K dump: header + 64K main + 64K extra
	if len(raw) != HeaderSize+MainSize+4*PageSize {
		t.Errorf("image size = %d", len(raw))
	}
	if raw[0x6B] != 128 {
		t.Errorf("dump size byte = %d", raw[0x6B])
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	if _, err := Read([]byte("not a snapshot")); !errors.Is(err, ErrNotASnapshot) {
		t.Errorf("garbage: %v", err)
	}
}
