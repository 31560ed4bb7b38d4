package amsdos

import (
	"bytes"
	"errors"
	"testing"

	"github.com/cpcsdk/cpcasm/pkg/edsk"
)

func TestFilenameNormalisation(t *testing.T) {
	fn, err := ParseFilename("game.bin")
	if err != nil {
		t.Fatal(err)
	}
	if fn.Name != "GAME" || fn.Ext != "BIN" {
		t.Errorf("parsed = %+v", fn)
	}

	if _, err := ParseFilename("waytoolongname.bin"); !errors.Is(err, ErrInvalidFilename) {
		t.Error("overlong name accepted")
	}
	if _, err := ParseFilename("bad*.bin"); !errors.Is(err, ErrInvalidFilename) {
		t.Error("invalid character accepted")
	}
	if _, err := ParseFilename("ok!.{z}"); err != nil {
		t.Errorf("punctuation set rejected: %v", err)
	}
}

func TestEntryByteLayout(t *testing.T) {
	e := &Entry{
		User:     0,
		Filename: Filename{Name: "HELLO", Ext: "BIN"},
		ReadOnly: true,
		System:   true,
		Extent:   1,
		Records:  42,
	}
	e.Blocks[0] = 2
	e.Blocks[1] = 3

	raw := e.ToBytes()
	if raw[0] != 0 || raw[12] != 1 || raw[15] != 42 {
		t.Errorf("scalar fields: % X", raw[:16])
	}
	if raw[9]&0x80 == 0 {
		t.Error("read-only flag must ride bit 7 of ext[0]")
	}
	if raw[10]&0x80 == 0 {
		t.Error("system flag must ride bit 7 of ext[1]")
	}

	back := EntryFromBytes(raw)
	if back.Filename.Name != "HELLO" || back.Filename.Ext != "BIN" ||
		!back.ReadOnly || !back.System || back.Extent != 1 || back.Records != 42 ||
		back.Blocks[0] != 2 || back.Blocks[1] != 3 {
		t.Errorf("round trip lost fields: %+v", back)
	}
}

func TestHeaderChecksum(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	h, err := BuildHeader("test.bin", TypeBinary, 0x4000, 0x4000, data)
	if err != nil {
		t.Fatal(err)
	}
	if !h.IsValid() {
		t.Fatal("freshly built header should be valid")
	}
	if h.LoadAddress() != 0x4000 || h.Length() != 4 || h.Type() != TypeBinary {
		t.Errorf("fields: load=%04X len=%d type=%d", h.LoadAddress(), h.Length(), h.Type())
	}

	corrupted := append([]byte(nil), h.Bytes()...)
	corrupted[21] ^= 0xFF
	if _, err := HeaderFromBytes(corrupted); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("corruption not detected: %v", err)
	}
}

func newFs(t *testing.T) *Fs {
	t.Helper()
	return New(edsk.New(edsk.DataFormat), 0)
}

func TestAddAndGetFile(t *testing.T) {
	fs := newFs(t)
	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i)
	}
	file, err := NewBinaryFile("demo.bin", 0x8000, 0x8000, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.AddFile(file, false, false); err != nil {
		t.Fatal(err)
	}

	got, err := fs.GetFile("demo.bin")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Content, payload) {
		t.Error("payload lost in round trip")
	}
	if got.Header == nil || got.Header.LoadAddress() != 0x8000 {
		t.Errorf("header = %+v", got.Header)
	}
}

func TestMultiExtentFile(t *testing.T) {
	fs := newFs(t)
	// over 16 KiB forces a second extent
	payload := make([]byte, 20*1024)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	file, err := NewBinaryFile("big.bin", 0x100, 0x100, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.AddFile(file, false, false); err != nil {
		t.Fatal(err)
	}

	entries, err := fs.Catalog()
	if err != nil {
		t.Fatal(err)
	}
	var extents []uint8
	for _, e := range entries {
		if e.BelongsTo(file.Filename) {
			extents = append(extents, e.Extent)
		}
	}
	if len(extents) != 2 || extents[0] != 0 || extents[1] != 1 {
		t.Fatalf("extents = %v", extents)
	}

	got, err := fs.GetFile("big.bin")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Content, payload) {
		t.Error("multi-extent payload lost")
	}
}

func TestAllocatorFairness(t *testing.T) {
	fs := newFs(t)
	for i, name := range []string{"a.bin", "b.bin", "c.bin"} {
		payload := bytes.Repeat([]byte{byte(i)}, 2048)
		file, err := NewBinaryFile(name, 0, 0, payload)
		if err != nil {
			t.Fatal(err)
		}
		if err := fs.AddFile(file, false, false); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := fs.Catalog()
	if err != nil {
		t.Fatal(err)
	}
	var blocks []uint8
	for _, e := range entries {
		if e.IsErased() {
			continue
		}
		blocks = append(blocks, e.Blocks[:e.NbBlocks()]...)
	}
	// blocks 0 and 1 hold the catalog; files start at 2, contiguous
	for i, b := range blocks {
		if int(b) != i+2 {
			t.Fatalf("block sequence %v, want 2,3,4,...", blocks)
		}
	}
}

func TestDuplicateAddRejected(t *testing.T) {
	fs := newFs(t)
	file, err := NewBinaryFile("dup.bin", 0, 0, []byte{1})
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.AddFile(file, false, false); err != nil {
		t.Fatal(err)
	}
	if err := fs.AddFile(file, false, false); err == nil {
		t.Error("duplicate add should fail")
	}
}
