package edsk

import (
	"bytes"
	"errors"
	"testing"
)

func TestNewFormattedGeometry(t *testing.T) {
	d := New(DataFormat)
	if d.NbTracksPerHead() != 40 {
		t.Fatalf("tracks = %d, want 40", d.NbTracksPerHead())
	}
	if d.MinSector(0) != 0xC1 {
		t.Errorf("min sector = 0x%02X, want 0xC1", d.MinSector(0))
	}
	for id := uint8(0xC1); id <= 0xC9; id++ {
		data, err := d.Sector(0, 0, id)
		if err != nil {
			t.Fatalf("sector 0x%02X: %v", id, err)
		}
		if len(data) != 512 {
			t.Errorf("sector 0x%02X size = %d", id, len(data))
		}
		if data[0] != 0xE5 {
			t.Errorf("sector 0x%02X not formatted with 0xE5", id)
		}
	}

	if New(SystemFormat).MinSector(0) != 0x41 {
		t.Error("system format should start at 0x41")
	}
	if New(IbmFormat).MinSector(0) != 0x01 {
		t.Error("ibm format should start at 0x01")
	}
}

func TestRoundTrip(t *testing.T) {
	d := New(DataFormat)
	sector, err := d.SectorMut(0, 2, 0xC5)
	if err != nil {
		t.Fatal(err)
	}
	copy(sector, []byte("hello sector"))

	raw := d.Bytes()
	loaded, err := Load(raw)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := loaded.Sector(0, 2, 0xC5)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[:12], []byte("hello sector")) {
		t.Errorf("payload lost in round trip: %q", got[:12])
	}
	if loaded.NbTracksPerHead() != 40 {
		t.Errorf("tracks = %d", loaded.NbTracksPerHead())
	}
}

func TestMagicHandling(t *testing.T) {
	if _, err := Load([]byte("garbage")); !errors.Is(err, ErrBadMagic) {
		t.Errorf("short garbage: %v", err)
	}
	junk := make([]byte, 0x200)
	copy(junk, "NOT A DISK IMAGE AT ALL....")
	if _, err := Load(junk); !errors.Is(err, ErrBadMagic) {
		t.Errorf("bad magic: %v", err)
	}
	// the writer must emit the extended magic
	raw := New(DataFormat).Bytes()
	if string(raw[:22]) != "EXTENDED CPC DSK File\r" {
		t.Errorf("written magic = %q", raw[:22])
	}
}

func TestMissingSector(t *testing.T) {
	d := New(DataFormat)
	if _, err := d.Sector(0, 0, 0x41); !errors.Is(err, ErrUnknownSector) {
		t.Errorf("system sector on data disc: %v", err)
	}
	if _, err := d.Sector(0, 99, 0xC1); !errors.Is(err, ErrUnknownTrack) {
		t.Errorf("track 99: %v", err)
	}
	if _, err := d.Sector(1, 0, 0xC1); !errors.Is(err, ErrUnknownTrack) {
		t.Errorf("second side of single-sided disc: %v", err)
	}
}

func TestSectorsBytes(t *testing.T) {
	d := New(DataFormat)
	for i := uint8(0); i < 4; i++ {
		sector, _ := d.SectorMut(0, 0, 0xC1+i)
		sector[0] = i + 1
	}
	got, err := d.SectorsBytes(0, 0, 0xC1, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4*512 {
		t.Fatalf("len = %d", len(got))
	}
	for i := 0; i < 4; i++ {
		if got[i*512] != byte(i+1) {
			t.Errorf("sector %d first byte = %d", i, got[i*512])
		}
	}
}
