// Package amsdos implements the CPC's CP/M-like file system on top of an
// EDSK image: the 64-entry catalog, the 1 KiB block allocator and the
// 128-byte file headers.
package amsdos

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// EntrySize is the on-disk size of one catalog entry
	EntrySize = 32
	// NbEntries is the catalog capacity: 4 sectors of 16 entries
	NbEntries = 64
	// BlockSize is the allocation unit: two 512-byte sectors
	BlockSize = 1024
	// SectorSize is the Amsdos data sector size
	SectorSize = 512
	// NbBlocks is the number of allocatable blocks of a data disc
	NbBlocks = 180
	// BlocksPerExtent is the block capacity of one catalog entry
	BlocksPerExtent = 16
	// RecordSize is the CP/M record unit
	RecordSize = 128
	// ErasedUser marks a free or deleted entry
	ErasedUser = 0xE5
)

var (
	ErrNoEntriesAvailable = errors.New("no catalog entry available")
	ErrNoBlockAvailable   = errors.New("no free block available")
	ErrInvalidFilename    = errors.New("invalid Amsdos filename")
	ErrFileLargerThanBank = errors.New("file larger than its bank")
	ErrCorruptHeader      = errors.New("corrupt Amsdos header")
	ErrChecksumMismatch   = errors.New("Amsdos header checksum mismatch")
	ErrFileNotFound       = errors.New("file not found")
)

// Filename is a normalised 8+3 Amsdos file name
type Filename struct {
	User uint8
	Name string // upper-case, at most 8 chars
	Ext  string // upper-case, at most 3 chars
}

// validChars are the characters Amsdos accepts in file names
const validChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!\"#$&'+@^`{}"

// ParseFilename normalises "NAME.EXT" into its 8+3 form
func ParseFilename(s string) (Filename, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	// strip any host directory part
	if idx := strings.LastIndexAny(s, "/\\"); idx >= 0 {
		s = s[idx+1:]
	}
	name, ext := s, ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		name, ext = s[:idx], s[idx+1:]
	}
	if name == "" || len(name) > 8 || len(ext) > 3 {
		return Filename{}, fmt.Errorf("%w: %q", ErrInvalidFilename, s)
	}
	for _, part := range []string{name, ext} {
		for _, c := range part {
			if !strings.ContainsRune(validChars, c) {
				return Filename{}, fmt.Errorf("%w: %q", ErrInvalidFilename, s)
			}
		}
	}
	return Filename{Name: name, Ext: ext}, nil
}

func (f Filename) padded() (name [8]byte, ext [3]byte) {
	copy(name[:], "        ")
	copy(ext[:], "   ")
	copy(name[:], f.Name)
	copy(ext[:], f.Ext)
	return
}

func (f Filename) String() string {
	if f.Ext == "" {
		return f.Name
	}
	return f.Name + "." + f.Ext
}

// Entry is one 32-byte catalog slot: one extent of a file owning up to
// 16 blocks.
type Entry struct {
	User     uint8
	Filename Filename
	ReadOnly bool
	System   bool
	Extent   uint8
	Records  uint8
	Blocks   [BlocksPerExtent]uint8
}

// IsErased reports whether the slot is free or deleted
func (e *Entry) IsErased() bool {
	return e.User == ErasedUser || e.Records == 0
}

// NbBlocks counts the used block prefix of the entry
func (e *Entry) NbBlocks() int {
	n := 0
	for _, b := range e.Blocks {
		if b == 0 {
			break
		}
		n++
	}
	return n
}

// BelongsTo matches the entry against a file name, case-insensitively
func (e *Entry) BelongsTo(f Filename) bool {
	return !e.IsErased() && e.User == f.User &&
		strings.EqualFold(e.Filename.Name, f.Name) && strings.EqualFold(e.Filename.Ext, f.Ext)
}

// ToBytes serialises the entry into its 32-byte on-disk layout. The
// read-only and system flags ride the high bits of the first two
// extension characters.
func (e *Entry) ToBytes() [EntrySize]byte {
	var out [EntrySize]byte
	out[0] = e.User
	name, ext := e.Filename.padded()
	copy(out[1:9], name[:])
	copy(out[9:12], ext[:])
	if e.ReadOnly {
		out[9] |= 0x80
	}
	if e.System {
		out[10] |= 0x80
	}
	out[12] = e.Extent
	out[15] = e.Records
	copy(out[16:], e.Blocks[:])
	return out
}

// EntryFromBytes parses one 32-byte catalog slot
func EntryFromBytes(raw [EntrySize]byte) *Entry {
	e := &Entry{
		User:     raw[0],
		ReadOnly: raw[9]&0x80 != 0,
		System:   raw[10]&0x80 != 0,
		Extent:   raw[12],
		Records:  raw[15],
	}
	e.Filename.User = raw[0]
	e.Filename.Name = strings.TrimRight(string(maskBytes(raw[1:9])), " ")
	e.Filename.Ext = strings.TrimRight(string(maskBytes(raw[9:12])), " ")
	copy(e.Blocks[:], raw[16:])
	return e
}

func maskBytes(raw []byte) []byte {
	out := make([]byte, len(raw))
	for i, b := range raw {
		out[i] = b & 0x7F
	}
	return out
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s %dK", e.Filename, e.NbBlocks()*BlockSize/1024)
}
