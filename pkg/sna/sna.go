// Package sna reads and writes Amstrad CPC snapshots: the 256-byte
// header, the main memory dump, extra 16 KiB pages and the V3 chunk
// records.
package sna

import (
	"fmt"
	"sort"

	"github.com/cpcsdk/cpcasm/pkg/ast"
	"github.com/cpcsdk/cpcasm/pkg/crunch"
)

// crunchZX0 selects the page compression used by V3 MEM chunks
const crunchZX0 = ast.CrunchZX0

const (
	magic      = "MV - SNA"
	HeaderSize = 0x100
	MainSize   = 0x10000
	PageSize   = 0x4000
	// MaxPages is the number of extra 16 KiB pages a snapshot can carry
	MaxPages = 8
)

// Chunk is one V3 record: a 4-byte ASCII tag, a little-endian size and
// the payload.
type Chunk struct {
	Tag  [4]byte
	Data []byte
}

// Breakpoint is one row of the WinAPE-style BRKS chunk
type Breakpoint struct {
	Address uint16
	Bank    uint8
	Mask    uint8
	Type    uint8
	Access  uint8
	Run     uint8
}

const breakpointRowSize = 10

// Snapshot is an in-memory CPC snapshot
type Snapshot struct {
	Version  uint8
	Header   [HeaderSize]byte
	Main     []byte
	Pages    map[int][]byte
	Chunks   []Chunk
	Warnings []string
}

// New creates an empty V3 snapshot with a 64 KiB main memory
func New() *Snapshot {
	s := &Snapshot{
		Version: 3,
		Main:    make([]byte, MainSize),
		Pages:   make(map[int][]byte),
	}
	copy(s.Header[:8], magic)
	s.Header[0x10] = 3
	return s
}

// SetFlag writes one header field element; last write wins
func (s *Snapshot) SetFlag(f Flag, value uint16) error {
	if f.ElemSize() == 1 && value > 0xFF {
		return fmt.Errorf("%w: %s = %d", ErrValueTooLarge, f.Name, value)
	}
	offset := f.Offset()
	s.Header[offset] = uint8(value)
	if f.ElemSize() == 2 {
		s.Header[offset+1] = uint8(value >> 8)
	}
	return nil
}

// GetFlag reads one header field element back
func (s *Snapshot) GetFlag(f Flag) uint16 {
	offset := f.Offset()
	v := uint16(s.Header[offset])
	if f.ElemSize() == 2 {
		v |= uint16(s.Header[offset+1]) << 8
	}
	return v
}

// setChunk replaces or appends a chunk by tag
func (s *Snapshot) setChunk(tag string, data []byte) {
	var t [4]byte
	copy(t[:], tag)
	for i := range s.Chunks {
		if s.Chunks[i].Tag == t {
			s.Chunks[i].Data = data
			return
		}
	}
	s.Chunks = append(s.Chunks, Chunk{Tag: t, Data: data})
}

// AddBreakpoints stores breakpoint rows in the BRKS chunk
func (s *Snapshot) AddBreakpoints(rows []Breakpoint) {
	data := make([]byte, 0, len(rows)*breakpointRowSize)
	for _, row := range rows {
		rec := make([]byte, breakpointRowSize)
		rec[0] = uint8(row.Address)
		rec[1] = uint8(row.Address >> 8)
		rec[2] = row.Bank
		rec[3] = row.Mask
		rec[4] = row.Type
		rec[5] = row.Access
		rec[6] = row.Run
		data = append(data, rec...)
	}
	s.setChunk("BRKS", data)
}

// Breakpoints parses the BRKS chunk back into rows
func (s *Snapshot) Breakpoints() []Breakpoint {
	var t [4]byte
	copy(t[:], "BRKS")
	for _, c := range s.Chunks {
		if c.Tag != t {
			continue
		}
		var rows []Breakpoint
		for off := 0; off+breakpointRowSize <= len(c.Data); off += breakpointRowSize {
			rec := c.Data[off:]
			rows = append(rows, Breakpoint{
				Address: uint16(rec[0]) | uint16(rec[1])<<8,
				Bank:    rec[2],
				Mask:    rec[3],
				Type:    rec[4],
				Access:  rec[5],
				Run:     rec[6],
			})
		}
		return rows
	}
	return nil
}

// SetSymbols stores a UTF-8 symbol dump in the SYMB chunk
func (s *Snapshot) SetSymbols(dump string) {
	s.setChunk("SYMB", []byte(dump))
}

// Bytes serialises the snapshot. V1 and V2 write the flat memory dump
// and drop extra pages beyond 128 KiB with a warning; V3 writes extra
// pages as MEM chunks with a leading compression signature byte.
func (s *Snapshot) Bytes() []byte {
	header := s.Header
	copy(header[:8], magic)
	header[0x10] = s.Version

	pageKeys := make([]int, 0, len(s.Pages))
	for k := range s.Pages {
		pageKeys = append(pageKeys, k)
	}
	sort.Ints(pageKeys)

	if s.Version < 3 {
		dump := append([]byte(nil), s.Main...)
		dumpKiB := 64
		if len(pageKeys) > 0 {
			extra := make([]byte, 4*PageSize)
			for _, k := range pageKeys {
				if k < 4 {
					copy(extra[k*PageSize:], s.Pages[k])
				} else {
					s.Warnings = append(s.Warnings,
						fmt.Sprintf("page %d dropped: V%d snapshots hold 128K at most", k, s.Version))
				}
			}
			dump = append(dump, extra...)
			dumpKiB = 128
		}
		header[0x6B] = uint8(dumpKiB)
		header[0x6C] = uint8(dumpKiB >> 8)
		return append(header[:], dump...)
	}

	header[0x6B] = 64
	header[0x6C] = 0
	out := append(header[:], s.Main...)

	for _, k := range pageKeys {
		// signature byte 0 = raw, 1 = zx0 stream
		payload := []byte{0}
		raw := s.Pages[k]
		if packed, err := crunch.Compress(crunchZX0, raw); err == nil && len(packed)+1 < len(raw) {
			payload = append([]byte{1}, packed...)
		} else {
			payload = append(payload, raw...)
		}
		tag := fmt.Sprintf("MEM%d", k+1)
		out = appendChunk(out, tag, payload)
	}
	for _, c := range s.Chunks {
		out = appendChunk(out, string(c.Tag[:]), c.Data)
	}
	return out
}

func appendChunk(out []byte, tag string, data []byte) []byte {
	var t [4]byte
	copy(t[:], tag)
	out = append(out, t[:]...)
	size := len(data)
	out = append(out, uint8(size), uint8(size>>8), uint8(size>>16), uint8(size>>24))
	return append(out, data...)
}

// Read parses a snapshot image
func Read(data []byte) (*Snapshot, error) {
	if len(data) < HeaderSize || string(data[:8]) != magic {
		return nil, ErrNotASnapshot
	}
	s := New()
	copy(s.Header[:], data[:HeaderSize])
	s.Version = s.Header[0x10]
	if s.Version < 1 || s.Version > 3 {
		return nil, fmt.Errorf("%w: v%d", ErrUnsupportedVersion, s.Version)
	}

	dumpKiB := int(s.Header[0x6B]) | int(s.Header[0x6C])<<8
	offset := HeaderSize
	if dumpKiB > 0 {
		dumpLen := dumpKiB * 1024
		if offset+dumpLen > len(data) {
			return nil, fmt.Errorf("%w: truncated memory dump", ErrNotASnapshot)
		}
		copy(s.Main, data[offset:offset+minInt(dumpLen, MainSize)])
		if dumpLen > MainSize {
			for k := 0; k*PageSize < dumpLen-MainSize && k < 4; k++ {
				page := make([]byte, PageSize)
				copy(page, data[offset+MainSize+k*PageSize:])
				s.Pages[k] = page
			}
		}
		offset += dumpLen
	}

	for offset+8 <= len(data) {
		var tag [4]byte
		copy(tag[:], data[offset:])
		size := int(data[offset+4]) | int(data[offset+5])<<8 |
			int(data[offset+6])<<16 | int(data[offset+7])<<24
		offset += 8
		if offset+size > len(data) {
			return nil, fmt.Errorf("%w: truncated chunk %s", ErrNotASnapshot, tag)
		}
		payload := data[offset : offset+size]
		offset += size

		if tag[0] == 'M' && tag[1] == 'E' && tag[2] == 'M' && tag[3] >= '0' && tag[3] <= '8' {
			page, err := decodeMemChunk(payload)
			if err != nil {
				return nil, err
			}
			if tag[3] == '0' {
				copy(s.Main, page)
			} else {
				s.Pages[int(tag[3]-'0')-1] = page
			}
			continue
		}
		s.Chunks = append(s.Chunks, Chunk{Tag: tag, Data: append([]byte(nil), payload...)})
	}
	return s, nil
}

func decodeMemChunk(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return make([]byte, PageSize), nil
	}
	switch payload[0] {
	case 0:
		page := make([]byte, PageSize)
		copy(page, payload[1:])
		return page, nil
	case 1:
		raw, err := crunch.Decompress(crunchZX0, payload[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: bad zx0 page: %v", ErrNotASnapshot, err)
		}
		page := make([]byte, PageSize)
		copy(page, raw)
		return page, nil
	}
	return nil, fmt.Errorf("%w: unknown page signature %d", ErrNotASnapshot, payload[0])
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
