package amsdos

import (
	"fmt"

	"github.com/cpcsdk/cpcasm/pkg/edsk"
)

// File is one Amsdos file: an optional 128-byte header plus its payload
type File struct {
	Filename Filename
	Header   *Header
	Content  []byte
}

// NewBinaryFile wraps raw bytes with a binary Amsdos header
func NewBinaryFile(name string, load, exec uint16, data []byte) (*File, error) {
	header, err := BuildHeader(name, TypeBinary, load, exec, data)
	if err != nil {
		return nil, err
	}
	fn, _ := ParseFilename(name)
	return &File{Filename: fn, Header: header, Content: data}, nil
}

// raw returns the on-disc byte stream: header first when present
func (f *File) raw() []byte {
	if f.Header == nil {
		return f.Content
	}
	return append(f.Header.Bytes(), f.Content...)
}

// Fs drives Amsdos operations over one side of an EDSK disc
type Fs struct {
	disc *edsk.Disc
	head int
}

// New attaches a file system view to a disc side
func New(disc *edsk.Disc, head int) *Fs {
	return &Fs{disc: disc, head: head}
}

// Format re-initialises the disc as a blank image in the given scheme,
// erasing the catalog and every data sector.
func (fs *Fs) Format(format edsk.Format) {
	*fs.disc = *edsk.New(format)
}

// trackOffset is the number of reserved tracks before the data area,
// derived from the sector numbering scheme.
func (fs *Fs) trackOffset() int {
	switch fs.disc.MinSector(fs.head) {
	case 0x41: // system: two reserved tracks
		return 2
	case 0x01: // ibm: one reserved track
		return 1
	}
	return 0
}

// blockSectors returns the location of the two sectors of a block
func (fs *Fs) blockSectors(block uint8) (track1 int, id1 uint8, track2 int, id2 uint8) {
	min := fs.disc.MinSector(fs.head)
	pos := int(uint16(block)<<1) % 9
	track := int(uint16(block)<<1)/9 + fs.trackOffset()
	track1, id1 = track, min+uint8(pos)
	if pos == 8 {
		track2, id2 = track+1, min
	} else {
		track2, id2 = track, min+uint8(pos)+1
	}
	return
}

func (fs *Fs) readBlock(block uint8) ([]byte, error) {
	t1, s1, t2, s2 := fs.blockSectors(block)
	first, err := fs.disc.Sector(fs.head, t1, s1)
	if err != nil {
		return nil, err
	}
	second, err := fs.disc.Sector(fs.head, t2, s2)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, BlockSize)
	out = append(out, first...)
	return append(out, second...), nil
}

func (fs *Fs) writeBlock(block uint8, content []byte) error {
	if len(content) != BlockSize {
		return fmt.Errorf("block payload must be %d bytes, got %d", BlockSize, len(content))
	}
	t1, s1, t2, s2 := fs.blockSectors(block)
	first, err := fs.disc.SectorMut(fs.head, t1, s1)
	if err != nil {
		return err
	}
	copy(first, content[:SectorSize])
	second, err := fs.disc.SectorMut(fs.head, t2, s2)
	if err != nil {
		return err
	}
	copy(second, content[SectorSize:])
	return nil
}

// catalogSlot locates the sector and in-sector offset of a catalog entry
func (fs *Fs) catalogSlot(idx int) (track int, sectorID uint8, offset int) {
	min := fs.disc.MinSector(fs.head)
	return 0, min + uint8(idx>>4), (idx & 15) << 5
}

// Catalog reads all 64 catalog entries
func (fs *Fs) Catalog() ([]*Entry, error) {
	raw, err := fs.disc.SectorsBytes(fs.head, 0, fs.disc.MinSector(fs.head), 4)
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, NbEntries)
	for i := 0; i < NbEntries; i++ {
		var slot [EntrySize]byte
		copy(slot[:], raw[i*EntrySize:])
		entries = append(entries, EntryFromBytes(slot))
	}
	return entries, nil
}

// writeEntry stores one catalog entry in place
func (fs *Fs) writeEntry(idx int, e *Entry) error {
	track, sectorID, offset := fs.catalogSlot(idx)
	sector, err := fs.disc.SectorMut(fs.head, track, sectorID)
	if err != nil {
		return err
	}
	raw := e.ToBytes()
	copy(sector[offset:offset+EntrySize], raw[:])
	return nil
}

// usedBlocks collects the block indices referenced by live entries
func usedBlocks(entries []*Entry) map[uint8]bool {
	used := map[uint8]bool{0: true, 1: true} // catalog blocks
	for _, e := range entries {
		if e.IsErased() {
			continue
		}
		for i := 0; i < e.NbBlocks(); i++ {
			used[e.Blocks[i]] = true
		}
	}
	return used
}

// allocateBlock returns the lowest free block index, scanning upward
// from index 2.
func allocateBlock(used map[uint8]bool) (uint8, error) {
	for b := 2; b < 256 && b < NbBlocks; b++ {
		if !used[uint8(b)] {
			used[uint8(b)] = true
			return uint8(b), nil
		}
	}
	return 0, ErrNoBlockAvailable
}

// freeSlot returns the first free catalog slot index
func freeSlot(entries []*Entry, taken map[int]bool) (int, error) {
	for i, e := range entries {
		if e.IsErased() && !taken[i] {
			return i, nil
		}
	}
	return 0, ErrNoEntriesAvailable
}

// AddFile writes a file: blocks first, catalog entries last, so a
// failure cannot leave the catalog pointing at unwritten blocks.
func (fs *Fs) AddFile(f *File, system, readOnly bool) error {
	entries, err := fs.Catalog()
	if err != nil {
		return err
	}
	if existing := fs.findEntries(entries, f.Filename); len(existing) > 0 {
		return fmt.Errorf("%s already present in the catalog", f.Filename)
	}

	stream := f.raw()
	used := usedBlocks(entries)
	takenSlots := make(map[int]bool)

	type pendingEntry struct {
		idx   int
		entry *Entry
	}
	var pending []pendingEntry

	remaining := stream
	extent := uint8(0)
	for {
		idx, err := freeSlot(entries, takenSlots)
		if err != nil {
			return err
		}
		takenSlots[idx] = true

		entry := &Entry{
			User:     f.Filename.User,
			Filename: f.Filename,
			ReadOnly: readOnly,
			System:   system,
			Extent:   extent,
		}
		extentBytes := 0
		for b := 0; b < BlocksPerExtent && len(remaining) > 0; b++ {
			block, err := allocateBlock(used)
			if err != nil {
				return err
			}
			chunk := make([]byte, BlockSize)
			n := copy(chunk, remaining)
			remaining = remaining[n:]
			extentBytes += n
			if err := fs.writeBlock(block, chunk); err != nil {
				return err
			}
			entry.Blocks[b] = block
		}
		records := (extentBytes + RecordSize - 1) / RecordSize
		if records > 128 {
			records = 128
		}
		entry.Records = uint8(records)
		pending = append(pending, pendingEntry{idx: idx, entry: entry})
		extent++

		if len(remaining) == 0 {
			break
		}
	}

	// entries last
	for _, pe := range pending {
		if err := fs.writeEntry(pe.idx, pe.entry); err != nil {
			return err
		}
	}
	return nil
}

func (fs *Fs) findEntries(entries []*Entry, fn Filename) []*Entry {
	var out []*Entry
	for _, e := range entries {
		if e.BelongsTo(fn) {
			out = append(out, e)
		}
	}
	// order by extent byte
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Extent > out[j].Extent; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// GetFile reads a file back: matching extents in order, blocks in their
// listed order, truncated to the header's declared length.
func (fs *Fs) GetFile(name string) (*File, error) {
	fn, err := ParseFilename(name)
	if err != nil {
		return nil, err
	}
	entries, err := fs.Catalog()
	if err != nil {
		return nil, err
	}
	matching := fs.findEntries(entries, fn)
	if len(matching) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fn)
	}

	var stream []byte
	for _, e := range matching {
		for i := 0; i < e.NbBlocks(); i++ {
			block, err := fs.readBlock(e.Blocks[i])
			if err != nil {
				return nil, err
			}
			stream = append(stream, block...)
		}
	}

	f := &File{Filename: fn}
	if header, err := HeaderFromBytes(stream); err == nil {
		end := HeaderSize + int(header.Length())
		if end > len(stream) {
			end = len(stream)
		}
		f.Header = header
		f.Content = stream[HeaderSize:end]
		return f, nil
	}

	// headerless (ASCII) file: trim the block padding
	end := len(stream)
	lastEntry := matching[len(matching)-1]
	records := int(lastEntry.Records) * RecordSize
	full := (len(matching) - 1) * BlocksPerExtent * BlockSize
	if full+records < end {
		end = full + records
	}
	f.Content = stream[:end]
	return f, nil
}

// PrintCatalog renders the catalog the way |DIR does
func (fs *Fs) PrintCatalog() (string, error) {
	entries, err := fs.Catalog()
	if err != nil {
		return "", err
	}
	out := ""
	for _, e := range entries {
		if e.IsErased() || e.Extent != 0 {
			continue
		}
		out += e.String() + "\n"
	}
	return out, nil
}
