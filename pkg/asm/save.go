package asm

import (
	"fmt"
	"strings"

	"github.com/cpcsdk/cpcasm/pkg/amsdos"
	"github.com/cpcsdk/cpcasm/pkg/ast"
	"github.com/cpcsdk/cpcasm/pkg/edsk"
	"github.com/cpcsdk/cpcasm/pkg/eval"
	"github.com/cpcsdk/cpcasm/pkg/sna"
	"github.com/cpcsdk/cpcasm/pkg/symbols"
)

// spaceData extracts the bytes of one space between two physical
// addresses.
func spaceData(sp *memSpace, from, to int) []byte {
	out := make([]byte, 0, to-from)
	for adr := from; adr < to; adr++ {
		out = append(out, sp.data[adr&sp.mask])
	}
	return out
}

// performSaves runs the emissions scheduled by SAVE directives. Sector
// data is written before catalog entries, so an interrupted write leaves
// the catalog consistent.
func (e *Env) performSaves(res *Result) error {
	discs := make(map[string]*edsk.Disc)
	discNames := []string{}

	for _, ps := range e.saves {
		sp := e.spaces[ps.bank]
		if sp == nil || sp.start < 0 {
			return fmt.Errorf("%s: SAVE with no bytes produced", ps.span)
		}
		ctx := e.evalCtx(eval.MustNeverFail)

		from := sp.start
		if ps.save.Address != nil {
			v, err := eval.EvalInt(ps.save.Address, ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", ps.span, err)
			}
			from = int(v)
		}
		to := sp.end
		if ps.save.Size != nil {
			v, err := eval.EvalInt(ps.save.Size, ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", ps.span, err)
			}
			to = from + int(v)
		}
		if from < 0 || to > 0x10000 || to-from > len(sp.data) {
			return fmt.Errorf("%s: %w: 0x%04X..0x%04X", ps.span,
				amsdos.ErrFileLargerThanBank, from, to)
		}
		data := spaceData(sp, from, to)

		switch ps.save.Kind {
		case ast.SaveRaw, ast.SaveAscii:
			res.Saved = append(res.Saved, SavedFile{Name: ps.save.Filename, Data: data})

		case ast.SaveAmsdos:
			header, err := amsdos.BuildHeader(ps.save.Filename, amsdos.TypeBinary,
				uint16(from), uint16(from), data)
			if err != nil {
				return fmt.Errorf("%s: %w", ps.span, err)
			}
			res.Saved = append(res.Saved, SavedFile{
				Name: ps.save.Filename,
				Data: append(header.Bytes(), data...),
			})

		case ast.SaveDsk:
			dskName := ps.save.DskName
			if dskName == "" {
				return fmt.Errorf("%s: SAVE to DSK needs a disk image name", ps.span)
			}
			disc, ok := discs[dskName]
			if !ok {
				if _, raw, err := e.ctx.ResolveFile(dskName); err == nil {
					if disc, err = edsk.Load(raw); err != nil {
						return fmt.Errorf("%s: %s: %w", ps.span, dskName, err)
					}
				} else {
					disc = edsk.New(edsk.DataFormat)
				}
				discs[dskName] = disc
				discNames = append(discNames, dskName)
			}
			head := 0
			if ps.save.Side != nil {
				v, err := eval.EvalInt(ps.save.Side, ctx)
				if err != nil {
					return fmt.Errorf("%s: %w", ps.span, err)
				}
				head = int(v)
			}
			fs := amsdos.New(disc, head)
			file, err := amsdos.NewBinaryFile(ps.save.Filename, uint16(from), uint16(from), data)
			if err != nil {
				return fmt.Errorf("%s: %w", ps.span, err)
			}
			if err := fs.AddFile(file, false, false); err != nil {
				return fmt.Errorf("%s: %w", ps.span, err)
			}

		case ast.SaveTape:
			return fmt.Errorf("%s: tape output is not supported", ps.span)
		}
	}

	for _, name := range discNames {
		res.Saved = append(res.Saved, SavedFile{Name: name, Data: discs[name].Bytes()})
	}
	return nil
}

// buildSnapshot folds the populated spaces into the pending snapshot
func (e *Env) buildSnapshot() (*sna.Snapshot, error) {
	snap := e.pendingSnapshot()

	if main := e.spaces[mainSpace]; main != nil && main.start >= 0 {
		copy(snap.Main, main.data)
	}
	for _, key := range e.populatedBankKeys() {
		sp := e.spaces[key]
		page := make([]byte, pageSpanSize)
		copy(page, sp.data)
		snap.Pages[key] = page
	}
	for key, sp := range e.spaces {
		if key < banksetBase || sp.start < 0 {
			continue
		}
		set := key - banksetBase
		for quarter := 0; quarter < 4; quarter++ {
			lo, hi := quarter*pageSpanSize, (quarter+1)*pageSpanSize
			if !anyWritten(sp.written[lo:hi]) {
				continue
			}
			page := make([]byte, pageSpanSize)
			copy(page, sp.data[lo:hi])
			snap.Pages[(set-1)*4+quarter] = page
		}
	}

	if len(e.breaks) > 0 {
		snap.AddBreakpoints(e.breaks)
	}
	if dump := e.symbolDump(); dump != "" {
		snap.SetSymbols(dump)
	}
	return snap, nil
}

func anyWritten(flags []bool) bool {
	for _, f := range flags {
		if f {
			return true
		}
	}
	return false
}

// symbolDump renders the address symbols for the SYMB chunk
func (e *Env) symbolDump() string {
	var sb strings.Builder
	for _, name := range e.table.Names() {
		v, err := e.table.Get(name)
		if err != nil || v.Kind != symbols.ValueAddress {
			continue
		}
		fmt.Fprintf(&sb, "%s %04X\n", name, uint16(v.Int))
	}
	return sb.String()
}

// collectCartBanks gathers the populated 16 KiB banks for BUILDCPR. The
// main space contributes its four quarters as banks 0..3.
func (e *Env) collectCartBanks() ([][]byte, []int) {
	var banks [][]byte
	var nums []int
	if main := e.spaces[mainSpace]; main != nil && main.start >= 0 {
		for quarter := 0; quarter < 4; quarter++ {
			lo, hi := quarter*pageSpanSize, (quarter+1)*pageSpanSize
			if !anyWritten(main.written[lo:hi]) {
				continue
			}
			bank := make([]byte, pageSpanSize)
			copy(bank, main.data[lo:hi])
			banks = append(banks, bank)
			nums = append(nums, quarter)
		}
	}
	for _, key := range e.populatedBankKeys() {
		sp := e.spaces[key]
		bank := make([]byte, pageSpanSize)
		copy(bank, sp.data)
		banks = append(banks, bank)
		nums = append(nums, key)
	}
	return banks, nums
}
