package asm

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/cpcsdk/cpcasm/pkg/parser"
	"github.com/cpcsdk/cpcasm/pkg/symbols"
)

func assembleSource(t *testing.T, source string) *Result {
	t.Helper()
	res, err := tryAssemble(source)
	if err != nil {
		t.Fatalf("assembly failed: %v", err)
	}
	return res
}

func tryAssemble(source string) (*Result, error) {
	ctx := parser.NewContext("test.asm", parser.Options{})
	listing, err := parser.Parse(source, ctx)
	if err != nil {
		return nil, err
	}
	return Assemble(listing, Options{Context: ctx})
}

func wantBytes(t *testing.T, res *Result, want []byte) {
	t.Helper()
	if !bytes.Equal(res.Bytes, want) {
		t.Errorf("bytes:\ngot  % X\nwant % X", res.Bytes, want)
	}
}

func symbolValue(t *testing.T, res *Result, name string) int64 {
	t.Helper()
	v, err := res.Symbols.Get(name)
	if err != nil {
		t.Fatalf("symbol %s: %v", name, err)
	}
	i, err := v.AsInt()
	if err != nil {
		t.Fatalf("symbol %s: %v", name, err)
	}
	return i
}

func TestOrgNopJrScenario(t *testing.T) {
	res := assembleSource(t, " org 0x4000\n nop\nlabel: jr label")
	wantBytes(t, res, []byte{0x00, 0x18, 0xFE})
	if res.Origin != 0x4000 {
		t.Errorf("origin = 0x%04X", res.Origin)
	}
	if got := symbolValue(t, res, "label"); got != 0x4001 {
		t.Errorf("label = 0x%04X", got)
	}
}

func TestLoadScenarios(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []byte
	}{
		{"ld hl nn", " ld hl, 0x1234", []byte{0x21, 0x34, 0x12}},
		{"ld a indexed", " ld a, (ix+5)", []byte{0xDD, 0x7E, 0x05}},
		{"repeat", " repeat 3\n nop\n endrepeat", []byte{0x00, 0x00, 0x00}},
		{"bit iy", " bit 6, (iy+2)", []byte{0xFD, 0xCB, 0x02, 0x76}},
		{"defb defw", " defb 1, 2, 'a'\n defw 0x1234", []byte{1, 2, 'a', 0x34, 0x12}},
		{"defs fill", " defs 4, 0xFF", []byte{0xFF, 0xFF, 0xFF, 0xFF}},
		{"str sets bit7", ` str "AB"`, []byte{'A', 'B' | 0x80}},
		{"abyte", " abyte 2, 1, 2, 3", []byte{3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantBytes(t, assembleSource(t, tt.source), tt.want)
		})
	}
}

func TestStableTicker(t *testing.T) {
	res := assembleSource(t, " org 0x100\n stableticker start loop\n inc hl\n stableticker stop")
	if got := symbolValue(t, res, "loop"); got != 2 {
		t.Errorf("loop = %d, want 2 (inc hl lasts 2 NOPs)", got)
	}
}

func TestEmptyOrgOnly(t *testing.T) {
	res := assembleSource(t, " org 0x100")
	if len(res.Bytes) != 0 {
		t.Errorf("produced %d bytes", len(res.Bytes))
	}
	if res.Origin != 0x100 {
		t.Errorf("origin = 0x%04X, want 0x100", res.Origin)
	}
}

func TestForwardReference(t *testing.T) {
	res := assembleSource(t, " org 0\n jr skip\n nop\nskip: ret")
	wantBytes(t, res, []byte{0x18, 0x01, 0x00, 0xC9})
	if res.Passes < 2 {
		t.Errorf("passes = %d", res.Passes)
	}
}

func TestForwardJumpFromHighOrg(t *testing.T) {
	// in pass 1 the target reads as zero, far out of range; the encoder
	// still reserves two bytes and pass 2 patches them
	res := assembleSource(t, " org 0x8000\n jr skip\n nop\nskip: ret")
	wantBytes(t, res, []byte{0x18, 0x01, 0x00, 0xC9})
}

func TestPassIdempotence(t *testing.T) {
	source := " org 0x200\nstart: ld hl, msg\n ret\nmsg: defb \"hi\""
	first := assembleSource(t, source)
	second := assembleSource(t, source)
	if !bytes.Equal(first.Bytes, second.Bytes) {
		t.Error("assembly is not deterministic")
	}
	for _, name := range first.Symbols.Names() {
		a, _ := first.Symbols.Get(name)
		b, _ := second.Symbols.Get(name)
		if !a.Equal(b) {
			t.Errorf("symbol %s differs between runs", name)
		}
	}
}

func TestUnstableSymbolFails(t *testing.T) {
	_, err := tryAssemble("x equ y\ny equ x+1")
	if !errors.Is(err, ErrPassLimitExceeded) {
		t.Errorf("expected pass limit error, got %v", err)
	}
}

func TestEquAndAssign(t *testing.T) {
	res := assembleSource(t, `width equ 8
count = 1
count += 4
count <<= 2
 defb count, width`)
	wantBytes(t, res, []byte{20, 8})
}

func TestIfElse(t *testing.T) {
	res := assembleSource(t, `mode equ 2
 if mode == 1
 defb 1
 elseif mode == 2
 defb 2
 else
 defb 3
 endif`)
	wantBytes(t, res, []byte{2})
}

func TestIfdefBranches(t *testing.T) {
	res := assembleSource(t, " ifdef DEBUG\n defb 1\n else\n defb 0\n endif")
	wantBytes(t, res, []byte{0})
}

func TestSwitchFallthrough(t *testing.T) {
	res := assembleSource(t, `sel equ 1
 switch sel
 case 1
 defb 1
 case 2
 defb 2
 break
 case 3
 defb 3
 endswitch`)
	// case 1 falls into case 2, which breaks before case 3
	wantBytes(t, res, []byte{1, 2})
}

func TestRepeatCounter(t *testing.T) {
	res := assembleSource(t, " repeat 3, idx, 10, 2\n defb idx, @\n endrepeat")
	wantBytes(t, res, []byte{10, 1, 12, 2, 14, 3})
}

func TestRepeatZeroIsLegal(t *testing.T) {
	res := assembleSource(t, " repeat 0\n defb 0xEE\n endrepeat\n defb 1")
	wantBytes(t, res, []byte{1})
}

func TestWhileAndRepeatUntil(t *testing.T) {
	res := assembleSource(t, `n = 0
 while n < 3
 defb n
n += 1
 endwhile`)
	wantBytes(t, res, []byte{0, 1, 2})

	res = assembleSource(t, `m = 0
 repeat
m += 1
 defb m
 until m >= 2`)
	wantBytes(t, res, []byte{1, 2})
}

func TestForLoop(t *testing.T) {
	res := assembleSource(t, " for i, 1, 7, 3\n defb i\n endfor")
	wantBytes(t, res, []byte{1, 4, 7})
}

func TestIterate(t *testing.T) {
	res := assembleSource(t, " iterate v, 5, 9, 13\n defb v\n enditerate")
	wantBytes(t, res, []byte{5, 9, 13})
}

func TestMacroExpansion(t *testing.T) {
	res := assembleSource(t, ` macro emit, value
 defb {value}
 endm
 emit 7
 emit 9`)
	wantBytes(t, res, []byte{7, 9})
}

func TestModuleNamespacing(t *testing.T) {
	res := assembleSource(t, ` module gfx
stride equ 0x40
 endmodule
 defb gfx.stride`)
	wantBytes(t, res, []byte{0x40})
	if res.Symbols.Exists("stride") {
		t.Error("module symbol leaked")
	}
}

func TestUserFunction(t *testing.T) {
	res := assembleSource(t, ` function double, x
 return x * 2
 endfunction
 defb double(21)`)
	wantBytes(t, res, []byte{42})
}

func TestProtectViolation(t *testing.T) {
	_, err := tryAssemble(" protect 0x4000, 0x4001\n org 0x4000\n nop")
	if !errors.Is(err, ErrWriteToProtectedRange) {
		t.Errorf("expected protect violation, got %v", err)
	}

	// one past the range succeeds
	if _, err := tryAssemble(" protect 0x4000, 0x4001\n org 0x4002\n nop"); err != nil {
		t.Errorf("write past the range failed: %v", err)
	}
}

func TestLimit(t *testing.T) {
	_, err := tryAssemble(" limit 0x8000\n org 0x8000\n nop")
	if !errors.Is(err, ErrOutputExceedsLimit) {
		t.Errorf("expected limit violation, got %v", err)
	}
	if _, err := tryAssemble(" limit 0x8000\n org 0x7FFF\n nop"); err != nil {
		t.Errorf("write below the limit failed: %v", err)
	}
}

func TestNoWrapAt64K(t *testing.T) {
	_, err := tryAssemble(" org 0xFFFF\n nop\n nop")
	if !errors.Is(err, ErrOutputExceedsLimit) {
		t.Errorf("expected overflow error, got %v", err)
	}
}

func TestDoubleWriteDetected(t *testing.T) {
	_, err := tryAssemble(" org 0x100\n nop\n org 0x100\n nop")
	if !errors.Is(err, ErrDoubleWrite) {
		t.Errorf("expected double write error, got %v", err)
	}
}

func TestRorg(t *testing.T) {
	res := assembleSource(t, ` org 0x1000
 rorg 0x8000
here: jp here
 rend
after: defb 0`)
	// jp targets the logical address, bytes land at the physical one
	wantBytes(t, res, []byte{0xC3, 0x00, 0x80, 0x00})
	if got := symbolValue(t, res, "after"); got != 0x1003 {
		t.Errorf("after = 0x%04X, want 0x1003", got)
	}
}

func TestAlign(t *testing.T) {
	res := assembleSource(t, " org 0x1001\n align 4, 0xAA\n defb 1")
	wantBytes(t, res, []byte{0xAA, 0xAA, 0xAA, 1})
}

func TestAssertFailure(t *testing.T) {
	_, err := tryAssemble(` val equ 3
 assert val == 4, "val must be four"`)
	if !errors.Is(err, ErrAssertionFailed) {
		t.Errorf("expected assertion failure, got %v", err)
	}
	if _, err := tryAssemble(" assert 1 == 1"); err != nil {
		t.Errorf("passing assert failed: %v", err)
	}
}

func TestFailDirective(t *testing.T) {
	if _, err := tryAssemble(` fail "boom"`); err == nil {
		t.Error("FAIL should abort assembly")
	}
}

func TestDollarAndDollarDollar(t *testing.T) {
	res := assembleSource(t, " org 0x2000\n defw $, $$")
	wantBytes(t, res, []byte{0x00, 0x20, 0x00, 0x20})
}

func TestCrunchedSection(t *testing.T) {
	res := assembleSource(t, " org 0x100\n lz48\n defs 200, 0\n lzclose")
	if len(res.Bytes) == 0 || len(res.Bytes) >= 200 {
		t.Errorf("crunched section emitted %d bytes", len(res.Bytes))
	}
}

func TestConfinedPads(t *testing.T) {
	res := assembleSource(t, " org 0x10FE\n confined\n defb 1, 2, 3\n endconfined")
	// the 3-byte block would straddle 0x1100, so it moves there
	if res.Origin != 0x10FE {
		t.Errorf("origin = 0x%04X", res.Origin)
	}
	if len(res.Bytes) != 5 {
		t.Fatalf("produced %d bytes", len(res.Bytes))
	}
	if !bytes.Equal(res.Bytes[2:], []byte{1, 2, 3}) {
		t.Errorf("payload = % X", res.Bytes)
	}
}

func TestBuildSnaWithBanks(t *testing.T) {
	res := assembleSource(t, ` buildsna
 snaset Z80_PC, 0x4000
 org 0x4000
 nop
 bank 2
 org 0x4000
 defb 0xEE`)
	if res.Snapshot == nil {
		t.Fatal("no snapshot produced")
	}
	if res.Snapshot.Main[0x4000] != 0x00 {
		t.Error("main memory missing the nop")
	}
	page, ok := res.Snapshot.Pages[2]
	if !ok || page[0] != 0xEE {
		t.Errorf("bank 2 page missing: %v", ok)
	}
}

func TestBankWithoutTarget(t *testing.T) {
	_, err := tryAssemble(" bank 2")
	if !errors.Is(err, ErrBankWithoutTarget) {
		t.Errorf("expected bank-without-target error, got %v", err)
	}
}

func TestSaveRaw(t *testing.T) {
	res := assembleSource(t, " org 0x8000\n defb 1, 2, 3\n save \"out.bin\"")
	if len(res.Saved) != 1 || res.Saved[0].Name != "out.bin" {
		t.Fatalf("saved = %+v", res.Saved)
	}
	if !bytes.Equal(res.Saved[0].Data, []byte{1, 2, 3}) {
		t.Errorf("saved data = % X", res.Saved[0].Data)
	}
}

func TestSaveDsk(t *testing.T) {
	res := assembleSource(t, ` org 0x8000
 defb 1, 2, 3
 save "prog.bin", , , DSK, "out.dsk"`)
	if len(res.Saved) != 1 || res.Saved[0].Name != "out.dsk" {
		t.Fatalf("saved = %+v", res.Saved)
	}
	if string(res.Saved[0].Data[:8]) != "EXTENDED" {
		t.Error("dsk image missing extended header")
	}
}

func TestLuaBlock(t *testing.T) {
	res := assembleSource(t, ` org 0x100
 lua
 for i = 0, 3 do
   asm.byte(i * 2)
 end
 endlua`)
	wantBytes(t, res, []byte{0, 2, 4, 6})
}

func TestLocomotiveEmission(t *testing.T) {
	res := assembleSource(t, " locomotive\n10 PRINT \"HI\"\n endlocomotive")
	if len(res.Bytes) == 0 || res.Bytes[len(res.Bytes)-1] != 0 {
		t.Errorf("basic program = % X", res.Bytes)
	}
}

func TestUndef(t *testing.T) {
	res := assembleSource(t, "gone equ 1\n undef gone\n ifdef gone\n defb 1\n else\n defb 0\n endif")
	wantBytes(t, res, []byte{0})
}

func TestRangeAndSection(t *testing.T) {
	res := assembleSource(t, ` range code, 0x1000, 0x1FFF
 range data, 0x5000, 0x5FFF
 section code
 defb 1
 section data
 defb 2
 section code
 defb 3`)
	// each section keeps its own cursor
	main := res.Bytes
	if res.Origin != 0x1000 {
		t.Fatalf("origin = 0x%04X", res.Origin)
	}
	if main[0] != 1 || main[1] != 3 {
		t.Errorf("code section bytes = % X", main[:2])
	}
	if main[0x5000-0x1000] != 2 {
		t.Errorf("data section byte = %d", main[0x5000-0x1000])
	}
}

func TestSectionOverflow(t *testing.T) {
	_, err := tryAssemble(" range tiny, 0x100, 0x101\n section tiny\n defb 1, 2, 3, 4")
	if !errors.Is(err, ErrOutputExceedsLimit) {
		t.Errorf("expected section overflow, got %v", err)
	}
}

func TestBreakpointChunk(t *testing.T) {
	res := assembleSource(t, ` buildsna
 org 0x4000
entry: nop
 breakpoint entry, type=1
 breakpoint 0x8000, access=2, run=1`)
	if res.Snapshot == nil {
		t.Fatal("no snapshot")
	}
	rows := res.Snapshot.Breakpoints()
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Address != 0x4000 || rows[0].Type != 1 {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].Address != 0x8000 || rows[1].Access != 2 || rows[1].Run != 1 {
		t.Errorf("row 1 = %+v", rows[1])
	}
}

func TestIncludeOnce(t *testing.T) {
	ctx := parser.NewContext("main.asm", parser.Options{})
	ctx.Reader = mapReader{
		"lib.asm": " defb 0xAB",
	}
	listing, err := parser.Parse(" include \"lib.asm\", once\n include \"lib.asm\", once", ctx)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Assemble(listing, Options{Context: ctx})
	if err != nil {
		t.Fatal(err)
	}
	wantBytes(t, res, []byte{0xAB})
}

// mapReader serves files from memory, the injection point the WASM build
// uses as well.
type mapReader map[string]string

func (m mapReader) ReadFile(path string) ([]byte, error) {
	for name, content := range m {
		if path == name || strings.HasSuffix(path, "/"+name) {
			return []byte(content), nil
		}
	}
	return nil, errors.New("no such file: " + path)
}

func TestDurationAndOpcodeBuiltins(t *testing.T) {
	res := assembleSource(t, " defb duration(inc hl), opcode(ret)")
	wantBytes(t, res, []byte{2, 0xC9})
}

func TestDefinesOption(t *testing.T) {
	ctx := parser.NewContext("test.asm", parser.Options{})
	listing, err := parser.Parse(" defb LEVEL", ctx)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Assemble(listing, Options{
		Context: ctx,
		Defines: map[string]int64{"LEVEL": 9},
	})
	if err != nil {
		t.Fatal(err)
	}
	wantBytes(t, res, []byte{9})
}

func TestCancellation(t *testing.T) {
	ctx := parser.NewContext("test.asm", parser.Options{})
	listing, err := parser.Parse(" repeat 100\n nop\n endrepeat", ctx)
	if err != nil {
		t.Fatal(err)
	}
	calls := 0
	_, err = Assemble(listing, Options{
		Context: ctx,
		Cancelled: func() bool {
			calls++
			return calls > 5
		},
	})
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected cancellation, got %v", err)
	}
}

func TestMaxPassesOption(t *testing.T) {
	ctx := parser.NewContext("test.asm", parser.Options{})
	listing, err := parser.Parse("x equ y\ny equ x+1", ctx)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Assemble(listing, Options{Context: ctx, MaxPasses: 5})
	if !errors.Is(err, ErrPassLimitExceeded) {
		t.Errorf("still unstable: %v", err)
	}
}

func TestAddressValueCarriesBank(t *testing.T) {
	res := assembleSource(t, " org 0x9000\nentry: nop")
	v, err := res.Symbols.Get("entry")
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != symbols.ValueAddress || v.Int != 0x9000 {
		t.Errorf("entry = %+v", v)
	}
}
