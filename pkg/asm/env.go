// Package asm implements the multi-pass assembling environment: it walks
// a located token tree, resolves symbols across passes and produces the
// output banks, snapshots and scheduled file emissions.
package asm

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cpcsdk/cpcasm/pkg/ast"
	"github.com/cpcsdk/cpcasm/pkg/eval"
	"github.com/cpcsdk/cpcasm/pkg/parser"
	"github.com/cpcsdk/cpcasm/pkg/sna"
	"github.com/cpcsdk/cpcasm/pkg/symbols"
	"github.com/cpcsdk/cpcasm/pkg/z80"
)

const (
	// DefaultMaxPasses bounds the pass loop unless raised by the user or
	// an ASMCONTROLENV block.
	DefaultMaxPasses = 2
	// iterationCap stops runaway WHILE / REPEAT UNTIL loops
	iterationCap = 0x20000
	// recursionCap bounds macro and function nesting
	recursionCap = 64
)

// Options configures one assembly session
type Options struct {
	CaseSensitive bool
	MaxPasses     int
	// Defines seeds symbols before pass 1 (--define SYM=VAL)
	Defines map[string]int64
	// Output receives PRINT and diagnostic messages; nil discards them
	Output io.Writer
	// Cancelled is polled at every token boundary
	Cancelled func() bool
	// Context supplies include resolution and the option bag used when
	// re-parsing macro expansions.
	Context *parser.Context
}

// SavedFile is one scheduled emission, produced at the end of assembly
type SavedFile struct {
	Name string
	Data []byte
}

// ListingLine records the bytes one token produced, for listing output
type ListingLine struct {
	Address uint16
	Bytes   []byte
	Span    ast.Span
}

// Result is the outcome of a finished assembly
type Result struct {
	Bytes     []byte // produced bytes of the main space
	Origin    uint16 // physical address of the first produced byte
	Symbols   *symbols.Table
	Snapshot  *sna.Snapshot
	Cartridge [][]byte // populated 16 KiB banks when BUILDCPR was used
	CartBanks []int
	Saved     []SavedFile
	Listing   []ListingLine
	Warnings  []string
	Passes    int
}

// memSpace is one writable address space: the 64 KiB main memory, a
// bankset, or a 16 KiB snapshot page.
type memSpace struct {
	key     int
	data    []byte
	written []bool
	mask    int
	start   int // physical address of the first written byte, -1 unknown
	end     int // one past the highest written address
	maxPtr  int
}

func newSpace(key, size int) *memSpace {
	return &memSpace{
		key:     key,
		data:    make([]byte, size),
		written: make([]bool, size),
		mask:    size - 1,
		start:   -1,
		maxPtr:  0xFFFF,
	}
}

const (
	mainSpace    = -1
	banksetBase  = 0x1000 // bankset n lives at key banksetBase+n
	pageSpanSize = 0x4000
)

type protRange struct{ from, to int }

type tickerFrame struct {
	name  string
	nops  int
}

// captureFrame redirects emission into a side buffer, used by crunched
// sections and CONFINED blocks.
type captureFrame struct {
	buf         []byte
	startOutput int
	startCode   int
}

type section struct {
	name       string
	start, end int
	cursor     int
}

type pendingSave struct {
	save *ast.Save
	bank int
	span ast.Span
}

// Env is the per-session assembling environment
type Env struct {
	opts  Options
	table *symbols.Table
	ctx   *parser.Context

	pass      int
	passLimit int
	// highest pass limit requested by an ASMCONTROLENV block this pass
	requestedLimit int

	spaces  map[int]*memSpace
	cur     *memSpace
	curBank int

	outputAdr int
	codeAdr   int

	protects []protRange
	tickers  []tickerFrame
	captures []*captureFrame

	sections   map[string]*section
	curSection *section

	snapshot   *sna.Snapshot
	snaTarget  bool
	cprTarget  bool
	breaks     []sna.Breakpoint
	saves      []pendingSave

	macros    map[string]*ast.Token
	structs   map[string]*ast.Token
	functions map[string]*ast.Token
	depth     int

	included map[string]bool

	prints      []string
	assertFails []string
	warnings    []string
	listing     []ListingLine
	listOn      bool
	ended       bool
}

// Assemble runs the multi-pass loop over a parsed listing
func Assemble(listing []*ast.Token, opts Options) (*Result, error) {
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = DefaultMaxPasses
	}
	if opts.Context == nil {
		opts.Context = parser.NewContext("<listing>", parser.Options{
			CaseSensitive: opts.CaseSensitive,
		})
	}
	e := &Env{
		opts:      opts,
		table:     symbols.NewTable(opts.CaseSensitive),
		ctx:       opts.Context,
		passLimit: opts.MaxPasses,
	}
	for name, v := range opts.Defines {
		e.table.Set(name, symbols.IntValue(v))
	}

	prev := e.table.Snapshot()
	for pass := 1; ; pass++ {
		e.beginPass(pass)
		if err := e.visitBody(listing); err != nil {
			return nil, err
		}
		if e.requestedLimit > e.passLimit {
			e.passLimit = e.requestedLimit
		}
		diff := e.table.Diff(prev)
		if len(diff) == 0 && pass >= 2 {
			break
		}
		if pass >= e.passLimit {
			return nil, fmt.Errorf("%w: %s", ErrPassLimitExceeded,
				strings.Join(diff, ", "))
		}
		prev = e.table.Snapshot()
	}

	if len(e.assertFails) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAssertionFailed,
			strings.Join(e.assertFails, "; "))
	}
	return e.finish()
}

func (e *Env) beginPass(pass int) {
	e.pass = pass
	e.spaces = make(map[int]*memSpace)
	e.cur = e.space(mainSpace)
	e.curBank = mainSpace
	e.outputAdr = -1
	e.codeAdr = -1
	e.protects = nil
	e.tickers = nil
	e.captures = nil
	e.sections = make(map[string]*section)
	e.curSection = nil
	e.snapshot = nil
	e.snaTarget = false
	e.cprTarget = false
	e.breaks = nil
	e.saves = nil
	e.macros = make(map[string]*ast.Token)
	e.structs = make(map[string]*ast.Token)
	e.functions = make(map[string]*ast.Token)
	e.included = make(map[string]bool)
	e.prints = nil
	e.assertFails = nil
	e.listing = nil
	e.listOn = true
	e.ended = false
	e.requestedLimit = 0
}

func (e *Env) space(key int) *memSpace {
	if sp, ok := e.spaces[key]; ok {
		return sp
	}
	size := 0x10000
	if key >= 0 && key < banksetBase {
		size = pageSpanSize
	}
	sp := newSpace(key, size)
	e.spaces[key] = sp
	return sp
}

// visitBody walks tokens in source order, checking cancellation at every
// token boundary.
func (e *Env) visitBody(tokens []*ast.Token) error {
	for _, tok := range tokens {
		if e.ended {
			return nil
		}
		if e.opts.Cancelled != nil && e.opts.Cancelled() {
			return ErrCancelled
		}
		if err := e.visitToken(tok); err != nil {
			return err
		}
	}
	return nil
}

func (e *Env) visitToken(tok *ast.Token) error {
	switch tok.Kind {
	case ast.TokLabel:
		return e.defineSymbol(tok, tok.Name, e.addressValue())
	case ast.TokEqu:
		v, err := eval.Eval(tok.Exprs[0], e.evalCtx(eval.MayFailInFirstPass))
		if err != nil {
			return e.spanErr(tok, err)
		}
		return e.defineSymbol(tok, tok.Name, v)
	case ast.TokAssign:
		return e.visitAssign(tok)
	case ast.TokOpCode:
		return e.visitOpCode(tok)
	case ast.TokOrg:
		return e.visitOrg(tok)
	case ast.TokRorg:
		return e.visitRorg(tok)
	case ast.TokDefb:
		return e.visitDefb(tok, 0)
	case ast.TokAbyte:
		delta, err := eval.EvalInt(tok.Delta, e.evalCtx(eval.MustNeverFail))
		if err != nil {
			return e.spanErr(tok, err)
		}
		return e.visitDefb(tok, delta)
	case ast.TokDefw:
		return e.visitDefw(tok)
	case ast.TokDefs:
		return e.visitDefs(tok)
	case ast.TokStr:
		return e.visitStr(tok)
	case ast.TokIncbin:
		return e.visitIncbin(tok)
	case ast.TokInclude:
		return e.visitInclude(tok)
	case ast.TokRepeat:
		return e.visitRepeat(tok)
	case ast.TokRepeatUntil:
		return e.visitRepeatUntil(tok)
	case ast.TokWhile:
		return e.visitWhile(tok)
	case ast.TokFor:
		return e.visitFor(tok)
	case ast.TokIterate:
		return e.visitIterate(tok)
	case ast.TokIf:
		return e.visitIf(tok)
	case ast.TokSwitch:
		return e.visitSwitch(tok)
	case ast.TokMacroDef:
		e.macros[strings.ToUpper(tok.Name)] = tok
		return nil
	case ast.TokStructDef:
		return e.visitStructDef(tok)
	case ast.TokMacroCall:
		return e.visitCall(tok)
	case ast.TokFunctionDef:
		e.functions[strings.ToUpper(tok.Name)] = tok
		return nil
	case ast.TokReturn:
		return e.spanErr(tok, fmt.Errorf("RETURN outside a function"))
	case ast.TokCrunchedSection:
		return e.visitCrunchedSection(tok)
	case ast.TokModule:
		e.table.PushModule(tok.Name)
		err := e.visitBody(tok.Body)
		e.table.PopModule()
		return err
	case ast.TokConfined:
		return e.visitConfined(tok)
	case ast.TokSave:
		e.saves = append(e.saves, pendingSave{save: tok.Save, bank: e.curBank, span: tok.Span})
		return nil
	case ast.TokBuildSna:
		return e.visitBuildSna(tok)
	case ast.TokBuildCpr:
		e.cprTarget = true
		return nil
	case ast.TokSnaSet:
		return e.visitSnaSet(tok)
	case ast.TokSnaInit:
		return e.visitSnaInit(tok)
	case ast.TokBreakpoint:
		return e.visitBreakpoint(tok)
	case ast.TokStableTicker:
		return e.visitTicker(tok)
	case ast.TokAlign:
		return e.visitAlign(tok)
	case ast.TokLimit:
		return e.visitLimit(tok)
	case ast.TokProtect:
		return e.visitProtect(tok)
	case ast.TokRange:
		return e.visitRange(tok)
	case ast.TokSection:
		return e.visitSection(tok)
	case ast.TokBank:
		return e.visitBank(tok)
	case ast.TokBankset:
		return e.visitBankset(tok)
	case ast.TokAsmControl:
		return e.visitAsmControl(tok)
	case ast.TokAssert:
		return e.visitAssert(tok)
	case ast.TokPrint:
		msg, err := e.formatArgs(tok.Exprs)
		if err != nil {
			return e.spanErr(tok, err)
		}
		e.prints = append(e.prints, msg)
		return nil
	case ast.TokFail:
		msg, _ := e.formatArgs(tok.Exprs)
		return e.spanErr(tok, fmt.Errorf("FAIL: %s", msg))
	case ast.TokPause:
		return nil
	case ast.TokUndef:
		e.table.Remove(tok.Name)
		return nil
	case ast.TokList:
		e.listOn = true
		return nil
	case ast.TokNoList:
		e.listOn = false
		return nil
	case ast.TokComment:
		return nil
	case ast.TokEnd:
		e.ended = true
		return nil
	case ast.TokLocomotive:
		return e.visitLocomotive(tok)
	case ast.TokLua:
		return e.visitLua(tok)
	}
	return e.spanErr(tok, fmt.Errorf("unhandled token kind %d", tok.Kind))
}

// addressValue is the value a label defined here receives
func (e *Env) addressValue() symbols.Value {
	adr := e.codeAdr
	if adr < 0 {
		adr = 0
	}
	bank := e.curBank
	if bank == mainSpace {
		bank = 0
	}
	return symbols.AddressValue(bank, int64(adr))
}

// defineSymbol defines in pass 1 (duplicate is an error) and updates in
// later passes; the end-of-pass diff turns a changed value into the
// instability diagnostic.
func (e *Env) defineSymbol(tok *ast.Token, name string, v symbols.Value) error {
	if e.pass == 1 {
		if err := e.table.Define(name, v); err != nil {
			return e.spanErr(tok, err)
		}
		return nil
	}
	e.table.Set(name, v)
	return nil
}

func (e *Env) visitAssign(tok *ast.Token) error {
	v, err := eval.Eval(tok.Exprs[0], e.evalCtx(eval.MayFailInFirstPass))
	if err != nil {
		return e.spanErr(tok, err)
	}
	if tok.Op == ast.AssignSet {
		e.table.Set(tok.Name, v)
		return nil
	}

	prior, err := e.table.Get(tok.Name)
	if err != nil {
		if e.pass > 1 {
			return e.spanErr(tok, err)
		}
		prior = symbols.IntValue(0)
	}
	pi, err := prior.AsInt()
	if err != nil {
		return e.spanErr(tok, err)
	}
	vi, err := v.AsInt()
	if err != nil {
		return e.spanErr(tok, err)
	}

	var res int64
	switch tok.Op {
	case ast.AssignAdd:
		res = pi + vi
	case ast.AssignSub:
		res = pi - vi
	case ast.AssignMul:
		res = pi * vi
	case ast.AssignDiv:
		if vi == 0 {
			return e.spanErr(tok, eval.ErrDivByZero)
		}
		res = pi / vi
	case ast.AssignMod:
		if vi == 0 {
			return e.spanErr(tok, eval.ErrModByZero)
		}
		res = pi % vi
	case ast.AssignShl:
		res = pi << uint(vi&31)
	case ast.AssignShr:
		res = pi >> uint(vi&31)
	case ast.AssignAnd:
		res = pi & vi
	case ast.AssignOr:
		res = pi | vi
	case ast.AssignXor:
		res = pi ^ vi
	case ast.AssignLAnd:
		res = boolToInt(pi != 0 && vi != 0)
	case ast.AssignLOr:
		res = boolToInt(pi != 0 || vi != 0)
	default:
		return e.spanErr(tok, fmt.Errorf("unknown assignment operator %s", tok.Op))
	}
	e.table.Set(tok.Name, symbols.IntValue(res))
	return nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (e *Env) visitOpCode(tok *ast.Token) error {
	pc := uint16(0)
	if e.codeAdr >= 0 {
		pc = uint16(e.codeAdr)
	}
	bytes, err := z80.Encode(tok.Inst, e.operandEval(eval.MayFailInFirstPass), pc)
	if err != nil {
		// In pass 1 unresolved labels read as zero, which can push a
		// relative jump out of range; every Z80 encoding has a
		// size-stable form, so reserve the bytes and let pass 2 encode
		// the real operands.
		if e.pass <= 1 {
			if size, sizeErr := z80.Size(tok.Inst); sizeErr == nil {
				bytes = make([]byte, size)
				err = nil
			}
		}
		if err != nil {
			return e.spanErr(tok, err)
		}
	}
	if len(e.tickers) > 0 {
		nops, err := z80.Duration(tok.Inst)
		if err == nil {
			for i := range e.tickers {
				e.tickers[i].nops += nops
			}
		}
	}
	return e.emit(tok, bytes)
}

// emit writes bytes at the output cursor and records the listing line
func (e *Env) emit(tok *ast.Token, bytes []byte) error {
	adr := uint16(0)
	if e.codeAdr >= 0 {
		adr = uint16(e.codeAdr)
	}
	for _, b := range bytes {
		if err := e.writeByte(tok, b); err != nil {
			return err
		}
	}
	if e.listOn && len(bytes) > 0 {
		e.listing = append(e.listing, ListingLine{Address: adr, Bytes: bytes, Span: tok.Span})
	}
	return nil
}

// writeByte stores one byte at output_adr. The env never wraps:
// output_adr == 0x10000 in a 64 KiB space is the first illegal position.
func (e *Env) writeByte(tok *ast.Token, b byte) error {
	if len(e.captures) > 0 {
		top := e.captures[len(e.captures)-1]
		top.buf = append(top.buf, b)
		if e.outputAdr >= 0 {
			e.outputAdr++
		}
		if e.codeAdr >= 0 {
			e.codeAdr++
		}
		return nil
	}

	// without an explicit org the output starts at address zero
	if e.outputAdr < 0 {
		e.outputAdr = 0
		if e.codeAdr < 0 {
			e.codeAdr = 0
		}
	}
	if e.outputAdr > e.cur.maxPtr || e.outputAdr >= 0x10000 {
		return e.spanErr(tok, fmt.Errorf("%w: 0x%05X", ErrOutputExceedsLimit, e.outputAdr))
	}
	for _, pr := range e.protects {
		if e.outputAdr >= pr.from && e.outputAdr <= pr.to {
			return e.spanErr(tok, fmt.Errorf("%w: 0x%04X in 0x%04X..0x%04X",
				ErrWriteToProtectedRange, e.outputAdr, pr.from, pr.to))
		}
	}
	if e.curSection != nil && e.outputAdr > e.curSection.end {
		return e.spanErr(tok, fmt.Errorf("%w: section %s ends at 0x%04X",
			ErrOutputExceedsLimit, e.curSection.name, e.curSection.end))
	}

	idx := e.outputAdr & e.cur.mask
	if e.cur.written[idx] {
		return e.spanErr(tok, fmt.Errorf("%w: 0x%04X", ErrDoubleWrite, e.outputAdr))
	}
	e.cur.data[idx] = b
	e.cur.written[idx] = true
	if e.cur.start < 0 || e.outputAdr < e.cur.start {
		e.cur.start = e.outputAdr
	}
	if e.outputAdr+1 > e.cur.end {
		e.cur.end = e.outputAdr + 1
	}
	e.outputAdr++
	if e.codeAdr >= 0 {
		e.codeAdr++
	}
	return nil
}

// operandEval adapts the expression evaluator to the encoder interface
type operandEvaluator struct {
	e      *Env
	policy eval.Policy
}

func (o operandEvaluator) EvalExpr(x *ast.Expr) (int64, error) {
	return eval.EvalInt(x, o.e.evalCtx(o.policy))
}

func (e *Env) operandEval(policy eval.Policy) z80.Evaluator {
	return operandEvaluator{e: e, policy: policy}
}

func (e *Env) evalCtx(policy eval.Policy) *eval.Context {
	return &eval.Context{
		Table:  e.table,
		Pass:   e.pass,
		Policy: policy,
		Dollar: func() (int64, bool) {
			if e.codeAdr >= 0 {
				return int64(e.codeAdr), true
			}
			return 0, false
		},
		DollarDollar: func() (int64, bool) {
			if e.outputAdr >= 0 {
				return int64(e.outputAdr), true
			}
			return 0, false
		},
		Hooks: eval.InstrHooks{
			FirstByte: e.encodeFirstByte,
			Duration:  z80.Duration,
		},
		PrefixResolve: e.resolvePrefix,
		CallUser:      e.callUserFunction,
	}
}

func (e *Env) encodeFirstByte(inst *ast.Instruction) (byte, error) {
	pc := uint16(0)
	if e.codeAdr >= 0 {
		pc = uint16(e.codeAdr)
	}
	bytes, err := z80.Encode(inst, e.operandEval(eval.MayFailInFirstPass), pc)
	if err != nil {
		return 0, err
	}
	return bytes[0], nil
}

// resolvePrefix resolves {bank}, {page} and {pageset} label expressions.
// Page is the gate-array RAM configuration byte selecting the label's
// 16 KiB page; pageset is the 64 KiB group index.
func (e *Env) resolvePrefix(prefix ast.LabelPrefix, label string) (int64, error) {
	v, err := e.table.Get(label)
	if err != nil {
		if e.pass <= 1 {
			return 0, nil
		}
		return 0, err
	}
	bank := int64(v.Bank)
	switch prefix {
	case ast.PrefixBank:
		return bank, nil
	case ast.PrefixPage:
		if bank == 0 {
			return 0xC0, nil
		}
		return 0xC4 + bank%4 + (bank/4)<<3, nil
	case ast.PrefixPageset:
		return bank / 4, nil
	}
	return 0, fmt.Errorf("unknown label prefix")
}

func (e *Env) formatArgs(exprs []*ast.Expr) (string, error) {
	parts := make([]string, 0, len(exprs))
	for _, x := range exprs {
		v, err := eval.Eval(x, e.evalCtx(eval.MayFailInFirstPass))
		if err != nil {
			return "", err
		}
		parts = append(parts, v.String())
	}
	return strings.Join(parts, " "), nil
}

func (e *Env) spanErr(tok *ast.Token, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", tok.Span, err)
}

// finish builds the final result once the pass loop stabilised
func (e *Env) finish() (*Result, error) {
	res := &Result{
		Symbols:  e.table,
		Listing:  e.listing,
		Warnings: e.warnings,
		Passes:   e.pass,
	}

	main := e.spaces[mainSpace]
	if main != nil && main.start >= 0 {
		res.Bytes = append([]byte(nil), main.data[main.start:main.end]...)
		res.Origin = uint16(main.start)
	}

	if e.opts.Output != nil {
		for _, msg := range e.prints {
			fmt.Fprintln(e.opts.Output, msg)
		}
	}

	if e.snaTarget {
		snap, err := e.buildSnapshot()
		if err != nil {
			return nil, err
		}
		res.Snapshot = snap
	}
	if e.cprTarget {
		banks, nums := e.collectCartBanks()
		res.Cartridge = banks
		res.CartBanks = nums
	}

	if err := e.performSaves(res); err != nil {
		return nil, err
	}
	return res, nil
}

// populatedBankKeys lists the page-sized spaces holding data, ordered
func (e *Env) populatedBankKeys() []int {
	var keys []int
	for k, sp := range e.spaces {
		if k >= 0 && k < banksetBase && sp.start >= 0 {
			keys = append(keys, k)
		}
	}
	sort.Ints(keys)
	return keys
}
