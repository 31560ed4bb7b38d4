package asm

import (
	"fmt"

	"github.com/cpcsdk/cpcasm/pkg/ast"
	"github.com/cpcsdk/cpcasm/pkg/basic"
	"github.com/cpcsdk/cpcasm/pkg/crunch"
	"github.com/cpcsdk/cpcasm/pkg/eval"
	"github.com/cpcsdk/cpcasm/pkg/parser"
	"github.com/cpcsdk/cpcasm/pkg/sna"
	"github.com/cpcsdk/cpcasm/pkg/symbols"
)

func (e *Env) visitOrg(tok *ast.Token) error {
	logical, err := eval.EvalInt(tok.Exprs[0], e.evalCtx(eval.MustNeverFail))
	if err != nil {
		return e.spanErr(tok, err)
	}
	physical := logical
	if len(tok.Exprs) == 2 {
		if physical, err = eval.EvalInt(tok.Exprs[1], e.evalCtx(eval.MustNeverFail)); err != nil {
			return e.spanErr(tok, err)
		}
	}
	if logical < 0 || logical > 0xFFFF || physical < 0 || physical > 0xFFFF {
		return e.spanErr(tok, fmt.Errorf("ORG address out of range"))
	}
	e.codeAdr = int(logical)
	e.outputAdr = int(physical)
	// The first org of a bank fixes its start address; the physical
	// address wins when both are given.
	if e.cur.start < 0 {
		e.cur.start = int(physical)
		e.cur.end = int(physical)
	}
	return nil
}

func (e *Env) visitRorg(tok *ast.Token) error {
	logical, err := eval.EvalInt(tok.Exprs[0], e.evalCtx(eval.MustNeverFail))
	if err != nil {
		return e.spanErr(tok, err)
	}
	savedCode := e.codeAdr
	savedOutput := e.outputAdr
	e.codeAdr = int(logical)
	if err := e.visitBody(tok.Body); err != nil {
		return err
	}
	// Output kept advancing; $ resumes as if the block had been emitted
	// in place.
	if savedCode >= 0 && savedOutput >= 0 && e.outputAdr >= 0 {
		e.codeAdr = savedCode + (e.outputAdr - savedOutput)
	} else {
		e.codeAdr = savedCode
	}
	return nil
}

func (e *Env) visitDefb(tok *ast.Token, delta int64) error {
	var out []byte
	ctx := e.evalCtx(eval.MayFailInFirstPass)
	for _, x := range tok.Exprs {
		v, err := eval.Eval(x, ctx)
		if err != nil {
			return e.spanErr(tok, err)
		}
		if v.Kind == symbols.ValueString {
			for i := 0; i < len(v.Str); i++ {
				out = append(out, byte(int64(v.Str[i])+delta))
			}
			continue
		}
		i, err := v.AsInt()
		if err != nil {
			return e.spanErr(tok, err)
		}
		out = append(out, byte(i+delta))
	}
	return e.emit(tok, out)
}

func (e *Env) visitDefw(tok *ast.Token) error {
	var out []byte
	ctx := e.evalCtx(eval.MayFailInFirstPass)
	for _, x := range tok.Exprs {
		v, err := eval.EvalInt(x, ctx)
		if err != nil {
			return e.spanErr(tok, err)
		}
		out = append(out, byte(v), byte(v>>8))
	}
	return e.emit(tok, out)
}

func (e *Env) visitDefs(tok *ast.Token) error {
	var out []byte
	ctx := e.evalCtx(eval.MustNeverFail)
	for _, arg := range tok.DefsArgs {
		count, err := eval.EvalInt(arg.Count, ctx)
		if err != nil {
			return e.spanErr(tok, err)
		}
		if count < 0 {
			return e.spanErr(tok, fmt.Errorf("negative DEFS size %d", count))
		}
		fill := int64(0)
		if arg.Fill != nil {
			if fill, err = eval.EvalInt(arg.Fill, ctx); err != nil {
				return e.spanErr(tok, err)
			}
		}
		for i := int64(0); i < count; i++ {
			out = append(out, byte(fill))
		}
	}
	return e.emit(tok, out)
}

// visitStr emits string data with bit 7 set on the final byte of each
// string constant, the Amsdos catalog convention.
func (e *Env) visitStr(tok *ast.Token) error {
	var out []byte
	ctx := e.evalCtx(eval.MayFailInFirstPass)
	for _, x := range tok.Exprs {
		v, err := eval.Eval(x, ctx)
		if err != nil {
			return e.spanErr(tok, err)
		}
		if v.Kind == symbols.ValueString {
			if v.Str == "" {
				continue
			}
			for i := 0; i < len(v.Str)-1; i++ {
				out = append(out, v.Str[i])
			}
			out = append(out, v.Str[len(v.Str)-1]|0x80)
			continue
		}
		i, err := v.AsInt()
		if err != nil {
			return e.spanErr(tok, err)
		}
		out = append(out, byte(i))
	}
	return e.emit(tok, out)
}

func (e *Env) visitIncbin(tok *ast.Token) error {
	_, data, err := e.ctx.ResolveFile(tok.Str)
	if err != nil {
		return e.spanErr(tok, err)
	}
	ctx := e.evalCtx(eval.MustNeverFail)
	if tok.Offset != nil {
		off, err := eval.EvalInt(tok.Offset, ctx)
		if err != nil {
			return e.spanErr(tok, err)
		}
		if off < 0 || off > int64(len(data)) {
			return e.spanErr(tok, fmt.Errorf("INCBIN offset %d out of file", off))
		}
		data = data[off:]
	}
	if tok.Length != nil {
		n, err := eval.EvalInt(tok.Length, ctx)
		if err != nil {
			return e.spanErr(tok, err)
		}
		if n < 0 || n > int64(len(data)) {
			return e.spanErr(tok, fmt.Errorf("INCBIN length %d out of file", n))
		}
		data = data[:n]
	}
	if tok.Crunch != ast.CrunchNone {
		crunched, err := crunch.Compress(tok.Crunch, data)
		if err != nil {
			return e.spanErr(tok, err)
		}
		data = crunched
	}
	return e.emit(tok, data)
}

func (e *Env) visitInclude(tok *ast.Token) error {
	body := tok.Body
	if body == nil {
		path, data, err := e.ctx.ResolveFile(tok.Str)
		if err != nil {
			return e.spanErr(tok, err)
		}
		if tok.Once && e.included[path] {
			return nil
		}
		e.included[path] = true
		sub := *e.ctx
		sub.Filename = path
		if body, err = parser.Parse(string(data), &sub); err != nil {
			return e.spanErr(tok, err)
		}
	} else if tok.Once {
		if e.included["parsed:"+tok.Str] {
			return nil
		}
		e.included["parsed:"+tok.Str] = true
	}
	if tok.Namespace != "" {
		e.table.PushModule(tok.Namespace)
		defer e.table.PopModule()
	}
	return e.visitBody(body)
}

func (e *Env) visitAlign(tok *ast.Token) error {
	ctx := e.evalCtx(eval.MustNeverFail)
	boundary, err := eval.EvalInt(tok.Exprs[0], ctx)
	if err != nil {
		return e.spanErr(tok, err)
	}
	if boundary <= 0 {
		return e.spanErr(tok, fmt.Errorf("ALIGN boundary must be positive"))
	}
	fill := int64(0)
	if len(tok.Exprs) == 2 {
		if fill, err = eval.EvalInt(tok.Exprs[1], ctx); err != nil {
			return e.spanErr(tok, err)
		}
	}
	if e.codeAdr < 0 {
		e.codeAdr = 0
		e.outputAdr = 0
	}
	var out []byte
	for adr := int64(e.codeAdr); adr%boundary != 0; adr++ {
		out = append(out, byte(fill))
	}
	return e.emit(tok, out)
}

func (e *Env) visitLimit(tok *ast.Token) error {
	limit, err := eval.EvalInt(tok.Exprs[0], e.evalCtx(eval.MustNeverFail))
	if err != nil {
		return e.spanErr(tok, err)
	}
	if limit <= 0 || limit > 0x10000 {
		return e.spanErr(tok, fmt.Errorf("LIMIT 0x%X out of range", limit))
	}
	e.cur.maxPtr = int(limit) - 1
	return nil
}

func (e *Env) visitProtect(tok *ast.Token) error {
	ctx := e.evalCtx(eval.MustNeverFail)
	from, err := eval.EvalInt(tok.Exprs[0], ctx)
	if err != nil {
		return e.spanErr(tok, err)
	}
	to, err := eval.EvalInt(tok.Exprs[1], ctx)
	if err != nil {
		return e.spanErr(tok, err)
	}
	if from > to {
		from, to = to, from
	}
	e.protects = append(e.protects, protRange{from: int(from), to: int(to)})
	return nil
}

func (e *Env) visitRange(tok *ast.Token) error {
	ctx := e.evalCtx(eval.MustNeverFail)
	start, err := eval.EvalInt(tok.Start, ctx)
	if err != nil {
		return e.spanErr(tok, err)
	}
	stop, err := eval.EvalInt(tok.Stop, ctx)
	if err != nil {
		return e.spanErr(tok, err)
	}
	e.sections[tok.Name] = &section{
		name:   tok.Name,
		start:  int(start),
		end:    int(stop),
		cursor: int(start),
	}
	return nil
}

func (e *Env) visitSection(tok *ast.Token) error {
	sec, ok := e.sections[tok.Name]
	if !ok {
		return e.spanErr(tok, fmt.Errorf("unknown section %s", tok.Name))
	}
	if e.curSection != nil && e.outputAdr >= 0 {
		e.curSection.cursor = e.outputAdr
	}
	e.curSection = sec
	e.outputAdr = sec.cursor
	e.codeAdr = sec.cursor
	if e.cur.start < 0 {
		e.cur.start = sec.cursor
		e.cur.end = sec.cursor
	}
	return nil
}

func (e *Env) visitBank(tok *ast.Token) error {
	if !e.snaTarget && !e.cprTarget {
		return e.spanErr(tok, ErrBankWithoutTarget)
	}
	var bank int64
	if len(tok.Exprs) == 1 {
		var err error
		if bank, err = eval.EvalInt(tok.Exprs[0], e.evalCtx(eval.MustNeverFail)); err != nil {
			return e.spanErr(tok, err)
		}
	} else {
		// BANK without an argument picks the next unused page
		keys := e.populatedBankKeys()
		if len(keys) > 0 {
			bank = int64(keys[len(keys)-1] + 1)
		}
	}
	if bank < 0 || bank >= banksetBase {
		return e.spanErr(tok, fmt.Errorf("bank %d out of range", bank))
	}
	e.cur = e.space(int(bank))
	e.curBank = int(bank)
	return nil
}

func (e *Env) visitBankset(tok *ast.Token) error {
	if !e.snaTarget && !e.cprTarget {
		return e.spanErr(tok, ErrBankWithoutTarget)
	}
	set, err := eval.EvalInt(tok.Exprs[0], e.evalCtx(eval.MustNeverFail))
	if err != nil {
		return e.spanErr(tok, err)
	}
	if set < 0 || set > 2 {
		return e.spanErr(tok, fmt.Errorf("bankset %d out of range", set))
	}
	if set == 0 {
		e.cur = e.space(mainSpace)
		e.curBank = mainSpace
		return nil
	}
	e.cur = e.space(banksetBase + int(set))
	e.curBank = banksetBase + int(set)
	return nil
}

func (e *Env) visitAsmControl(tok *ast.Token) error {
	switch tok.Control {
	case ast.ControlSetMaxPasses:
		n, err := eval.EvalInt(tok.Exprs[0], e.evalCtx(eval.MustNeverFail))
		if err != nil {
			return e.spanErr(tok, err)
		}
		if n < 2 {
			return e.spanErr(tok, fmt.Errorf("pass limit must be at least 2"))
		}
		if int(n) > e.requestedLimit {
			e.requestedLimit = int(n)
		}
		return e.visitBody(tok.Body)

	case ast.ControlPrintAtParse:
		// shown ahead of the regular assembly prints
		if e.pass == 1 && e.opts.Output != nil {
			msg, err := e.formatArgs(tok.Exprs)
			if err != nil {
				return e.spanErr(tok, err)
			}
			fmt.Fprintln(e.opts.Output, msg)
		}
		return nil

	case ast.ControlPrintAtAssemble:
		msg, err := e.formatArgs(tok.Exprs)
		if err != nil {
			return e.spanErr(tok, err)
		}
		e.prints = append(e.prints, msg)
		return nil
	}
	return e.spanErr(tok, fmt.Errorf("unhandled assembler control %d", tok.Control))
}

func (e *Env) visitAssert(tok *ast.Token) error {
	ok, err := eval.EvalBool(tok.Exprs[0], e.evalCtx(eval.MayFailInFirstPass))
	if err != nil {
		return e.spanErr(tok, err)
	}
	if !ok {
		msg := tok.Str
		if msg == "" {
			msg = fmt.Sprintf("at %s", tok.Span)
		}
		e.assertFails = append(e.assertFails, msg)
	}
	return nil
}

func (e *Env) visitTicker(tok *ast.Token) error {
	switch tok.Ticker {
	case ast.TickerStart:
		e.tickers = append(e.tickers, tickerFrame{name: tok.Name})
		return nil
	case ast.TickerStop:
		if len(e.tickers) == 0 {
			return e.spanErr(tok, ErrNoActiveTickerCounter)
		}
		frame := e.tickers[len(e.tickers)-1]
		e.tickers = e.tickers[:len(e.tickers)-1]
		name := tok.Name
		if name == "" {
			name = frame.name
		}
		e.table.Set(name, symbols.IntValue(int64(frame.nops)))
		return nil
	}
	return nil
}

func (e *Env) visitBreakpoint(tok *ast.Token) error {
	ctx := e.evalCtx(eval.MayFailInFirstPass)
	row := sna.Breakpoint{}
	get := func(x *ast.Expr) (int64, error) {
		if x == nil {
			return 0, nil
		}
		return eval.EvalInt(x, ctx)
	}
	var err error
	var v int64
	if tok.Break.Address != nil {
		if v, err = get(tok.Break.Address); err != nil {
			return e.spanErr(tok, err)
		}
		row.Address = uint16(v)
	} else if e.codeAdr >= 0 {
		row.Address = uint16(e.codeAdr)
	}
	if e.curBank >= 0 && e.curBank < banksetBase {
		row.Bank = uint8(e.curBank)
	}
	if v, err = get(tok.Break.Mask); err != nil {
		return e.spanErr(tok, err)
	}
	row.Mask = uint8(v)
	if v, err = get(tok.Break.Type); err != nil {
		return e.spanErr(tok, err)
	}
	row.Type = uint8(v)
	if v, err = get(tok.Break.Access); err != nil {
		return e.spanErr(tok, err)
	}
	row.Access = uint8(v)
	if v, err = get(tok.Break.Run); err != nil {
		return e.spanErr(tok, err)
	}
	row.Run = uint8(v)
	e.breaks = append(e.breaks, row)
	return nil
}

func (e *Env) visitBuildSna(tok *ast.Token) error {
	version := int64(3)
	if tok.SnaVersion != nil {
		var err error
		if version, err = eval.EvalInt(tok.SnaVersion, e.evalCtx(eval.MustNeverFail)); err != nil {
			return e.spanErr(tok, err)
		}
	}
	if version < 1 || version > 3 {
		return e.spanErr(tok, fmt.Errorf("%w: v%d", sna.ErrUnsupportedVersion, version))
	}
	e.snaTarget = true
	e.pendingSnapshot().Version = uint8(version)
	return nil
}

func (e *Env) pendingSnapshot() *sna.Snapshot {
	if e.snapshot == nil {
		e.snapshot = sna.New()
	}
	return e.snapshot
}

func (e *Env) visitSnaSet(tok *ast.Token) error {
	flag, err := sna.ParseFlag(tok.SnaFlag)
	if err != nil {
		return e.spanErr(tok, err)
	}
	v, err := eval.EvalInt(tok.SnaValue, e.evalCtx(eval.MustNeverFail))
	if err != nil {
		return e.spanErr(tok, err)
	}
	if v < 0 || v > 0xFFFF {
		return e.spanErr(tok, fmt.Errorf("%w: %d", sna.ErrValueTooLarge, v))
	}
	if err := e.pendingSnapshot().SetFlag(flag, uint16(v)); err != nil {
		return e.spanErr(tok, err)
	}
	return nil
}

func (e *Env) visitSnaInit(tok *ast.Token) error {
	_, data, err := e.ctx.ResolveFile(tok.Str)
	if err != nil {
		return e.spanErr(tok, err)
	}
	snap, err := sna.Read(data)
	if err != nil {
		return e.spanErr(tok, err)
	}
	e.snapshot = snap
	e.snaTarget = true
	return nil
}

func (e *Env) visitLocomotive(tok *ast.Token) error {
	var hidden []int
	for _, x := range tok.HiddenLines {
		v, err := eval.EvalInt(x, e.evalCtx(eval.MustNeverFail))
		if err != nil {
			return e.spanErr(tok, err)
		}
		hidden = append(hidden, int(v))
	}
	data, err := basic.Tokenize(tok.Str, hidden)
	if err != nil {
		return e.spanErr(tok, err)
	}
	return e.emit(tok, data)
}

func (e *Env) visitCrunchedSection(tok *ast.Token) error {
	frame := &captureFrame{startOutput: e.outputAdr, startCode: e.codeAdr}
	e.captures = append(e.captures, frame)
	err := e.visitBody(tok.Body)
	e.captures = e.captures[:len(e.captures)-1]
	if err != nil {
		return err
	}
	crunched, err := crunch.Compress(tok.Crunch, frame.buf)
	if err != nil {
		return e.spanErr(tok, err)
	}
	e.outputAdr = frame.startOutput
	e.codeAdr = frame.startCode
	return e.emit(tok, crunched)
}

// visitConfined keeps a block inside one 256-byte page, padding up to the
// next boundary when it would cross one.
func (e *Env) visitConfined(tok *ast.Token) error {
	frame := &captureFrame{startOutput: e.outputAdr, startCode: e.codeAdr}
	e.captures = append(e.captures, frame)
	err := e.visitBody(tok.Body)
	e.captures = e.captures[:len(e.captures)-1]
	if err != nil {
		return err
	}
	if len(frame.buf) > 0x100 {
		return e.spanErr(tok, fmt.Errorf("confined block of %d bytes cannot fit a 256-byte page", len(frame.buf)))
	}
	e.outputAdr = frame.startOutput
	e.codeAdr = frame.startCode
	if e.codeAdr >= 0 {
		if (e.codeAdr & 0xFF00) != ((e.codeAdr + len(frame.buf) - 1) & 0xFF00) {
			next := (e.codeAdr + 0xFF) & ^0xFF
			pad := make([]byte, next-e.codeAdr)
			if err := e.emit(tok, pad); err != nil {
				return err
			}
		}
	}
	return e.emit(tok, frame.buf)
}
