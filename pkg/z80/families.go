package z80

import (
	"fmt"

	"github.com/cpcsdk/cpcasm/pkg/ast"
)

func assembleLD(inst *ast.Instruction, ev Evaluator) (encoded, error) {
	if inst.NumOps() != 2 {
		return encErr(ErrInvalidOperand, "LD takes two operands")
	}
	dst, src := inst.Op(0), inst.Op(1)

	// Special registers I and R pair only with A
	switch {
	case dst.Kind == ast.OperandRegI || isReg(dst, ast.RegI):
		if isReg(src, ast.RegA) {
			return enc(3, PrefixED, 0x47)
		}
		return encErr(ErrInvalidOperand, "LD I only accepts A")
	case dst.Kind == ast.OperandRegR || isReg(dst, ast.RegR):
		if isReg(src, ast.RegA) {
			return enc(3, PrefixED, 0x4F)
		}
		return encErr(ErrInvalidOperand, "LD R only accepts A")
	case isReg(dst, ast.RegA) && (src.Kind == ast.OperandRegI || isReg(src, ast.RegI)):
		return enc(3, PrefixED, 0x57)
	case isReg(dst, ast.RegA) && (src.Kind == ast.OperandRegR || isReg(src, ast.RegR)):
		return enc(3, PrefixED, 0x5F)
	}

	// A <-> (BC)/(DE) and A <-> (nn)
	if isReg(dst, ast.RegA) {
		if isMemReg(src, ast.RegBC) {
			return enc(2, 0x0A)
		}
		if isMemReg(src, ast.RegDE) {
			return enc(2, 0x1A)
		}
	}
	if isReg(src, ast.RegA) {
		if isMemReg(dst, ast.RegBC) {
			return enc(2, 0x02)
		}
		if isMemReg(dst, ast.RegDE) {
			return enc(2, 0x12)
		}
	}
	if isReg(dst, ast.RegA) && isMemExpr(src) {
		lo, hi, err := immWord(src.Expr, ev)
		if err != nil {
			return encoded{}, err
		}
		return enc(4, 0x3A, lo, hi)
	}
	if isMemExpr(dst) && isReg(src, ast.RegA) {
		lo, hi, err := immWord(dst.Expr, ev)
		if err != nil {
			return encoded{}, err
		}
		return enc(4, 0x32, lo, hi)
	}

	// 16-bit register destinations
	if dst.Kind == ast.OperandReg16 {
		return assembleLD16(dst, src, ev)
	}

	// (nn) <- 16-bit register
	if isMemExpr(dst) && src.Kind == ast.OperandReg16 {
		lo, hi, err := immWord(dst.Expr, ev)
		if err != nil {
			return encoded{}, err
		}
		switch src.Reg {
		case ast.RegHL:
			return enc(5, 0x22, lo, hi)
		case ast.RegBC:
			return enc(6, PrefixED, 0x43, lo, hi)
		case ast.RegDE:
			return enc(6, PrefixED, 0x53, lo, hi)
		case ast.RegSP:
			return enc(6, PrefixED, 0x73, lo, hi)
		case ast.RegIX:
			return enc(6, PrefixDD, 0x22, lo, hi)
		case ast.RegIY:
			return enc(6, PrefixFD, 0x22, lo, hi)
		}
		return encErr(ErrInvalidOperand, "LD (nn), %s", src.Reg)
	}

	// r slots: register/(HL)/(IX+d) on either side, or immediate source
	dl, dErr := rLocus(dst, ev)
	if dErr != nil {
		return encoded{}, dErr
	}

	if src.Kind == ast.OperandExpr {
		n, err := immByte(src.Expr, ev)
		if err != nil {
			return encoded{}, err
		}
		opcode := byte(0x06 | dl.code<<3)
		switch {
		case dl.indexed:
			return enc(6, dl.prefix, 0x36, dl.disp, n)
		case dl.code == 6:
			return enc(3, 0x36, n)
		case dl.prefix != 0:
			return enc(3, dl.prefix, opcode, n)
		default:
			return enc(2, opcode, n)
		}
	}

	sl, sErr := rLocus(src, ev)
	if sErr != nil {
		return encoded{}, sErr
	}
	if dl.code == 6 && sl.code == 6 {
		return encErr(ErrInvalidOperand, "LD cannot use two memory operands")
	}
	if dl.indexed || sl.indexed {
		// With an indexed memory operand the other side must be a plain
		// register: the prefix rebinds H and L only on non-indexed forms.
		mem, reg := dl, sl
		if sl.indexed {
			mem, reg = sl, dl
		}
		if reg.prefix != 0 {
			return encErr(ErrInvalidOperand, "cannot mix an indexed memory operand with an index half register")
		}
		opcode := byte(0x40 | dl.code<<3 | sl.code)
		return enc(5, mem.prefix, opcode, mem.disp)
	}
	if dl.prefix != 0 && sl.prefix != 0 && dl.prefix != sl.prefix {
		return encErr(ErrInvalidOperand, "cannot mix IX and IY halves")
	}
	prefix := dl.prefix
	if prefix == 0 {
		prefix = sl.prefix
	}
	// Plain H/L cannot pair with the other index bank's halves
	if prefix != 0 && ((dl.prefix == 0 && (dl.code == 4 || dl.code == 5)) ||
		(sl.prefix == 0 && (sl.code == 4 || sl.code == 5))) {
		return encErr(ErrInvalidOperand, "cannot mix H/L with index half registers")
	}
	opcode := byte(0x40 | dl.code<<3 | sl.code)
	nops := 1
	if dl.code == 6 || sl.code == 6 {
		nops = 2
	}
	return withPrefix(prefix, nops, opcode)
}

func assembleLD16(dst, src *ast.Operand, ev Evaluator) (encoded, error) {
	// LD SP, HL/IX/IY
	if dst.Reg == ast.RegSP && src.Kind == ast.OperandReg16 {
		switch src.Reg {
		case ast.RegHL:
			return enc(2, 0xF9)
		case ast.RegIX:
			return enc(3, PrefixDD, 0xF9)
		case ast.RegIY:
			return enc(3, PrefixFD, 0xF9)
		}
	}

	// Fake LD rr, rr': expanded into two 8-bit loads, low destination
	// first, then high.
	if src.Kind == ast.OperandReg16 {
		dh, dlo, okD := pairHalves(dst.Reg)
		sh, slo, okS := pairHalves(src.Reg)
		if okD && okS {
			lowOp := byte(0x40 | dlo<<3 | slo)
			highOp := byte(0x40 | dh<<3 | sh)
			return enc(2, lowOp, highOp)
		}
		return encErr(ErrInvalidOperand, "LD %s, %s", dst.Reg, src.Reg)
	}

	// LD rr, (nn)
	if isMemExpr(src) {
		lo, hi, err := immWord(src.Expr, ev)
		if err != nil {
			return encoded{}, err
		}
		switch dst.Reg {
		case ast.RegHL:
			return enc(5, 0x2A, lo, hi)
		case ast.RegBC:
			return enc(6, PrefixED, 0x4B, lo, hi)
		case ast.RegDE:
			return enc(6, PrefixED, 0x5B, lo, hi)
		case ast.RegSP:
			return enc(6, PrefixED, 0x7B, lo, hi)
		case ast.RegIX:
			return enc(6, PrefixDD, 0x2A, lo, hi)
		case ast.RegIY:
			return enc(6, PrefixFD, 0x2A, lo, hi)
		}
		return encErr(ErrInvalidOperand, "LD %s, (nn)", dst.Reg)
	}

	// LD rr, nn
	if src.Kind == ast.OperandExpr {
		code, prefix, ok := rpCode(dst.Reg)
		if !ok {
			return encErr(ErrInvalidOperand, "LD %s, nn", dst.Reg)
		}
		lo, hi, err := immWord(src.Expr, ev)
		if err != nil {
			return encoded{}, err
		}
		return withPrefix(prefix, 3, 0x01|code<<4, lo, hi)
	}

	return encErr(ErrInvalidOperand, "LD %s", dst.Reg)
}

// pairHalves returns the r codes of the high and low halves of BC/DE/HL
func pairHalves(r ast.Register) (high, low byte, ok bool) {
	switch r {
	case ast.RegBC:
		return 0, 1, true
	case ast.RegDE:
		return 2, 3, true
	case ast.RegHL:
		return 4, 5, true
	}
	return 0, 0, false
}

func assemblePushPop(inst *ast.Instruction) (encoded, error) {
	if inst.NumOps() != 1 || inst.Op(0).Kind != ast.OperandReg16 {
		return encErr(ErrInvalidOperand, "%s takes one register pair", inst.Mnemonic)
	}
	base := byte(0xC5)
	nops := 4
	if inst.Mnemonic == "POP" {
		base = 0xC1
		nops = 3
	}
	switch inst.Op(0).Reg {
	case ast.RegBC:
		return enc(nops, base)
	case ast.RegDE:
		return enc(nops, base|0x10)
	case ast.RegHL:
		return enc(nops, base|0x20)
	case ast.RegAF:
		return enc(nops, base|0x30)
	case ast.RegIX:
		return enc(nops+1, PrefixDD, base|0x20)
	case ast.RegIY:
		return enc(nops+1, PrefixFD, base|0x20)
	}
	return encErr(ErrInvalidOperand, "%s %s", inst.Mnemonic, inst.Op(0).Reg)
}

func assembleEX(inst *ast.Instruction) (encoded, error) {
	if inst.NumOps() != 2 {
		return encErr(ErrInvalidOperand, "EX takes two operands")
	}
	a, b := inst.Op(0), inst.Op(1)
	switch {
	case isReg(a, ast.RegDE) && isReg(b, ast.RegHL):
		return enc(1, 0xEB)
	case isReg(a, ast.RegAF) && (isReg(b, ast.RegAFx) || isReg(b, ast.RegAF)):
		return enc(1, 0x08)
	case isMemReg(a, ast.RegSP):
		switch b.Reg {
		case ast.RegHL:
			return enc(6, 0xE3)
		case ast.RegIX:
			return enc(7, PrefixDD, 0xE3)
		case ast.RegIY:
			return enc(7, PrefixFD, 0xE3)
		}
	}
	return encErr(ErrInvalidOperand, "EX")
}

var aluBase = map[string]struct {
	reg byte // base opcode for the register form
	imm byte // opcode for the immediate form
}{
	"ADD": {0x80, 0xC6},
	"ADC": {0x88, 0xCE},
	"SUB": {0x90, 0xD6},
	"SBC": {0x98, 0xDE},
	"AND": {0xA0, 0xE6},
	"XOR": {0xA8, 0xEE},
	"OR":  {0xB0, 0xF6},
	"CP":  {0xB8, 0xFE},
}

func assembleALU(inst *ast.Instruction, ev Evaluator) (encoded, error) {
	// 16-bit forms: ADD HL/IX/IY, ADC HL, SBC HL
	if inst.NumOps() == 2 && inst.Op(0).Kind == ast.OperandReg16 {
		return assembleALU16(inst)
	}

	// Accept both "op src" and "op a, src"
	src := inst.Op(0)
	if inst.NumOps() == 2 {
		if !isReg(inst.Op(0), ast.RegA) {
			return encErr(ErrInvalidOperand, "%s destination must be A", inst.Mnemonic)
		}
		src = inst.Op(1)
	} else if inst.NumOps() != 1 {
		return encErr(ErrInvalidOperand, "%s operand count", inst.Mnemonic)
	}

	base := aluBase[inst.Mnemonic]
	if src.Kind == ast.OperandExpr {
		n, err := immByte(src.Expr, ev)
		if err != nil {
			return encoded{}, err
		}
		return enc(2, base.imm, n)
	}
	l, err := rLocus(src, ev)
	if err != nil {
		return encoded{}, err
	}
	opcode := base.reg | l.code
	switch {
	case l.indexed:
		return enc(5, l.prefix, opcode, l.disp)
	case l.code == 6:
		return enc(2, opcode)
	default:
		return withPrefix(l.prefix, 1, opcode)
	}
}

func assembleALU16(inst *ast.Instruction) (encoded, error) {
	dst, src := inst.Op(0), inst.Op(1)
	if src.Kind != ast.OperandReg16 {
		return encErr(ErrInvalidOperand, "%s %s needs a register pair", inst.Mnemonic, dst.Reg)
	}
	switch inst.Mnemonic {
	case "ADD":
		var prefix byte
		switch dst.Reg {
		case ast.RegHL:
		case ast.RegIX:
			prefix = PrefixDD
		case ast.RegIY:
			prefix = PrefixFD
		default:
			return encErr(ErrInvalidOperand, "ADD %s", dst.Reg)
		}
		code, srcPrefix, ok := rpCode(src.Reg)
		if !ok {
			return encErr(ErrInvalidOperand, "ADD %s, %s", dst.Reg, src.Reg)
		}
		// The HL slot of the source must match the destination family
		if code == 2 && srcPrefix != prefix {
			return encErr(ErrInvalidOperand, "ADD %s, %s", dst.Reg, src.Reg)
		}
		return withPrefix(prefix, 3, 0x09|code<<4)

	case "ADC", "SBC":
		if dst.Reg != ast.RegHL {
			return encErr(ErrInvalidOperand, "%s %s", inst.Mnemonic, dst.Reg)
		}
		code, srcPrefix, ok := rpCode(src.Reg)
		if !ok || srcPrefix != 0 {
			return encErr(ErrInvalidOperand, "%s HL, %s", inst.Mnemonic, src.Reg)
		}
		base := byte(0x4A)
		if inst.Mnemonic == "SBC" {
			base = 0x42
		}
		return enc(4, PrefixED, base|code<<4)
	}
	return encErr(ErrInvalidOperand, "%s on register pairs", inst.Mnemonic)
}

func assembleIncDec(inst *ast.Instruction, ev Evaluator) (encoded, error) {
	if inst.NumOps() != 1 {
		return encErr(ErrInvalidOperand, "%s takes one operand", inst.Mnemonic)
	}
	op := inst.Op(0)
	dec := inst.Mnemonic == "DEC"

	if op.Kind == ast.OperandReg16 {
		code, prefix, ok := rpCode(op.Reg)
		if !ok {
			return encErr(ErrInvalidOperand, "%s %s", inst.Mnemonic, op.Reg)
		}
		opcode := byte(0x03 | code<<4)
		if dec {
			opcode = 0x0B | code<<4
		}
		return withPrefix(prefix, 2, opcode)
	}

	l, err := rLocus(op, ev)
	if err != nil {
		return encoded{}, err
	}
	opcode := byte(0x04 | l.code<<3)
	if dec {
		opcode = 0x05 | l.code<<3
	}
	switch {
	case l.indexed:
		return enc(6, l.prefix, opcode, l.disp)
	case l.code == 6:
		return enc(3, opcode)
	default:
		return withPrefix(l.prefix, 1, opcode)
	}
}

var shiftBase = map[string]byte{
	"RLC": 0x00,
	"RRC": 0x08,
	"RL":  0x10,
	"RR":  0x18,
	"SLA": 0x20,
	"SRA": 0x28,
	"SLL": 0x30,
	"SL1": 0x30,
	"SRL": 0x38,
}

func assembleShift(inst *ast.Instruction, ev Evaluator) (encoded, error) {
	base := shiftBase[inst.Mnemonic]
	if inst.NumOps() < 1 || inst.NumOps() > 2 {
		return encErr(ErrInvalidOperand, "%s operand count", inst.Mnemonic)
	}
	op := inst.Op(0)
	l, err := rLocus(op, ev)
	if err != nil {
		return encoded{}, err
	}

	// Undocumented: op (ix+d), r stores the shifted value in r as well
	if inst.NumOps() == 2 {
		if !l.indexed {
			return encErr(ErrInvalidOperand, "%s with a result register needs (IX+d)", inst.Mnemonic)
		}
		code, prefix, ok := reg8Code(inst.Op(1).Reg)
		if !ok || prefix != 0 || inst.Op(1).Kind != ast.OperandReg8 {
			return encErr(ErrInvalidOperand, "%s result register", inst.Mnemonic)
		}
		return enc(7, l.prefix, PrefixCB, l.disp, base|code)
	}

	switch {
	case l.indexed:
		return enc(7, l.prefix, PrefixCB, l.disp, base|6)
	case l.code == 6:
		return enc(4, PrefixCB, base|6)
	case l.prefix != 0:
		return encErr(ErrInvalidOperand, "%s on index half registers", inst.Mnemonic)
	default:
		return enc(2, PrefixCB, base|l.code)
	}
}

func assembleBit(inst *ast.Instruction, ev Evaluator) (encoded, error) {
	if inst.NumOps() < 2 || inst.NumOps() > 3 {
		return encErr(ErrInvalidOperand, "%s operand count", inst.Mnemonic)
	}
	bitOp := inst.Op(0)
	if bitOp.Kind != ast.OperandExpr {
		return encErr(ErrInvalidOperand, "%s bit index", inst.Mnemonic)
	}
	bit, err := ev.EvalExpr(bitOp.Expr)
	if err != nil {
		return encoded{}, err
	}
	if bit < 0 || bit > 7 {
		return encErr(ErrBitIndexOutOfRange, "%d", bit)
	}

	var base byte
	switch inst.Mnemonic {
	case "BIT":
		base = 0x40
	case "RES":
		base = 0x80
	case "SET":
		base = 0xC0
	}
	base |= byte(bit) << 3

	l, err := rLocus(inst.Op(1), ev)
	if err != nil {
		return encoded{}, err
	}

	// Undocumented: res/set b,(iy+d),r writes the result into r too
	if inst.NumOps() == 3 {
		if inst.Mnemonic == "BIT" {
			return encErr(ErrInvalidOperand, "BIT has no result register form")
		}
		if !l.indexed {
			return encErr(ErrInvalidOperand, "%s with a result register needs (IX+d)", inst.Mnemonic)
		}
		code, prefix, ok := reg8Code(inst.Op(2).Reg)
		if !ok || prefix != 0 || inst.Op(2).Kind != ast.OperandReg8 {
			return encErr(ErrInvalidOperand, "%s result register", inst.Mnemonic)
		}
		return enc(7, l.prefix, PrefixCB, l.disp, base|code)
	}

	switch {
	case l.indexed:
		nops := 6
		if inst.Mnemonic != "BIT" {
			nops = 7
		}
		return enc(nops, l.prefix, PrefixCB, l.disp, base|6)
	case l.code == 6:
		nops := 3
		if inst.Mnemonic != "BIT" {
			nops = 4
		}
		return enc(nops, PrefixCB, base|6)
	case l.prefix != 0:
		return encErr(ErrInvalidOperand, "%s on index half registers", inst.Mnemonic)
	default:
		return enc(2, PrefixCB, base|l.code)
	}
}

func assembleJP(inst *ast.Instruction, ev Evaluator) (encoded, error) {
	switch inst.NumOps() {
	case 1:
		op := inst.Op(0)
		// JP (HL) and JP HL are the same instruction
		if isReg(op, ast.RegHL) || isMemReg(op, ast.RegHL) {
			return enc(1, 0xE9)
		}
		if isReg(op, ast.RegIX) || (op.Kind == ast.OperandMemIndexed && op.Reg == ast.RegIX) ||
			isMemReg(op, ast.RegIX) {
			return enc(2, PrefixDD, 0xE9)
		}
		if isReg(op, ast.RegIY) || (op.Kind == ast.OperandMemIndexed && op.Reg == ast.RegIY) ||
			isMemReg(op, ast.RegIY) {
			return enc(2, PrefixFD, 0xE9)
		}
		if op.Kind == ast.OperandExpr || op.Kind == ast.OperandMemExpr {
			lo, hi, err := immWord(op.Expr, ev)
			if err != nil {
				return encoded{}, err
			}
			return enc(3, 0xC3, lo, hi)
		}
	case 2:
		if inst.Op(0).Kind != ast.OperandFlag {
			return encErr(ErrInvalidOperand, "JP condition")
		}
		lo, hi, err := immWord(inst.Op(1).Expr, ev)
		if err != nil {
			return encoded{}, err
		}
		return enc(3, 0xC2|condCode(inst.Op(0).Flag)<<3, lo, hi)
	}
	return encErr(ErrInvalidOperand, "JP")
}

func relByte(target int64, next uint16) (byte, error) {
	delta := target - int64(next)
	if delta < -128 || delta > 127 {
		return 0, fmt.Errorf("%w: %d bytes", ErrRelativeJumpOutOfRange, delta)
	}
	return byte(int8(delta)), nil
}

func assembleJR(inst *ast.Instruction, ev Evaluator, pc uint16) (encoded, error) {
	var target *ast.Expr
	opcode := byte(0x18)
	switch inst.NumOps() {
	case 1:
		target = inst.Op(0).Expr
	case 2:
		flag := inst.Op(0).Flag
		if inst.Op(0).Kind != ast.OperandFlag || flag > ast.CondC {
			return encErr(ErrInvalidOperand, "JR condition")
		}
		opcode = 0x20 | condCode(flag)<<3
		target = inst.Op(1).Expr
	default:
		return encErr(ErrInvalidOperand, "JR operand count")
	}
	if target == nil {
		return encErr(ErrInvalidOperand, "JR target")
	}
	t, err := ev.EvalExpr(target)
	if err != nil {
		return encoded{}, err
	}
	d, err := relByte(t, pc+2)
	if err != nil {
		return encoded{}, err
	}
	return enc(3, opcode, d)
}

func assembleDJNZ(inst *ast.Instruction, ev Evaluator, pc uint16) (encoded, error) {
	if inst.NumOps() != 1 || inst.Op(0).Expr == nil {
		return encErr(ErrInvalidOperand, "DJNZ target")
	}
	t, err := ev.EvalExpr(inst.Op(0).Expr)
	if err != nil {
		return encoded{}, err
	}
	// The displacement byte sits at pc+1 and is taken relative to the
	// following instruction.
	d, err := relByte(t, pc+2)
	if err != nil {
		return encoded{}, err
	}
	return enc(4, 0x10, d)
}

func assembleCALL(inst *ast.Instruction, ev Evaluator) (encoded, error) {
	switch inst.NumOps() {
	case 1:
		lo, hi, err := immWord(inst.Op(0).Expr, ev)
		if err != nil {
			return encoded{}, err
		}
		return enc(5, 0xCD, lo, hi)
	case 2:
		if inst.Op(0).Kind != ast.OperandFlag {
			return encErr(ErrInvalidOperand, "CALL condition")
		}
		lo, hi, err := immWord(inst.Op(1).Expr, ev)
		if err != nil {
			return encoded{}, err
		}
		return enc(5, 0xC4|condCode(inst.Op(0).Flag)<<3, lo, hi)
	}
	return encErr(ErrInvalidOperand, "CALL operand count")
}

func assembleRET(inst *ast.Instruction) (encoded, error) {
	switch inst.NumOps() {
	case 0:
		return enc(3, 0xC9)
	case 1:
		if inst.Op(0).Kind != ast.OperandFlag {
			return encErr(ErrInvalidOperand, "RET condition")
		}
		return enc(4, 0xC0|condCode(inst.Op(0).Flag)<<3)
	}
	return encErr(ErrInvalidOperand, "RET operand count")
}

// rstTargets maps the accepted RST operands to the vector address. Both
// the hex values and the decimal spellings 10,18,...,38 are accepted.
var rstTargets = map[int64]byte{
	0x00: 0x00, 0x08: 0x08, 0x10: 0x10, 0x18: 0x18,
	0x20: 0x20, 0x28: 0x28, 0x30: 0x30, 0x38: 0x38,
	10: 0x10, 18: 0x18, 20: 0x20, 28: 0x28, 30: 0x30, 38: 0x38,
}

func assembleRST(inst *ast.Instruction, ev Evaluator) (encoded, error) {
	if inst.NumOps() != 1 || inst.Op(0).Expr == nil {
		return encErr(ErrInvalidOperand, "RST target")
	}
	v, err := ev.EvalExpr(inst.Op(0).Expr)
	if err != nil {
		return encoded{}, err
	}
	target, ok := rstTargets[v]
	if !ok {
		return encErr(ErrInvalidRstValue, "%d", v)
	}
	return enc(4, 0xC7|target)
}

func assembleIM(inst *ast.Instruction, ev Evaluator) (encoded, error) {
	if inst.NumOps() != 1 || inst.Op(0).Expr == nil {
		return encErr(ErrInvalidOperand, "IM mode")
	}
	v, err := ev.EvalExpr(inst.Op(0).Expr)
	if err != nil {
		return encoded{}, err
	}
	switch v {
	case 0:
		return enc(2, PrefixED, 0x46)
	case 1:
		return enc(2, PrefixED, 0x56)
	case 2:
		return enc(2, PrefixED, 0x5E)
	}
	return encErr(ErrInvalidImValue, "%d", v)
}

func assembleIN(inst *ast.Instruction, ev Evaluator) (encoded, error) {
	switch inst.NumOps() {
	case 1:
		// IN (C), undocumented: only updates flags
		if inst.Op(0).Kind == ast.OperandPortC {
			return enc(4, PrefixED, 0x70)
		}
	case 2:
		dst, src := inst.Op(0), inst.Op(1)
		if isReg(dst, ast.RegA) && (src.Kind == ast.OperandPortExpr || src.Kind == ast.OperandMemExpr) {
			n, err := immByte(src.Expr, ev)
			if err != nil {
				return encoded{}, err
			}
			return enc(3, 0xDB, n)
		}
		if src.Kind == ast.OperandPortC {
			code, prefix, ok := reg8Code(dst.Reg)
			if !ok || prefix != 0 || dst.Kind != ast.OperandReg8 {
				return encErr(ErrInvalidOperand, "IN register")
			}
			return enc(4, PrefixED, 0x40|code<<3)
		}
	}
	return encErr(ErrInvalidOperand, "IN")
}

func assembleOUT(inst *ast.Instruction, ev Evaluator) (encoded, error) {
	if inst.NumOps() != 2 {
		return encErr(ErrInvalidOperand, "OUT operand count")
	}
	dst, src := inst.Op(0), inst.Op(1)
	if (dst.Kind == ast.OperandPortExpr || dst.Kind == ast.OperandMemExpr) && isReg(src, ast.RegA) {
		n, err := immByte(dst.Expr, ev)
		if err != nil {
			return encoded{}, err
		}
		return enc(3, 0xD3, n)
	}
	if dst.Kind == ast.OperandPortC {
		if src.Kind == ast.OperandReg8 {
			code, prefix, ok := reg8Code(src.Reg)
			if !ok || prefix != 0 {
				return encErr(ErrInvalidOperand, "OUT register")
			}
			return enc(4, PrefixED, 0x41|code<<3)
		}
		// Undocumented OUT (C), 0
		if src.Kind == ast.OperandExpr {
			v, err := ev.EvalExpr(src.Expr)
			if err != nil {
				return encoded{}, err
			}
			if v != 0 {
				return encErr(ErrInvalidOperand, "OUT (C) only accepts a register or 0")
			}
			return enc(4, PrefixED, 0x71)
		}
	}
	return encErr(ErrInvalidOperand, "OUT")
}
