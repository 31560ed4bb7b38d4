// Package z80 encodes validated Z80 instructions into bytes and estimates
// their duration. The encoder is pure: it never touches the assembling
// environment; operand expressions are resolved through the injected
// Evaluator.
package z80

import (
	"fmt"

	"github.com/cpcsdk/cpcasm/pkg/ast"
)

// Prefix bytes
const (
	PrefixCB = 0xCB
	PrefixDD = 0xDD
	PrefixED = 0xED
	PrefixFD = 0xFD
)

// Evaluator resolves operand expressions to integers
type Evaluator interface {
	EvalExpr(*ast.Expr) (int64, error)
}

// encoded couples the produced bytes with the estimated duration in CPC
// NOP units (one NOP unit = 4 T-states, the granularity the gate array
// imposes).
type encoded struct {
	bytes []byte
	nops  int
}

// Encode produces the byte sequence for one instruction placed at pc
func Encode(inst *ast.Instruction, ev Evaluator, pc uint16) ([]byte, error) {
	e, err := assemble(inst, ev, pc)
	if err != nil {
		return nil, err
	}
	return e.bytes, nil
}

// Duration estimates the instruction duration in NOP units; branching
// instructions report their taken timing.
func Duration(inst *ast.Instruction) (int, error) {
	e, err := assemble(inst, zeroEvaluator{}, 0)
	if err != nil {
		return 0, err
	}
	return e.nops, nil
}

// Size returns the encoded length without needing resolved operands, so
// pass 1 can advance the cursor before forward references resolve.
func Size(inst *ast.Instruction) (int, error) {
	e, err := assemble(inst, zeroEvaluator{}, 0)
	if err != nil {
		return 0, err
	}
	return len(e.bytes), nil
}

// zeroEvaluator resolves every expression to zero; good enough for sizing
// and timing since no Z80 encoding changes length with its operand value.
type zeroEvaluator struct{}

func (zeroEvaluator) EvalExpr(*ast.Expr) (int64, error) { return 0, nil }

func enc(nops int, bytes ...byte) (encoded, error) {
	return encoded{bytes: bytes, nops: nops}, nil
}

func encErr(err error, format string, args ...interface{}) (encoded, error) {
	return encoded{}, fmt.Errorf("%w: "+format, append([]interface{}{err}, args...)...)
}

func assemble(inst *ast.Instruction, ev Evaluator, pc uint16) (encoded, error) {
	switch inst.Mnemonic {
	case "NOP":
		return enc(1, 0x00)
	case "HALT":
		return enc(1, 0x76)
	case "DI":
		return enc(1, 0xF3)
	case "EI":
		return enc(1, 0xFB)
	case "DAA":
		return enc(1, 0x27)
	case "CPL":
		return enc(1, 0x2F)
	case "NEG":
		return enc(2, PrefixED, 0x44)
	case "CCF":
		return enc(1, 0x3F)
	case "SCF":
		return enc(1, 0x37)
	case "EXX":
		return enc(1, 0xD9)
	case "RLCA":
		return enc(1, 0x07)
	case "RLA":
		return enc(1, 0x17)
	case "RRCA":
		return enc(1, 0x0F)
	case "RRA":
		return enc(1, 0x1F)
	case "RLD":
		return enc(5, PrefixED, 0x6F)
	case "RRD":
		return enc(5, PrefixED, 0x67)
	case "RETI":
		return enc(4, PrefixED, 0x4D)
	case "RETN":
		return enc(4, PrefixED, 0x45)

	case "LDI":
		return enc(5, PrefixED, 0xA0)
	case "LDD":
		return enc(5, PrefixED, 0xA8)
	case "LDIR":
		return enc(6, PrefixED, 0xB0)
	case "LDDR":
		return enc(6, PrefixED, 0xB8)
	case "CPI":
		return enc(4, PrefixED, 0xA1)
	case "CPD":
		return enc(4, PrefixED, 0xA9)
	case "CPIR":
		return enc(5, PrefixED, 0xB1)
	case "CPDR":
		return enc(5, PrefixED, 0xB9)
	case "INI":
		return enc(5, PrefixED, 0xA2)
	case "IND":
		return enc(5, PrefixED, 0xAA)
	case "INIR":
		return enc(6, PrefixED, 0xB2)
	case "INDR":
		return enc(6, PrefixED, 0xBA)
	case "OUTI":
		return enc(5, PrefixED, 0xA3)
	case "OUTD":
		return enc(5, PrefixED, 0xAB)
	case "OTIR":
		return enc(6, PrefixED, 0xB3)
	case "OTDR":
		return enc(6, PrefixED, 0xBB)

	case "LD":
		return assembleLD(inst, ev)
	case "PUSH", "POP":
		return assemblePushPop(inst)
	case "EX":
		return assembleEX(inst)
	case "ADD", "ADC", "SUB", "SBC", "AND", "XOR", "OR", "CP":
		return assembleALU(inst, ev)
	case "INC", "DEC":
		return assembleIncDec(inst, ev)
	case "RLC", "RRC", "RL", "RR", "SLA", "SRA", "SLL", "SL1", "SRL":
		return assembleShift(inst, ev)
	case "BIT", "RES", "SET":
		return assembleBit(inst, ev)
	case "JP":
		return assembleJP(inst, ev)
	case "JR":
		return assembleJR(inst, ev, pc)
	case "DJNZ":
		return assembleDJNZ(inst, ev, pc)
	case "CALL":
		return assembleCALL(inst, ev)
	case "RET":
		return assembleRET(inst)
	case "RST":
		return assembleRST(inst, ev)
	case "IM":
		return assembleIM(inst, ev)
	case "IN":
		return assembleIN(inst, ev)
	case "OUT":
		return assembleOUT(inst, ev)
	}
	return encErr(ErrUnknownMnemonic, "%s", inst.Mnemonic)
}

// reg8Code returns the 3-bit code for an 8-bit register along with the
// DD/FD prefix the register implies (IXH and friends).
func reg8Code(r ast.Register) (code byte, prefix byte, ok bool) {
	switch r {
	case ast.RegB:
		return 0, 0, true
	case ast.RegC:
		return 1, 0, true
	case ast.RegD:
		return 2, 0, true
	case ast.RegE:
		return 3, 0, true
	case ast.RegH:
		return 4, 0, true
	case ast.RegL:
		return 5, 0, true
	case ast.RegA:
		return 7, 0, true
	case ast.RegIXH:
		return 4, PrefixDD, true
	case ast.RegIXL:
		return 5, PrefixDD, true
	case ast.RegIYH:
		return 4, PrefixFD, true
	case ast.RegIYL:
		return 5, PrefixFD, true
	}
	return 0, 0, false
}

// rpCode returns the 2-bit register-pair code of the BC/DE/HL/SP family,
// with IX/IY standing in for HL behind their prefix.
func rpCode(r ast.Register) (code byte, prefix byte, ok bool) {
	switch r {
	case ast.RegBC:
		return 0, 0, true
	case ast.RegDE:
		return 1, 0, true
	case ast.RegHL:
		return 2, 0, true
	case ast.RegSP:
		return 3, 0, true
	case ast.RegIX:
		return 2, PrefixDD, true
	case ast.RegIY:
		return 2, PrefixFD, true
	}
	return 0, 0, false
}

func condCode(c ast.Condition) byte {
	switch c {
	case ast.CondNZ:
		return 0
	case ast.CondZ:
		return 1
	case ast.CondNC:
		return 2
	case ast.CondC:
		return 3
	case ast.CondPO:
		return 4
	case ast.CondPE:
		return 5
	case ast.CondP:
		return 6
	case ast.CondM:
		return 7
	}
	return 0
}

// locus describes an r-slot operand: plain register, (HL) or (IX/IY+d)
type locus struct {
	code    byte
	prefix  byte
	indexed bool
	disp    byte
}

// rLocus classifies an operand that can fill an r slot (code 0..7)
func rLocus(op *ast.Operand, ev Evaluator) (locus, error) {
	switch op.Kind {
	case ast.OperandReg8:
		code, prefix, ok := reg8Code(op.Reg)
		if !ok {
			return locus{}, fmt.Errorf("%w: %s", ErrInvalidOperand, op.Reg)
		}
		return locus{code: code, prefix: prefix}, nil
	case ast.OperandMemReg:
		if op.Reg != ast.RegHL {
			return locus{}, fmt.Errorf("%w: (%s)", ErrInvalidOperand, op.Reg)
		}
		return locus{code: 6}, nil
	case ast.OperandMemIndexed:
		d, err := dispByte(op, ev)
		if err != nil {
			return locus{}, err
		}
		prefix := byte(PrefixDD)
		if op.Reg == ast.RegIY {
			prefix = PrefixFD
		}
		return locus{code: 6, prefix: prefix, indexed: true, disp: d}, nil
	}
	return locus{}, fmt.Errorf("%w: operand kind %d", ErrInvalidOperand, op.Kind)
}

func dispByte(op *ast.Operand, ev Evaluator) (byte, error) {
	var d int64
	if op.Expr != nil {
		var err error
		d, err = ev.EvalExpr(op.Expr)
		if err != nil {
			return 0, err
		}
	}
	if d < -128 || d > 127 {
		return 0, fmt.Errorf("%w: index displacement %d", ErrInvalidOperand, d)
	}
	return byte(int8(d)), nil
}

func immByte(e *ast.Expr, ev Evaluator) (byte, error) {
	v, err := ev.EvalExpr(e)
	if err != nil {
		return 0, err
	}
	if v < -128 || v > 255 {
		return 0, fmt.Errorf("%w: byte value %d out of range", ErrInvalidOperand, v)
	}
	return byte(v), nil
}

func immWord(e *ast.Expr, ev Evaluator) (byte, byte, error) {
	v, err := ev.EvalExpr(e)
	if err != nil {
		return 0, 0, err
	}
	if v < -32768 || v > 65535 {
		return 0, 0, fmt.Errorf("%w: word value %d out of range", ErrInvalidOperand, v)
	}
	return byte(v), byte(v >> 8), nil
}

func isMemExpr(op *ast.Operand) bool { return op != nil && op.Kind == ast.OperandMemExpr }

func isReg(op *ast.Operand, r ast.Register) bool {
	if op == nil {
		return false
	}
	switch op.Kind {
	case ast.OperandReg8, ast.OperandReg16, ast.OperandRegI, ast.OperandRegR:
		return op.Reg == r
	}
	return false
}

func isMemReg(op *ast.Operand, r ast.Register) bool {
	return op != nil && op.Kind == ast.OperandMemReg && op.Reg == r
}

// withPrefix prepends a DD/FD prefix when one is required
func withPrefix(prefix byte, nops int, bytes ...byte) (encoded, error) {
	if prefix == 0 {
		return enc(nops, bytes...)
	}
	return enc(nops+1, append([]byte{prefix}, bytes...)...)
}
