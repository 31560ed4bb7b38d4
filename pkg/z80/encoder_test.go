package z80

import (
	"bytes"
	"errors"
	"testing"

	"github.com/cpcsdk/cpcasm/pkg/ast"
)

type constEval struct{}

func (constEval) EvalExpr(e *ast.Expr) (int64, error) { return e.Int, nil }

func reg(r ast.Register) *ast.Operand {
	kind := ast.OperandReg8
	if r.Is16Bit() {
		kind = ast.OperandReg16
	}
	if r == ast.RegI {
		kind = ast.OperandRegI
	}
	if r == ast.RegR {
		kind = ast.OperandRegR
	}
	return &ast.Operand{Kind: kind, Reg: r}
}

func memReg(r ast.Register) *ast.Operand {
	return &ast.Operand{Kind: ast.OperandMemReg, Reg: r}
}

func idx(r ast.Register, d int64) *ast.Operand {
	return &ast.Operand{Kind: ast.OperandMemIndexed, Reg: r, Expr: ast.NewInt(d)}
}

func imm(v int64) *ast.Operand {
	return &ast.Operand{Kind: ast.OperandExpr, Expr: ast.NewInt(v)}
}

func memImm(v int64) *ast.Operand {
	return &ast.Operand{Kind: ast.OperandMemExpr, Expr: ast.NewInt(v)}
}

func portC() *ast.Operand { return &ast.Operand{Kind: ast.OperandPortC} }

func flag(c ast.Condition) *ast.Operand {
	return &ast.Operand{Kind: ast.OperandFlag, Flag: c}
}

func ins(mnemonic string, ops ...*ast.Operand) *ast.Instruction {
	return &ast.Instruction{Mnemonic: mnemonic, Ops: ops}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		inst *ast.Instruction
		pc   uint16
		want []byte
	}{
		{"nop", ins("NOP"), 0, []byte{0x00}},
		{"halt", ins("HALT"), 0, []byte{0x76}},
		{"ld a,b", ins("LD", reg(ast.RegA), reg(ast.RegB)), 0, []byte{0x78}},
		{"ld b,c", ins("LD", reg(ast.RegB), reg(ast.RegC)), 0, []byte{0x41}},
		{"ld a,42", ins("LD", reg(ast.RegA), imm(42)), 0, []byte{0x3E, 0x2A}},
		{"ld hl,0x1234", ins("LD", reg(ast.RegHL), imm(0x1234)), 0, []byte{0x21, 0x34, 0x12}},
		{"ld ix,nn", ins("LD", reg(ast.RegIX), imm(0x1234)), 0, []byte{0xDD, 0x21, 0x34, 0x12}},
		{"ld a,(ix+5)", ins("LD", reg(ast.RegA), idx(ast.RegIX, 5)), 0, []byte{0xDD, 0x7E, 0x05}},
		{"ld (iy-2),b", ins("LD", idx(ast.RegIY, -2), reg(ast.RegB)), 0, []byte{0xFD, 0x70, 0xFE}},
		{"ld (hl),n", ins("LD", memReg(ast.RegHL), imm(0x55)), 0, []byte{0x36, 0x55}},
		{"ld (ix+1),n", ins("LD", idx(ast.RegIX, 1), imm(0x55)), 0, []byte{0xDD, 0x36, 0x01, 0x55}},
		{"ld a,(bc)", ins("LD", reg(ast.RegA), memReg(ast.RegBC)), 0, []byte{0x0A}},
		{"ld (de),a", ins("LD", memReg(ast.RegDE), reg(ast.RegA)), 0, []byte{0x12}},
		{"ld a,(nn)", ins("LD", reg(ast.RegA), memImm(0xBEEF)), 0, []byte{0x3A, 0xEF, 0xBE}},
		{"ld (nn),a", ins("LD", memImm(0xBEEF), reg(ast.RegA)), 0, []byte{0x32, 0xEF, 0xBE}},
		{"ld hl,(nn)", ins("LD", reg(ast.RegHL), memImm(0x4000)), 0, []byte{0x2A, 0x00, 0x40}},
		{"ld (nn),hl", ins("LD", memImm(0x4000), reg(ast.RegHL)), 0, []byte{0x22, 0x00, 0x40}},
		{"ld bc,(nn)", ins("LD", reg(ast.RegBC), memImm(0x4000)), 0, []byte{0xED, 0x4B, 0x00, 0x40}},
		{"ld (nn),sp", ins("LD", memImm(0x4000), reg(ast.RegSP)), 0, []byte{0xED, 0x73, 0x00, 0x40}},
		{"ld sp,hl", ins("LD", reg(ast.RegSP), reg(ast.RegHL)), 0, []byte{0xF9}},
		{"ld a,i", ins("LD", reg(ast.RegA), reg(ast.RegI)), 0, []byte{0xED, 0x57}},
		{"ld a,r", ins("LD", reg(ast.RegA), reg(ast.RegR)), 0, []byte{0xED, 0x5F}},
		{"ld i,a", ins("LD", reg(ast.RegI), reg(ast.RegA)), 0, []byte{0xED, 0x47}},
		{"ld ixh,n", ins("LD", reg(ast.RegIXH), imm(10)), 0, []byte{0xDD, 0x26, 0x0A}},
		{"ld iyl,b", ins("LD", reg(ast.RegIYL), reg(ast.RegB)), 0, []byte{0xFD, 0x68}},
		{"ld h,(ix+3)", ins("LD", reg(ast.RegH), idx(ast.RegIX, 3)), 0, []byte{0xDD, 0x66, 0x03}},

		// Fake 16-bit load expands low destination first
		{"ld hl,de", ins("LD", reg(ast.RegHL), reg(ast.RegDE)), 0, []byte{0x6B, 0x62}},
		{"ld de,hl", ins("LD", reg(ast.RegDE), reg(ast.RegHL)), 0, []byte{0x5D, 0x54}},

		{"push bc", ins("PUSH", reg(ast.RegBC)), 0, []byte{0xC5}},
		{"push ix", ins("PUSH", reg(ast.RegIX)), 0, []byte{0xDD, 0xE5}},
		{"pop af", ins("POP", reg(ast.RegAF)), 0, []byte{0xF1}},
		{"ex de,hl", ins("EX", reg(ast.RegDE), reg(ast.RegHL)), 0, []byte{0xEB}},
		{"ex af,af'", ins("EX", reg(ast.RegAF), reg(ast.RegAFx)), 0, []byte{0x08}},
		{"ex (sp),iy", ins("EX", memReg(ast.RegSP), reg(ast.RegIY)), 0, []byte{0xFD, 0xE3}},

		{"add a,b", ins("ADD", reg(ast.RegA), reg(ast.RegB)), 0, []byte{0x80}},
		{"sub c", ins("SUB", reg(ast.RegC)), 0, []byte{0x91}},
		{"and n", ins("AND", imm(0x0F)), 0, []byte{0xE6, 0x0F}},
		{"xor a", ins("XOR", reg(ast.RegA)), 0, []byte{0xAF}},
		{"cp (hl)", ins("CP", memReg(ast.RegHL)), 0, []byte{0xBE}},
		{"adc a,(iy+7)", ins("ADC", reg(ast.RegA), idx(ast.RegIY, 7)), 0, []byte{0xFD, 0x8E, 0x07}},
		{"add a,ixh", ins("ADD", reg(ast.RegA), reg(ast.RegIXH)), 0, []byte{0xDD, 0x84}},
		{"sub iyl", ins("SUB", reg(ast.RegIYL)), 0, []byte{0xFD, 0x95}},
		{"add hl,bc", ins("ADD", reg(ast.RegHL), reg(ast.RegBC)), 0, []byte{0x09}},
		{"add ix,sp", ins("ADD", reg(ast.RegIX), reg(ast.RegSP)), 0, []byte{0xDD, 0x39}},
		{"adc hl,de", ins("ADC", reg(ast.RegHL), reg(ast.RegDE)), 0, []byte{0xED, 0x5A}},
		{"sbc hl,bc", ins("SBC", reg(ast.RegHL), reg(ast.RegBC)), 0, []byte{0xED, 0x42}},

		{"inc a", ins("INC", reg(ast.RegA)), 0, []byte{0x3C}},
		{"dec hl", ins("DEC", reg(ast.RegHL)), 0, []byte{0x2B}},
		{"inc (ix+0)", ins("INC", idx(ast.RegIX, 0)), 0, []byte{0xDD, 0x34, 0x00}},
		{"inc ixh", ins("INC", reg(ast.RegIXH)), 0, []byte{0xDD, 0x24}},
		{"dec ixl", ins("DEC", reg(ast.RegIXL)), 0, []byte{0xDD, 0x2D}},

		{"rlc b", ins("RLC", reg(ast.RegB)), 0, []byte{0xCB, 0x00}},
		{"srl (hl)", ins("SRL", memReg(ast.RegHL)), 0, []byte{0xCB, 0x3E}},
		{"sll b", ins("SLL", reg(ast.RegB)), 0, []byte{0xCB, 0x30}},
		{"sll (ix+5)", ins("SLL", idx(ast.RegIX, 5)), 0, []byte{0xDD, 0xCB, 0x05, 0x36}},
		{"rl (ix+2),c", ins("RL", idx(ast.RegIX, 2), reg(ast.RegC)), 0, []byte{0xDD, 0xCB, 0x02, 0x11}},

		{"bit 7,a", ins("BIT", imm(7), reg(ast.RegA)), 0, []byte{0xCB, 0x7F}},
		{"set 0,b", ins("SET", imm(0), reg(ast.RegB)), 0, []byte{0xCB, 0xC0}},
		{"res 3,(hl)", ins("RES", imm(3), memReg(ast.RegHL)), 0, []byte{0xCB, 0x9E}},
		{"bit 6,(iy+2)", ins("BIT", imm(6), idx(ast.RegIY, 2)), 0, []byte{0xFD, 0xCB, 0x02, 0x76}},
		{"res 5,(iy+2),b", ins("RES", imm(5), idx(ast.RegIY, 2), reg(ast.RegB)), 0,
			[]byte{0xFD, 0xCB, 0x02, 0xA8}},

		{"jp nn", ins("JP", imm(0x1234)), 0, []byte{0xC3, 0x34, 0x12}},
		{"jp z,nn", ins("JP", flag(ast.CondZ), imm(0x1234)), 0, []byte{0xCA, 0x34, 0x12}},
		{"jp hl", ins("JP", reg(ast.RegHL)), 0, []byte{0xE9}},
		{"jp (hl)", ins("JP", memReg(ast.RegHL)), 0, []byte{0xE9}},
		{"jr self", ins("JR", imm(0x8000)), 0x8000, []byte{0x18, 0xFE}},
		{"jr forward", ins("JR", imm(0x8010)), 0x8000, []byte{0x18, 0x0E}},
		{"jr nc", ins("JR", flag(ast.CondNC), imm(0x8000)), 0x8000, []byte{0x30, 0xFE}},
		{"djnz self", ins("DJNZ", imm(0x8000)), 0x8000, []byte{0x10, 0xFE}},
		{"call nn", ins("CALL", imm(0xBB5A)), 0, []byte{0xCD, 0x5A, 0xBB}},
		{"call nz,nn", ins("CALL", flag(ast.CondNZ), imm(0xBB5A)), 0, []byte{0xC4, 0x5A, 0xBB}},
		{"ret", ins("RET"), 0, []byte{0xC9}},
		{"ret c", ins("RET", flag(ast.CondC)), 0, []byte{0xD8}},
		{"rst 0x38", ins("RST", imm(0x38)), 0, []byte{0xFF}},
		{"rst 10 decimal", ins("RST", imm(10)), 0, []byte{0xD7}},
		{"im 1", ins("IM", imm(1)), 0, []byte{0xED, 0x56}},

		{"in a,(n)", ins("IN", reg(ast.RegA), memImm(0xF5)), 0, []byte{0xDB, 0xF5}},
		{"in a,(c)", ins("IN", reg(ast.RegA), portC()), 0, []byte{0xED, 0x78}},
		{"in (c)", ins("IN", portC()), 0, []byte{0xED, 0x70}},
		{"out (n),a", ins("OUT", memImm(0xF5), reg(ast.RegA)), 0, []byte{0xD3, 0xF5}},
		{"out (c),b", ins("OUT", portC(), reg(ast.RegB)), 0, []byte{0xED, 0x41}},
		{"out (c),0", ins("OUT", portC(), imm(0)), 0, []byte{0xED, 0x71}},

		{"neg", ins("NEG"), 0, []byte{0xED, 0x44}},
		{"ldir", ins("LDIR"), 0, []byte{0xED, 0xB0}},
		{"rld", ins("RLD"), 0, []byte{0xED, 0x6F}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.inst, constEval{}, tt.pc)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got % X, want % X", got, tt.want)
			}
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	tests := []struct {
		name string
		inst *ast.Instruction
		pc   uint16
		want error
	}{
		{"jr out of range", ins("JR", imm(0x9000)), 0x8000, ErrRelativeJumpOutOfRange},
		{"rst bad", ins("RST", imm(0x39)), 0, ErrInvalidRstValue},
		{"im bad", ins("IM", imm(3)), 0, ErrInvalidImValue},
		{"bit 8", ins("BIT", imm(8), reg(ast.RegA)), 0, ErrBitIndexOutOfRange},
		{"ld (hl),(hl)", ins("LD", memReg(ast.RegHL), memReg(ast.RegHL)), 0, ErrInvalidOperand},
		{"unknown", ins("FROB"), 0, ErrUnknownMnemonic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.inst, constEval{}, tt.pc)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name string
		inst *ast.Instruction
		want int
	}{
		{"nop", ins("NOP"), 1},
		{"inc hl", ins("INC", reg(ast.RegHL)), 2},
		{"ld a,n", ins("LD", reg(ast.RegA), imm(1)), 2},
		{"ld hl,nn", ins("LD", reg(ast.RegHL), imm(1)), 3},
		{"push bc", ins("PUSH", reg(ast.RegBC)), 4},
		{"jp", ins("JP", imm(0)), 3},
		{"call", ins("CALL", imm(0)), 5},
		{"ldir", ins("LDIR"), 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Duration(tt.inst)
			if err != nil {
				t.Fatalf("Duration: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSizeStableWithoutOperands(t *testing.T) {
	// Pass 1 must know the size before forward references resolve
	label := &ast.Operand{Kind: ast.OperandExpr, Expr: ast.NewLabel("later")}
	tests := []struct {
		inst *ast.Instruction
		want int
	}{
		{ins("JP", label), 3},
		{ins("CALL", label), 3},
		{ins("LD", reg(ast.RegHL), label), 3},
		{ins("LD", reg(ast.RegA), label), 2},
	}
	for _, tt := range tests {
		got, err := Size(tt.inst)
		if err != nil {
			t.Fatalf("Size(%s): %v", tt.inst.Mnemonic, err)
		}
		if got != tt.want {
			t.Errorf("Size(%s) = %d, want %d", tt.inst.Mnemonic, got, tt.want)
		}
	}
}
