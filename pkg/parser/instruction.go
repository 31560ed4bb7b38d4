package parser

import (
	"fmt"
	"strings"

	"github.com/cpcsdk/cpcasm/pkg/ast"
)

// mnemonics is the closed set of Z80 mnemonics the statement parser
// recognises ahead of directives and labels.
var mnemonics = map[string]bool{
	"ADC": true, "ADD": true, "AND": true, "BIT": true, "CALL": true,
	"CCF": true, "CP": true, "CPD": true, "CPDR": true, "CPI": true,
	"CPIR": true, "CPL": true, "DAA": true, "DEC": true, "DI": true,
	"DJNZ": true, "EI": true, "EX": true, "EXX": true, "HALT": true,
	"IM": true, "IN": true, "INC": true, "IND": true, "INDR": true,
	"INI": true, "INIR": true, "JP": true, "JR": true, "LD": true,
	"LDD": true, "LDDR": true, "LDI": true, "LDIR": true, "NEG": true,
	"NOP": true, "OR": true, "OTDR": true, "OTIR": true, "OUT": true,
	"OUTD": true, "OUTI": true, "POP": true, "PUSH": true, "RES": true,
	"RET": true, "RETI": true, "RETN": true, "RL": true, "RLA": true,
	"RLC": true, "RLCA": true, "RLD": true, "RR": true, "RRA": true,
	"RRC": true, "RRCA": true, "RRD": true, "RST": true, "SBC": true,
	"SCF": true, "SET": true, "SL1": true, "SLA": true, "SLL": true,
	"SRA": true, "SRL": true, "SUB": true, "XOR": true,
}

func isMnemonic(upper string) bool { return mnemonics[upper] }

var registerNames = map[string]ast.Register{
	"A": ast.RegA, "B": ast.RegB, "C": ast.RegC, "D": ast.RegD,
	"E": ast.RegE, "H": ast.RegH, "L": ast.RegL,
	"I": ast.RegI, "R": ast.RegR,
	"BC": ast.RegBC, "DE": ast.RegDE, "HL": ast.RegHL,
	"AF": ast.RegAF, "AF'": ast.RegAFx, "SP": ast.RegSP,
	"IX": ast.RegIX, "IY": ast.RegIY,
	"IXH": ast.RegIXH, "IXL": ast.RegIXL,
	"IYH": ast.RegIYH, "IYL": ast.RegIYL,
	// rasm-style aliases for the index halves
	"HX": ast.RegIXH, "LX": ast.RegIXL,
	"HY": ast.RegIYH, "LY": ast.RegIYL,
}

var conditionNames = map[string]ast.Condition{
	"NZ": ast.CondNZ, "Z": ast.CondZ, "NC": ast.CondNC, "C": ast.CondC,
	"PO": ast.CondPO, "PE": ast.CondPE, "P": ast.CondP, "M": ast.CondM,
}

// conditionalMnemonics take a flag test in their first operand
var conditionalMnemonics = map[string]bool{
	"JP": true, "JR": true, "CALL": true, "RET": true,
}

// parseInstruction parses the operand text of one instruction
func (p *Parser) parseInstruction(mnemonic, operands string) (*ast.Instruction, error) {
	inst := &ast.Instruction{Mnemonic: mnemonic}
	for i, arg := range splitArgs(operands) {
		op, err := p.parseOperand(mnemonic, i, arg)
		if err != nil {
			return nil, err
		}
		inst.Ops = append(inst.Ops, op)
	}
	if len(inst.Ops) > 3 {
		return nil, fmt.Errorf("%s: too many operands", mnemonic)
	}
	return inst, nil
}

// parseInstructionText parses "mnemonic operands" text, used by the
// DURATION(...) and OPCODE(...) expression forms.
func (p *Parser) parseInstructionText(text string) (*ast.Instruction, error) {
	word, rest := firstWord(text)
	upper := strings.ToUpper(word)
	if !isMnemonic(upper) {
		return nil, fmt.Errorf("%q is not an instruction", text)
	}
	return p.parseInstruction(upper, rest)
}

func (p *Parser) parseOperand(mnemonic string, index int, arg string) (*ast.Operand, error) {
	arg = strings.TrimSpace(arg)
	upper := strings.ToUpper(arg)

	// Flag tests only exist in the first operand of the branch family
	if index == 0 && conditionalMnemonics[mnemonic] {
		if cond, ok := conditionNames[upper]; ok {
			return &ast.Operand{Kind: ast.OperandFlag, Flag: cond}, nil
		}
	}

	if reg, ok := registerNames[upper]; ok {
		kind := ast.OperandReg8
		switch {
		case reg == ast.RegI:
			kind = ast.OperandRegI
		case reg == ast.RegR:
			kind = ast.OperandRegR
		case reg.Is16Bit():
			kind = ast.OperandReg16
		}
		return &ast.Operand{Kind: kind, Reg: reg}, nil
	}

	if strings.HasPrefix(arg, "(") && strings.HasSuffix(arg, ")") && balanced(arg) {
		return p.parseIndirect(arg[1 : len(arg)-1])
	}

	e, err := p.ParseExpr(arg)
	if err != nil {
		return nil, err
	}
	return &ast.Operand{Kind: ast.OperandExpr, Expr: e}, nil
}

// parseIndirect parses the inside of a parenthesised operand
func (p *Parser) parseIndirect(inner string) (*ast.Operand, error) {
	trimmed := strings.TrimSpace(inner)
	upper := strings.ToUpper(trimmed)

	switch upper {
	case "HL", "BC", "DE", "SP":
		return &ast.Operand{Kind: ast.OperandMemReg, Reg: registerNames[upper]}, nil
	case "C":
		return &ast.Operand{Kind: ast.OperandPortC}, nil
	case "IX", "IY":
		return &ast.Operand{Kind: ast.OperandMemIndexed, Reg: registerNames[upper],
			Expr: ast.NewInt(0)}, nil
	}

	// (IX+d) / (IY-d)
	if len(upper) >= 2 && (upper[:2] == "IX" || upper[:2] == "IY") &&
		len(trimmed) > 2 {
		rest := strings.TrimSpace(trimmed[2:])
		if rest != "" && (rest[0] == '+' || rest[0] == '-') {
			e, err := p.ParseExpr(rest)
			if err != nil {
				return nil, err
			}
			return &ast.Operand{Kind: ast.OperandMemIndexed,
				Reg: registerNames[upper[:2]], Expr: e}, nil
		}
	}

	e, err := p.ParseExpr(trimmed)
	if err != nil {
		return nil, err
	}
	return &ast.Operand{Kind: ast.OperandMemExpr, Expr: e}, nil
}

// balanced reports whether the outermost parentheses of s wrap the whole
// operand ("(hl)" yes, "(hl)+1" no).
func balanced(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(s)-1 {
				return false
			}
		case '"', '\'':
			i = scanString(s, i) - 1
		}
	}
	return depth == 0
}
