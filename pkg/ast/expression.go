package ast

// ExprKind discriminates the expression variants
type ExprKind uint8

const (
	ExprInt ExprKind = iota
	ExprFloat
	ExprString
	ExprChar
	ExprLabel
	ExprDollar       // $  (current logical PC)
	ExprDollarDollar // $$ (current physical output address)
	ExprPrefixedLabel
	ExprUnary
	ExprBinary
	ExprCall     // built-in or user function call
	ExprDuration // duration(token): duration of an instruction in NOP units
	ExprOpCode   // opcode(token): first encoded byte of an instruction
)

// LabelPrefix selects what a {prefix}label expression resolves
type LabelPrefix uint8

const (
	PrefixBank LabelPrefix = iota
	PrefixPage
	PrefixPageset
)

// Unary and binary operator names as stored in Expr.Op
const (
	OpNeg    = "neg"
	OpPos    = "pos"
	OpNot    = "!"
	OpBitNot = "~"
	OpLo     = "lo"
	OpHi     = "hi"

	OpAdd        = "+"
	OpSub        = "-"
	OpMul        = "*"
	OpDiv        = "/"
	OpMod        = "%"
	OpShl        = "<<"
	OpShr        = ">>"
	OpBitAnd     = "&"
	OpBitOr      = "|"
	OpBitXor     = "^"
	OpLogicalAnd = "&&"
	OpLogicalOr  = "||"
	OpEq         = "=="
	OpNe         = "!="
	OpLt         = "<"
	OpLe         = "<="
	OpGt         = ">"
	OpGe         = ">="
)

// Expr is one node of an expression tree. The populated fields depend on
// Kind; a closed tagged variant per the data model.
type Expr struct {
	Kind ExprKind

	Int    int64
	Float  float64
	Str    string      // string literal, label name or call name
	Prefix LabelPrefix // for ExprPrefixedLabel
	Op     string      // operator for ExprUnary / ExprBinary
	Args   []*Expr     // unary: 1, binary: 2, call: n
	Inst   *Instruction

	Span Span
}

// IsContextIndependent reports whether the expression references no label
// and neither $ nor $$, i.e. whether it is evaluable at parse time.
func (e *Expr) IsContextIndependent() bool {
	if e == nil {
		return true
	}
	switch e.Kind {
	case ExprLabel, ExprDollar, ExprDollarDollar, ExprPrefixedLabel:
		return false
	case ExprDuration, ExprOpCode:
		if e.Inst != nil {
			for _, op := range e.Inst.Ops {
				if op != nil && op.Expr != nil && !op.Expr.IsContextIndependent() {
					return false
				}
			}
		}
		return true
	}
	for _, a := range e.Args {
		if !a.IsContextIndependent() {
			return false
		}
	}
	return true
}

func NewInt(v int64) *Expr    { return &Expr{Kind: ExprInt, Int: v} }
func NewFloat(v float64) *Expr { return &Expr{Kind: ExprFloat, Float: v} }
func NewString(s string) *Expr { return &Expr{Kind: ExprString, Str: s} }
func NewLabel(name string) *Expr { return &Expr{Kind: ExprLabel, Str: name} }

func NewBinary(op string, l, r *Expr) *Expr {
	return &Expr{Kind: ExprBinary, Op: op, Args: []*Expr{l, r}}
}

func NewUnary(op string, e *Expr) *Expr {
	return &Expr{Kind: ExprUnary, Op: op, Args: []*Expr{e}}
}
