// Package eval resolves expression trees against a symbol table.
package eval

import (
	"fmt"

	"github.com/cpcsdk/cpcasm/pkg/ast"
	"github.com/cpcsdk/cpcasm/pkg/symbols"
)

// Policy controls how unresolved labels behave
type Policy uint8

const (
	// MayFailInFirstPass resolves unknown labels to zero in pass 1 and
	// reports an error in subsequent passes.
	MayFailInFirstPass Policy = iota
	// MustNeverFail reports an error for unknown labels in every pass
	MustNeverFail
)

// InstrHooks let expression evaluation reach the instruction encoder
// without importing it: OPCODE(...) needs the first encoded byte,
// DURATION(...) the duration in NOP units.
type InstrHooks struct {
	FirstByte func(*ast.Instruction) (byte, error)
	Duration  func(*ast.Instruction) (int, error)
}

// Context carries everything an evaluation needs
type Context struct {
	Table  *symbols.Table
	Pass   int
	Policy Policy

	// Dollar / DollarDollar return the current logical PC and physical
	// output address; ok is false when the cursor is not set yet.
	Dollar       func() (int64, bool)
	DollarDollar func() (int64, bool)

	Hooks InstrHooks

	// PrefixResolve resolves {bank}/{page}/{pageset} label expressions
	PrefixResolve func(prefix ast.LabelPrefix, label string) (int64, error)

	// CallUser invokes a user-defined function; ok is false when no such
	// function exists, which falls back to the built-in set lookup error.
	CallUser func(name string, args []symbols.Value) (symbols.Value, bool, error)
}

// Eval resolves an expression to a value
func Eval(e *ast.Expr, ctx *Context) (symbols.Value, error) {
	switch e.Kind {
	case ast.ExprInt:
		return symbols.IntValue(e.Int), nil

	case ast.ExprFloat:
		return symbols.FloatValue(e.Float), nil

	case ast.ExprString:
		return symbols.StringValue(e.Str), nil

	case ast.ExprChar:
		return symbols.IntValue(e.Int), nil

	case ast.ExprLabel:
		ctx.Table.MarkUsed(e.Str)
		v, err := ctx.Table.Get(e.Str)
		if err != nil {
			if ctx.Policy == MayFailInFirstPass && ctx.Pass <= 1 {
				return symbols.IntValue(0), nil
			}
			return symbols.Value{}, err
		}
		return v, nil

	case ast.ExprDollar:
		if ctx.Dollar != nil {
			if pc, ok := ctx.Dollar(); ok {
				return symbols.IntValue(pc), nil
			}
		}
		return symbols.Value{}, ErrNoPC

	case ast.ExprDollarDollar:
		if ctx.DollarDollar != nil {
			if pc, ok := ctx.DollarDollar(); ok {
				return symbols.IntValue(pc), nil
			}
		}
		return symbols.Value{}, ErrNoOutputPC

	case ast.ExprPrefixedLabel:
		ctx.Table.MarkUsed(e.Str)
		if ctx.PrefixResolve == nil {
			return symbols.Value{}, fmt.Errorf("bank prefix on %s cannot be resolved here", e.Str)
		}
		v, err := ctx.PrefixResolve(e.Prefix, e.Str)
		if err != nil {
			return symbols.Value{}, err
		}
		return symbols.IntValue(v), nil

	case ast.ExprUnary:
		return evalUnary(e, ctx)

	case ast.ExprBinary:
		return evalBinary(e, ctx)

	case ast.ExprCall:
		return evalCall(e, ctx)

	case ast.ExprDuration:
		if ctx.Hooks.Duration == nil {
			return symbols.Value{}, fmt.Errorf("duration() is not available here")
		}
		d, err := ctx.Hooks.Duration(e.Inst)
		if err != nil {
			return symbols.Value{}, err
		}
		return symbols.IntValue(int64(d)), nil

	case ast.ExprOpCode:
		if ctx.Hooks.FirstByte == nil {
			return symbols.Value{}, fmt.Errorf("opcode() is not available here")
		}
		b, err := ctx.Hooks.FirstByte(e.Inst)
		if err != nil {
			return symbols.Value{}, err
		}
		return symbols.IntValue(int64(b)), nil
	}
	return symbols.Value{}, fmt.Errorf("unhandled expression kind %d", e.Kind)
}

// EvalInt resolves an expression and narrows it to an integer
func EvalInt(e *ast.Expr, ctx *Context) (int64, error) {
	v, err := Eval(e, ctx)
	if err != nil {
		return 0, err
	}
	return v.AsInt()
}

// EvalBool resolves an expression to its truthiness
func EvalBool(e *ast.Expr, ctx *Context) (bool, error) {
	v, err := Eval(e, ctx)
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

func evalUnary(e *ast.Expr, ctx *Context) (symbols.Value, error) {
	v, err := Eval(e.Args[0], ctx)
	if err != nil {
		return symbols.Value{}, err
	}
	switch e.Op {
	case ast.OpPos:
		return v, nil
	case ast.OpNeg:
		if v.Kind == symbols.ValueFloat {
			return symbols.FloatValue(-v.Float), nil
		}
		i, err := v.AsInt()
		if err != nil {
			return symbols.Value{}, err
		}
		return symbols.IntValue(-i), nil
	case ast.OpNot:
		if v.Bool() {
			return symbols.IntValue(0), nil
		}
		return symbols.IntValue(1), nil
	case ast.OpBitNot:
		i, err := v.AsInt()
		if err != nil {
			return symbols.Value{}, err
		}
		return symbols.IntValue(^i), nil
	case ast.OpLo:
		i, err := v.AsInt()
		if err != nil {
			return symbols.Value{}, err
		}
		return symbols.IntValue(i & 0xFF), nil
	case ast.OpHi:
		i, err := v.AsInt()
		if err != nil {
			return symbols.Value{}, err
		}
		return symbols.IntValue((i >> 8) & 0xFF), nil
	}
	return symbols.Value{}, fmt.Errorf("unknown unary operator %q", e.Op)
}

func evalBinary(e *ast.Expr, ctx *Context) (symbols.Value, error) {
	// Logical operators short-circuit
	switch e.Op {
	case ast.OpLogicalAnd:
		l, err := EvalBool(e.Args[0], ctx)
		if err != nil {
			return symbols.Value{}, err
		}
		if !l {
			return symbols.IntValue(0), nil
		}
		r, err := EvalBool(e.Args[1], ctx)
		if err != nil {
			return symbols.Value{}, err
		}
		return boolValue(r), nil
	case ast.OpLogicalOr:
		l, err := EvalBool(e.Args[0], ctx)
		if err != nil {
			return symbols.Value{}, err
		}
		if l {
			return symbols.IntValue(1), nil
		}
		r, err := EvalBool(e.Args[1], ctx)
		if err != nil {
			return symbols.Value{}, err
		}
		return boolValue(r), nil
	}

	l, err := Eval(e.Args[0], ctx)
	if err != nil {
		return symbols.Value{}, err
	}
	r, err := Eval(e.Args[1], ctx)
	if err != nil {
		return symbols.Value{}, err
	}

	// String handling: concatenation and comparisons only
	if l.Kind == symbols.ValueString || r.Kind == symbols.ValueString {
		return evalStringOp(e.Op, l, r)
	}

	// Float arithmetic when either side is a float
	if l.Kind == symbols.ValueFloat || r.Kind == symbols.ValueFloat {
		return evalFloatOp(e.Op, l, r)
	}

	li, err := l.AsInt()
	if err != nil {
		return symbols.Value{}, err
	}
	ri, err := r.AsInt()
	if err != nil {
		return symbols.Value{}, err
	}

	// An address plus/minus an integer keeps its bank
	keepBank := func(res int64) symbols.Value {
		if l.Kind == symbols.ValueAddress && r.Kind != symbols.ValueAddress {
			return symbols.AddressValue(l.Bank, res)
		}
		if r.Kind == symbols.ValueAddress && l.Kind != symbols.ValueAddress {
			return symbols.AddressValue(r.Bank, res)
		}
		return symbols.IntValue(res)
	}

	switch e.Op {
	case ast.OpAdd:
		return keepBank(li + ri), nil
	case ast.OpSub:
		return keepBank(li - ri), nil
	case ast.OpMul:
		return symbols.IntValue(li * ri), nil
	case ast.OpDiv:
		if ri == 0 {
			return symbols.Value{}, ErrDivByZero
		}
		return symbols.IntValue(li / ri), nil
	case ast.OpMod:
		if ri == 0 {
			return symbols.Value{}, ErrModByZero
		}
		return symbols.IntValue(li % ri), nil
	case ast.OpShl:
		if ri >= 32 || ri < 0 {
			return symbols.Value{}, ErrShiftTooLarge
		}
		return symbols.IntValue(li << uint(ri)), nil
	case ast.OpShr:
		if ri >= 32 || ri < 0 {
			return symbols.Value{}, ErrShiftTooLarge
		}
		return symbols.IntValue(li >> uint(ri)), nil
	case ast.OpBitAnd:
		return symbols.IntValue(li & ri), nil
	case ast.OpBitOr:
		return symbols.IntValue(li | ri), nil
	case ast.OpBitXor:
		return symbols.IntValue(li ^ ri), nil
	case ast.OpEq:
		return boolValue(li == ri), nil
	case ast.OpNe:
		return boolValue(li != ri), nil
	case ast.OpLt:
		return boolValue(li < ri), nil
	case ast.OpLe:
		return boolValue(li <= ri), nil
	case ast.OpGt:
		return boolValue(li > ri), nil
	case ast.OpGe:
		return boolValue(li >= ri), nil
	}
	return symbols.Value{}, fmt.Errorf("unknown binary operator %q", e.Op)
}

func evalStringOp(op string, l, r symbols.Value) (symbols.Value, error) {
	if l.Kind != symbols.ValueString || r.Kind != symbols.ValueString {
		return symbols.Value{}, fmt.Errorf("%w: %s between %s and %s",
			ErrBadOperands, op, l.Kind, r.Kind)
	}
	switch op {
	case ast.OpAdd:
		return symbols.StringValue(l.Str + r.Str), nil
	case ast.OpEq:
		return boolValue(l.Str == r.Str), nil
	case ast.OpNe:
		return boolValue(l.Str != r.Str), nil
	case ast.OpLt:
		return boolValue(l.Str < r.Str), nil
	case ast.OpGt:
		return boolValue(l.Str > r.Str), nil
	case ast.OpLe:
		return boolValue(l.Str <= r.Str), nil
	case ast.OpGe:
		return boolValue(l.Str >= r.Str), nil
	}
	return symbols.Value{}, fmt.Errorf("%w: %s on strings", ErrBadOperands, op)
}

func evalFloatOp(op string, l, r symbols.Value) (symbols.Value, error) {
	lf, err := l.AsFloat()
	if err != nil {
		return symbols.Value{}, err
	}
	rf, err := r.AsFloat()
	if err != nil {
		return symbols.Value{}, err
	}
	switch op {
	case ast.OpAdd:
		return symbols.FloatValue(lf + rf), nil
	case ast.OpSub:
		return symbols.FloatValue(lf - rf), nil
	case ast.OpMul:
		return symbols.FloatValue(lf * rf), nil
	case ast.OpDiv:
		if rf == 0 {
			return symbols.Value{}, ErrDivByZero
		}
		return symbols.FloatValue(lf / rf), nil
	case ast.OpEq:
		return boolValue(lf == rf), nil
	case ast.OpNe:
		return boolValue(lf != rf), nil
	case ast.OpLt:
		return boolValue(lf < rf), nil
	case ast.OpLe:
		return boolValue(lf <= rf), nil
	case ast.OpGt:
		return boolValue(lf > rf), nil
	case ast.OpGe:
		return boolValue(lf >= rf), nil
	}
	return symbols.Value{}, fmt.Errorf("%w: %s on floats", ErrBadOperands, op)
}

func boolValue(b bool) symbols.Value {
	if b {
		return symbols.IntValue(1)
	}
	return symbols.IntValue(0)
}
