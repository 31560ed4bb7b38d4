package eval

import (
	"errors"
	"testing"

	"github.com/cpcsdk/cpcasm/pkg/ast"
	"github.com/cpcsdk/cpcasm/pkg/symbols"
)

func testContext() *Context {
	tbl := symbols.NewTable(false)
	tbl.Set("screen", symbols.AddressValue(0, 0xC000))
	tbl.Set("width", symbols.IntValue(80))
	return &Context{
		Table:  tbl,
		Pass:   2,
		Policy: MustNeverFail,
		Dollar: func() (int64, bool) { return 0x4000, true },
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		expr *ast.Expr
		want int64
	}{
		{"add", ast.NewBinary(ast.OpAdd, ast.NewInt(2), ast.NewInt(3)), 5},
		{"precedence result", ast.NewBinary(ast.OpAdd, ast.NewInt(2),
			ast.NewBinary(ast.OpMul, ast.NewInt(3), ast.NewInt(4))), 14},
		{"shift", ast.NewBinary(ast.OpShl, ast.NewInt(1), ast.NewInt(8)), 256},
		{"compare", ast.NewBinary(ast.OpLt, ast.NewInt(1), ast.NewInt(2)), 1},
		{"lo", ast.NewUnary(ast.OpLo, ast.NewInt(0x1234)), 0x34},
		{"hi", ast.NewUnary(ast.OpHi, ast.NewInt(0x1234)), 0x12},
		{"neg", ast.NewUnary(ast.OpNeg, ast.NewInt(7)), -7},
		{"not", ast.NewUnary(ast.OpNot, ast.NewInt(0)), 1},
	}

	ctx := testContext()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalInt(tt.expr, ctx)
			if err != nil {
				t.Fatalf("EvalInt: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDivByZero(t *testing.T) {
	ctx := testContext()
	_, err := EvalInt(ast.NewBinary(ast.OpDiv, ast.NewInt(1), ast.NewInt(0)), ctx)
	if !errors.Is(err, ErrDivByZero) {
		t.Errorf("expected ErrDivByZero, got %v", err)
	}
	_, err = EvalInt(ast.NewBinary(ast.OpShl, ast.NewInt(1), ast.NewInt(40)), ctx)
	if !errors.Is(err, ErrShiftTooLarge) {
		t.Errorf("expected ErrShiftTooLarge, got %v", err)
	}
}

func TestLabelResolution(t *testing.T) {
	ctx := testContext()

	got, err := EvalInt(ast.NewLabel("width"), ctx)
	if err != nil || got != 80 {
		t.Fatalf("width = %d, %v", got, err)
	}

	// Address plus integer keeps the bank
	v, err := Eval(ast.NewBinary(ast.OpAdd, ast.NewLabel("screen"), ast.NewInt(0x50)), ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != symbols.ValueAddress || v.Int != 0xC050 || v.Bank != 0 {
		t.Errorf("screen+0x50 = %+v", v)
	}
}

func TestUnknownLabelPolicies(t *testing.T) {
	ctx := testContext()
	ctx.Pass = 1
	ctx.Policy = MayFailInFirstPass

	got, err := EvalInt(ast.NewLabel("future"), ctx)
	if err != nil || got != 0 {
		t.Errorf("pass-1 unknown label should evaluate to 0, got %d, %v", got, err)
	}

	ctx.Pass = 2
	if _, err := EvalInt(ast.NewLabel("future"), ctx); err == nil {
		t.Error("pass-2 unknown label should fail")
	}

	ctx.Pass = 1
	ctx.Policy = MustNeverFail
	if _, err := EvalInt(ast.NewLabel("future"), ctx); err == nil {
		t.Error("MustNeverFail should fail in pass 1 as well")
	}
}

func TestDollar(t *testing.T) {
	ctx := testContext()
	got, err := EvalInt(&ast.Expr{Kind: ast.ExprDollar}, ctx)
	if err != nil || got != 0x4000 {
		t.Errorf("$ = %d, %v", got, err)
	}
}

func TestStrings(t *testing.T) {
	ctx := testContext()
	v, err := Eval(ast.NewBinary(ast.OpAdd, ast.NewString("foo"), ast.NewString("bar")), ctx)
	if err != nil || v.Str != "foobar" {
		t.Errorf("concat = %+v, %v", v, err)
	}

	// String + integer is not defined
	if _, err := Eval(ast.NewBinary(ast.OpAdd, ast.NewString("foo"), ast.NewInt(1)), ctx); err == nil {
		t.Error("string + integer should fail")
	}
}

func TestBuiltins(t *testing.T) {
	ctx := testContext()
	tests := []struct {
		name string
		expr *ast.Expr
		want int64
	}{
		{"min", &ast.Expr{Kind: ast.ExprCall, Str: "min",
			Args: []*ast.Expr{ast.NewInt(4), ast.NewInt(2)}}, 2},
		{"max", &ast.Expr{Kind: ast.ExprCall, Str: "max",
			Args: []*ast.Expr{ast.NewInt(4), ast.NewInt(2)}}, 4},
		{"abs", &ast.Expr{Kind: ast.ExprCall, Str: "abs",
			Args: []*ast.Expr{ast.NewInt(-3)}}, 3},
		{"sgn", &ast.Expr{Kind: ast.ExprCall, Str: "sgn",
			Args: []*ast.Expr{ast.NewInt(-3)}}, -1},
		{"hi", &ast.Expr{Kind: ast.ExprCall, Str: "hi",
			Args: []*ast.Expr{ast.NewInt(0xBEEF)}}, 0xBE},
		{"defined yes", &ast.Expr{Kind: ast.ExprCall, Str: "defined",
			Args: []*ast.Expr{ast.NewLabel("width")}}, 1},
		{"defined no", &ast.Expr{Kind: ast.ExprCall, Str: "defined",
			Args: []*ast.Expr{ast.NewLabel("nope")}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalInt(tt.expr, ctx)
			if err != nil {
				t.Fatalf("EvalInt: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUsedTracking(t *testing.T) {
	ctx := testContext()
	usedExpr := &ast.Expr{Kind: ast.ExprCall, Str: "used",
		Args: []*ast.Expr{ast.NewLabel("width")}}

	got, _ := EvalInt(usedExpr, ctx)
	if got != 0 {
		t.Error("width should not be used yet")
	}

	if _, err := EvalInt(ast.NewLabel("width"), ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = EvalInt(usedExpr, ctx)
	if got != 1 {
		t.Error("width should be marked used after evaluation")
	}
}
