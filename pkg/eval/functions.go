package eval

import (
	"fmt"

	"github.com/cpcsdk/cpcasm/pkg/ast"
	"github.com/cpcsdk/cpcasm/pkg/symbols"
)

// evalCall dispatches a function-call expression: user functions first,
// then the built-in set.
func evalCall(e *ast.Expr, ctx *Context) (symbols.Value, error) {
	name := foldName(e.Str)

	// DEFINED / USED inspect the symbol table without evaluating their
	// argument, so a bare label argument is not an error.
	switch name {
	case "DEFINED":
		label, err := labelArg(e)
		if err != nil {
			return symbols.Value{}, err
		}
		return boolValue(ctx.Table.IsDefined(label)), nil
	case "USED":
		label, err := labelArg(e)
		if err != nil {
			return symbols.Value{}, err
		}
		return boolValue(ctx.Table.IsUsed(label)), nil
	}

	args := make([]symbols.Value, len(e.Args))
	for i, a := range e.Args {
		v, err := Eval(a, ctx)
		if err != nil {
			return symbols.Value{}, err
		}
		args[i] = v
	}

	if ctx.CallUser != nil {
		if v, ok, err := ctx.CallUser(e.Str, args); ok || err != nil {
			return v, err
		}
	}

	switch name {
	case "HI":
		i, err := oneInt(name, args)
		if err != nil {
			return symbols.Value{}, err
		}
		return symbols.IntValue((i >> 8) & 0xFF), nil

	case "LO":
		i, err := oneInt(name, args)
		if err != nil {
			return symbols.Value{}, err
		}
		return symbols.IntValue(i & 0xFF), nil

	case "MIN":
		return reduceInts(name, args, func(a, b int64) int64 {
			if b < a {
				return b
			}
			return a
		})

	case "MAX":
		return reduceInts(name, args, func(a, b int64) int64 {
			if b > a {
				return b
			}
			return a
		})

	case "ABS":
		i, err := oneInt(name, args)
		if err != nil {
			return symbols.Value{}, err
		}
		if i < 0 {
			i = -i
		}
		return symbols.IntValue(i), nil

	case "SGN":
		i, err := oneInt(name, args)
		if err != nil {
			return symbols.Value{}, err
		}
		switch {
		case i < 0:
			return symbols.IntValue(-1), nil
		case i > 0:
			return symbols.IntValue(1), nil
		}
		return symbols.IntValue(0), nil
	}

	return symbols.Value{}, fmt.Errorf("%w: %s", ErrUndefinedFunction, e.Str)
}

func labelArg(e *ast.Expr) (string, error) {
	if len(e.Args) != 1 {
		return "", fmt.Errorf("%w: %s takes one symbol", ErrWrongArity, e.Str)
	}
	arg := e.Args[0]
	switch arg.Kind {
	case ast.ExprLabel:
		return arg.Str, nil
	case ast.ExprString:
		return arg.Str, nil
	}
	return "", fmt.Errorf("%s expects a symbol name", e.Str)
}

func oneInt(name string, args []symbols.Value) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: %s takes one argument", ErrWrongArity, name)
	}
	return args[0].AsInt()
}

func reduceInts(name string, args []symbols.Value, f func(a, b int64) int64) (symbols.Value, error) {
	if len(args) < 2 {
		return symbols.Value{}, fmt.Errorf("%w: %s takes at least two arguments", ErrWrongArity, name)
	}
	acc, err := args[0].AsInt()
	if err != nil {
		return symbols.Value{}, err
	}
	for _, a := range args[1:] {
		i, err := a.AsInt()
		if err != nil {
			return symbols.Value{}, err
		}
		acc = f(acc, i)
	}
	return symbols.IntValue(acc), nil
}

func foldName(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
