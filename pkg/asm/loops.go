package asm

import (
	"fmt"

	"github.com/cpcsdk/cpcasm/pkg/ast"
	"github.com/cpcsdk/cpcasm/pkg/eval"
	"github.com/cpcsdk/cpcasm/pkg/symbols"
)

// counterScope temporarily binds a loop counter symbol, restoring any
// shadowed value when the loop ends.
type counterScope struct {
	e        *Env
	names    []string
	shadowed map[string]*symbols.Value
}

func (e *Env) openCounters(names ...string) *counterScope {
	cs := &counterScope{e: e, shadowed: make(map[string]*symbols.Value)}
	for _, name := range names {
		if name == "" {
			continue
		}
		cs.names = append(cs.names, name)
		if v, err := e.table.Get(name); err == nil {
			saved := v
			cs.shadowed[name] = &saved
		} else {
			cs.shadowed[name] = nil
		}
	}
	return cs
}

func (cs *counterScope) set(name string, v symbols.Value) {
	if name != "" {
		cs.e.table.Set(name, v)
	}
}

func (cs *counterScope) close() {
	for _, name := range cs.names {
		if prior := cs.shadowed[name]; prior != nil {
			cs.e.table.Set(name, *prior)
		} else {
			cs.e.table.Remove(name)
		}
	}
}

// visitRepeat unrolls a counted repetition. The declared counter takes
// start + i*step; the bare symbol @ always carries the 1-based iteration
// count. REPEAT 0 is legal and expands to nothing.
func (e *Env) visitRepeat(tok *ast.Token) error {
	ctx := e.evalCtx(eval.MustNeverFail)
	count, err := eval.EvalInt(tok.Count, ctx)
	if err != nil {
		return e.spanErr(tok, err)
	}
	if count < 0 {
		return e.spanErr(tok, fmt.Errorf("negative repeat count %d", count))
	}
	start := int64(0)
	if tok.Start != nil {
		if start, err = eval.EvalInt(tok.Start, ctx); err != nil {
			return e.spanErr(tok, err)
		}
	}
	step := int64(1)
	if tok.Step != nil {
		if step, err = eval.EvalInt(tok.Step, ctx); err != nil {
			return e.spanErr(tok, err)
		}
	}

	cs := e.openCounters(tok.Counter, "@")
	defer cs.close()
	for i := int64(0); i < count; i++ {
		cs.set(tok.Counter, symbols.IntValue(start+i*step))
		cs.set("@", symbols.IntValue(i+1))
		if err := e.visitBody(tok.Body); err != nil {
			return err
		}
	}
	return nil
}

func (e *Env) visitRepeatUntil(tok *ast.Token) error {
	cs := e.openCounters("@")
	defer cs.close()
	for i := int64(1); ; i++ {
		if i > iterationCap {
			return e.spanErr(tok, ErrIterationLimitExceeded)
		}
		cs.set("@", symbols.IntValue(i))
		if err := e.visitBody(tok.Body); err != nil {
			return err
		}
		done, err := eval.EvalBool(tok.Cond, e.evalCtx(eval.MustNeverFail))
		if err != nil {
			return e.spanErr(tok, err)
		}
		if done {
			return nil
		}
	}
}

func (e *Env) visitWhile(tok *ast.Token) error {
	cs := e.openCounters("@")
	defer cs.close()
	for i := int64(1); ; i++ {
		if i > iterationCap {
			return e.spanErr(tok, ErrIterationLimitExceeded)
		}
		keep, err := eval.EvalBool(tok.Cond, e.evalCtx(eval.MustNeverFail))
		if err != nil {
			return e.spanErr(tok, err)
		}
		if !keep {
			return nil
		}
		cs.set("@", symbols.IntValue(i))
		if err := e.visitBody(tok.Body); err != nil {
			return err
		}
	}
}

func (e *Env) visitFor(tok *ast.Token) error {
	ctx := e.evalCtx(eval.MustNeverFail)
	start, err := eval.EvalInt(tok.Start, ctx)
	if err != nil {
		return e.spanErr(tok, err)
	}
	stop, err := eval.EvalInt(tok.Stop, ctx)
	if err != nil {
		return e.spanErr(tok, err)
	}
	step := int64(1)
	if tok.Step != nil {
		if step, err = eval.EvalInt(tok.Step, ctx); err != nil {
			return e.spanErr(tok, err)
		}
	}
	if step == 0 {
		return e.spanErr(tok, fmt.Errorf("FOR step cannot be zero"))
	}

	cs := e.openCounters(tok.Counter)
	defer cs.close()
	for i := start; (step > 0 && i <= stop) || (step < 0 && i >= stop); i += step {
		cs.set(tok.Counter, symbols.IntValue(i))
		if err := e.visitBody(tok.Body); err != nil {
			return err
		}
	}
	return nil
}

func (e *Env) visitIterate(tok *ast.Token) error {
	cs := e.openCounters(tok.Counter, "@")
	defer cs.close()
	ctx := e.evalCtx(eval.MustNeverFail)
	n := int64(0)
	for _, x := range tok.Exprs {
		v, err := eval.Eval(x, ctx)
		if err != nil {
			return e.spanErr(tok, err)
		}
		// a list value iterates element by element
		values := []symbols.Value{v}
		if v.Kind == symbols.ValueList {
			values = v.List
		}
		for _, item := range values {
			n++
			cs.set(tok.Counter, item)
			cs.set("@", symbols.IntValue(n))
			if err := e.visitBody(tok.Body); err != nil {
				return err
			}
		}
	}
	return nil
}

// visitIf evaluates the case tests in order and assembles the first
// matching body. Expression tests never tolerate unresolved symbols;
// label tests consult the symbol table directly.
func (e *Env) visitIf(tok *ast.Token) error {
	for _, c := range tok.IfCases {
		match, err := e.ifTest(c)
		if err != nil {
			return e.spanErr(tok, err)
		}
		if match {
			return e.visitBody(c.Body)
		}
	}
	if tok.Else != nil {
		return e.visitBody(tok.Else)
	}
	return nil
}

func (e *Env) ifTest(c *ast.IfCase) (bool, error) {
	switch c.Test {
	case ast.TestTrueExpr:
		return eval.EvalBool(c.Expr, e.evalCtx(eval.MustNeverFail))
	case ast.TestFalseExpr:
		ok, err := eval.EvalBool(c.Expr, e.evalCtx(eval.MustNeverFail))
		return !ok, err
	case ast.TestLabelExists:
		return e.table.Exists(c.Label), nil
	case ast.TestLabelDoesNotExist:
		return !e.table.Exists(c.Label), nil
	case ast.TestLabelUsed:
		return e.table.IsUsed(c.Label), nil
	case ast.TestLabelNotUsed:
		return !e.table.IsUsed(c.Label), nil
	}
	return false, fmt.Errorf("unknown if test %d", c.Test)
}

// visitSwitch compares the selector to each case; a case without its
// break flag falls through into the next one.
func (e *Env) visitSwitch(tok *ast.Token) error {
	ctx := e.evalCtx(eval.MustNeverFail)
	selector, err := eval.EvalInt(tok.Selector, ctx)
	if err != nil {
		return e.spanErr(tok, err)
	}
	matched := false
	for _, c := range tok.Cases {
		if !matched {
			v, err := eval.EvalInt(c.Expr, ctx)
			if err != nil {
				return e.spanErr(tok, err)
			}
			matched = v == selector
		}
		if matched {
			if err := e.visitBody(c.Body); err != nil {
				return err
			}
			if c.Break {
				return nil
			}
		}
	}
	if !matched && tok.Default != nil {
		return e.visitBody(tok.Default)
	}
	return nil
}
