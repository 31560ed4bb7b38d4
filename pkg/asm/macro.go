package asm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cpcsdk/cpcasm/pkg/ast"
	"github.com/cpcsdk/cpcasm/pkg/eval"
	"github.com/cpcsdk/cpcasm/pkg/parser"
	"github.com/cpcsdk/cpcasm/pkg/symbols"
)

// visitCall dispatches a macro or struct call site
func (e *Env) visitCall(tok *ast.Token) error {
	upper := strings.ToUpper(tok.Name)
	if def, ok := e.macros[upper]; ok {
		return e.expandMacro(tok, def)
	}
	if def, ok := e.structs[upper]; ok {
		return e.emitStruct(tok, def)
	}
	return e.spanErr(tok, fmt.Errorf("unknown macro or struct %s", tok.Name))
}

// expandMacro substitutes the arguments into the recorded body text,
// re-parses it with the macro's flavor and assembles the result.
func (e *Env) expandMacro(tok *ast.Token, def *ast.Token) error {
	if e.depth >= recursionCap {
		return e.spanErr(tok, ErrRecursionLimitExceeded)
	}
	if len(tok.RawArgs) > len(def.Params) {
		return e.spanErr(tok, fmt.Errorf("macro %s takes %d arguments, got %d",
			def.Name, len(def.Params), len(tok.RawArgs)))
	}

	text := def.RawBody
	for i, param := range def.Params {
		arg := ""
		if i < len(tok.RawArgs) {
			arg = tok.RawArgs[i]
		}
		text = substituteParam(text, param, arg)
	}

	opts := e.ctx.Options
	opts.Flavor = def.Flavor
	sub := parser.NewContext(fmt.Sprintf("%s(macro %s)", tok.Span, def.Name), opts)
	sub.Reader = e.ctx.Reader
	sub.IncludePaths = e.ctx.IncludePaths
	for name := range e.macros {
		sub.RegisterMacro(name)
	}
	for name := range e.structs {
		sub.RegisterStruct(name)
	}

	body, err := parser.Parse(text, sub)
	if err != nil {
		return e.spanErr(tok, err)
	}
	e.depth++
	err = e.visitBody(body)
	e.depth--
	return err
}

// substituteParam replaces {param} placeholders and bare whole-word
// occurrences of a macro parameter.
func substituteParam(text, param, arg string) string {
	text = strings.ReplaceAll(text, "{"+param+"}", arg)
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(param) + `\b`)
	return re.ReplaceAllLiteralString(text, arg)
}

// visitStructDef records the struct and defines its size plus one offset
// symbol per field.
func (e *Env) visitStructDef(tok *ast.Token) error {
	e.structs[strings.ToUpper(tok.Name)] = tok
	offset := int64(0)
	for _, field := range tok.Fields {
		size, err := e.structFieldSize(field.Token)
		if err != nil {
			return e.spanErr(tok, err)
		}
		e.table.Set(tok.Name+"."+field.Name, symbols.IntValue(offset))
		offset += size
	}
	e.table.Set(tok.Name, symbols.IntValue(offset))
	return nil
}

func (e *Env) structFieldSize(tok *ast.Token) (int64, error) {
	switch tok.Kind {
	case ast.TokDefb:
		return int64(len(tok.Exprs)), nil
	case ast.TokDefw:
		return int64(2 * len(tok.Exprs)), nil
	case ast.TokStr:
		// size depends on the value; structs need fixed layouts
		return 0, fmt.Errorf("STR fields are not sized; use DEFB")
	case ast.TokDefs:
		total := int64(0)
		ctx := e.evalCtx(eval.MustNeverFail)
		for _, arg := range tok.DefsArgs {
			n, err := eval.EvalInt(arg.Count, ctx)
			if err != nil {
				return 0, err
			}
			total += n
		}
		return total, nil
	case ast.TokMacroCall:
		inner, ok := e.structs[strings.ToUpper(tok.Name)]
		if !ok {
			return 0, fmt.Errorf("unknown struct %s in field", tok.Name)
		}
		total := int64(0)
		for _, f := range inner.Fields {
			n, err := e.structFieldSize(f.Token)
			if err != nil {
				return 0, err
			}
			total += n
		}
		return total, nil
	}
	return 0, fmt.Errorf("unsupported struct field")
}

// emitStruct expands a struct call: each field emits its default values,
// overridden positionally by the call arguments.
func (e *Env) emitStruct(tok *ast.Token, def *ast.Token) error {
	for i, field := range def.Fields {
		fieldTok := field.Token
		if i < len(tok.RawArgs) && strings.TrimSpace(tok.RawArgs[i]) != "" {
			x, err := e.parseArgExpr(tok.RawArgs[i])
			if err != nil {
				return e.spanErr(tok, err)
			}
			override := *fieldTok
			override.Exprs = []*ast.Expr{x}
			fieldTok = &override
		}
		if err := e.visitToken(fieldTok); err != nil {
			return err
		}
	}
	return nil
}

func (e *Env) parseArgExpr(text string) (*ast.Expr, error) {
	return parser.ParseExprString(text, e.ctx)
}

// callUserFunction evaluates a FUNCTION body. Functions may bind local
// symbols and return a value but cannot touch the output stream.
func (e *Env) callUserFunction(name string, args []symbols.Value) (symbols.Value, bool, error) {
	def, ok := e.functions[strings.ToUpper(name)]
	if !ok {
		return symbols.Value{}, false, nil
	}
	if e.depth >= recursionCap {
		return symbols.Value{}, true, ErrRecursionLimitExceeded
	}
	if len(args) != len(def.Params) {
		return symbols.Value{}, true, fmt.Errorf("%w: %s takes %d arguments",
			eval.ErrWrongArity, name, len(def.Params))
	}

	cs := e.openCounters(def.Params...)
	defer cs.close()
	for i, p := range def.Params {
		cs.set(p, args[i])
	}

	e.depth++
	defer func() { e.depth-- }()
	v, returned, err := e.runFunctionBody(def.Body)
	if err != nil {
		return symbols.Value{}, true, err
	}
	if !returned {
		return symbols.Value{}, true, fmt.Errorf("function %s ended without RETURN", name)
	}
	return v, true, nil
}

// runFunctionBody interprets the restricted token set allowed inside a
// function. Emission or environment mutation is rejected.
func (e *Env) runFunctionBody(body []*ast.Token) (symbols.Value, bool, error) {
	for _, tok := range body {
		switch tok.Kind {
		case ast.TokReturn:
			v, err := eval.Eval(tok.Exprs[0], e.evalCtx(eval.MayFailInFirstPass))
			if err != nil {
				return symbols.Value{}, false, err
			}
			return v, true, nil

		case ast.TokAssign, ast.TokEqu:
			if err := e.visitToken(tok); err != nil {
				return symbols.Value{}, false, err
			}

		case ast.TokIf:
			branch := tok.Else
			for _, c := range tok.IfCases {
				match, err := e.ifTest(c)
				if err != nil {
					return symbols.Value{}, false, err
				}
				if match {
					branch = c.Body
					break
				}
			}
			if branch != nil {
				if v, returned, err := e.runFunctionBody(branch); err != nil || returned {
					return v, returned, err
				}
			}

		case ast.TokPrint:
			if err := e.visitToken(tok); err != nil {
				return symbols.Value{}, false, err
			}

		default:
			return symbols.Value{}, false, ErrFunctionSideEffect
		}
	}
	return symbols.Value{}, false, nil
}
