package parser

import (
	"fmt"
	"strings"

	"github.com/cpcsdk/cpcasm/pkg/ast"
)

// Parser drives recursive-descent parsing over the scanned statements
type Parser struct {
	ctx   *Context
	src   *ast.Source
	stmts []stmt
	pos   int
	// block openers currently being parsed, innermost last
	blocks []string
}

// Parse parses a complete source text into a located token tree
func Parse(source string, ctx *Context) ([]*ast.Token, error) {
	if ctx == nil {
		ctx = NewContext("<string>", Options{})
	}
	p := &Parser{
		ctx: ctx,
		src: &ast.Source{File: ctx.Filename, Text: source},
	}
	p.stmts = scan(p.src, ctx.Options.Flavor)
	body, closer, _, err := p.parseBlock(nil)
	if err != nil {
		return nil, err
	}
	if closer != "" {
		return nil, p.errf(p.lastSpan(), "unexpected %s without an opening block", closer)
	}
	return body, nil
}

// ParseExprString parses a standalone expression with a context's options
func ParseExprString(text string, ctx *Context) (*ast.Expr, error) {
	if ctx == nil {
		ctx = NewContext("<expr>", Options{})
	}
	p := &Parser{ctx: ctx, src: &ast.Source{File: ctx.Filename, Text: text}}
	return p.ParseExpr(text)
}

// ParseFile reads and parses a file through the context's reader
func ParseFile(path string, ctx *Context) ([]*ast.Token, error) {
	data, err := ctx.Reader.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	sub := *ctx
	sub.Filename = path
	return Parse(string(data), &sub)
}

func (p *Parser) contextChain() []string {
	chain := make([]string, 0, len(p.blocks))
	for i := len(p.blocks) - 1; i >= 0; i-- {
		chain = append(chain, p.blocks[i])
	}
	return chain
}

func (p *Parser) lastSpan() ast.Span {
	if p.pos > 0 && p.pos <= len(p.stmts) {
		return p.stmts[p.pos-1].span
	}
	return ast.Span{Source: p.src}
}

// parseBlock parses statements until one of the closer words is met. It
// returns the body, the closer (upper-case, "" at end of input) and the
// closer's argument text. The first matching closer wins; running out of
// input with pending closers is a "block not closed" error that names the
// opener and is located at the last statement read.
func (p *Parser) parseBlock(closers map[string]bool) ([]*ast.Token, string, string, error) {
	var body []*ast.Token
	for p.pos < len(p.stmts) {
		s := p.stmts[p.pos]
		word, rest := firstWord(s.text)
		upper := strings.ToUpper(strings.TrimSuffix(word, ":"))
		if closers[upper] {
			p.pos++
			return body, upper, rest, nil
		}
		p.pos++
		toks, err := p.parseStatement(s)
		if err != nil {
			return nil, "", "", err
		}
		body = append(body, toks...)
	}
	if len(closers) > 0 {
		opener := "block"
		if len(p.blocks) > 0 {
			opener = p.blocks[len(p.blocks)-1]
		}
		return nil, "", "", p.errf(p.lastSpan(), "%s not closed", opener)
	}
	return body, "", "", nil
}

// parseStatement parses one statement into zero or more tokens. The
// alternatives are tried in order: assignment line, opcode, directive,
// macro or struct call, then label followed by an optional statement.
func (p *Parser) parseStatement(s stmt) ([]*ast.Token, error) {
	word, rest := firstWord(s.text)
	if word == "" {
		return nil, nil
	}

	name := strings.TrimSuffix(word, ":")
	upper := strings.ToUpper(name)

	if tok, ok, err := p.tryAssignment(s, name, rest); ok || err != nil {
		if err != nil {
			return nil, err
		}
		return []*ast.Token{tok}, nil
	}

	if isMnemonic(upper) {
		inst, err := p.parseInstruction(upper, rest)
		if err != nil {
			return nil, p.wrapErr(s.span, err, "instruction")
		}
		return []*ast.Token{{Kind: ast.TokOpCode, Inst: inst, Span: s.span}}, nil
	}

	if handler, ok := p.lookupDirective(name); ok {
		return handler(p, s, rest)
	}

	if p.ctx.macros[upper] || p.ctx.structs[upper] {
		return []*ast.Token{{
			Kind: ast.TokMacroCall, Name: name,
			RawArgs: splitArgs(rest), Span: s.span,
		}}, nil
	}

	if !isValidLabel(name) {
		return nil, p.errf(s.span, "cannot parse %q", s.text)
	}
	label := &ast.Token{Kind: ast.TokLabel, Name: name, Span: s.span}
	if rest == "" {
		return []*ast.Token{label}, nil
	}
	following, err := p.parseStatement(stmt{text: rest, span: s.span})
	if err != nil {
		return nil, err
	}
	return append([]*ast.Token{label}, following...), nil
}

// tryAssignment recognises "name EQU e", "name = e" and the compound
// operator forms.
func (p *Parser) tryAssignment(s stmt, name, rest string) (*ast.Token, bool, error) {
	if !isValidLabel(name) || rest == "" {
		return nil, false, nil
	}
	word2, rest2 := firstWord(rest)
	if strings.EqualFold(word2, "EQU") {
		e, err := p.ParseExpr(rest2)
		if err != nil {
			return nil, true, p.wrapErr(s.span, err, "EQU expression")
		}
		return &ast.Token{Kind: ast.TokEqu, Name: name, Exprs: []*ast.Expr{e}, Span: s.span}, true, nil
	}

	for _, op := range []ast.AssignOp{
		ast.AssignShl, ast.AssignShr, ast.AssignLAnd, ast.AssignLOr,
		ast.AssignAdd, ast.AssignSub, ast.AssignMul, ast.AssignDiv,
		ast.AssignMod, ast.AssignAnd, ast.AssignOr, ast.AssignXor,
		ast.AssignSet,
	} {
		if strings.HasPrefix(rest, string(op)) {
			if op == ast.AssignSet && strings.HasPrefix(rest, "==") {
				return nil, false, nil
			}
			e, err := p.ParseExpr(strings.TrimSpace(rest[len(op):]))
			if err != nil {
				return nil, true, p.wrapErr(s.span, err, "assignment expression")
			}
			return &ast.Token{Kind: ast.TokAssign, Name: name, Op: op,
				Exprs: []*ast.Expr{e}, Span: s.span}, true, nil
		}
	}
	return nil, false, nil
}

func isValidLabel(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	return true
}
