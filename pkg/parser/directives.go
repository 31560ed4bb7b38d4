package parser

import (
	"strings"

	"github.com/cpcsdk/cpcasm/pkg/ast"
)

// directiveFn parses one directive statement; block directives consume
// the following statements up to their closer.
type directiveFn func(p *Parser, s stmt, rest string) ([]*ast.Token, error)

// lookupDirective resolves a statement's first word to a directive
// parser. With dotted directives enabled the dot is mandatory and bare
// names fall through to label parsing.
func (p *Parser) lookupDirective(name string) (directiveFn, bool) {
	dotted := strings.HasPrefix(name, ".")
	if p.ctx.Options.DottedDirectives && !dotted {
		return nil, false
	}
	if dotted {
		name = name[1:]
	}
	fn, ok := directives[strings.ToUpper(name)]
	return fn, ok
}

var directives map[string]directiveFn

func init() {
	directives = map[string]directiveFn{
		"ORG":  parseOrg,
		"RORG": parseRorg, "PHASE": parseRorg,

		"DB": parseDefb, "DEFB": parseDefb, "BYTE": parseDefb,
		"DM": parseDefb, "DEFM": parseDefb,
		"DW": parseDefw, "DEFW": parseDefw, "WORD": parseDefw,
		"DS": parseDefs, "DEFS": parseDefs,
		"STR":   parseStr,
		"ABYTE": parseAbyte,

		"INCBIN": parseIncbin, "BINCLUDE": parseIncbin,
		"INCLUDE": parseInclude, "READ": parseInclude,

		"REPEAT": parseRepeat, "REPT": parseRepeat, "REP": parseRepeat,
		"WHILE":   parseWhile,
		"FOR":     parseFor,
		"ITERATE": parseIterate, "ITER": parseIterate,

		"IF": parseIfExpr(ast.TestTrueExpr), "IFNOT": parseIfExpr(ast.TestFalseExpr),
		"IFDEF": parseIfLabel(ast.TestLabelExists), "IFEXIST": parseIfLabel(ast.TestLabelExists),
		"IFNDEF": parseIfLabel(ast.TestLabelDoesNotExist),
		"IFUSED": parseIfLabel(ast.TestLabelUsed), "IFNUSED": parseIfLabel(ast.TestLabelNotUsed),

		"SWITCH": parseSwitch,

		"MACRO":    parseMacro,
		"STRUCT":   parseStruct,
		"FUNCTION": parseFunction,
		"RETURN":   parseReturn,
		"MODULE":   parseModule,
		"CONFINED": parseConfined,

		"LZ48": parseCrunched(ast.CrunchLZ48), "LZ49": parseCrunched(ast.CrunchLZ49),
		"LZ4": parseCrunched(ast.CrunchLZ4), "LZX0": parseCrunched(ast.CrunchZX0),
		"LZX0_BACKWARD": parseCrunched(ast.CrunchBackwardZX0),
		"LZX7":          parseCrunched(ast.CrunchLZX7),
		"LZEXO":         parseCrunched(ast.CrunchLZEXO),
		"LZSHRINKLER":   parseCrunched(ast.CrunchShrinkler),
		"LZUPKR":        parseCrunched(ast.CrunchUpkr),
		"LZAPU":         parseCrunched(ast.CrunchLZAPU),
		"LZSA1":         parseCrunched(ast.CrunchLZSA1),
		"LZSA2":         parseCrunched(ast.CrunchLZSA2),

		"ALIGN": parseAlign,
		"LIMIT": parseLimit,
		"PROTECT": parseProtect,
		"RANGE":   parseRange,
		"SECTION": parseSection,
		"BANK":    parseBank,
		"BANKSET": parseBankset,

		"SAVE": parseSave, "WRITE": parseSave,
		"BUILDSNA": parseBuildSna,
		"BUILDCPR": parseBuildCpr,
		"SNASET":   parseSnaSet,
		"SNAINIT":  parseSnaInit,

		"BREAKPOINT":   parseBreakpoint,
		"STABLETICKER": parseStableTicker,

		"ASMCONTROLENV":          parseAsmControlEnv,
		"PRINTATPARSINGSTATE":    parsePrintAtParse,
		"PRINTATASSEMBLINGSTATE": parsePrintAtAssemble,

		"LOCOMOTIVE": parseLocomotive,
		"LUA":        parseLua,

		"ASSERT": parseAssert,
		"PRINT":  parsePrint,
		"FAIL":   parseFail,
		"PAUSE":  parseSimple(ast.TokPause),
		"UNDEF":  parseUndef,
		"LIST":   parseSimple(ast.TokList),
		"NOLIST": parseSimple(ast.TokNoList),
		"END":    parseSimple(ast.TokEnd),
		"LET":    parseLet,
	}

	// closers appearing without their opener are reported in place
	for _, closer := range []string{
		"ENDIF", "ELSE", "ELSEIF",
		"ENDREPEAT", "ENDREPT", "ENDREP", "ENDR", "REND", "UNTIL",
		"ENDFOR", "FEND", "ENDF",
		"ENDITERATE", "ENDITER", "ENDI", "IEND",
		"ENDWHILE", "ENDW", "WEND",
		"ENDSWITCH", "CASE", "DEFAULT", "BREAK",
		"ENDM", "MEND", "ENDMACRO",
		"ENDSTRUCT", "ENDS",
		"ENDMODULE", "ENDFUNCTION",
		"LZCLOSE",
		"ENDCONFINED", "CEND", "ENDC",
		"DEPHASE",
		"ENDASMCONTROLENV", "ENDA",
		"ENDLOCOMOTIVE", "ENDLUA",
	} {
		name := closer
		directives[name] = func(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
			return nil, p.errf(s.span, "%s without an opening block", name)
		}
	}
}

func closerSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// parseBody parses a nested block body, tracking the opener for
// diagnostics.
func (p *Parser) parseBody(opener string, closers map[string]bool) ([]*ast.Token, string, string, error) {
	p.blocks = append(p.blocks, opener)
	body, closer, rest, err := p.parseBlock(closers)
	p.blocks = p.blocks[:len(p.blocks)-1]
	return body, closer, rest, err
}

// collectRaw gathers statements verbatim until one of the closer words,
// preserving the text as written.
func (p *Parser) collectRaw(opener string, closers map[string]bool) (string, string, string, error) {
	var lines []string
	for p.pos < len(p.stmts) {
		s := p.stmts[p.pos]
		word, rest := firstWord(s.text)
		if closers[strings.ToUpper(strings.TrimSuffix(word, ":"))] {
			p.pos++
			return strings.Join(lines, "\n"), strings.ToUpper(word), rest, nil
		}
		lines = append(lines, s.text)
		p.pos++
	}
	return "", "", "", p.errf(p.lastSpan(), "%s not closed", opener)
}

func (p *Parser) exprArgs(s stmt, rest, what string) ([]*ast.Expr, error) {
	var exprs []*ast.Expr
	for _, arg := range splitArgs(rest) {
		e, err := p.ParseExpr(arg)
		if err != nil {
			return nil, p.wrapErr(s.span, err, what)
		}
		exprs = append(exprs, e)
	}
	return exprs, nil
}

func one(t *ast.Token) ([]*ast.Token, error) { return []*ast.Token{t}, nil }

func parseSimple(kind ast.TokenKind) directiveFn {
	return func(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
		return one(&ast.Token{Kind: kind, Span: s.span})
	}
}

func parseOrg(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	exprs, err := p.exprArgs(s, rest, "ORG address")
	if err != nil {
		return nil, err
	}
	if len(exprs) < 1 || len(exprs) > 2 {
		return nil, p.errf(s.span, "ORG takes one or two addresses")
	}
	return one(&ast.Token{Kind: ast.TokOrg, Exprs: exprs, Span: s.span})
}

func parseRorg(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	exprs, err := p.exprArgs(s, rest, "RORG address")
	if err != nil || len(exprs) != 1 {
		if err == nil {
			err = p.errf(s.span, "RORG takes one address")
		}
		return nil, err
	}
	body, _, _, err := p.parseBody("RORG", closerSet("REND", "DEPHASE"))
	if err != nil {
		return nil, err
	}
	return one(&ast.Token{Kind: ast.TokRorg, Exprs: exprs, Body: body, Span: s.span})
}

func parseDefb(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	exprs, err := p.exprArgs(s, rest, "DEFB value")
	if err != nil {
		return nil, err
	}
	if len(exprs) == 0 {
		return nil, p.errf(s.span, "DEFB needs at least one value")
	}
	return one(&ast.Token{Kind: ast.TokDefb, Exprs: exprs, Span: s.span})
}

func parseDefw(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	exprs, err := p.exprArgs(s, rest, "DEFW value")
	if err != nil {
		return nil, err
	}
	if len(exprs) == 0 {
		return nil, p.errf(s.span, "DEFW needs at least one value")
	}
	return one(&ast.Token{Kind: ast.TokDefw, Exprs: exprs, Span: s.span})
}

func parseDefs(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	exprs, err := p.exprArgs(s, rest, "DEFS size")
	if err != nil {
		return nil, err
	}
	if len(exprs) == 0 {
		return nil, p.errf(s.span, "DEFS needs a size")
	}
	tok := &ast.Token{Kind: ast.TokDefs, Span: s.span}
	if len(exprs) <= 2 {
		arg := &ast.DefsArg{Count: exprs[0]}
		if len(exprs) == 2 {
			arg.Fill = exprs[1]
		}
		tok.DefsArgs = []*ast.DefsArg{arg}
		return one(tok)
	}
	for i := 0; i < len(exprs); i += 2 {
		arg := &ast.DefsArg{Count: exprs[i]}
		if i+1 < len(exprs) {
			arg.Fill = exprs[i+1]
		}
		tok.DefsArgs = append(tok.DefsArgs, arg)
	}
	return one(tok)
}

func parseStr(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	exprs, err := p.exprArgs(s, rest, "STR value")
	if err != nil {
		return nil, err
	}
	if len(exprs) == 0 {
		return nil, p.errf(s.span, "STR needs at least one value")
	}
	return one(&ast.Token{Kind: ast.TokStr, Exprs: exprs, Span: s.span})
}

func parseAbyte(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	exprs, err := p.exprArgs(s, rest, "ABYTE value")
	if err != nil {
		return nil, err
	}
	if len(exprs) < 2 {
		return nil, p.errf(s.span, "ABYTE takes a delta then values")
	}
	return one(&ast.Token{Kind: ast.TokAbyte, Delta: exprs[0], Exprs: exprs[1:], Span: s.span})
}

func unquote(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], true
	}
	return s, false
}

var crunchNames = map[string]ast.CrunchKind{
	"LZ48": ast.CrunchLZ48, "LZ49": ast.CrunchLZ49, "LZ4": ast.CrunchLZ4,
	"LZEXO": ast.CrunchLZEXO, "LZSA1": ast.CrunchLZSA1, "LZSA2": ast.CrunchLZSA2,
	"LZX7": ast.CrunchLZX7, "ZX0": ast.CrunchZX0, "LZX0": ast.CrunchZX0,
	"BACKWARD_ZX0": ast.CrunchBackwardZX0, "LZX0_BACKWARD": ast.CrunchBackwardZX0,
	"SHRINKLER": ast.CrunchShrinkler, "UPKR": ast.CrunchUpkr, "LZAPU": ast.CrunchLZAPU,
}

func parseIncbin(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	args := splitArgs(rest)
	if len(args) == 0 {
		return nil, p.errf(s.span, "INCBIN needs a file name")
	}
	name, _ := unquote(args[0])
	tok := &ast.Token{Kind: ast.TokIncbin, Str: name, Span: s.span}
	args = args[1:]

	// an optional trailing cruncher keyword selects a transformation
	if len(args) > 0 {
		if kind, ok := crunchNames[strings.ToUpper(args[len(args)-1])]; ok {
			tok.Crunch = kind
			args = args[:len(args)-1]
		}
	}
	if len(args) > 2 {
		return nil, p.errf(s.span, "INCBIN takes file, offset, length")
	}
	if len(args) >= 1 && args[0] != "" {
		e, err := p.ParseExpr(args[0])
		if err != nil {
			return nil, p.wrapErr(s.span, err, "INCBIN offset")
		}
		tok.Offset = e
	}
	if len(args) == 2 {
		e, err := p.ParseExpr(args[1])
		if err != nil {
			return nil, p.wrapErr(s.span, err, "INCBIN length")
		}
		tok.Length = e
	}
	return one(tok)
}

func parseInclude(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	args := splitArgs(rest)
	if len(args) == 0 {
		return nil, p.errf(s.span, "INCLUDE needs a file name")
	}
	name, _ := unquote(args[0])
	tok := &ast.Token{Kind: ast.TokInclude, Str: name, Span: s.span}
	for _, arg := range args[1:] {
		if strings.EqualFold(arg, "ONCE") {
			tok.Once = true
			continue
		}
		ns, _ := unquote(arg)
		tok.Namespace = ns
	}

	if p.ctx.Options.ReadReferencedFiles {
		path, data, err := p.ctx.ResolveFile(name)
		if err != nil {
			return nil, p.wrapErr(s.span, err, "included file")
		}
		if tok.Once && p.ctx.included[path] {
			tok.Body = nil
			return one(tok)
		}
		p.ctx.included[path] = true
		sub := *p.ctx
		sub.Filename = path
		body, err := Parse(string(data), &sub)
		if err != nil {
			return nil, p.wrapErr(s.span, err, "included file")
		}
		tok.Body = body
	}
	return one(tok)
}

var repeatClosers = closerSet("ENDREPEAT", "ENDREPT", "ENDREP", "ENDR", "REND", "UNTIL")

func parseRepeat(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	args := splitArgs(rest)
	body, closer, closerRest, err := p.parseBody("REPEAT", repeatClosers)
	if err != nil {
		return nil, err
	}

	// REPEAT body UNTIL cond
	if closer == "UNTIL" {
		if len(args) != 0 {
			return nil, p.errf(s.span, "REPEAT ... UNTIL takes no count")
		}
		cond, err := p.ParseExpr(closerRest)
		if err != nil {
			return nil, p.wrapErr(s.span, err, "UNTIL condition")
		}
		return one(&ast.Token{Kind: ast.TokRepeatUntil, Cond: cond, Body: body, Span: s.span})
	}

	if len(args) < 1 || len(args) > 4 {
		return nil, p.errf(s.span, "REPEAT takes count[, counter[, start[, step]]]")
	}
	count, err := p.ParseExpr(args[0])
	if err != nil {
		return nil, p.wrapErr(s.span, err, "REPEAT count")
	}
	tok := &ast.Token{Kind: ast.TokRepeat, Count: count, Body: body, Span: s.span}
	if len(args) >= 2 {
		tok.Counter = args[1]
	}
	if len(args) >= 3 {
		if tok.Start, err = p.ParseExpr(args[2]); err != nil {
			return nil, p.wrapErr(s.span, err, "REPEAT start")
		}
	}
	if len(args) == 4 {
		if tok.Step, err = p.ParseExpr(args[3]); err != nil {
			return nil, p.wrapErr(s.span, err, "REPEAT step")
		}
	}
	return one(tok)
}

func parseWhile(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	cond, err := p.ParseExpr(rest)
	if err != nil {
		return nil, p.wrapErr(s.span, err, "WHILE condition")
	}
	body, _, _, err := p.parseBody("WHILE", closerSet("ENDWHILE", "ENDW", "WEND"))
	if err != nil {
		return nil, err
	}
	return one(&ast.Token{Kind: ast.TokWhile, Cond: cond, Body: body, Span: s.span})
}

func parseFor(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	args := splitArgs(rest)
	if len(args) < 3 || len(args) > 4 {
		return nil, p.errf(s.span, "FOR takes label, start, stop[, step]")
	}
	tok := &ast.Token{Kind: ast.TokFor, Counter: args[0], Span: s.span}
	var err error
	if tok.Start, err = p.ParseExpr(args[1]); err != nil {
		return nil, p.wrapErr(s.span, err, "FOR start")
	}
	if tok.Stop, err = p.ParseExpr(args[2]); err != nil {
		return nil, p.wrapErr(s.span, err, "FOR stop")
	}
	if len(args) == 4 {
		if tok.Step, err = p.ParseExpr(args[3]); err != nil {
			return nil, p.wrapErr(s.span, err, "FOR step")
		}
	}
	tok.Body, _, _, err = p.parseBody("FOR", closerSet("ENDFOR", "FEND", "ENDF"))
	if err != nil {
		return nil, err
	}
	return one(tok)
}

func parseIterate(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	// ITERATE counter, v1, v2, ...  or  ITERATE counter IN list
	var counter, values string
	if idx := strings.IndexByte(rest, ','); idx >= 0 {
		counter, values = strings.TrimSpace(rest[:idx]), rest[idx+1:]
	} else {
		word, after := firstWord(rest)
		counter = word
		_, after2 := firstWord(after)
		if w, _ := firstWord(after); strings.EqualFold(w, "IN") {
			values = after2
		} else {
			values = after
		}
	}
	if counter == "" {
		return nil, p.errf(s.span, "ITERATE needs a counter")
	}
	values = strings.TrimSpace(values)
	if strings.HasPrefix(values, "[") && strings.HasSuffix(values, "]") {
		values = values[1 : len(values)-1]
	}
	exprs, err := p.exprArgs(s, values, "ITERATE values")
	if err != nil {
		return nil, err
	}
	body, _, _, err := p.parseBody("ITERATE", closerSet("ENDITERATE", "ENDITER", "ENDI", "IEND"))
	if err != nil {
		return nil, err
	}
	return one(&ast.Token{Kind: ast.TokIterate, Counter: counter, Exprs: exprs,
		Body: body, Span: s.span})
}

// parseIfChain collects the case bodies of an IF chain after the first
// case's test has been parsed. In Orgams flavor END closes the IF; in
// every other flavor only ENDIF does.
func (p *Parser) parseIfChain(s stmt, first *ast.IfCase) (*ast.Token, error) {
	closers := closerSet("ENDIF", "ELSE", "ELSEIF")
	endClosers := closerSet("ENDIF")
	if p.ctx.Options.Flavor == ast.FlavorOrgams {
		closers["END"] = true
		endClosers["END"] = true
	}

	tok := &ast.Token{Kind: ast.TokIf, Span: s.span}
	cases := []*ast.IfCase{first}
	for {
		body, closer, rest, err := p.parseBody("IF", closers)
		if err != nil {
			return nil, err
		}
		cases[len(cases)-1].Body = body
		switch closer {
		case "ENDIF", "END":
			tok.IfCases = cases
			return tok, nil
		case "ELSE":
			elseBody, _, _, err := p.parseBody("ELSE", endClosers)
			if err != nil {
				return nil, err
			}
			tok.IfCases = cases
			tok.Else = elseBody
			return tok, nil
		case "ELSEIF":
			e, err := p.ParseExpr(rest)
			if err != nil {
				return nil, p.wrapErr(s.span, err, "ELSEIF condition")
			}
			cases = append(cases, &ast.IfCase{Test: ast.TestTrueExpr, Expr: e})
		}
	}
}

func parseIfExpr(test ast.IfTest) directiveFn {
	return func(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
		e, err := p.ParseExpr(rest)
		if err != nil {
			return nil, p.wrapErr(s.span, err, "IF condition")
		}
		tok, err := p.parseIfChain(s, &ast.IfCase{Test: test, Expr: e})
		if err != nil {
			return nil, err
		}
		return one(tok)
	}
}

func parseIfLabel(test ast.IfTest) directiveFn {
	return func(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
		label := strings.TrimSpace(rest)
		if !isValidLabel(label) {
			return nil, p.errf(s.span, "expected a symbol name, got %q", rest)
		}
		tok, err := p.parseIfChain(s, &ast.IfCase{Test: test, Label: label})
		if err != nil {
			return nil, err
		}
		return one(tok)
	}
}

func parseSwitch(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	selector, err := p.ParseExpr(rest)
	if err != nil {
		return nil, p.wrapErr(s.span, err, "SWITCH selector")
	}
	tok := &ast.Token{Kind: ast.TokSwitch, Selector: selector, Span: s.span}

	// skip to the first CASE
	head := closerSet("CASE", "DEFAULT", "ENDSWITCH", "ENDS")
	pre, closer, closerRest, err := p.parseBody("SWITCH", head)
	if err != nil {
		return nil, err
	}
	if len(pre) != 0 {
		return nil, p.errf(s.span, "SWITCH expects CASE before statements")
	}

	inner := closerSet("CASE", "DEFAULT", "BREAK", "ENDSWITCH", "ENDS")
	for {
		switch closer {
		case "ENDSWITCH", "ENDS":
			return one(tok)

		case "DEFAULT":
			body, dCloser, _, err := p.parseBody("DEFAULT", closerSet("ENDSWITCH", "ENDS", "BREAK"))
			if err != nil {
				return nil, err
			}
			if dCloser == "BREAK" {
				if _, dCloser, _, err = p.parseBody("DEFAULT", closerSet("ENDSWITCH", "ENDS")); err != nil {
					return nil, err
				}
			}
			tok.Default = body
			return one(tok)

		case "CASE":
			c := &ast.SwitchCase{}
			if c.Expr, err = p.ParseExpr(closerRest); err != nil {
				return nil, p.wrapErr(s.span, err, "CASE value")
			}
			c.Body, closer, closerRest, err = p.parseBody("CASE", inner)
			if err != nil {
				return nil, err
			}
			if closer == "BREAK" {
				c.Break = true
				_, closer, closerRest, err = p.parseBody("CASE", head)
				if err != nil {
					return nil, err
				}
			}
			tok.Cases = append(tok.Cases, c)
		}
	}
}

func parseMacro(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	args := splitArgs(rest)
	if len(args) == 0 {
		// a space-separated form: MACRO name p1 p2
		word, after := firstWord(rest)
		if word == "" {
			return nil, p.errf(s.span, "MACRO needs a name")
		}
		args = append([]string{word}, strings.Fields(after)...)
	}
	name := args[0]
	var params []string
	if len(args) == 1 {
		// parenthesised parameter list glued to the name: MACRO name(p1,p2)
		if idx := strings.IndexByte(name, '('); idx >= 0 && strings.HasSuffix(name, ")") {
			params = splitArgs(name[idx+1 : len(name)-1])
			name = name[:idx]
		}
	} else {
		params = args[1:]
	}
	if !isValidLabel(name) {
		return nil, p.errf(s.span, "bad macro name %q", name)
	}

	raw, _, _, err := p.collectRaw("MACRO", closerSet("ENDM", "MEND", "ENDMACRO"))
	if err != nil {
		return nil, err
	}
	p.ctx.macros[strings.ToUpper(name)] = true
	return one(&ast.Token{Kind: ast.TokMacroDef, Name: name, Params: params,
		RawBody: raw, Flavor: p.ctx.Options.Flavor, Span: s.span})
}

func parseStruct(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	name, _ := firstWord(rest)
	if !isValidLabel(name) {
		return nil, p.errf(s.span, "STRUCT needs a name")
	}
	tok := &ast.Token{Kind: ast.TokStructDef, Name: name, Span: s.span}
	closers := closerSet("ENDSTRUCT", "ENDS")
	for p.pos < len(p.stmts) {
		fs := p.stmts[p.pos]
		word, frest := firstWord(fs.text)
		if closers[strings.ToUpper(strings.TrimSuffix(word, ":"))] {
			p.pos++
			p.ctx.structs[strings.ToUpper(name)] = true
			return one(tok)
		}
		p.pos++
		fieldName := strings.TrimSuffix(word, ":")
		if !isValidLabel(fieldName) {
			return nil, p.errf(fs.span, "bad struct field %q", word)
		}
		toks, err := p.parseStatement(stmt{text: frest, span: fs.span})
		if err != nil {
			return nil, err
		}
		if len(toks) != 1 {
			return nil, p.errf(fs.span, "struct field %s needs one data directive", fieldName)
		}
		switch toks[0].Kind {
		case ast.TokDefb, ast.TokDefw, ast.TokDefs, ast.TokStr, ast.TokMacroCall:
		default:
			return nil, p.errf(fs.span, "struct field %s must be defb/defw/defs or a struct", fieldName)
		}
		tok.Fields = append(tok.Fields, &ast.StructField{Name: fieldName, Token: toks[0]})
	}
	return nil, p.errf(s.span, "STRUCT not closed")
}

func parseFunction(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	args := splitArgs(rest)
	if len(args) == 0 || !isValidLabel(args[0]) {
		return nil, p.errf(s.span, "FUNCTION needs a name")
	}
	body, _, _, err := p.parseBody("FUNCTION", closerSet("ENDFUNCTION"))
	if err != nil {
		return nil, err
	}
	return one(&ast.Token{Kind: ast.TokFunctionDef, Name: args[0], Params: args[1:],
		Body: body, Span: s.span})
}

func parseReturn(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	e, err := p.ParseExpr(rest)
	if err != nil {
		return nil, p.wrapErr(s.span, err, "RETURN value")
	}
	return one(&ast.Token{Kind: ast.TokReturn, Exprs: []*ast.Expr{e}, Span: s.span})
}

func parseModule(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	name, _ := firstWord(rest)
	if !isValidLabel(name) {
		return nil, p.errf(s.span, "MODULE needs a name")
	}
	body, _, _, err := p.parseBody("MODULE", closerSet("ENDMODULE"))
	if err != nil {
		return nil, err
	}
	return one(&ast.Token{Kind: ast.TokModule, Name: name, Body: body, Span: s.span})
}

func parseConfined(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	body, _, _, err := p.parseBody("CONFINED", closerSet("ENDCONFINED", "CEND", "ENDC"))
	if err != nil {
		return nil, err
	}
	return one(&ast.Token{Kind: ast.TokConfined, Body: body, Span: s.span})
}

func parseCrunched(kind ast.CrunchKind) directiveFn {
	return func(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
		body, _, _, err := p.parseBody("crunched section", closerSet("LZCLOSE"))
		if err != nil {
			return nil, err
		}
		return one(&ast.Token{Kind: ast.TokCrunchedSection, Crunch: kind,
			Body: body, Span: s.span})
	}
}

func parseAlign(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	exprs, err := p.exprArgs(s, rest, "ALIGN boundary")
	if err != nil {
		return nil, err
	}
	if len(exprs) < 1 || len(exprs) > 2 {
		return nil, p.errf(s.span, "ALIGN takes boundary[, fill]")
	}
	return one(&ast.Token{Kind: ast.TokAlign, Exprs: exprs, Span: s.span})
}

func parseLimit(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	e, err := p.ParseExpr(rest)
	if err != nil {
		return nil, p.wrapErr(s.span, err, "LIMIT address")
	}
	return one(&ast.Token{Kind: ast.TokLimit, Exprs: []*ast.Expr{e}, Span: s.span})
}

func parseProtect(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	exprs, err := p.exprArgs(s, rest, "PROTECT range")
	if err != nil {
		return nil, err
	}
	if len(exprs) != 2 {
		return nil, p.errf(s.span, "PROTECT takes start, end")
	}
	return one(&ast.Token{Kind: ast.TokProtect, Exprs: exprs, Span: s.span})
}

func parseRange(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	args := splitArgs(rest)
	if len(args) != 3 {
		return nil, p.errf(s.span, "RANGE takes name, start, stop")
	}
	start, err := p.ParseExpr(args[1])
	if err != nil {
		return nil, p.wrapErr(s.span, err, "RANGE start")
	}
	stop, err := p.ParseExpr(args[2])
	if err != nil {
		return nil, p.wrapErr(s.span, err, "RANGE stop")
	}
	return one(&ast.Token{Kind: ast.TokRange, Name: args[0], Start: start,
		Stop: stop, Span: s.span})
}

func parseSection(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	name, _ := firstWord(rest)
	if name == "" {
		return nil, p.errf(s.span, "SECTION needs a name")
	}
	return one(&ast.Token{Kind: ast.TokSection, Name: name, Span: s.span})
}

func parseBank(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	tok := &ast.Token{Kind: ast.TokBank, Span: s.span}
	if strings.TrimSpace(rest) != "" {
		e, err := p.ParseExpr(rest)
		if err != nil {
			return nil, p.wrapErr(s.span, err, "BANK number")
		}
		tok.Exprs = []*ast.Expr{e}
	}
	return one(tok)
}

func parseBankset(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	e, err := p.ParseExpr(rest)
	if err != nil {
		return nil, p.wrapErr(s.span, err, "BANKSET number")
	}
	return one(&ast.Token{Kind: ast.TokBankset, Exprs: []*ast.Expr{e}, Span: s.span})
}

var saveKinds = map[string]ast.SaveKind{
	"AMSDOS": ast.SaveAmsdos, "BASIC": ast.SaveAmsdos,
	"ASCII": ast.SaveAscii, "DSK": ast.SaveDsk, "TAPE": ast.SaveTape,
	"BIN": ast.SaveRaw, "RAW": ast.SaveRaw,
}

func parseSave(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	args := splitArgs(rest)
	if len(args) == 0 {
		return nil, p.errf(s.span, "SAVE needs a file name")
	}
	name, _ := unquote(args[0])
	save := &ast.Save{Filename: name}
	var err error
	if len(args) >= 2 && args[1] != "" {
		if save.Address, err = p.ParseExpr(args[1]); err != nil {
			return nil, p.wrapErr(s.span, err, "SAVE address")
		}
	}
	if len(args) >= 3 && args[2] != "" {
		if save.Size, err = p.ParseExpr(args[2]); err != nil {
			return nil, p.wrapErr(s.span, err, "SAVE size")
		}
	}
	if len(args) >= 4 {
		kind, ok := saveKinds[strings.ToUpper(args[3])]
		if !ok {
			return nil, p.errf(s.span, "unknown SAVE type %q", args[3])
		}
		save.Kind = kind
	}
	if len(args) >= 5 {
		save.DskName, _ = unquote(args[4])
	}
	if len(args) >= 6 {
		if save.Side, err = p.ParseExpr(args[5]); err != nil {
			return nil, p.wrapErr(s.span, err, "SAVE side")
		}
	}
	return one(&ast.Token{Kind: ast.TokSave, Save: save, Span: s.span})
}

func parseBuildSna(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	tok := &ast.Token{Kind: ast.TokBuildSna, Span: s.span}
	if strings.TrimSpace(rest) != "" {
		e, err := p.ParseExpr(rest)
		if err != nil {
			return nil, p.wrapErr(s.span, err, "BUILDSNA version")
		}
		tok.SnaVersion = e
	}
	return one(tok)
}

func parseBuildCpr(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	return one(&ast.Token{Kind: ast.TokBuildCpr, Span: s.span})
}

func parseSnaSet(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	args := splitArgs(rest)
	if len(args) < 2 || len(args) > 3 {
		return nil, p.errf(s.span, "SNASET takes flag, value or flag, index, value")
	}
	flag := strings.ToUpper(args[0])
	if len(args) == 3 {
		// indexed form: SNASET GA_PAL, 4, 30
		flag = flag + ":" + args[1]
		args = []string{args[0], args[2]}
	}
	e, err := p.ParseExpr(args[1])
	if err != nil {
		return nil, p.wrapErr(s.span, err, "SNASET value")
	}
	return one(&ast.Token{Kind: ast.TokSnaSet, SnaFlag: flag, SnaValue: e, Span: s.span})
}

func parseSnaInit(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	name, _ := unquote(rest)
	if name == "" {
		return nil, p.errf(s.span, "SNAINIT needs a file name")
	}
	return one(&ast.Token{Kind: ast.TokSnaInit, Str: name, Span: s.span})
}

func parseBreakpoint(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	bp := &ast.Breakpoint{}
	for i, arg := range splitArgs(rest) {
		if arg == "" {
			continue
		}
		if eq := strings.IndexByte(arg, '='); eq > 0 {
			key := strings.ToUpper(strings.TrimSpace(arg[:eq]))
			valText := strings.TrimSpace(arg[eq+1:])
			if key == "CONDITION" || key == "NAME" {
				v, _ := unquote(valText)
				if key == "CONDITION" {
					bp.Condition = v
				} else {
					bp.Name = v
				}
				continue
			}
			v, err := p.ParseExpr(valText)
			if err != nil {
				return nil, p.wrapErr(s.span, err, "BREAKPOINT "+key)
			}
			switch key {
			case "TYPE":
				bp.Type = v
			case "ACCESS":
				bp.Access = v
			case "RUN":
				bp.Run = v
			case "MASK":
				bp.Mask = v
			case "SIZE":
				bp.Size = v
			case "VALUE":
				bp.Value = v
			case "VALMASK", "VALUEMASK":
				bp.ValueMask = v
			case "STEP":
				bp.Step = v
			case "ADDR", "ADDRESS":
				bp.Address = v
			default:
				return nil, p.errf(s.span, "unknown BREAKPOINT field %s", key)
			}
			continue
		}
		if i == 0 {
			v, err := p.ParseExpr(arg)
			if err != nil {
				return nil, p.wrapErr(s.span, err, "BREAKPOINT address")
			}
			bp.Address = v
			continue
		}
		return nil, p.errf(s.span, "unexpected BREAKPOINT argument %q", arg)
	}
	return one(&ast.Token{Kind: ast.TokBreakpoint, Break: bp, Span: s.span})
}

func parseStableTicker(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	word, after := firstWord(rest)
	name := strings.TrimSpace(after)
	switch strings.ToUpper(word) {
	case "START":
		if !isValidLabel(name) {
			return nil, p.errf(s.span, "STABLETICKER START needs a name")
		}
		return one(&ast.Token{Kind: ast.TokStableTicker, Ticker: ast.TickerStart,
			Name: name, Span: s.span})
	case "STOP":
		return one(&ast.Token{Kind: ast.TokStableTicker, Ticker: ast.TickerStop,
			Name: name, Span: s.span})
	}
	return nil, p.errf(s.span, "STABLETICKER takes START or STOP")
}

func parseAsmControlEnv(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	// ASMCONTROLENV SET_MAX_NB_OF_PASSES = expr
	eq := strings.IndexByte(rest, '=')
	command, _ := firstWord(rest)
	if !strings.EqualFold(command, "SET_MAX_NB_OF_PASSES") || eq < 0 {
		return nil, p.errf(s.span, "ASMCONTROLENV expects SET_MAX_NB_OF_PASSES = n")
	}
	e, err := p.ParseExpr(strings.TrimSpace(rest[eq+1:]))
	if err != nil {
		return nil, p.wrapErr(s.span, err, "pass limit")
	}
	body, _, _, err := p.parseBody("ASMCONTROLENV", closerSet("ENDASMCONTROLENV", "ENDA"))
	if err != nil {
		return nil, err
	}
	return one(&ast.Token{Kind: ast.TokAsmControl, Control: ast.ControlSetMaxPasses,
		Exprs: []*ast.Expr{e}, Body: body, Span: s.span})
}

func parsePrintAtParse(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	exprs, err := p.exprArgs(s, rest, "print argument")
	if err != nil {
		return nil, err
	}
	return one(&ast.Token{Kind: ast.TokAsmControl, Control: ast.ControlPrintAtParse,
		Exprs: exprs, Span: s.span})
}

func parsePrintAtAssemble(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	exprs, err := p.exprArgs(s, rest, "print argument")
	if err != nil {
		return nil, err
	}
	return one(&ast.Token{Kind: ast.TokAsmControl, Control: ast.ControlPrintAtAssemble,
		Exprs: exprs, Span: s.span})
}

func parseLocomotive(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	tok := &ast.Token{Kind: ast.TokLocomotive, Span: s.span}
	// optional HIDE_LINES n, ... on the opener
	word, after := firstWord(rest)
	if strings.EqualFold(word, "HIDE_LINES") {
		exprs, err := p.exprArgs(s, after, "HIDE_LINES")
		if err != nil {
			return nil, err
		}
		tok.HiddenLines = exprs
	} else if word != "" {
		tok.Name = word
	}
	raw, _, _, err := p.collectRaw("LOCOMOTIVE", closerSet("ENDLOCOMOTIVE"))
	if err != nil {
		return nil, err
	}
	tok.Str = raw
	return one(tok)
}

func parseLua(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	raw, _, _, err := p.collectRaw("LUA", closerSet("ENDLUA"))
	if err != nil {
		return nil, err
	}
	return one(&ast.Token{Kind: ast.TokLua, Str: raw, Span: s.span})
}

func parseAssert(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	args := splitArgs(rest)
	if len(args) < 1 || len(args) > 2 {
		return nil, p.errf(s.span, "ASSERT takes condition[, message]")
	}
	e, err := p.ParseExpr(args[0])
	if err != nil {
		return nil, p.wrapErr(s.span, err, "ASSERT condition")
	}
	tok := &ast.Token{Kind: ast.TokAssert, Exprs: []*ast.Expr{e}, Span: s.span}
	if len(args) == 2 {
		msg, _ := unquote(args[1])
		tok.Str = msg
	}
	return one(tok)
}

func parsePrint(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	exprs, err := p.exprArgs(s, rest, "PRINT argument")
	if err != nil {
		return nil, err
	}
	return one(&ast.Token{Kind: ast.TokPrint, Exprs: exprs, Span: s.span})
}

func parseFail(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	tok := &ast.Token{Kind: ast.TokFail, Span: s.span}
	if strings.TrimSpace(rest) != "" {
		exprs, err := p.exprArgs(s, rest, "FAIL argument")
		if err != nil {
			return nil, err
		}
		tok.Exprs = exprs
	}
	return one(tok)
}

func parseUndef(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	name, _ := firstWord(rest)
	if !isValidLabel(name) {
		return nil, p.errf(s.span, "UNDEF needs a symbol name")
	}
	return one(&ast.Token{Kind: ast.TokUndef, Name: name, Span: s.span})
}

func parseLet(p *Parser, s stmt, rest string) ([]*ast.Token, error) {
	word, after := firstWord(rest)
	tok, ok, err := p.tryAssignment(s, word, after)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, p.errf(s.span, "LET expects name = expression")
	}
	return one(tok)
}
