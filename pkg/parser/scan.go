package parser

import (
	"strings"

	"github.com/cpcsdk/cpcasm/pkg/ast"
)

// stmt is one logical statement: a physical line stripped of comments and
// split on top-level colons.
type stmt struct {
	text string
	span ast.Span
	col0 bool // the statement starts in the first column of its line
}

// scan splits source text into logical statements. Comments are removed
// (`;` always, `//` and `/* ... */` for the flavors that enable them) and
// `:` separates statements outside strings and parentheses.
func scan(src *ast.Source, flavor ast.MacroFlavor) []stmt {
	cStyle := flavor != ast.FlavorOrgams

	var stmts []stmt
	inBlockComment := false
	offset := 0
	lines := strings.Split(src.Text, "\n")
	for lineNo, raw := range lines {
		line, stillOpen := stripComments(raw, inBlockComment, cStyle)
		inBlockComment = stillOpen
		pieces := splitStatements(line)
		col := 1
		for i, piece := range pieces {
			trimmed := strings.TrimRight(piece, " \t")
			lead := countLeadingSpace(trimmed)
			body := trimmed[lead:]
			if body != "" {
				stmts = append(stmts, stmt{
					text: body,
					span: ast.Span{
						Source: src,
						Start:  ast.Position{Line: lineNo + 1, Column: col + lead, Offset: offset + col - 1 + lead},
						Len:    len(body),
					},
					col0: i == 0 && lead == 0,
				})
			}
			col += len(piece) + 1
		}
		offset += len(raw) + 1
	}
	return stmts
}

func countLeadingSpace(s string) int {
	n := 0
	for n < len(s) && (s[n] == ' ' || s[n] == '\t') {
		n++
	}
	return n
}

// stripComments removes comments from one line, tracking block-comment
// state across lines.
func stripComments(line string, inBlock, cStyle bool) (string, bool) {
	var sb strings.Builder
	i := 0
	for i < len(line) {
		if inBlock {
			if cStyle && i+1 < len(line) && line[i] == '*' && line[i+1] == '/' {
				inBlock = false
				i += 2
				continue
			}
			i++
			continue
		}
		c := line[i]
		switch {
		case c == ';':
			return sb.String(), false
		case cStyle && c == '/' && i+1 < len(line) && line[i+1] == '/':
			return sb.String(), false
		case cStyle && c == '/' && i+1 < len(line) && line[i+1] == '*':
			inBlock = true
			i += 2
			// keep a separator so adjacent tokens do not merge
			sb.WriteByte(' ')
		case c == '"' || c == '\'':
			end := scanString(line, i)
			sb.WriteString(line[i:end])
			i = end
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String(), inBlock
}

// scanString returns the index just past a quoted literal starting at i.
// A lone apostrophe (as in AF') is passed through unchanged.
func scanString(line string, i int) int {
	quote := line[i]
	j := i + 1
	for j < len(line) {
		if line[j] == '\\' && j+1 < len(line) {
			j += 2
			continue
		}
		if line[j] == quote {
			return j + 1
		}
		j++
	}
	if quote == '\'' {
		// unterminated apostrophe: shadow-register tick
		return i + 1
	}
	return j
}

// splitStatements splits a line on top-level colons
func splitStatements(line string) []string {
	var parts []string
	depth := 0
	last := 0
	i := 0
	for i < len(line) {
		switch c := line[i]; c {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '"':
			i = scanString(line, i) - 1
		case '\'':
			i = scanString(line, i) - 1
		case ':':
			if depth == 0 {
				parts = append(parts, line[last:i])
				last = i + 1
			}
		}
		i++
	}
	parts = append(parts, line[last:])
	return parts
}

// splitArgs splits directive or operand arguments on top-level commas
func splitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var parts []string
	depth := 0
	last := 0
	i := 0
	for i < len(s) {
		switch c := s[i]; c {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '"', '\'':
			i = scanString(s, i) - 1
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[last:i]))
				last = i + 1
			}
		}
		i++
	}
	parts = append(parts, strings.TrimSpace(s[last:]))
	return parts
}

// firstWord splits a statement into its leading word and the remainder
func firstWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && !isSpace(s[end]) {
		end++
	}
	return s[:end], strings.TrimSpace(s[end:])
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' }
