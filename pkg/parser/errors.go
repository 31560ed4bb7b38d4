package parser

import (
	"fmt"
	"strings"

	"github.com/cpcsdk/cpcasm/pkg/ast"
)

// SyntaxError identifies the offending span and carries a cause chain
type SyntaxError struct {
	Span     ast.Span
	Expected string
	Actual   string
	Context  []string // outer block / macro / include chain, innermost first
	Cause    error
}

func (e *SyntaxError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: ", e.Span)
	if e.Expected != "" {
		fmt.Fprintf(&sb, "expected %s", e.Expected)
		if e.Actual != "" {
			fmt.Fprintf(&sb, ", got %s", e.Actual)
		}
	} else if e.Actual != "" {
		sb.WriteString(e.Actual)
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	for _, c := range e.Context {
		fmt.Fprintf(&sb, "\n\tin %s", c)
	}
	if line := e.Span.LineText(); line != "" {
		fmt.Fprintf(&sb, "\n\t%s\n\t%s^", line, strings.Repeat(" ", e.Span.Start.Column-1))
	}
	return sb.String()
}

func (e *SyntaxError) Unwrap() error { return e.Cause }

func (p *Parser) errf(span ast.Span, format string, args ...interface{}) error {
	return &SyntaxError{Span: span, Actual: fmt.Sprintf(format, args...), Context: p.contextChain()}
}

func (p *Parser) wrapErr(span ast.Span, err error, expected string) error {
	if err == nil {
		return nil
	}
	return &SyntaxError{Span: span, Expected: expected, Cause: err, Context: p.contextChain()}
}
