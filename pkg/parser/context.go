// Package parser turns Z80 source text into a located token tree.
package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cpcsdk/cpcasm/pkg/ast"
	"github.com/xyproto/env/v2"
)

// IncludePathEnv is the environment variable holding the colon-separated
// fallback include search path.
const IncludePathEnv = "CPCLIB_INCLUDE_PATH"

// Options is the parser option bag
type Options struct {
	// DottedDirectives requires every directive to be written with a
	// leading dot; bare directive names then parse as labels.
	DottedDirectives bool
	// CaseSensitive controls symbol lookups (mnemonics and directives are
	// always case-insensitive).
	CaseSensitive bool
	// Flavor selects which syntactic shortcuts are recognised
	Flavor ast.MacroFlavor
	// ReadReferencedFiles makes include/incbin resolve and preload their
	// payload during parse.
	ReadReferencedFiles bool
}

// FileReader abstracts host file access so tests and filesystem-less
// builds can inject their own sources.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

type osReader struct{}

func (osReader) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// Context carries per-session parser state: the current file, the include
// search set and the option bag.
type Context struct {
	Filename     string
	IncludePaths []string
	Options      Options
	Reader       FileReader

	// included tracks files already loaded, for INCLUDE ... ONCE
	included map[string]bool
	// macros and structs seen so far, so later lines can recognise their
	// call sites
	macros  map[string]bool
	structs map[string]bool
}

// NewContext creates a parser context with the host filesystem as reader
func NewContext(filename string, opts Options) *Context {
	return &Context{
		Filename: filename,
		Options:  opts,
		Reader:   osReader{},
		included: make(map[string]bool),
		macros:   make(map[string]bool),
		structs:  make(map[string]bool),
	}
}

// RegisterMacro tells the parser a macro with this name exists, so its
// call sites parse as macro calls instead of labels.
func (c *Context) RegisterMacro(name string) { c.macros[strings.ToUpper(name)] = true }

// RegisterStruct registers a struct name the same way
func (c *Context) RegisterStruct(name string) { c.structs[strings.ToUpper(name)] = true }

// searchPaths lists the directories tried when resolving a referenced
// file: the including file's directory, the explicit include paths, then
// the environment fallback.
func (c *Context) searchPaths() []string {
	paths := []string{filepath.Dir(c.Filename)}
	paths = append(paths, c.IncludePaths...)
	if fallback := env.Str(IncludePathEnv); fallback != "" {
		paths = append(paths, strings.Split(fallback, ":")...)
	}
	return paths
}

// ResolveFile locates a referenced file and reads its content
func (c *Context) ResolveFile(name string) (string, []byte, error) {
	if filepath.IsAbs(name) {
		data, err := c.Reader.ReadFile(name)
		if err != nil {
			return "", nil, fmt.Errorf("reading %s: %w", name, err)
		}
		return name, data, nil
	}
	var firstErr error
	for _, dir := range c.searchPaths() {
		path := filepath.Join(dir, name)
		data, err := c.Reader.ReadFile(path)
		if err == nil {
			return path, data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return "", nil, fmt.Errorf("cannot resolve %s: %w", name, firstErr)
}
