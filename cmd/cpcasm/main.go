package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cpcsdk/cpcasm/pkg/asm"
	"github.com/cpcsdk/cpcasm/pkg/ast"
	"github.com/cpcsdk/cpcasm/pkg/cpr"
	"github.com/cpcsdk/cpcasm/pkg/parser"
	"github.com/spf13/cobra"
)

const version = "0.9.0"

// exit codes: 0 success, 1 user error, 2 I/O error, 3 internal error
const (
	exitUserError     = 1
	exitIOError       = 2
	exitInternalError = 3
)

var (
	outputFile    string
	listingFile   string
	symbolFile    string
	snapshotFile  string
	caseSensitive   bool
	caseInsensitive bool
	maxPasses       int
	includePaths  []string
	dottedDirs    bool
	flavorName    string
	defines       []string
	showVersion   bool
)

var rootCmd = &cobra.Command{
	Use:   "cpcasm [source file]",
	Short: "cpcasm - Amstrad CPC cross-assembler " + version,
	Long: `cpcasm assembles Z80 source for the Amstrad CPC and emits raw
binaries, Amsdos files, DSK disk images, SNA snapshots and CPR
cartridges.

FLAVORS:
  basm       native syntax (default)
  sjasmplus  sjasmplus shortcuts
  rasm       rasm shortcuts
  orgams     Orgams conventions
  vasm       vasm conventions
  winape     WinAPE conventions

EXAMPLES:
  cpcasm game.asm                         # assemble to game.bin
  cpcasm -o loader.bin loader.asm         # choose the output name
  cpcasm --sym game.sym game.asm          # dump the symbol table
  cpcasm --flavor rasm --max-passes 4 x.asm`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version)
			return
		}
		if len(args) == 0 {
			cmd.Help()
			return
		}
		os.Exit(run(args[0]))
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&outputFile, "output", "o", "", "output binary file (default: input.bin)")
	flags.StringVar(&listingFile, "lst", "", "write a listing file")
	flags.StringVar(&symbolFile, "sym", "", "write a symbol file")
	flags.StringVar(&snapshotFile, "sna", "", "write the snapshot to this file")
	flags.BoolVar(&caseSensitive, "case-sensitive", false, "case-sensitive symbols")
	flags.BoolVar(&caseInsensitive, "case-insensitive", false, "case-insensitive symbols (default)")
	flags.IntVar(&maxPasses, "max-passes", asm.DefaultMaxPasses, "maximum number of passes")
	flags.StringArrayVarP(&includePaths, "include-path", "I", nil, "include search directory (repeatable)")
	flags.BoolVar(&dottedDirs, "dotted-directives", false, "directives require a leading dot")
	flags.StringVar(&flavorName, "flavor", "basm", "syntax flavor {basm|sjasmplus|rasm|orgams|vasm|winape}")
	flags.StringArrayVarP(&defines, "define", "D", nil, "predefine SYM=VAL (repeatable)")
	flags.BoolVarP(&showVersion, "version", "v", false, "print the version")
}

func parseFlavor(name string) (ast.MacroFlavor, error) {
	switch strings.ToLower(name) {
	case "basm", "":
		return ast.FlavorBasm, nil
	case "sjasmplus":
		return ast.FlavorSjasmplus, nil
	case "rasm":
		return ast.FlavorRasm, nil
	case "orgams":
		return ast.FlavorOrgams, nil
	case "vasm":
		return ast.FlavorVasm, nil
	case "winape":
		return ast.FlavorWinape, nil
	}
	return 0, fmt.Errorf("unknown flavor %q", name)
}

func parseDefines(raw []string) (map[string]int64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]int64, len(raw))
	for _, d := range raw {
		name, value := d, int64(1)
		if idx := strings.IndexByte(d, '='); idx >= 0 {
			name = d[:idx]
			v, err := strconv.ParseInt(d[idx+1:], 0, 64)
			if err != nil {
				return nil, fmt.Errorf("bad define %q: %w", d, err)
			}
			value = v
		}
		out[name] = value
	}
	return out, nil
}

func run(inputFile string) int {
	if caseInsensitive {
		caseSensitive = false
	}
	flavor, err := parseFlavor(flavorName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUserError
	}
	defined, err := parseDefines(defines)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUserError
	}

	source, err := os.ReadFile(inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitIOError
	}

	ctx := parser.NewContext(inputFile, parser.Options{
		DottedDirectives: dottedDirs,
		CaseSensitive:    caseSensitive,
		Flavor:           flavor,
	})
	ctx.IncludePaths = includePaths

	listing, err := parser.Parse(string(source), ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitUserError
	}

	result, err := asm.Assemble(listing, asm.Options{
		CaseSensitive: caseSensitive,
		MaxPasses:     maxPasses,
		Defines:       defined,
		Output:        os.Stdout,
		Context:       ctx,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Assembly failed: %v\n", err)
		return exitUserError
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}

	if outputFile == "" {
		ext := filepath.Ext(inputFile)
		outputFile = strings.TrimSuffix(inputFile, ext) + ".bin"
	}
	if len(result.Bytes) > 0 {
		if err := os.WriteFile(outputFile, result.Bytes, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitIOError
		}
	}

	for _, saved := range result.Saved {
		if err := os.WriteFile(saved.Name, saved.Data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitIOError
		}
	}

	if result.Snapshot != nil {
		name := snapshotFile
		if name == "" {
			ext := filepath.Ext(inputFile)
			name = strings.TrimSuffix(inputFile, ext) + ".sna"
		}
		if err := os.WriteFile(name, result.Snapshot.Bytes(), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitIOError
		}
		for _, w := range result.Snapshot.Warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
		}
	}

	if result.Cartridge != nil {
		cart := cpr.New()
		for i, bank := range result.Cartridge {
			if err := cart.SetBank(result.CartBanks[i], bank); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return exitInternalError
			}
		}
		ext := filepath.Ext(inputFile)
		name := strings.TrimSuffix(inputFile, ext) + ".cpr"
		if err := os.WriteFile(name, cart.Bytes(), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitIOError
		}
	}

	if listingFile != "" {
		if err := writeListing(listingFile, result); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitIOError
		}
	}
	if symbolFile != "" {
		if err := writeSymbols(symbolFile, result); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitIOError
		}
	}
	return 0
}

func writeListing(path string, result *asm.Result) error {
	var sb strings.Builder
	for _, line := range result.Listing {
		fmt.Fprintf(&sb, "%04X ", line.Address)
		for _, b := range line.Bytes {
			fmt.Fprintf(&sb, "%02X ", b)
		}
		fmt.Fprintf(&sb, "\t; %s\n", line.Span)
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}

func writeSymbols(path string, result *asm.Result) error {
	var sb strings.Builder
	for _, name := range result.Symbols.Names() {
		v, err := result.Symbols.Get(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "%s equ %s\n", name, v)
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInternalError)
	}
}
