// Package basic tokenises Locomotive BASIC source the way the CPC
// firmware stores it: per line a 16-bit length, the 16-bit line number,
// the token stream and a zero terminator, with a zero length ending the
// program.
package basic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrBadLine = errors.New("bad BASIC line")

// keywords maps keyword text to its firmware token
var keywords = map[string]byte{
	"AFTER": 0x80, "AUTO": 0x81, "BORDER": 0x82, "CALL": 0x83,
	"CAT": 0x84, "CHAIN": 0x85, "CLEAR": 0x86, "CLG": 0x87,
	"CLOSEIN": 0x88, "CLOSEOUT": 0x89, "CLS": 0x8A, "CONT": 0x8B,
	"DATA": 0x8C, "DEF": 0x8D, "DEFINT": 0x8E, "DEFREAL": 0x8F,
	"DEFSTR": 0x90, "DEG": 0x91, "DELETE": 0x92, "DIM": 0x93,
	"DRAW": 0x94, "DRAWR": 0x95, "EDIT": 0x96, "ELSE": 0x97,
	"END": 0x98, "ENT": 0x99, "ENV": 0x9A, "ERASE": 0x9B,
	"ERROR": 0x9C, "EVERY": 0x9D, "FOR": 0x9E, "GOSUB": 0x9F,
	"GOTO": 0xA0, "IF": 0xA1, "INK": 0xA2, "INPUT": 0xA3,
	"KEY": 0xA4, "LET": 0xA5, "LINE": 0xA6, "LIST": 0xA7,
	"LOAD": 0xA8, "LOCATE": 0xA9, "MEMORY": 0xAA, "MERGE": 0xAB,
	"MID$": 0xAC, "MODE": 0xAD, "MOVE": 0xAE, "MOVER": 0xAF,
	"NEXT": 0xB0, "NEW": 0xB1, "ON": 0xB2, "OPENIN": 0xB4,
	"OPENOUT": 0xB5, "ORIGIN": 0xB6, "OUT": 0xB7, "PAPER": 0xB8,
	"PEN": 0xB9, "PLOT": 0xBA, "PLOTR": 0xBB, "POKE": 0xBC,
	"PRINT": 0xBF, "RAD": 0xC1, "RANDOMIZE": 0xC2, "READ": 0xC3,
	"RELEASE": 0xC4, "REM": 0xC5, "RENUM": 0xC6, "RESTORE": 0xC7,
	"RESUME": 0xC8, "RETURN": 0xC9, "RUN": 0xCA, "SAVE": 0xCB,
	"SOUND": 0xCC, "SPEED": 0xCD, "STOP": 0xCE, "SYMBOL": 0xCF,
	"TAG": 0xD0, "TAGOFF": 0xD1, "TROFF": 0xD2, "TRON": 0xD3,
	"WAIT": 0xD4, "WEND": 0xD5, "WHILE": 0xD6, "WIDTH": 0xD7,
	"WINDOW": 0xD8, "WRITE": 0xD9, "ZONE": 0xDA, "THEN": 0xEB,
	"TO": 0xEC, "STEP": 0xE6, "NOT": 0xE7, "AND": 0xF6,
	"OR": 0xF7, "XOR": 0xF8, "MOD": 0xF9,
}

// Tokenize converts a BASIC program to its stored form. Lines listed in
// hidden keep their content but lose their visible line number.
func Tokenize(source string, hidden []int) ([]byte, error) {
	hiddenSet := make(map[int]bool, len(hidden))
	for _, n := range hidden {
		hiddenSet[n] = true
	}

	var out []byte
	for _, raw := range strings.Split(source, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		number, rest, err := splitLineNumber(line)
		if err != nil {
			return nil, err
		}
		tokens := tokenizeLine(rest)

		// length word counts itself, the line number and the terminator
		length := 2 + 2 + len(tokens) + 1
		visible := number
		if hiddenSet[number] {
			visible = 0
		}
		out = append(out, uint8(length), uint8(length>>8))
		out = append(out, uint8(visible), uint8(visible>>8))
		out = append(out, tokens...)
		out = append(out, 0x00)
	}
	return append(out, 0x00, 0x00), nil
}

func splitLineNumber(line string) (int, string, error) {
	end := 0
	for end < len(line) && line[end] >= '0' && line[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, "", fmt.Errorf("%w: missing line number in %q", ErrBadLine, line)
	}
	number, err := strconv.Atoi(line[:end])
	if err != nil || number > 0xFFFF {
		return 0, "", fmt.Errorf("%w: line number in %q", ErrBadLine, line)
	}
	return number, strings.TrimSpace(line[end:]), nil
}

func tokenizeLine(text string) []byte {
	var out []byte
	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case c == '"':
			end := i + 1
			for end < len(text) && text[end] != '"' {
				end++
			}
			if end < len(text) {
				end++
			}
			out = append(out, text[i:end]...)
			i = end

		case c >= '0' && c <= '9':
			end := i
			for end < len(text) && text[end] >= '0' && text[end] <= '9' {
				end++
			}
			v, _ := strconv.Atoi(text[i:end])
			out = appendNumber(out, v)
			i = end

		case isKeywordStart(c):
			end := i
			for end < len(text) && isKeywordChar(text[end]) {
				end++
			}
			if end < len(text) && text[end] == '$' {
				end++
			}
			word := strings.ToUpper(text[i:end])
			if tok, ok := keywords[word]; ok {
				out = append(out, tok)
			} else {
				// variable names pass through as plain text
				out = append(out, text[i:end]...)
			}
			i = end

		default:
			out = append(out, c)
			i++
		}
	}
	return out
}

// appendNumber encodes an integer constant: 0..9 as a single token,
// 10..255 as a byte constant, larger values as a 16-bit constant.
func appendNumber(out []byte, v int) []byte {
	switch {
	case v <= 9:
		return append(out, 0x0E+uint8(v))
	case v <= 0xFF:
		return append(out, 0x19, uint8(v))
	default:
		return append(out, 0x1A, uint8(v), uint8(v>>8))
	}
}

func isKeywordStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKeywordChar(c byte) bool {
	return isKeywordStart(c) || (c >= '0' && c <= '9')
}
