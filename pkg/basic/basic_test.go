package basic

import (
	"bytes"
	"testing"
)

func TestTokenizeSimpleProgram(t *testing.T) {
	data, err := Tokenize("10 PRINT \"HI\"\n20 GOTO 10", nil)
	if err != nil {
		t.Fatal(err)
	}

	// line 1: length, number 10, PRINT token, space, string, terminator
	length := int(data[0]) | int(data[1])<<8
	if number := int(data[2]) | int(data[3])<<8; number != 10 {
		t.Fatalf("line number = %d", number)
	}
	if data[4] != 0xBF {
		t.Errorf("PRINT token = 0x%02X", data[4])
	}
	if !bytes.Contains(data[:length], []byte(`"HI"`)) {
		t.Error("string literal must stay verbatim")
	}
	if data[length-1] != 0 {
		t.Error("missing line terminator")
	}

	// program ends with a zero length word
	if data[len(data)-2] != 0 || data[len(data)-1] != 0 {
		t.Error("missing program terminator")
	}

	// line 2 holds GOTO then the numeric constant 10 (byte form)
	line2 := data[length:]
	if line2[4] != 0xA0 {
		t.Errorf("GOTO token = 0x%02X", line2[4])
	}
	if !bytes.Contains(line2, []byte{0x19, 10}) {
		t.Error("numeric constant 10 not encoded as byte constant")
	}
}

func TestNumberEncodings(t *testing.T) {
	if got := appendNumber(nil, 7); !bytes.Equal(got, []byte{0x15}) {
		t.Errorf("7 = % X", got)
	}
	if got := appendNumber(nil, 200); !bytes.Equal(got, []byte{0x19, 200}) {
		t.Errorf("200 = % X", got)
	}
	if got := appendNumber(nil, 0x4000); !bytes.Equal(got, []byte{0x1A, 0x00, 0x40}) {
		t.Errorf("0x4000 = % X", got)
	}
}

func TestHiddenLines(t *testing.T) {
	data, err := Tokenize("10 CLS\n20 END", []int{10})
	if err != nil {
		t.Fatal(err)
	}
	if number := int(data[2]) | int(data[3])<<8; number != 0 {
		t.Errorf("hidden line kept number %d", number)
	}
}

func TestMissingLineNumber(t *testing.T) {
	if _, err := Tokenize("PRINT 1", nil); err == nil {
		t.Error("line without number accepted")
	}
}
