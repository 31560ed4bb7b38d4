package crunch

import (
	"bytes"
	"errors"
	"testing"

	"github.com/cpcsdk/cpcasm/pkg/ast"
)

func corpus() map[string][]byte {
	long := bytes.Repeat([]byte("abcabcabc"), 500)
	mixed := make([]byte, 4000)
	for i := range mixed {
		mixed[i] = byte(i * 31 % 7)
	}
	return map[string][]byte{
		"empty":      {},
		"single":     {0x42},
		"zeros":      make([]byte, 8192),
		"repetitive": long,
		"mixed":      mixed,
		"text":       []byte("the quick brown fox jumps over the lazy dog, the lazy dog sleeps"),
	}
}

func TestRoundTrips(t *testing.T) {
	kinds := []ast.CrunchKind{
		ast.CrunchLZ48, ast.CrunchLZ49, ast.CrunchLZ4,
		ast.CrunchZX0, ast.CrunchBackwardZX0,
	}
	for _, kind := range kinds {
		for name, data := range corpus() {
			t.Run(kind.String()+"/"+name, func(t *testing.T) {
				packed, err := Compress(kind, data)
				if err != nil {
					t.Fatalf("Compress: %v", err)
				}
				got, err := Decompress(kind, packed)
				if err != nil {
					t.Fatalf("Decompress: %v", err)
				}
				if !bytes.Equal(got, data) {
					t.Fatalf("round trip lost data: got %d bytes, want %d", len(got), len(data))
				}
			})
		}
	}
}

func TestCompressionShrinks(t *testing.T) {
	data := make([]byte, 16384)
	packed, err := Compress(ast.CrunchZX0, data)
	if err != nil {
		t.Fatal(err)
	}
	if len(packed) >= len(data)/4 {
		t.Errorf("16K of zeros packed to %d bytes", len(packed))
	}
}

func TestUnsupportedKinds(t *testing.T) {
	for _, kind := range []ast.CrunchKind{
		ast.CrunchLZEXO, ast.CrunchLZSA1, ast.CrunchLZSA2,
		ast.CrunchLZX7, ast.CrunchShrinkler, ast.CrunchUpkr, ast.CrunchLZAPU,
	} {
		if _, err := Compress(kind, []byte{1}); !errors.Is(err, ErrUnsupported) {
			t.Errorf("%s: %v", kind, err)
		}
	}
}

func TestDecompressRejectsTruncated(t *testing.T) {
	packed, err := Compress(ast.CrunchLZ48, bytes.Repeat([]byte("xyz"), 100))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decompress(ast.CrunchLZ48, packed[:len(packed)/2]); err == nil {
		t.Error("truncated stream accepted")
	}
}
