// Package crunch implements the compression schemes used by crunched
// sections, INCBIN transformations and V3 snapshot memory chunks.
package crunch

import (
	"errors"
	"fmt"

	"github.com/cpcsdk/cpcasm/pkg/ast"
)

// ErrUnsupported is reported for the crunch kinds this toolchain does
// not implement natively.
var ErrUnsupported = errors.New("cruncher not implemented")

// Compress crunches data with the named scheme
func Compress(kind ast.CrunchKind, data []byte) ([]byte, error) {
	switch kind {
	case ast.CrunchNone:
		return append([]byte(nil), data...), nil
	case ast.CrunchLZ48:
		return lzPack(data, lz48Params), nil
	case ast.CrunchLZ49:
		return lzPack(data, lz49Params), nil
	case ast.CrunchZX0:
		return lzPack(data, zx0Params), nil
	case ast.CrunchBackwardZX0:
		return reverse(lzPack(reverse(data), zx0Params)), nil
	case ast.CrunchLZ4:
		return lz4Pack(data), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, kind)
}

// Decompress reverses Compress for the supported kinds
func Decompress(kind ast.CrunchKind, data []byte) ([]byte, error) {
	switch kind {
	case ast.CrunchNone:
		return append([]byte(nil), data...), nil
	case ast.CrunchLZ48:
		return lzUnpack(data, lz48Params)
	case ast.CrunchLZ49:
		return lzUnpack(data, lz49Params)
	case ast.CrunchZX0:
		return lzUnpack(data, zx0Params)
	case ast.CrunchBackwardZX0:
		out, err := lzUnpack(reverse(data), zx0Params)
		if err != nil {
			return nil, err
		}
		return reverse(out), nil
	case ast.CrunchLZ4:
		return lz4Unpack(data)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, kind)
}

func reverse(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[len(data)-1-i] = b
	}
	return out
}
