package crunch

import "fmt"

// lzParams tunes the shared nibble-token LZ coder. The stream layout is:
//
//	token: (litLen << 4) | matchCode
//	  litLen 0..14 literals follow; 15 adds 0xFF-chained extension bytes
//	  matchCode+minMatch-1 is the match length; 15 extends the same way
//	literal bytes
//	offset (offsetBytes little-endian, stored offset-1)
//	...
//
// A token whose match nibble is zero carries the final literals and ends
// the stream; no offset follows it.
type lzParams struct {
	minMatch    int
	window      int
	offsetBytes int
}

var (
	lz48Params = lzParams{minMatch: 3, window: 0x100, offsetBytes: 1}
	lz49Params = lzParams{minMatch: 3, window: 0x200, offsetBytes: 2}
	zx0Params  = lzParams{minMatch: 2, window: 0x4000, offsetBytes: 2}
)

// lzPack greedily crunches data with the shared token coder
func lzPack(data []byte, p lzParams) []byte {
	var out []byte
	litStart := 0
	pos := 0

	flush := func(matchLen, offset int) {
		litLen := pos - litStart
		token := encodeNibble(litLen) << 4
		// the nibble stores length-minMatch+1 so 0 stays "no match"
		if matchLen > 0 {
			token |= encodeNibble(matchLen - p.minMatch + 1)
		}
		out = append(out, token)
		out = appendExtension(out, litLen)
		out = append(out, data[litStart:pos]...)
		if matchLen > 0 {
			out = appendExtension(out, matchLen-p.minMatch+1)
			stored := offset - 1
			out = append(out, byte(stored))
			if p.offsetBytes == 2 {
				out = append(out, byte(stored>>8))
			}
		}
	}

	for pos < len(data) {
		matchLen, offset := findMatch(data, pos, p)
		if matchLen >= p.minMatch {
			flush(matchLen, offset)
			pos += matchLen
			litStart = pos
			continue
		}
		pos++
	}
	flush(0, 0)
	return out
}

// encodeNibble narrows a count to its 4-bit field (15 flags an extension)
func encodeNibble(n int) byte {
	if n >= 15 {
		return 15
	}
	return byte(n)
}

// appendExtension writes the 0xFF-chained remainder of an extended count
func appendExtension(out []byte, n int) []byte {
	if n < 15 {
		return out
	}
	n -= 15
	for n >= 0xFF {
		out = append(out, 0xFF)
		n -= 0xFF
	}
	return append(out, byte(n))
}

// findMatch scans the window backwards for the longest match at pos
func findMatch(data []byte, pos int, p lzParams) (length, offset int) {
	limit := pos - p.window
	if limit < 0 {
		limit = 0
	}
	best := len(data) - pos
	for start := pos - 1; start >= limit; start-- {
		n := 0
		// overlapping matches are legal: the copy source may run into
		// the bytes being produced
		for pos+n < len(data) && data[start+n] == data[pos+n] {
			n++
		}
		if n > length {
			length, offset = n, pos-start
			if length == best {
				break
			}
		}
	}
	return
}

func lzUnpack(data []byte, p lzParams) ([]byte, error) {
	var out []byte
	pos := 0

	readExtension := func(field int) (int, error) {
		if field < 15 {
			return field, nil
		}
		total := 15
		for {
			if pos >= len(data) {
				return 0, fmt.Errorf("truncated length extension")
			}
			b := data[pos]
			pos++
			total += int(b)
			if b != 0xFF {
				return total, nil
			}
		}
	}

	for pos < len(data) {
		token := data[pos]
		pos++
		litLen, err := readExtension(int(token >> 4))
		if err != nil {
			return nil, err
		}
		if pos+litLen > len(data) {
			return nil, fmt.Errorf("truncated literals")
		}
		out = append(out, data[pos:pos+litLen]...)
		pos += litLen

		matchField := int(token & 0x0F)
		if matchField == 0 {
			return out, nil
		}
		matchLen, err := readExtension(matchField)
		if err != nil {
			return nil, err
		}
		matchLen += p.minMatch - 1

		if pos+p.offsetBytes > len(data) {
			return nil, fmt.Errorf("truncated offset")
		}
		offset := int(data[pos]) + 1
		pos++
		if p.offsetBytes == 2 {
			offset += int(data[pos]) << 8
			pos++
		}
		if offset > len(out) {
			return nil, fmt.Errorf("offset %d beyond output", offset)
		}
		for i := 0; i < matchLen; i++ {
			out = append(out, out[len(out)-offset])
		}
	}
	return nil, fmt.Errorf("missing end-of-stream token")
}
