package crunch

import "fmt"

// lz4Pack produces an LZ4 block: token (literal nibble, match-4 nibble),
// literals, 2-byte little-endian offset, with the final sequence holding
// literals only.
func lz4Pack(data []byte) []byte {
	const minMatch = 4
	var out []byte
	litStart := 0
	pos := 0

	emit := func(matchLen, offset int) {
		litLen := pos - litStart
		token := encodeNibble(litLen) << 4
		if matchLen > 0 {
			token |= encodeNibble(matchLen - minMatch)
		}
		out = append(out, token)
		out = appendExtension(out, litLen)
		out = append(out, data[litStart:pos]...)
		if matchLen > 0 {
			out = append(out, byte(offset), byte(offset>>8))
			out = appendExtension(out, matchLen-minMatch)
		}
	}

	for pos < len(data) {
		matchLen, offset := findMatch(data, pos, lzParams{minMatch: minMatch, window: 0xFFFF})
		// LZ4 requires the last 5 bytes to be literals
		if matchLen >= minMatch && pos+matchLen <= len(data)-5 {
			emit(matchLen, offset)
			pos += matchLen
			litStart = pos
			continue
		}
		pos++
	}
	emit(0, 0)
	return out
}

func lz4Unpack(data []byte) ([]byte, error) {
	const minMatch = 4
	var out []byte
	pos := 0

	readExtension := func(field int) (int, error) {
		if field < 15 {
			return field, nil
		}
		total := 15
		for {
			if pos >= len(data) {
				return 0, fmt.Errorf("truncated lz4 length")
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
			return nil, fmt.Errorf("truncated lz4 literals")
		}
		out = append(out, data[pos:pos+litLen]...)
		pos += litLen

		if pos >= len(data) {
			// final sequence: literals only
			return out, nil
		}
		offset := int(data[pos]) | int(data[pos+1])<<8
		pos += 2
		matchLen, err := readExtension(int(token & 0x0F))
		if err != nil {
			return nil, err
		}
		matchLen += minMatch
		if offset == 0 || offset > len(out) {
			return nil, fmt.Errorf("bad lz4 offset %d", offset)
		}
		for i := 0; i < matchLen; i++ {
			out = append(out, out[len(out)-offset])
		}
	}
	return out, nil
}
