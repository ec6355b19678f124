package pack

import "encoding/binary"

// WordsFromBytesAligned converts data into little/big-endian words (per
// order), zero-padding the final word if data's length is not a multiple
// of 4. This is blob variant A's word-building step; a zero-length data
// yields nil, which Chunk turns into a single FMT-only subpacket.
func WordsFromBytesAligned(data []byte, order binary.ByteOrder) []uint32 {
	n := len(data)
	groups := (n + 3) / 4
	if groups == 0 {
		return nil
	}
	words := make([]uint32, groups)
	for i := 0; i < groups; i++ {
		var buf [4]byte
		base := i * 4
		for j := 0; j < 4; j++ {
			if idx := base + j; idx < n {
				buf[j] = data[idx]
			}
		}
		words[i] = order.Uint32(buf[:])
	}
	return words
}

// WordsFromBytesWithLength is blob variant B's word-building step: like
// WordsFromBytesAligned, but the final word's top byte is always reserved
// for the embedded length, even if that means emitting an extra,
// otherwise-empty word. length must fit in a byte (the caller enforces
// the Params.MaxByteBlobLen cap).
func WordsFromBytesWithLength(data []byte, length uint8, order binary.ByteOrder) []uint32 {
	n := len(data)
	groups := (n + 1 + 3) / 4
	if groups == 0 {
		groups = 1
	}
	words := make([]uint32, groups)
	for i := 0; i < groups; i++ {
		last := i == groups-1
		limit := 4
		if last {
			limit = 3
		}
		var buf [4]byte
		base := i * 4
		for j := 0; j < limit; j++ {
			if idx := base + j; idx < n {
				buf[j] = data[idx]
			}
		}
		if last {
			buf[3] = length
		}
		words[i] = order.Uint32(buf[:])
	}
	return words
}

// Chunk groups words into subpackets of up to maxPerSubpacket DATA words
// each, the last possibly short. An empty words slice still yields one
// (empty) chunk, so the caller emits exactly one FMT-only subpacket —
// spec.md section 8's "length 0" boundary case for blob variant A.
func Chunk(words []uint32, maxPerSubpacket int) [][]uint32 {
	if len(words) == 0 {
		return [][]uint32{{}}
	}
	var chunks [][]uint32
	for i := 0; i < len(words); i += maxPerSubpacket {
		end := i + maxPerSubpacket
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, words[i:end])
	}
	return chunks
}

// StringPayload computes the byte slice a string(...) call should pass to
// blob variant A: data up to the first NUL within cap (or cap bytes if no
// NUL is found), including the terminating NUL unless doing so would
// round the payload up to a word boundary with nothing but that NUL in
// it — spec.md section 4.3's "if the resulting length is divisible by 4,
// the trailing null is not stored".
func StringPayload(data []byte, cap int) []byte {
	n := len(data)
	if n > cap {
		n = cap
	}
	strLen := n
	for i := 0; i < n; i++ {
		if data[i] == 0 {
			strLen = i
			break
		}
	}
	withNul := strLen + 1
	if withNul <= n && strLen%4 != 0 {
		return data[:withNul]
	}
	return data[:strLen]
}
