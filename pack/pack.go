// Package pack implements the on-wire subpacket layout: sign-bit harvest,
// FMT-word construction, and the two blob variants. It is the direct
// generalization of the teacher repo's wal.go Encode/Decode pair — a fixed
// binary layout built field by field with encoding/binary-style bit
// arithmetic — to the recorder's word-oriented, bit-packed format instead
// of FlashLog's byte-oriented, length-prefixed one.
package pack

import (
	"fmt"

	"github.com/relog-dev/rtedbg/config"
)

// FilterNumberBits re-exports config.FilterNumberBits so pack's key
// helpers can name it locally: the filter number is always a 5-bit field.
const FilterNumberBits = config.FilterNumberBits

// Key is the opaque, pre-packed (filter_number, format_id[, ext_data])
// word a call site passes to the Record API.
//
// spec.md section 3 describes the key field as "format-ID || filter-number,
// right-aligned within FMT_ID_BITS", which would make FMT_ID_BITS the
// *combined* width. original_source/Inc/rtedbg.h's actual macro packs it
// as (filter&0x1F)<<FMT_ID_BITS | (fmt & mask(FMT_ID_BITS)) instead — i.e.
// FMT_ID_BITS is the format ID's width alone, and the filter number sits in
// 5 further bits above it, for a combined field width of FMT_ID_BITS+5.
// Per spec.md section 9's guidance to resolve source/spec conflicts
// explicitly, this port follows the source (see DESIGN.md): Key occupies
// the low FMT_ID_BITS+5 bits of a uint32.
type Key uint32

// KeyWidth is the total bit width of a (filter_number, format_id) key for
// a build with the given fmtIDBits (format-ID width alone).
func KeyWidth(fmtIDBits int) int {
	return fmtIDBits + FilterNumberBits
}

// NewKey packs a filter number (0-31) and a format ID into a Key sized for
// fmtIDBits. It is the Go stand-in for the generative macro spec.md
// section 4.4 describes: packing happens once, at the call site, so the
// recorder and a host decoder agree on bit positions.
func NewKey(filterNumber uint8, formatID uint16, fmtIDBits int) (Key, error) {
	if filterNumber >= 32 {
		return 0, fmt.Errorf("rtedbg: pack: filter number %d out of range [0,31]", filterNumber)
	}
	if uint32(formatID) >= 1<<uint(fmtIDBits) {
		return 0, fmt.Errorf("rtedbg: pack: format ID %#x does not fit in %d bits", formatID, fmtIDBits)
	}
	return Key(uint32(filterNumber)<<uint(fmtIDBits) | uint32(formatID)), nil
}

// NewExtKey is NewKey for a code-minimized build that repurposes the low
// extDataBits bits of the format-ID field to carry caller-supplied
// discriminant bits. The format ID's low extDataBits bits must already be
// zero (Recorder.MsgExt checks this with config.Params.CheckFormatID
// before calling NewExtKey); NewExtKey OR's extData into that space.
func NewExtKey(filterNumber uint8, formatID uint16, extData uint8, fmtIDBits, extDataBits int) (Key, error) {
	if uint32(extData) >= 1<<uint(extDataBits) {
		return 0, fmt.Errorf("rtedbg: pack: extended data %#x does not fit in %d bits", extData, extDataBits)
	}
	k, err := NewKey(filterNumber, formatID, fmtIDBits)
	if err != nil {
		return 0, err
	}
	return k | Key(extData), nil
}

// FilterNumber recovers the filter number packed into k.
func (k Key) FilterNumber(fmtIDBits int) uint8 {
	return uint8(uint32(k) >> uint(fmtIDBits))
}

// FormatID recovers the format ID (including any embedded extended-data
// bits) packed into k.
func (k Key) FormatID(fmtIDBits int) uint16 {
	mask := uint32(1)<<uint(fmtIDBits) - 1
	return uint16(uint32(k) & mask)
}

// MaxDataWords is the most DATA words a single subpacket can carry.
const MaxDataWords = 4

// harvest clears bit 31 of each source word and returns the cleared
// words alongside the harvested bits, ordered so the first source word's
// harvested bit lands in position 0 (spec.md section 4.3's "first DATA ->
// lowest position"). The original implementation collects these bits with
// a shifting 64-bit accumulator; spec.md section 9 explicitly allows
// reimplementing the externally-invisible mechanism, so this is a direct
// bit extraction instead.
func harvest(words []uint32) (cleared []uint32, bits uint32) {
	cleared = make([]uint32, len(words))
	for i, w := range words {
		if w&0x8000_0000 != 0 {
			bits |= 1 << uint(i)
		}
		cleared[i] = w &^ 0x8000_0000
	}
	return cleared, bits
}

// unharvest is harvest's inverse: it restores bit 31 of each cleared word
// from the harvested-bits field, recovering the original source words.
func unharvest(cleared []uint32, bits uint32) []uint32 {
	out := make([]uint32, len(cleared))
	for i, w := range cleared {
		if bits&(1<<uint(i)) != 0 {
			w |= 0x8000_0000
		}
		out[i] = w
	}
	return out
}

// FMTWord assembles the commit word for a subpacket carrying len(words)
// DATA words, tagged with key and timestamp sample ts. The layout is
// contiguous from the LSB: bit 0 is the commit marker, the next T bits are
// the truncated timestamp, the next len(words) bits are the harvested
// sign bits (first word lowest), and the remaining KeyWidth(fmtIDBits)
// bits at the top are the key field. T = 31 - KeyWidth(fmtIDBits) -
// len(words), matching spec.md section 3 (whose "bits T+1..30" wording for
// the harvested field is an approximation of this contiguous packing —
// see DESIGN.md).
func FMTWord(key Key, harvestedBits uint32, numWords int, ts uint32, shift uint, fmtIDBits int) uint32 {
	kw := KeyWidth(fmtIDBits)
	t := 31 - kw - numWords
	tsTrunc := ts >> (shift - 1)
	tsMask := uint32(1)<<uint(t) - 1
	word := uint32(1) // commit marker
	word |= (tsTrunc & tsMask) << 1
	word |= harvestedBits << uint(t+1)
	word |= uint32(key) << uint(32-kw)
	return word
}

// SplitFMTWord recovers (key, truncated timestamp, harvested bits) from a
// committed FMT word, given how many DATA words preceded it.
func SplitFMTWord(word uint32, numWords int, fmtIDBits int) (key Key, tsTrunc uint32, harvestedBits uint32) {
	kw := KeyWidth(fmtIDBits)
	t := 31 - kw - numWords
	tsMask := uint32(1)<<uint(t) - 1
	tsTrunc = (word >> 1) & tsMask
	harvestedBits = (word >> uint(t+1)) & (uint32(1)<<uint(numWords) - 1)
	key = Key(word >> uint(32-kw))
	return key, tsTrunc, harvestedBits
}

// Subpacket writes 0-4 DATA words followed by one FMT word into dst
// starting at dst[0], and returns the number of words written
// (len(words)+1). The FMT word is written last, satisfying spec.md
// section 4.3's core invariant: a reader never observes a committed FMT
// word before its DATA words are in place.
func Subpacket(dst []uint32, key Key, words []uint32, ts uint32, shift uint, fmtIDBits int) int {
	cleared, bits := harvest(words)
	copy(dst, cleared)
	dst[len(cleared)] = FMTWord(key, bits, len(words), ts, shift, fmtIDBits)
	return len(cleared) + 1
}

// Unpack recovers the original source words for a committed subpacket,
// given its DATA words (bit 31 already cleared by the packer) and the
// harvested bits carried in its FMT word.
func Unpack(dataWords []uint32, harvestedBits uint32) []uint32 {
	return unharvest(dataWords, harvestedBits)
}
