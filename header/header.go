// Package header encodes the fixed-layout descriptor a host reads to
// parameterize decoding (spec.md section 6): the six 32-bit fields that
// precede the word buffer in RAM. It is the recorder's analogue of the
// teacher's SST footer (sst/writer.go's writeFooter) — a small, versioned,
// fixed-size block a passive reader parses before touching the variable
// part of the file/buffer.
package header

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// FieldCount is the number of fixed 32-bit words preceding buffer[] in the
// in-RAM layout.
const FieldCount = 6

// Header mirrors spec.md section 6's in-RAM layout, in field order.
type Header struct {
	WriteIndex        uint32
	FilterMask        uint32
	ConfigWord        uint32
	TimestampHz       uint32
	LastNonzeroFilter uint32
	BufferSize        uint32 // capacity-in-words + 4
}

// Encode writes the six fixed fields to dst (which must be at least
// FieldCount*4 bytes) using order — whatever endianness the producer
// uses, per spec.md section 6; the host must decode with the same one.
func Encode(h Header, dst []byte, order binary.ByteOrder) error {
	if len(dst) < FieldCount*4 {
		return fmt.Errorf("rtedbg: header: dst too small: need %d bytes, have %d", FieldCount*4, len(dst))
	}
	fields := [FieldCount]uint32{h.WriteIndex, h.FilterMask, h.ConfigWord, h.TimestampHz, h.LastNonzeroFilter, h.BufferSize}
	for i, f := range fields {
		order.PutUint32(dst[i*4:], f)
	}
	return nil
}

// Decode is Encode's inverse.
func Decode(src []byte, order binary.ByteOrder) (Header, error) {
	if len(src) < FieldCount*4 {
		return Header{}, fmt.Errorf("rtedbg: header: src too small: need %d bytes, have %d", FieldCount*4, len(src))
	}
	return Header{
		WriteIndex:        order.Uint32(src[0:4]),
		FilterMask:        order.Uint32(src[4:8]),
		ConfigWord:        order.Uint32(src[8:12]),
		TimestampHz:       order.Uint32(src[12:16]),
		LastNonzeroFilter: order.Uint32(src[16:20]),
		BufferSize:        order.Uint32(src[20:24]),
	}, nil
}

// EncodeWithCRC writes the header followed by a trailing CRC32 of the
// fixed fields, the way wal.go's Encode self-checks a log record. This is
// an enrichment over spec.md's bare in-RAM layout, called only by
// cmd/rtedbgdemo when it encodes its header snapshot; DecodeWithCRC is the
// check that detects a torn header. It does not replace the FMT-word
// commit discipline that protects the ring itself.
func EncodeWithCRC(h Header, dst []byte, order binary.ByteOrder) error {
	if len(dst) < FieldCount*4+4 {
		return fmt.Errorf("rtedbg: header: dst too small for CRC trailer: need %d bytes, have %d", FieldCount*4+4, len(dst))
	}
	if err := Encode(h, dst, order); err != nil {
		return err
	}
	sum := crc32.ChecksumIEEE(dst[:FieldCount*4])
	order.PutUint32(dst[FieldCount*4:], sum)
	return nil
}

// DecodeWithCRC is EncodeWithCRC's inverse; it returns an error if the
// trailing CRC does not match the fixed fields.
func DecodeWithCRC(src []byte, order binary.ByteOrder) (Header, error) {
	h, err := Decode(src, order)
	if err != nil {
		return Header{}, err
	}
	if len(src) < FieldCount*4+4 {
		return Header{}, fmt.Errorf("rtedbg: header: src too small for CRC trailer")
	}
	want := order.Uint32(src[FieldCount*4:])
	got := crc32.ChecksumIEEE(src[:FieldCount*4])
	if want != got {
		return Header{}, fmt.Errorf("rtedbg: header: CRC mismatch: stored %#x, computed %#x", want, got)
	}
	return h, nil
}
