package recorder

import (
	"fmt"

	"github.com/relog-dev/rtedbg/pack"
)

// gate evaluates the filter mask for filterNumber using only a relaxed
// load: admission is best-effort, and a concurrent filter change may lose
// one message on either side of the transition (spec.md section 4.4).
func (r *Recorder) gate(filterNumber uint8) bool {
	if r.params.FilterOffCompiled {
		return true
	}
	mask := r.filterMask.Load()
	return mask<<filterNumber&0x8000_0000 != 0
}

// emit is the shared tail of every Record API entry point: gate, sample
// (eager or deferred per build), reserve, pack, publish. It returns false
// when the call was a no-op (filtered out or single-shot overflow).
func (r *Recorder) emit(key pack.Key, filterNumber uint8, words []uint32) bool {
	if !r.gate(filterNumber) {
		return false
	}

	var ts uint32
	if r.params.EagerTimestamp {
		ts = r.timer.Sample()
	}

	k := uint32(len(words) + 1)
	idx, ok := r.reserver.Reserve(k)
	if !ok {
		return false
	}

	if !r.params.EagerTimestamp {
		ts = r.timer.Sample()
	}

	pack.Subpacket(r.buffer[idx:idx+k], key, words, ts, r.params.TimestampShift, r.params.FmtIDBits)
	return true
}

// key builds the packed (filter_number, format_id) word for a call site,
// validating it against this recorder's build-time parameters — the
// runtime stand-in for the generative macro spec.md section 4.4
// describes.
func (r *Recorder) key(filterNumber uint8, formatID uint16) (pack.Key, error) {
	return pack.NewKey(filterNumber, formatID, r.params.FmtIDBits)
}

// Msg0 emits a single FMT-only subpacket: timestamp and key, no data.
func (r *Recorder) Msg0(filterNumber uint8, formatID uint16) (bool, error) {
	k, err := r.key(filterNumber, formatID)
	if err != nil {
		return false, err
	}
	return r.emit(k, filterNumber, nil), nil
}

// Msg1 emits one subpacket carrying a single data word.
func (r *Recorder) Msg1(filterNumber uint8, formatID uint16, d1 uint32) (bool, error) {
	k, err := r.key(filterNumber, formatID)
	if err != nil {
		return false, err
	}
	return r.emit(k, filterNumber, []uint32{d1}), nil
}

// Msg2 emits one subpacket carrying two data words.
func (r *Recorder) Msg2(filterNumber uint8, formatID uint16, d1, d2 uint32) (bool, error) {
	k, err := r.key(filterNumber, formatID)
	if err != nil {
		return false, err
	}
	return r.emit(k, filterNumber, []uint32{d1, d2}), nil
}

// Msg3 emits one subpacket carrying three data words.
func (r *Recorder) Msg3(filterNumber uint8, formatID uint16, d1, d2, d3 uint32) (bool, error) {
	k, err := r.key(filterNumber, formatID)
	if err != nil {
		return false, err
	}
	return r.emit(k, filterNumber, []uint32{d1, d2, d3}), nil
}

// Msg4 emits one subpacket carrying four data words.
func (r *Recorder) Msg4(filterNumber uint8, formatID uint16, d1, d2, d3, d4 uint32) (bool, error) {
	k, err := r.key(filterNumber, formatID)
	if err != nil {
		return false, err
	}
	return r.emit(k, filterNumber, []uint32{d1, d2, d3, d4}), nil
}

// MsgExt is msgN with extended-data packing: the call site's discriminant
// is folded into the format ID's low bits instead of being passed as a
// data word. It is only valid in a build with ExtendedDataBits > 0.
func (r *Recorder) MsgExt(filterNumber uint8, formatID uint16, extData uint8, words []uint32) (bool, error) {
	if len(words) > pack.MaxDataWords {
		return false, ErrOversize
	}
	if err := r.params.CheckFormatID(formatID); err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadFormatID, err)
	}
	k, err := pack.NewExtKey(filterNumber, formatID, extData, r.params.FmtIDBits, r.params.ExtendedDataBits)
	if err != nil {
		return false, err
	}
	return r.emit(k, filterNumber, words), nil
}

// emitBlob shares the subpacket-chaining loop between the two blob
// variants: every subpacket in the chain shares one timestamp and key, so
// the host groups them by timestamp (spec.md section 4.3).
func (r *Recorder) emitBlob(key pack.Key, filterNumber uint8, chunks [][]uint32) bool {
	if !r.gate(filterNumber) {
		return false
	}

	// A blob chain shares one timestamp across every subpacket it emits
	// (spec.md section 4.3), so there is no separate eager/deferred moment
	// the way there is for a single-subpacket msgN call; it is sampled once,
	// before the first reservation.
	ts := r.timer.Sample()

	wrote := false
	for _, words := range chunks {
		k := uint32(len(words) + 1)
		idx, ok := r.reserver.Reserve(k)
		if !ok {
			return wrote
		}
		pack.Subpacket(r.buffer[idx:idx+k], key, words, ts, r.params.TimestampShift, r.params.FmtIDBits)
		wrote = true
	}
	return wrote
}

// MsgBlobAligned is blob variant A: a word-aligned byte payload split
// into subpackets of up to 4 DATA words each. Oversize payloads are
// dropped (ErrOversize) unless the build is configured to truncate.
func (r *Recorder) MsgBlobAligned(filterNumber uint8, formatID uint16, data []byte) (bool, error) {
	k, err := r.key(filterNumber, formatID)
	if err != nil {
		return false, err
	}
	max := r.params.MaxMessageBytes()
	if len(data) > max {
		if !r.params.OversizeTruncate {
			return false, ErrOversize
		}
		data = data[:max]
	}
	words := pack.WordsFromBytesAligned(data, r.order)
	chunks := pack.Chunk(words, pack.MaxDataWords)
	return r.emitBlob(k, filterNumber, chunks), nil
}

// MsgBlobBytes is blob variant B: a byte-granular payload whose length is
// embedded in the top byte of the chain's last DATA word instead of being
// derived from word count.
func (r *Recorder) MsgBlobBytes(filterNumber uint8, formatID uint16, data []byte) (bool, error) {
	k, err := r.key(filterNumber, formatID)
	if err != nil {
		return false, err
	}
	max := r.params.MaxByteBlobLen()
	if len(data) > max {
		if !r.params.OversizeTruncate {
			return false, ErrOversize
		}
		data = data[:max]
	}
	words := pack.WordsFromBytesWithLength(data, uint8(len(data)), r.order)
	chunks := pack.Chunk(words, pack.MaxDataWords)
	return r.emitBlob(k, filterNumber, chunks), nil
}

// StringN scans data for a NUL up to cap bytes and delegates to
// MsgBlobAligned, per spec.md section 4.3's string convenience entry.
func (r *Recorder) StringN(filterNumber uint8, formatID uint16, data []byte, cap int) (bool, error) {
	payload := pack.StringPayload(data, cap)
	return r.MsgBlobAligned(filterNumber, formatID, payload)
}

// String is StringN with cap equal to this build's max_message_bytes.
func (r *Recorder) String(filterNumber uint8, formatID uint16, data []byte) (bool, error) {
	return r.StringN(filterNumber, formatID, data, r.params.MaxMessageBytes())
}
