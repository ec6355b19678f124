// Package config describes the compile-time parameter space of a recorder
// build: the knobs that on real firmware would be #define's resolved before
// the object file is linked. Here they are loaded once, at process start,
// from a TOML descriptor and validated the way a build-time static assertion
// would reject a bad combination.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Mode selects the recorder's termination policy, mirroring rtedbg.c's
// RTE_CONTINUOUS / RTE_SINGLE_SHOT_MODE variants.
type Mode int

const (
	// ModeContinue keeps overwriting the oldest data once the buffer wraps.
	ModeContinue Mode = iota
	// ModeRestart behaves like ModeContinue, but an Init that keeps the
	// prior buffer restores the prior last non-zero filter instead of
	// applying the initial filter.
	ModeRestart
	// ModeSingleShot freezes the buffer (and zeroes the filter) on the first
	// over-capacity reservation, but keeps its content across a later Init
	// as long as the config fingerprint still matches.
	ModeSingleShot
	// ModeSingleShotErase behaves like ModeSingleShot, but the next Init
	// always erases the buffer even when the fingerprint matches.
	ModeSingleShotErase
)

func (m Mode) String() string {
	switch m {
	case ModeContinue:
		return "continue"
	case ModeRestart:
		return "restart"
	case ModeSingleShot:
		return "single-shot"
	case ModeSingleShotErase:
		return "single-shot+erase"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// SingleShot reports whether m terminates logging on overflow.
func (m Mode) SingleShot() bool {
	return m == ModeSingleShot || m == ModeSingleShotErase
}

// Params is the full build-time parameter space from spec section 6.
type Params struct {
	FmtIDBits            int  `toml:"fmt_id_bits"`
	ExtendedDataBits     int  `toml:"extended_data_bits"`
	MaxSubpackets        int  `toml:"max_subpackets"`
	BufferCapacity       uint `toml:"buffer_capacity"`
	TimestampShift       uint `toml:"timestamp_shift"`
	TimestampCounterBits uint `toml:"timestamp_counter_bits"`

	FilteringCompiled    bool `toml:"filtering_compiled"`
	FilterOffCompiled    bool `toml:"filter_off_compiled"`
	SingleShotCompiled   bool `toml:"single_shot_compiled"`
	LongTimestampCompiled bool `toml:"long_timestamp_compiled"`

	// EagerTimestamp selects sampling the timestamp before the filter gate
	// (true) instead of after reservation (false). See spec.md section 4.4.
	EagerTimestamp bool `toml:"eager_timestamp"`

	// OversizeTruncate selects truncating an oversize blob to the hard cap
	// instead of dropping it outright.
	OversizeTruncate bool `toml:"oversize_truncate"`

	// ReservationStrategy selects one of the three reservation primitives
	// from spec.md section 4.2: "cas" (exclusive-access/CAS retry loop),
	// "irq_window" (interrupt-disabled window, modeled as a mutex), or
	// "non_reentrant" (plain load/store; caller guarantees serialization).
	ReservationStrategy string `toml:"reservation_strategy"`

	Mode Mode `toml:"-"`
}

// Reservation strategy names accepted by ReservationStrategy.
const (
	ReserveCAS          = "cas"
	ReserveIRQWindow     = "irq_window"
	ReserveNonReentrant  = "non_reentrant"
)

// DefaultParams returns the parameter set used by the smallest end-to-end
// scenario in spec.md section 8: FMT_ID_BITS=10, max_subpackets=16,
// buffer_capacity=2048.
func DefaultParams() Params {
	return Params{
		FmtIDBits:             10,
		ExtendedDataBits:      0,
		MaxSubpackets:         16,
		BufferCapacity:        2048,
		TimestampShift:        1,
		TimestampCounterBits:  32,
		FilteringCompiled:     true,
		FilterOffCompiled:     false,
		SingleShotCompiled:    false,
		LongTimestampCompiled: true,
		EagerTimestamp:        false,
		OversizeTruncate:      false,
		ReservationStrategy:   ReserveCAS,
		Mode:                  ModeContinue,
	}
}

// Load reads a Params value from a TOML file, seeding unspecified fields
// from DefaultParams so a descriptor only has to mention what it overrides.
func Load(path string) (Params, error) {
	p := DefaultParams()
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return Params{}, fmt.Errorf("rtedbg: config: %w", err)
	}
	return p, nil
}

// FilterNumberBits is fixed by the wire format: filter number always
// occupies the top 5 bits of the format/filter field.
const FilterNumberBits = 5

// FormatIDBits is the width of the format ID itself. FmtIDBits already
// denotes that width alone; the filter number occupies 5 further bits
// above it in the packed key (see pack.KeyWidth), not 5 bits carved out of
// FmtIDBits.
func (p Params) FormatIDBits() int {
	return p.FmtIDBits
}

// KeyWidth is the total width in bits of the packed (filter_number,
// format_id) key field: the format ID's FmtIDBits plus the filter
// number's fixed 5 bits.
func (p Params) KeyWidth() int {
	return p.FmtIDBits + FilterNumberBits
}

// MaxSubpacketWords is the hard cap in words for a single subpacket,
// including its trailing FMT word.
const MaxSubpacketWords = 5

// MaxMessageBytes is the hard cap for blob variant A: max_subpackets
// subpackets of up to 4 DATA words (16 bytes) each.
func (p Params) MaxMessageBytes() int {
	return p.MaxSubpackets * 16
}

// MaxByteBlobLen is the hard cap for blob variant B (byte-granular,
// embedded length): min(255, max_subpackets*16-1).
func (p Params) MaxByteBlobLen() int {
	n := p.MaxSubpackets*16 - 1
	if n > 255 {
		return 255
	}
	return n
}

// CapacityIsPowerOfTwo reports whether BufferCapacity is a power of two,
// feeding config_word bit 31 and letting the reservation primitive use a
// mask instead of a modulo to wrap the index.
func (p Params) CapacityIsPowerOfTwo() bool {
	c := p.BufferCapacity
	return c != 0 && c&(c-1) == 0
}

// Validate enforces the ranges and mutual-exclusion rules from spec.md
// section 6 and section 7 ("Build-time validations").
func (p Params) Validate() error {
	if p.FmtIDBits < 9 || p.FmtIDBits > 16 {
		return fmt.Errorf("rtedbg: config: fmt_id_bits %d out of range [9,16]", p.FmtIDBits)
	}
	if p.MaxSubpackets < 1 || p.MaxSubpackets > 256 {
		return fmt.Errorf("rtedbg: config: max_subpackets %d out of range [1,256]", p.MaxSubpackets)
	}
	if min := uint(p.MaxSubpackets) * 20; p.BufferCapacity < min {
		return fmt.Errorf("rtedbg: config: buffer_capacity %d below required minimum %d (max_subpackets*20)", p.BufferCapacity, min)
	}
	if p.TimestampShift < 1 || p.TimestampShift > 16 {
		return fmt.Errorf("rtedbg: config: timestamp_shift %d out of range [1,16]", p.TimestampShift)
	}
	kw := p.KeyWidth()
	if int(p.TimestampShift) > 31-kw {
		return fmt.Errorf("rtedbg: config: timestamp_shift %d exceeds 31-key_width (%d)", p.TimestampShift, 31-kw)
	}
	if int(p.TimestampCounterBits)-int(p.TimestampShift) < 31-kw {
		return fmt.Errorf("rtedbg: config: timestamp_counter_bits-timestamp_shift must be >= 31-key_width")
	}
	if p.ExtendedDataBits < 0 || p.ExtendedDataBits > 4 {
		return fmt.Errorf("rtedbg: config: extended_data_bits %d out of range [0,4]", p.ExtendedDataBits)
	}
	if p.ExtendedDataBits > 0 && p.FormatIDBits() <= p.ExtendedDataBits {
		return fmt.Errorf("rtedbg: config: extended_data_bits %d leaves no room in a %d-bit format ID", p.ExtendedDataBits, p.FormatIDBits())
	}
	if p.FilterOffCompiled && p.FilteringCompiled {
		return fmt.Errorf("rtedbg: config: filter_off_compiled and filtering_compiled are mutually exclusive")
	}
	if p.Mode.SingleShot() && !p.SingleShotCompiled {
		return fmt.Errorf("rtedbg: config: mode %s requires single_shot_compiled", p.Mode)
	}
	switch p.ReservationStrategy {
	case ReserveCAS, ReserveIRQWindow, ReserveNonReentrant:
	default:
		return fmt.Errorf("rtedbg: config: unknown reservation_strategy %q", p.ReservationStrategy)
	}
	return nil
}

// CheckFormatID rejects a format ID whose low ExtendedDataBits bits are
// already set, since those bits are claimed by extended-data packing. This
// is the runtime stand-in for the static assertion spec.md section 7 asks
// build tooling to perform on every msgN call site.
func (p Params) CheckFormatID(formatID uint16) error {
	if p.ExtendedDataBits == 0 {
		return nil
	}
	mask := uint16(1<<uint(p.ExtendedDataBits)) - 1
	if formatID&mask != 0 {
		return fmt.Errorf("rtedbg: config: format ID %#x has low %d bits set, reserved for extended data", formatID, p.ExtendedDataBits)
	}
	return nil
}

// ConfigWord assembles the packed capability/configuration descriptor from
// spec.md section 6. singleShotActive reflects live state (bit 0), not a
// build flag.
func (p Params) ConfigWord(singleShotActive bool, headerWords uint32) uint32 {
	var w uint32
	if singleShotActive {
		w |= 1 << 0
	}
	if p.FilteringCompiled {
		w |= 1 << 1
	}
	if p.FilterOffCompiled {
		w |= 1 << 2
	}
	if p.SingleShotCompiled {
		w |= 1 << 3
	}
	if p.LongTimestampCompiled {
		w |= 1 << 4
	}
	w |= uint32(p.TimestampShift-1) << 8
	w |= uint32(p.FmtIDBits-9) << 12
	maxSub := p.MaxSubpackets
	if maxSub == 256 {
		maxSub = 0
	}
	w |= uint32(maxSub&0xFF) << 16
	w |= (headerWords & 0x7F) << 24
	if p.CapacityIsPowerOfTwo() {
		w |= 1 << 31
	}
	return w
}
