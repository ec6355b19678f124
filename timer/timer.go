// Package timer provides the recorder's monotonic time source: a cheap,
// reentrant sample operation plus an optional, explicitly non-reentrant
// 64-bit long-timestamp extension. Concrete drivers are chosen at
// construction time; the recorder then calls Sample through the Driver
// interface, an indirection that exists so tests can run without real
// hardware, the same way the teacher repo swaps a real *os.File for a
// temp file in its segment-manager tests.
package timer

import "sync/atomic"

// Driver samples a free-running counter. Sample must be cheap, reentrant,
// and side-effect free; it may be called concurrently from any producer
// context (task, interrupt handler, nested interrupt, other core).
type Driver interface {
	// Sample returns the raw counter value. The caller is responsible for
	// shifting/masking it into the FMT-word timestamp field.
	Sample() uint32
	// CounterBits reports how many low bits of Sample's return value are
	// significant, in [17,32].
	CounterBits() uint
}

// Counter is a free-running software counter, useful for deterministic
// tests and for targets with no real timer wired up yet. It is safe for
// concurrent Sample calls.
type Counter struct {
	bits uint
	n    atomic.Uint32
}

// NewCounter returns a Counter that increments by one on every Sample call
// and wraps modulo 2^bits.
func NewCounter(bits uint) *Counter {
	return &Counter{bits: bits}
}

func (c *Counter) Sample() uint32 {
	v := c.n.Add(1)
	if c.bits >= 32 {
		return v
	}
	return v & (1<<c.bits - 1)
}

func (c *Counter) CounterBits() uint { return c.bits }

// Fixed is a Driver that always returns the same value, used to pin down
// exact expected FMT words in tests (spec.md section 8, scenario 1).
type Fixed struct {
	Value uint32
	Bits  uint
}

func (f Fixed) Sample() uint32    { return f.Value }
func (f Fixed) CounterBits() uint { return f.Bits }

// LongTimestamp maintains the 64-bit shadow {low, high} described in
// spec.md section 4.1. Advance is not reentrant: it must be called from a
// single serialized context, such as a periodic tick. Concurrent calls are
// a caller contract violation and their outcome is unspecified, exactly as
// spec.md's error-handling table says.
type LongTimestamp struct {
	low  uint32
	high uint32
}

// Advance compares a fresh sample against the stored low word; if the new
// value is smaller, the counter is assumed to have wrapped and high is
// incremented. It returns the updated shadow.
func (lt *LongTimestamp) Advance(sample uint32) (low, high uint32) {
	if sample < lt.low {
		lt.high++
	}
	lt.low = sample
	return lt.low, lt.high
}

// Payload computes the upper 32 bits of (high:low) right-shifted by k, the
// value emitted as the LONG_TIMESTAMP system message's data word. k aligns
// the wide value with the half that cannot fit in an ordinary subpacket's
// truncated timestamp field.
func Payload(low, high uint32, k uint) uint32 {
	wide := uint64(high)<<32 | uint64(low)
	wide >>= k
	return uint32(wide >> 32)
}

// RestartMarker is the sentinel LONG_TIMESTAMP payload meaning "time
// restarted after sleep; do not extrapolate from the prior value".
const RestartMarker = 0xFFFFFFFF
