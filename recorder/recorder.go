// Package recorder is the on-target recording engine: the reentrant,
// low-intrusion path that gates a message against the filter mask,
// reserves space in a fixed-size ring, samples a timestamp, packs a
// subpacket, and publishes it by writing the FMT word last.
//
// It is deliberately a process-wide singleton tied to one RAM region a
// host can address, the way the teacher exposes one *segmentmanager.DiskSegmentManager
// or one *wal.WALWriter per process — not a dynamically constructed,
// freely-multiplied object. There is no Close: a deeply embedded recorder
// has no shutdown step, only reinitialization across a reboot.
package recorder

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/relog-dev/rtedbg/config"
	"github.com/relog-dev/rtedbg/pack"
	"github.com/relog-dev/rtedbg/reserve"
	"github.com/relog-dev/rtedbg/timer"
)

// Mandatory system format IDs (spec.md section 6), both tagged filter 0.
const (
	FmtLongTimestamp       uint16 = 0
	FmtTimestampFrequency  uint16 = 1
)

// erasedWord is the quiescent "erased" buffer fill.
const erasedWord uint32 = 0xFFFF_FFFF

// ForceEnableAll is the sentinel that lifts a filter lockout; see
// Recorder.SetFilter.
const ForceEnableAll uint32 = 0x7FFF_FFFF

// Recorder is the global recorder state described in spec.md section 3.
// Every exported method is safe for concurrent use from arbitrary
// producer contexts (task, interrupt handler, nested interrupt, other
// core) unless documented otherwise.
type Recorder struct {
	writeIndex        atomic.Uint32
	filterMask        atomic.Uint32
	timestampHz       atomic.Uint32
	lastNonzeroFilter atomic.Uint32

	configWord uint32
	bufferSize uint32
	buffer     []uint32

	params   config.Params
	order    binary.ByteOrder
	reserver reserve.Reserver
	timer    timer.Driver
	long     *timer.LongTimestamp

	sysKeyLongTS   pack.Key
	sysKeyTSFreq   pack.Key
}

var current atomic.Pointer[Recorder]

// Get returns the current process-wide recorder, or nil if Init has never
// been called.
func Get() *Recorder { return current.Load() }

// Init creates (or re-creates) the process-wide recorder. prior is the
// recorder from before a simulated reboot, or nil on a cold start; when
// prior is non-nil and its configWord matches the one this call computes
// (ignoring the live single-shot-active bit), the existing buffer is kept
// — modeling spec.md section 3's "state persists across software resets
// if the fingerprint already matches" rule — unless p.Mode is
// config.ModeSingleShotErase. Otherwise the whole buffer is erased to the
// all-ones pattern.
//
// order is the byte order used to pack blob and string payload bytes into
// buffer words; the words themselves are stored as-is and never
// byte-swapped (spec.md section 9).
func Init(p config.Params, t timer.Driver, initialFilter uint32, order binary.ByteOrder, prior *Recorder) (*Recorder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	r := &Recorder{
		params:     p,
		order:      order,
		timer:      t,
		bufferSize: uint32(p.BufferCapacity) + 4,
	}
	if p.LongTimestampCompiled {
		r.long = &timer.LongTimestamp{}
	}

	const headerWords = 6
	newConfigWord := p.ConfigWord(false, headerWords)

	reuse := prior != nil && prior.configWord == newConfigWord && p.Mode != config.ModeSingleShotErase
	if reuse {
		r.buffer = prior.buffer
		r.writeIndex.Store(prior.writeIndex.Load())
		r.filterMask.Store(prior.filterMask.Load())
		r.lastNonzeroFilter.Store(prior.lastNonzeroFilter.Load())
	} else {
		r.buffer = make([]uint32, r.bufferSize)
		eraseBuffer(r.buffer)
	}
	r.configWord = newConfigWord

	// Temporarily silence the recorder while the reservation primitive and
	// system keys come up, mirroring rtedbg.c's init sequence.
	r.filterMask.Store(0)

	singleShot := p.Mode.SingleShot()
	var onOverflow func()
	if singleShot {
		onOverflow = func() { r.filterMask.Store(0) }
	}
	switch p.ReservationStrategy {
	case config.ReserveIRQWindow:
		r.reserver = reserve.NewIRQWindow(&r.writeIndex, uint32(p.BufferCapacity), singleShot, onOverflow)
	case config.ReserveNonReentrant:
		r.reserver = reserve.NewNonReentrant(&r.writeIndex, uint32(p.BufferCapacity), singleShot, onOverflow)
	default:
		r.reserver = reserve.NewCAS(&r.writeIndex, uint32(p.BufferCapacity), singleShot, onOverflow)
	}

	var err error
	r.sysKeyLongTS, err = pack.NewKey(0, FmtLongTimestamp, p.FmtIDBits)
	if err != nil {
		return nil, err
	}
	r.sysKeyTSFreq, err = pack.NewKey(0, FmtTimestampFrequency, p.FmtIDBits)
	if err != nil {
		return nil, err
	}

	if p.Mode == config.ModeRestart && reuse && r.lastNonzeroFilter.Load() != 0 {
		r.RestoreFilter()
	} else if initialFilter != 0 {
		// The temporary zero above is not a firmware lockout, so the
		// initial filter is stored directly instead of through SetFilter.
		nm := initialFilter | ^ForceEnableAll
		r.filterMask.Store(nm)
		r.lastNonzeroFilter.Store(nm)
	}

	current.Store(r)
	return r, nil
}

// eraseBuffer fills buf with the all-ones quiescent pattern. Written as an
// explicit loop, not a library fill, matching rtedbg.c's volatile-store
// erase discipline (spec.md section 3): on the real target this defeats a
// compiler that would otherwise turn the loop into a wide intrinsic copy
// of a non-volatile constant.
func eraseBuffer(buf []uint32) {
	for i := range buf {
		buf[i] = erasedWord
	}
}

// ConfigWord returns the packed capability/configuration descriptor. All
// of it is fixed at Init except its single-shot-active bit (bit 0), which
// is recomputed on every call: it is set in a single-shot mode while the
// filter mask is 0 and a non-zero filter has been set before.
func (r *Recorder) ConfigWord() uint32 {
	active := r.params.Mode.SingleShot() && r.filterMask.Load() == 0 && r.lastNonzeroFilter.Load() != 0
	return r.params.ConfigWord(active, 6)
}

// WriteIndex returns the stored write index: the latest reservation's
// wrapped pre-advance index plus its size, so it never exceeds
// Capacity()+4. A host decoding the header must reduce it modulo
// Capacity() itself, the same way the reservation primitive does
// internally (see reserve.wrap).
func (r *Recorder) WriteIndex() uint32 { return r.writeIndex.Load() }

// BufferSize is capacity-in-words + 4 (the trailer), for the header.
func (r *Recorder) BufferSize() uint32 { return r.bufferSize }

// Capacity is the ring's usable capacity in words, excluding the trailer.
func (r *Recorder) Capacity() uint32 { return uint32(r.params.BufferCapacity) }

// Buffer returns the live word buffer. Callers must not mutate it; it is
// exposed read-only for tests and for a demo host snapshot.
func (r *Recorder) Buffer() []uint32 { return r.buffer }

// Params returns the build-time parameter space this recorder was
// initialized with.
func (r *Recorder) Params() config.Params { return r.params }
