package recorder

import (
	"math"

	"github.com/relog-dev/rtedbg/timer"
)

// SetFilter implements spec.md section 4.5's lockout discipline: once the
// firmware has set the mask to 0, only the sentinel ForceEnableAll can
// re-enable logging; any other non-zero value passed while locked out is
// silenced to 0. Filter #0 (bit 31) is always forced on whenever any
// filter is on. Non-zero values are mirrored to the last-nonzero shadow
// so RestoreFilter can bring them back.
//
// Go's atomic stores are already sequentially consistent, which is the
// "full memory fence" spec.md asks every filter write to carry on
// multi-core builds — no separate fence call is needed here.
func (r *Recorder) SetFilter(v uint32) {
	if v == ForceEnableAll {
		nm := v | ^ForceEnableAll
		r.filterMask.Store(nm)
		r.lastNonzeroFilter.Store(nm)
		return
	}
	if r.filterMask.Load() == 0 {
		// Locked out: any value other than ForceEnableAll (handled above)
		// is silenced, including another explicit 0.
		return
	}
	if v == 0 {
		r.filterMask.Store(0)
		return
	}
	nm := v | ^ForceEnableAll
	r.filterMask.Store(nm)
	r.lastNonzeroFilter.Store(nm)
}

// RestoreFilter writes the last-nonzero shadow back into the live mask.
func (r *Recorder) RestoreFilter() {
	r.filterMask.Store(r.lastNonzeroFilter.Load())
}

// GetFilter reads the live filter mask.
func (r *Recorder) GetFilter() uint32 {
	return r.filterMask.Load()
}

// AnnounceTimestampFrequency records hz and emits one TIMESTAMP_FREQUENCY
// system message, tagged filter 0. It is not idempotent: calling it twice
// with the same hz still emits two messages, since a host that attaches
// mid-stream needs to see the frequency at least once after it connects
// (see SPEC_FULL.md section 5).
func (r *Recorder) AnnounceTimestampFrequency(hz uint32) {
	r.timestampHz.Store(hz)
	payload := math.Float32bits(float32(hz) * 1e-6)
	r.emit(r.sysKeyTSFreq, 0, []uint32{payload})
}

// TimestampHz returns the last-announced timestamp frequency in Hz.
func (r *Recorder) TimestampHz() uint32 {
	return r.timestampHz.Load()
}

// AdvanceLongTimestamp extends the 32-bit hardware sample to 64 bits and
// emits a LONG_TIMESTAMP system message carrying its upper half. It is
// not reentrant: per spec.md section 4.1 it must be called from a single
// serialized context (e.g. a periodic tick), never concurrently with
// itself. restart marks "time restarted after sleep" so the host does not
// extrapolate from the prior value.
func (r *Recorder) AdvanceLongTimestamp(restart bool) {
	if r.long == nil {
		return
	}
	if restart {
		r.emit(r.sysKeyLongTS, 0, []uint32{timer.RestartMarker})
		return
	}
	sample := r.timer.Sample()
	low, high := r.long.Advance(sample)
	payload := timer.Payload(low, high, r.params.TimestampShift)
	r.emit(r.sysKeyLongTS, 0, []uint32{payload})
}
