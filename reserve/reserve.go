// Package reserve implements the reservation primitive (R in spec.md
// section 2): atomically advancing a shared write index by k words and
// returning the pre-advance, wrapped index. Three strategies are provided,
// selected at construction time, matching spec.md section 4.2's three
// build-time variants. None of them allocate, block indefinitely, or
// suspend the caller — the only tolerated wait is CAS retry, bounded by the
// number of concurrent producers.
package reserve

import (
	"sync"
	"sync/atomic"
)

// Reserver advances a shared write index by k words.
//
// Reserve returns the pre-advance index (already wrapped into
// [0,capacity)) and true on success. A subpacket may straddle the logical
// end of the buffer; the caller is responsible for allocating a trailer
// long enough to absorb the largest k it will ever pass (spec.md section
// 4.2's four-word trailer). Reserve returns false only in single-shot mode
// once a reservation would exceed capacity; after a false return the
// caller must not write anything and must treat the recorder as
// quiesced until reinitialized.
type Reserver interface {
	Reserve(k uint32) (index uint32, ok bool)
}

// wrap maps a position into [0,capacity), using a mask when capacity is a
// power of two (config_word bit 31) and a modulo otherwise. Reserve calls
// this on the index it loads, before adding k, so the value it persists
// back into the shared cell never accumulates past a few subpacket
// widths above capacity — matching rtedbg_generic_atomic.h's
// RTE_RESERVE_SPACE, which applies RTE_LIMIT_INDEX to the loaded index
// before computing new_index, not after.
//
// A single-shot build's overflow check runs against the *un*wrapped
// loaded value, before this correction — same ordering as
// RTE_RESERVE_SPACE, which tests raw buf_idx + size against
// RTE_BUFFER_SIZE ahead of its own RTE_LIMIT_INDEX call. Checking the
// already-wrapped value instead would let a reservation that exactly
// fills the buffer look empty again on the very next call, since a
// power-of-two capacity wraps an exactly-full index straight back to 0.
func wrap(pre, capacity uint32, mask uint32, usesMask bool) uint32 {
	if usesMask {
		return pre & mask
	}
	return pre % capacity
}

// shared holds the fields common to all three strategies.
type shared struct {
	index      *atomic.Uint32
	capacity   uint32
	mask       uint32
	usesMask   bool
	singleShot bool
	onOverflow func()
}

func newShared(index *atomic.Uint32, capacity uint32, singleShot bool, onOverflow func()) shared {
	s := shared{index: index, capacity: capacity, singleShot: singleShot, onOverflow: onOverflow}
	if capacity != 0 && capacity&(capacity-1) == 0 {
		s.usesMask = true
		s.mask = capacity - 1
	}
	return s
}

func (s *shared) refuse() (uint32, bool) {
	if s.onOverflow != nil {
		s.onOverflow()
	}
	return 0, false
}

// CAS is the exclusive-access / load-linked-store-conditional strategy
// (variant 1 of spec.md section 4.2), modeled with sync/atomic's
// sequentially consistent CompareAndSwap. Go's atomics are always
// sequentially consistent, which also supplies the release-equivalent
// fence spec.md requires after a successful reservation on heterogeneous
// multi-core systems — no separate fence call is needed.
type CAS struct {
	shared
}

// NewCAS builds a CAS-based reserver over index, a shared write-index cell
// of capacity words. If singleShot is true, a reservation that would
// exceed capacity is refused and onOverflow is invoked (the caller uses
// this to zero the filter mask, per spec.md section 4.2's single-shot
// mode).
func NewCAS(index *atomic.Uint32, capacity uint32, singleShot bool, onOverflow func()) *CAS {
	return &CAS{newShared(index, capacity, singleShot, onOverflow)}
}

func (r *CAS) Reserve(k uint32) (uint32, bool) {
	for {
		old := r.index.Load()
		if r.singleShot && old+k > r.capacity {
			// Nothing to roll back: a failed CompareAndSwap in Go leaves no
			// pending exclusive-access reservation, unlike an LL/SC pair on
			// real hardware, so there is no clear-exclusive step here.
			return r.refuse()
		}
		pre := wrap(old, r.capacity, r.mask, r.usesMask)
		next := pre + k
		if r.index.CompareAndSwap(old, next) {
			return pre, true
		}
	}
}

// IRQWindow is the interrupt-disabled-window strategy (variant 2): a
// mutex stands in for masking interrupts around the read-modify-write of
// the write index, for cores that lack exclusive-access primitives or run
// unprivileged code.
type IRQWindow struct {
	shared
	mu sync.Mutex
}

func NewIRQWindow(index *atomic.Uint32, capacity uint32, singleShot bool, onOverflow func()) *IRQWindow {
	return &IRQWindow{shared: newShared(index, capacity, singleShot, onOverflow)}
}

func (r *IRQWindow) Reserve(k uint32) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.index.Load()
	if r.singleShot && old+k > r.capacity {
		return r.refuse()
	}
	pre := wrap(old, r.capacity, r.mask, r.usesMask)
	next := pre + k
	r.index.Store(next)
	return pre, true
}

// NonReentrant is the plain load/store strategy (variant 3), for contexts
// where the caller already guarantees serialization (e.g. a single task
// with logging disabled everywhere else). It performs no synchronization
// at all; calling it concurrently from two producers is a contract
// violation with unspecified results.
type NonReentrant struct {
	shared
}

func NewNonReentrant(index *atomic.Uint32, capacity uint32, singleShot bool, onOverflow func()) *NonReentrant {
	return &NonReentrant{newShared(index, capacity, singleShot, onOverflow)}
}

func (r *NonReentrant) Reserve(k uint32) (uint32, bool) {
	old := r.index.Load()
	if r.singleShot && old+k > r.capacity {
		return r.refuse()
	}
	pre := wrap(old, r.capacity, r.mask, r.usesMask)
	next := pre + k
	r.index.Store(next)
	return pre, true
}
