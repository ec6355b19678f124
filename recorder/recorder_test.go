package recorder

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/bits-and-blooms/bitset"

	"github.com/relog-dev/rtedbg/config"
	"github.com/relog-dev/rtedbg/pack"
	"github.com/relog-dev/rtedbg/timer"
)

func smallestParams() config.Params {
	p := config.DefaultParams()
	p.FmtIDBits = 10
	p.MaxSubpackets = 16
	p.BufferCapacity = 2048
	p.TimestampShift = 1
	return p
}

func TestInitRejectsInvalidParams(t *testing.T) {
	p := smallestParams()
	p.FmtIDBits = 2
	if _, err := Init(p, timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, nil); err == nil {
		t.Fatal("expected Init to reject invalid params")
	}
}

func TestInitZeroesThenAppliesInitialFilter(t *testing.T) {
	r, err := Init(smallestParams(), timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := r.GetFilter(); got != ForceEnableAll|^ForceEnableAll {
		t.Fatalf("GetFilter after Init: got %#x", got)
	}
	if got := r.Capacity(); got != 2048 {
		t.Fatalf("Capacity: got %d, want 2048", got)
	}
	if got := r.BufferSize(); got != 2052 {
		t.Fatalf("BufferSize: got %d, want 2052", got)
	}
}

func TestInitReusesBufferWhenFingerprintMatches(t *testing.T) {
	p := smallestParams()
	first, err := Init(p, timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, nil)
	if err != nil {
		t.Fatalf("Init (cold): %v", err)
	}
	first.Msg1(0, 0x100, 0xAAAA_AAAA)
	wantWord := first.Buffer()[0]

	second, err := Init(p, timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, first)
	if err != nil {
		t.Fatalf("Init (reuse): %v", err)
	}
	if second.Buffer()[0] != wantWord {
		t.Fatal("expected buffer contents to survive a reinit with a matching config fingerprint")
	}
}

func TestInitErasesBufferWhenFingerprintChanges(t *testing.T) {
	p := smallestParams()
	first, err := Init(p, timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, nil)
	if err != nil {
		t.Fatalf("Init (cold): %v", err)
	}
	first.Msg1(0, 0x100, 0xAAAA_AAAA)

	p2 := p
	p2.MaxSubpackets = 32
	p2.BufferCapacity = 32 * 20
	second, err := Init(p2, timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, first)
	if err != nil {
		t.Fatalf("Init (new config): %v", err)
	}
	if second.Buffer()[0] != erasedWord {
		t.Fatal("expected buffer to be erased when the config fingerprint changes")
	}
}

func TestInitRestartModeRestoresPriorNonzeroFilter(t *testing.T) {
	p := smallestParams()
	p.Mode = config.ModeRestart

	first, err := Init(p, timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, nil)
	if err != nil {
		t.Fatalf("Init (cold): %v", err)
	}
	first.SetFilter(0x8000_00FF)

	second, err := Init(p, timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, first)
	if err != nil {
		t.Fatalf("Init (reinit, same fingerprint): %v", err)
	}
	if got := second.GetFilter(); got != 0x8000_00FF {
		t.Fatalf("GetFilter after restart-mode reinit: got %#x, want the narrowed filter 0x8000_00ff restored, not the build default", got)
	}
}

func TestInitSingleShotEraseAlwaysErasesOnReinit(t *testing.T) {
	p := smallestParams()
	p.SingleShotCompiled = true
	p.Mode = config.ModeSingleShotErase

	first, err := Init(p, timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, nil)
	if err != nil {
		t.Fatalf("Init (cold): %v", err)
	}
	first.Msg1(0, 0x100, 0xAAAA_AAAA)

	second, err := Init(p, timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, first)
	if err != nil {
		t.Fatalf("Init (reinit, same fingerprint): %v", err)
	}
	if second.Buffer()[0] != erasedWord {
		t.Fatal("expected single-shot+erase mode to re-erase the buffer even when the config fingerprint matches")
	}
}

// SetFilter lockout scenario from spec.md section 8, scenario 4.
func TestSetFilterLockoutScenario(t *testing.T) {
	r, err := Init(smallestParams(), timer.NewCounter(32), 0, binary.LittleEndian, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := r.GetFilter(); got != 0 {
		t.Fatalf("GetFilter after Init(filter=0): got %#x, want 0", got)
	}

	// Locked out: any non-ForceEnableAll value is silenced.
	r.SetFilter(0x0000_0005)
	if got := r.GetFilter(); got != 0 {
		t.Fatalf("GetFilter while locked out: got %#x, want 0", got)
	}

	// ForceEnableAll lifts the lockout.
	r.SetFilter(ForceEnableAll)
	want := ForceEnableAll | ^ForceEnableAll
	if got := r.GetFilter(); got != want {
		t.Fatalf("GetFilter after ForceEnableAll: got %#x, want %#x", got, want)
	}

	// A normal non-zero value now takes effect and is mirrored to the
	// last-nonzero shadow.
	r.SetFilter(0x0000_8001)
	want = 0x0000_8001 | ^ForceEnableAll
	if got := r.GetFilter(); got != want {
		t.Fatalf("GetFilter after explicit mask: got %#x, want %#x", got, want)
	}

	// Zero re-locks, and RestoreFilter brings the last-nonzero value back.
	r.SetFilter(0)
	if got := r.GetFilter(); got != 0 {
		t.Fatalf("GetFilter after explicit zero: got %#x, want 0", got)
	}
	r.RestoreFilter()
	if got := r.GetFilter(); got != want {
		t.Fatalf("GetFilter after RestoreFilter: got %#x, want %#x", got, want)
	}
}

func TestMsg0EmitsFMTOnlySubpacket(t *testing.T) {
	r, err := Init(smallestParams(), timer.Fixed{Value: 0x1234, Bits: 32}, ForceEnableAll, binary.LittleEndian, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	ok, err := r.Msg0(5, 0x100)
	if err != nil || !ok {
		t.Fatalf("Msg0: ok=%v err=%v", ok, err)
	}
	word := r.Buffer()[0]
	if word&1 != 1 {
		t.Fatalf("commit bit not set: %#x", word)
	}
	kw := pack.KeyWidth(r.Params().FmtIDBits)
	key := pack.Key(word >> uint(32-kw))
	if got := key.FilterNumber(r.Params().FmtIDBits); got != 5 {
		t.Fatalf("filter number: got %d, want 5", got)
	}
	if got := key.FormatID(r.Params().FmtIDBits); got != 0x100 {
		t.Fatalf("format ID: got %#x, want 0x100", got)
	}
}

func TestMsg1GatedByFilterLockout(t *testing.T) {
	r, err := Init(smallestParams(), timer.NewCounter(32), 0, binary.LittleEndian, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	ok, err := r.Msg1(1, 0x040, 42)
	if err != nil {
		t.Fatalf("Msg1: %v", err)
	}
	if ok {
		t.Fatal("expected Msg1 to be gated out while the filter mask is locked out")
	}
}

func TestMsgExtRejectsReservedFormatIDBits(t *testing.T) {
	p := smallestParams()
	p.ExtendedDataBits = 2
	r, err := Init(p, timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	_, err = r.MsgExt(0, 0x101, 0x3, []uint32{1})
	if err == nil {
		t.Fatal("expected MsgExt to reject a format ID with reserved low bits set")
	}
	if !errors.Is(err, ErrBadFormatID) {
		t.Fatalf("expected error to wrap ErrBadFormatID, got %v", err)
	}
	ok, err := r.MsgExt(0, 0x100, 0x3, []uint32{1})
	if err != nil || !ok {
		t.Fatalf("MsgExt: ok=%v err=%v", ok, err)
	}
}

func TestMsgBlobAlignedDropsOversizeByDefault(t *testing.T) {
	p := smallestParams()
	r, err := Init(p, timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	data := make([]byte, r.Params().MaxMessageBytes()+1)
	ok, err := r.MsgBlobAligned(0, 0x040, data)
	if err != ErrOversize {
		t.Fatalf("expected ErrOversize, got %v", err)
	}
	if ok {
		t.Fatal("expected oversize blob to be refused")
	}
}

func TestMsgBlobAlignedTruncatesWhenConfigured(t *testing.T) {
	p := smallestParams()
	p.OversizeTruncate = true
	r, err := Init(p, timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	data := make([]byte, r.Params().MaxMessageBytes()+16)
	ok, err := r.MsgBlobAligned(0, 0x040, data)
	if err != nil || !ok {
		t.Fatalf("MsgBlobAligned: ok=%v err=%v", ok, err)
	}
}

func TestMsgBlobBytesEmbedsLength(t *testing.T) {
	r, err := Init(smallestParams(), timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	ok, err := r.MsgBlobBytes(0, 0x040, []byte{1, 2, 3, 4, 5, 6, 7})
	if err != nil || !ok {
		t.Fatalf("MsgBlobBytes: ok=%v err=%v", ok, err)
	}
}

func TestStringDropsTrailingNulOnWordBoundary(t *testing.T) {
	r, err := Init(smallestParams(), timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	ok, err := r.String(0, 0x040, []byte("abcd\x00"))
	if err != nil || !ok {
		t.Fatalf("String: ok=%v err=%v", ok, err)
	}
	// "abcd" fills one DATA word exactly; with the NUL dropped the message
	// is that word plus its FMT word.
	if got := r.WriteIndex(); got != 2 {
		t.Fatalf("WriteIndex after String: got %d, want 2", got)
	}
}

func TestAnnounceTimestampFrequencyIsNotIdempotent(t *testing.T) {
	r, err := Init(smallestParams(), timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	before := r.GetFilter()
	r.AnnounceTimestampFrequency(16_000_000)
	r.AnnounceTimestampFrequency(16_000_000)
	if r.TimestampHz() != 16_000_000 {
		t.Fatalf("TimestampHz: got %d, want 16000000", r.TimestampHz())
	}
	// Each announcement is one msg1 subpacket (one DATA word + FMT word).
	if got := r.WriteIndex(); got != 4 {
		t.Fatalf("WriteIndex after two announcements: got %d, want 4", got)
	}
	if r.GetFilter() != before {
		t.Fatal("AnnounceTimestampFrequency must not disturb the filter mask")
	}
}

func TestAdvanceLongTimestampRestartEmitsMarker(t *testing.T) {
	r, err := Init(smallestParams(), timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	r.AdvanceLongTimestamp(true)

	kw := pack.KeyWidth(r.Params().FmtIDBits)
	buf := r.Buffer()
	found := false
	for i := 1; i < len(buf); i++ {
		fmtWord := buf[i]
		if fmtWord&1 != 1 || uint32(fmtWord)>>uint(32-kw) != 0 {
			continue
		}
		_, _, harvested := pack.SplitFMTWord(fmtWord, 1, r.Params().FmtIDBits)
		if pack.Unpack([]uint32{buf[i-1]}, harvested)[0] == timer.RestartMarker {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("expected the LONG_TIMESTAMP system message to carry the restart marker")
	}
}

// Concurrent producers must never receive overlapping reservations, even
// under contention. Every msg1 subpacket tags a distinctive key (filter 0,
// format 0x100) whose bits occupy the top of the FMT word, a pattern small
// integer data payloads can never coincidentally match; bits-and-blooms/bitset
// records each such FMT word's slot while the buffer is walked, and the
// count of them must equal producers*perProducer, since a slot handed to
// two producers would have lost at least one FMT word to an overwrite.
func TestConcurrentMsg1ReservationsDoNotOverlap(t *testing.T) {
	p := smallestParams()
	p.BufferCapacity = 1 << 16
	r, err := Init(p, timer.NewCounter(32), ForceEnableAll, binary.LittleEndian, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	const producers = 16
	const perProducer = 100
	var wg sync.WaitGroup

	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				ok, err := r.Msg1(0, 0x100, uint32(n*perProducer+j))
				if err != nil {
					t.Error(err)
					return
				}
				if !ok {
					t.Error("unexpected gated-out reservation with all filters enabled")
					return
				}
			}
		}(i)
	}
	wg.Wait()

	kw := pack.KeyWidth(r.Params().FmtIDBits)
	const wantKey = 0x100 // filter 0, format 0x100
	slots := bitset.New(uint(r.BufferSize()))
	count := 0
	for i, w := range r.Buffer() {
		if w&1 != 1 {
			continue
		}
		if uint32(w)>>uint(32-kw) != wantKey {
			continue
		}
		if slots.Test(uint(i)) {
			t.Fatalf("FMT word at slot %d reserved by more than one producer", i)
		}
		slots.Set(uint(i))
		count++
	}
	if count != producers*perProducer {
		t.Fatalf("found %d msg1 subpackets, want %d", count, producers*perProducer)
	}
}
