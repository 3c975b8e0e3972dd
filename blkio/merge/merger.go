// Package merge implements the Time-Ordered Merger: an ordered
// structure keyed by (time, device, sequence) that holds records until
// they can be safely emitted in non-decreasing time order, with
// sequence-gap detection and, in pipe mode, a bounded reorder window.
//
// Grounded on perffile.File.Records(RecordsTimeOrder)
// (aclements-go-perf/perffile/reader.go), which sorts a whole file by
// timestamp in one pass; this package generalizes that to a streaming,
// multi-device variant that can also emit incrementally as pipe-mode
// batches arrive, per SPEC_FULL.md §4.3.
package merge

import (
	"sort"
	"strconv"

	"github.com/sdsc/blktrace/blkio"
)

// SkipThreshold is the number of consecutive batches a pipe-mode record
// may be held waiting for a missing predecessor sequence before it is
// force-emitted and the gap is logged as permanently skipped.
const SkipThreshold = 5

type entry struct {
	rec     *blkio.Record
	skipped int
}

// deviceState tracks per-device emission bookkeeping.
type deviceState struct {
	haveLastSeq  bool
	lastSeq      uint32
	haveLastTime bool
	lastTime     uint64
	skips        int
	backwards    bool
}

// Merger orders records by (time, device, sequence) and tracks, per
// device, the last emitted sequence number (for gap detection) and the
// last emitted time (for the backwards diagnostic).
type Merger struct {
	entries []*entry
	devices map[blkio.Device]*deviceState

	genesis    uint64
	haveGenesis bool
	genesisLocked bool

	stopwatchEnabled     bool
	stopwatchStartNanos  uint64
	stopwatchEndNanos    uint64

	onDiagnostic func(blkio.Diagnostic)

	// keys already seen, for exact-duplicate (sequence alias) detection.
	seen map[seenKey]bool
}

type seenKey struct {
	time     uint64
	device   blkio.Device
	sequence uint32
}

func New(onDiagnostic func(blkio.Diagnostic)) *Merger {
	if onDiagnostic == nil {
		onDiagnostic = func(blkio.Diagnostic) {}
	}
	return &Merger{
		devices:      make(map[blkio.Device]*deviceState),
		onDiagnostic: onDiagnostic,
		seen:         make(map[seenKey]bool),
	}
}

// SetStopwatch configures the optional [startSeconds, endSeconds]
// filter, applied after genesis subtraction; either side may be
// disabled by passing a negative value.
func (m *Merger) SetStopwatch(startSeconds, endSeconds float64) {
	m.stopwatchEnabled = true
	if startSeconds >= 0 {
		m.stopwatchStartNanos = uint64(startSeconds * 1e9)
	}
	if endSeconds >= 0 {
		m.stopwatchEndNanos = uint64(endSeconds * 1e9)
	} else {
		m.stopwatchEndNanos = ^uint64(0)
	}
}

func (m *Merger) deviceState(d blkio.Device) *deviceState {
	ds, ok := m.devices[d]
	if !ok {
		ds = &deviceState{}
		m.devices[d] = ds
	}
	return ds
}

// Insert adds a record to the merger without emitting anything. Used in
// file mode, where every record from every file is inserted before a
// single final Drain.
func (m *Merger) Insert(rec *blkio.Record) {
	if m.insertLocked(rec) && !m.genesisLocked {
		if !m.haveGenesis || rec.Time < m.genesis {
			m.genesis, m.haveGenesis = rec.Time, true
		}
	}
}

// insertLocked performs the sorted insert and sequence-alias dedupe,
// returning true if the record was actually added.
func (m *Merger) insertLocked(rec *blkio.Record) bool {
	key := seenKey{rec.Time, rec.Device, rec.Sequence}
	if m.seen[key] {
		m.onDiagnostic(blkio.Diagnostic{
			Kind: blkio.DiagSequenceAlias, Device: rec.Device,
			Sequence: rec.Sequence, CPU: rec.CPU,
			Detail: "duplicate (time, device, sequence); dropped",
		})
		return false
	}
	m.seen[key] = true

	e := &entry{rec: rec}
	i := sort.Search(len(m.entries), func(i int) bool {
		return less(e, m.entries[i])
	})
	m.entries = append(m.entries, nil)
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = e
	return true
}

func less(a, b *entry) bool {
	if a.rec.Time != b.rec.Time {
		return a.rec.Time < b.rec.Time
	}
	if a.rec.Device != b.rec.Device {
		return a.rec.Device < b.rec.Device
	}
	return a.rec.Sequence < b.rec.Sequence
}

// LockGenesis freezes the genesis time. File mode calls this once all
// records have been inserted; pipe mode calls it after the first batch,
// since in practice that batch's minimum time is close enough to the
// true global minimum (see SPEC_FULL.md §4.3).
func (m *Merger) LockGenesis() {
	m.genesisLocked = true
}

// Drain emits every inserted record, in order, applying gap and
// backwards diagnostics but no reorder-window holding (file mode has
// nothing left to arrive). Call after all Insert calls and exactly
// once.
func (m *Merger) Drain() []*blkio.Record {
	m.LockGenesis()
	out := make([]*blkio.Record, 0, len(m.entries))
	for _, e := range m.entries {
		if m.emitBookkeeping(e.rec) {
			out = append(out, e.rec)
		}
	}
	m.entries = nil
	return out
}

// Step inserts a batch of records (pipe mode) and returns the subset
// that can now be safely emitted in global (time, device, sequence)
// order. It walks the held entries in that order and emits each in
// turn; the moment it reaches an entry whose device sequence has a gap
// and that hasn't yet been held across SkipThreshold consecutive Step
// calls, it stalls: that entry and everything after it in global order
// stays held, even if a later entry's own device has no gap. This
// matches show_entries_rb's pipe-mode behavior
// (original_source/blkparse.c): it always advances from rb_first and
// breaks the whole pass on the first not-ready node rather than
// skipping ahead to a later, ready one. A gap held past SkipThreshold
// is forced through (and logged as a permanent skip) exactly like the
// non-piped branch there.
func (m *Merger) Step(batch []*blkio.Record) []*blkio.Record {
	for _, rec := range batch {
		m.Insert(rec)
	}
	if !m.genesisLocked {
		m.LockGenesis()
	}

	var out []*blkio.Record
	i := 0
	for ; i < len(m.entries); i++ {
		e := m.entries[i]
		ds := m.deviceState(e.rec.Device)
		ready := !ds.haveLastSeq || e.rec.Sequence == ds.lastSeq+1
		if !ready && e.skipped < SkipThreshold {
			e.skipped++
			break
		}
		if m.emitBookkeeping(e.rec) {
			out = append(out, e.rec)
		}
	}
	m.entries = m.entries[i:]

	return out
}

// emitBookkeeping updates per-device sequence/time diagnostics for a
// record about to be emitted, and reports whether it survives the
// stopwatch filter. It returns false for a record dropped by the
// stopwatch (still fully accounted for gap/backwards purposes: the
// stopwatch is a downstream display filter, not a reordering concern).
func (m *Merger) emitBookkeeping(rec *blkio.Record) bool {
	ds := m.deviceState(rec.Device)

	if ds.haveLastSeq && rec.Sequence != ds.lastSeq+1 {
		ds.skips++
		m.onDiagnostic(blkio.Diagnostic{
			Kind: blkio.DiagSkip, Device: rec.Device, Sequence: rec.Sequence,
			CPU: rec.CPU,
			Detail: "skipping from " + strconv.FormatUint(uint64(ds.lastSeq+1), 10) + " to " + strconv.FormatUint(uint64(rec.Sequence-1), 10),
		})
	}
	ds.haveLastSeq, ds.lastSeq = true, rec.Sequence

	adjusted := rec.Time - m.genesis
	if ds.haveLastTime && adjusted < ds.lastTime {
		ds.backwards = true
		m.onDiagnostic(blkio.Diagnostic{
			Kind: blkio.DiagBackwards, Device: rec.Device, Sequence: rec.Sequence,
			CPU: rec.CPU,
		})
	}
	ds.haveLastTime, ds.lastTime = true, adjusted
	rec.Time = adjusted

	if m.stopwatchEnabled && (adjusted < m.stopwatchStartNanos || adjusted > m.stopwatchEndNanos) {
		return false
	}
	return true
}

// Skips returns the accumulated sequence-gap count for a device.
func (m *Merger) Skips(d blkio.Device) int {
	if ds, ok := m.devices[d]; ok {
		return ds.skips
	}
	return 0
}

// Backwards reports whether a device's emitted time has ever regressed.
func (m *Merger) Backwards(d blkio.Device) bool {
	if ds, ok := m.devices[d]; ok {
		return ds.backwards
	}
	return false
}
