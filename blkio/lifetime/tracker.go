// Package lifetime implements the Lifetime Tracker: it threads each
// block request across the Q(ueue) -> G(etRQ) -> I(nsert) -> D(ispatch)
// -> C(omplete) state graph (plus A-remap, R-requeue, X-split, Y-join),
// keyed on (device, sector), and reports the allocation-wait,
// dispatch-wait, and completion-wait intervals as each request reaches
// its next state.
//
// Grounded on perfsession.Session (aclements-go-perf/perfsession/session.go):
// the ensure-or-create-on-first-reference pattern (ensurePID), and the
// split/shrink/merge arithmetic in PIDInfo.munmap, which this package's
// FrontMerge handling reuses the shape of (locate the overlapping
// region, rewrite its bounds, reinsert) for re-keying a track by sector.
package lifetime

import (
	"fmt"

	"github.com/sdsc/blktrace/blkio"
)

// Unknown is the sentinel elapsed value for an action whose interval is
// not one of q->i, q->d (i->d), or d->c, per SPEC_FULL.md §4.6.
const Unknown uint64 = ^uint64(0)

type key struct {
	device blkio.Device
	sector uint64
}

// RemapTarget records the downstream (device, sector) a request was
// remapped to, a breadcrumb for stitching a multi-device I/O path back
// together (see SPEC_FULL.md §4.4, grounded on
// original_source/btt/trace_remap.c).
type RemapTarget struct {
	Device blkio.Device
	Sector uint64
}

// Track is one live RequestTrack: at most one exists per (device,
// sector) at any time.
type Track struct {
	Device    blkio.Device
	Sector    uint64
	PID       uint32
	Direction blkio.Direction
	Bytes     uint32

	// Zero means "not yet set". Times are genesis-adjusted nanoseconds,
	// as produced by the merger.
	AllocTime      uint64
	QueueTime      uint64
	DispatchTime   uint64
	CompletionTime uint64

	RemappedTo *RemapTarget
}

func (t *Track) hasAlloc() bool      { return t.AllocTime != 0 }
func (t *Track) hasQueue() bool      { return t.QueueTime != 0 }
func (t *Track) hasDispatch() bool   { return t.DispatchTime != 0 }
func (t *Track) hasCompletion() bool { return t.CompletionTime != 0 }

// Tracker is the ordered map of live tracks, keyed on (device, sector).
type Tracker struct {
	tracks       map[key]*Track
	onDiagnostic func(blkio.Diagnostic)
	graph        *graph
}

func New(onDiagnostic func(blkio.Diagnostic)) *Tracker {
	if onDiagnostic == nil {
		onDiagnostic = func(blkio.Diagnostic) {}
	}
	return &Tracker{
		tracks:       make(map[key]*Track),
		onDiagnostic: onDiagnostic,
	}
}

// WithGraph enables the extended dependency-graph variant of §4.4
// alongside the fast-path track map (the graph is diagnostic/traversal
// machinery on top of the same events, not a replacement data path).
func (t *Tracker) WithGraph(enabled bool) {
	if enabled && t.graph == nil {
		t.graph = newGraph()
	} else if !enabled {
		t.graph = nil
	}
}

func (t *Tracker) lookup(d blkio.Device, sector uint64) *Track {
	return t.tracks[key{d, sector}]
}

func (t *Tracker) ensure(rec *blkio.Record) *Track {
	k := key{rec.Device, rec.Sector}
	tr, ok := t.tracks[k]
	if !ok {
		tr = &Track{
			Device:    rec.Device,
			Sector:    rec.Sector,
			PID:       rec.PID,
			Direction: rec.Action.Direction(),
			Bytes:     rec.Bytes,
		}
		t.tracks[k] = tr
	}
	return tr
}

func (t *Tracker) erase(tr *Track) {
	delete(t.tracks, key{tr.Device, tr.Sector})
}

func (t *Tracker) diag(kind blkio.DiagnosticKind, rec *blkio.Record, detail string) {
	t.onDiagnostic(blkio.Diagnostic{
		Kind: kind, Device: rec.Device, Sequence: rec.Sequence,
		Sector: rec.Sector, CPU: rec.CPU, Detail: detail,
	})
}

// Result carries the four RequestTrack latencies this tracker computes
// (q->i, i->d, d->c, q->c), as produced by a single Process call.
// A field holds Unknown when that action didn't produce it.
type Result struct {
	Q2I uint64
	I2D uint64
	D2C uint64
	Q2C uint64
}

func unknownResult() Result {
	return Result{Q2I: Unknown, I2D: Unknown, D2C: Unknown, Q2C: Unknown}
}

// Process dispatches rec by action code, per SPEC_FULL.md §4.4's action
// table, and returns whichever of q->i, i->d, d->c, q->c it produced
// (Unknown in the fields that don't apply).
func (t *Tracker) Process(rec *blkio.Record) Result {
	if t.graph != nil {
		t.graph.observe(rec)
	}

	res := unknownResult()

	switch rec.Action.Code() {
	case blkio.ActionGetRQ:
		tr := t.ensure(rec)
		tr.AllocTime = rec.Time

	case blkio.ActionInsert:
		tr := t.ensure(rec)
		tr.QueueTime = rec.Time
		if tr.hasAlloc() {
			res.Q2I = rec.Time - tr.AllocTime
		}

	case blkio.ActionFrontMerge:
		t.frontMerge(rec)

	case blkio.ActionIssue:
		if rec.Action.Category()&blkio.CategoryFS == 0 {
			// Passthrough/PC issues skip the lookup entirely.
			break
		}
		tr := t.lookup(rec.Device, rec.Sector)
		if tr == nil {
			break
		}
		tr.DispatchTime = rec.Time
		if tr.hasQueue() {
			res.I2D = rec.Time - tr.QueueTime
		}

	case blkio.ActionComplete:
		if rec.Action.Category()&blkio.CategoryFS == 0 {
			break
		}
		tr := t.lookup(rec.Device, rec.Sector)
		if tr == nil {
			t.diag(blkio.DiagOrphanComplete, rec, "no prior issue for this track")
			break
		}
		tr.CompletionTime = rec.Time
		if tr.hasDispatch() {
			res.D2C = rec.Time - tr.DispatchTime
		}
		if tr.hasQueue() {
			res.Q2C = rec.Time - tr.QueueTime
		}
		t.erase(tr)

	case blkio.ActionRequeue:
		t.requeue(rec)

	case blkio.ActionRemap:
		t.remap(rec)

	case blkio.ActionQueue, blkio.ActionSleepRQ, blkio.ActionPlug,
		blkio.ActionBackMerge, blkio.ActionUnplugIO, blkio.ActionUnplugTimer,
		blkio.ActionSplit, blkio.ActionBounce, blkio.ActionAbort:

	default:
	}

	return res
}

// frontMerge locates the existing track whose sector range begins where
// rec ends (sector + bytes/512 == the track's current key), re-keys
// it by moving its sector back by the merged length (bytes/512), and
// reinserts it — the same locate/rewrite/reinsert shape as
// perfsession.PIDInfo.munmap's mmap-splitting, applied here to a single
// track's key instead of a list of mappings.
func (t *Tracker) frontMerge(rec *blkio.Record) {
	precursorSector := rec.Sector + rec.Bytes/512
	oldKey := key{rec.Device, precursorSector}
	tr, ok := t.tracks[oldKey]
	if !ok {
		t.diag(blkio.DiagOrphanMerge, rec, "no precursor track to front-merge into")
		return
	}
	delete(t.tracks, oldKey)
	tr.Sector = rec.Sector
	tr.Bytes += rec.Bytes
	newKey := key{tr.Device, tr.Sector}
	if existing, collide := t.tracks[newKey]; collide && existing != tr {
		t.diag(blkio.DiagSectorAlias, rec, "front-merge target collides with a live track")
	}
	t.tracks[newKey] = tr
}

// requeue implements the policy chosen in SPEC_FULL.md §4.4 to resolve
// spec.md's open question: a requeued request is rolled back to
// allocated-but-unqueued. The caller's accounting layer is responsible
// for decrementing the completed-byte counter; Tracker only owns
// timestamps.
func (t *Tracker) requeue(rec *blkio.Record) {
	tr := t.lookup(rec.Device, rec.Sector)
	if tr == nil {
		return
	}
	tr.QueueTime = 0
	tr.DispatchTime = 0
}

func (t *Tracker) remap(rec *blkio.Record) {
	tr := t.lookup(rec.Device, rec.Sector)
	if tr == nil {
		return
	}
	target, ok := decodeRemapPDU(rec.PDU)
	if !ok {
		return
	}
	tr.RemappedTo = &target
}

// decodeRemapPDU parses the remap PDU (downstream device, sector),
// matching struct blk_io_trace_remap from the original format.
func decodeRemapPDU(pdu []byte) (RemapTarget, bool) {
	if len(pdu) < 16 {
		return RemapTarget{}, false
	}
	// device_from, device_to, sector_from are always big-endian on the
	// wire (original_source/btt/trace_remap.c's be32_to_cpu/be64_to_cpu
	// are unconditional), unlike the rest of a trace record, whose
	// byte order follows the stream's detected endianness. There's no
	// corresponding encoder: this tracker only ever consumes remap
	// PDUs from a decoded stream, never produces them.
	deviceTo := blkio.Device(be32(pdu[4:8]))
	sectorFrom := be64(pdu[8:16])
	return RemapTarget{Device: deviceTo, Sector: sectorFrom}, true
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func be64(b []byte) uint64 {
	return uint64(be32(b[0:4]))<<32 | uint64(be32(b[4:8]))
}

// Live returns the number of currently-outstanding tracks, bounded in
// practice by the kernel's in-flight request limit (SPEC_FULL.md §4.4
// invariant 2).
func (t *Tracker) Live() int { return len(t.tracks) }

func (k key) String() string {
	return fmt.Sprintf("(%s,%d)", k.device, k.sector)
}
