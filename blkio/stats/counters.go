// Package stats implements the Accounting Layer: three parallel
// collectors (per-CPU, per-device, per-process) of additive counters,
// plus the latency summaries (q2q, q2i, i2d, d2c, q2c) reported at the
// end of a run.
//
// Grounded on original_source/btt/output.c's per-device/per-process
// counter bookkeeping, generalized from that tool's two-pass (read
// everything, then compute) model to an incrementally-updated counter
// set fed one record at a time; the latency summaries use
// github.com/aclements/go-moremath/stats.Sample for the mean of the
// buffered samples at report time, in place of a hand-rolled
// running-sum average.
package stats

import "github.com/sdsc/blktrace/blkio"

// dirCounters holds the counters that are tracked separately per
// direction (read/write).
type dirCounters struct {
	Queued, Completed, Merged, Issued uint64
	// Byte totals in 1-KiB units (SPEC_FULL.md §4.5); signed because
	// Requeue is the one permitted non-monotone (decrementing) update.
	QueuedKB, CompletedKB, MergedKB, IssuedKB int64
}

func (d *dirCounters) observe(field *uint64, kb *int64, bytes uint32) {
	*field++
	*kb += int64(bytes >> 10)
}

// counters is the common counter set shared by PerCPUStats,
// PerDeviceStats, and PerProcessStats.
type counters struct {
	Read, Write        dirCounters
	UnplugIO, UnplugTimer uint64
	Splits, Bounces      uint64
	TotalEvents          uint64
	Skips                uint64
}

func (c *counters) dir(d blkio.Direction) *dirCounters {
	if d == blkio.DirectionWrite {
		return &c.Write
	}
	return &c.Read
}

// recordQueue counts a Queue event in TotalEvents. Collector.Observe
// updates the per-direction Queued/QueuedKB counters alongside it, and
// tracks the q2q inter-arrival gap itself.
func (c *counters) recordQueue() { c.TotalEvents++ }

func (c *counters) recordIssue(d blkio.Direction, bytes uint32) {
	dc := c.dir(d)
	dc.observe(&dc.Issued, &dc.IssuedKB, bytes)
	c.TotalEvents++
}

func (c *counters) recordComplete(d blkio.Direction, bytes uint32) {
	dc := c.dir(d)
	dc.observe(&dc.Completed, &dc.CompletedKB, bytes)
	c.TotalEvents++
}

func (c *counters) recordMerge(d blkio.Direction, bytes uint32) {
	dc := c.dir(d)
	dc.observe(&dc.Merged, &dc.MergedKB, bytes)
	c.TotalEvents++
}

// recordRequeue re-credits the completed-byte counter: the only
// non-monotone update in the accounting layer.
func (c *counters) recordRequeue(d blkio.Direction, bytes uint32) {
	dc := c.dir(d)
	dc.CompletedKB -= int64(bytes >> 10)
	c.TotalEvents++
}

// Latency is a min/mean/max/n running summary of an interval, sampled
// one elapsed-nanosecond observation at a time (q2q, q2i, i2d, d2c,
// q2c). The running extremes and count are kept incrementally;
// Mean() computes over the buffered raw samples via
// go-moremath/stats.Sample so the summary matches what a one-shot batch
// computation over the same data would produce.
type Latency struct {
	min, max uint64
	n        uint64
	haveAny  bool
	samples  []float64
}

func (l *Latency) Observe(ns uint64) {
	if !l.haveAny || ns < l.min {
		l.min = ns
	}
	if !l.haveAny || ns > l.max {
		l.max = ns
	}
	l.haveAny = true
	l.n++
	l.samples = append(l.samples, float64(ns))
}

func (l *Latency) Min() uint64 { return l.min }
func (l *Latency) Max() uint64 { return l.max }
func (l *Latency) N() uint64   { return l.n }

// Mean returns the arithmetic mean of all observed samples, or 0 if
// none have been observed.
func (l *Latency) Mean() float64 {
	if len(l.samples) == 0 {
		return 0
	}
	return meanOf(l.samples)
}

// longestWaitTrio tracks the three per-process "longest wait" maxima
// spec.md §4.5 calls for, one per direction.
type longestWaitTrio struct {
	AllocWait      [2]uint64 // indexed by direction-1 (read=0, write=1)
	DispatchWait   [2]uint64
	CompletionWait [2]uint64
}

func dirIndex(d blkio.Direction) int {
	if d == blkio.DirectionWrite {
		return 1
	}
	return 0
}

func (t *longestWaitTrio) observeAlloc(d blkio.Direction, ns uint64) {
	if i := dirIndex(d); ns > t.AllocWait[i] {
		t.AllocWait[i] = ns
	}
}

func (t *longestWaitTrio) observeDispatch(d blkio.Direction, ns uint64) {
	if i := dirIndex(d); ns > t.DispatchWait[i] {
		t.DispatchWait[i] = ns
	}
}

func (t *longestWaitTrio) observeCompletion(d blkio.Direction, ns uint64) {
	if i := dirIndex(d); ns > t.CompletionWait[i] {
		t.CompletionWait[i] = ns
	}
}
