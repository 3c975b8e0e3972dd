package stats

import (
	"github.com/sdsc/blktrace/blkio"
	"github.com/sdsc/blktrace/blkio/lifetime"
)

// PerCPUStats is the counter set for one (device, CPU) pair.
type PerCPUStats struct {
	Device blkio.Device
	CPU    uint32
	counters
}

// PerDeviceStats is the union of all CPUs observed for a device, plus
// the skip count surfaced by the merger.
type PerDeviceStats struct {
	Device blkio.Device
	counters
	Q2Q, Q2I, I2D, D2C, Q2C Latency
}

// PerProcessStats is keyed by PID, with the comm string retained as a
// display label and the longest-wait trio alongside the shared counters.
type PerProcessStats struct {
	PID  uint32
	Comm string
	counters
	Waits longestWaitTrio
}

type cpuKey struct {
	device blkio.Device
	cpu    uint32
}

// Collector owns the three parallel stat tables and is fed one record
// (plus its Lifetime Tracker elapsed interval, when tracking is
// enabled) at a time.
type Collector struct {
	perCPU     map[cpuKey]*PerCPUStats
	perDevice  map[blkio.Device]*PerDeviceStats
	perProcess map[uint32]*PerProcessStats

	lastQueueTime map[blkio.Device]uint64
}

func New() *Collector {
	return &Collector{
		perCPU:     make(map[cpuKey]*PerCPUStats),
		perDevice:  make(map[blkio.Device]*PerDeviceStats),
		perProcess: make(map[uint32]*PerProcessStats),
	}
}

func (c *Collector) cpu(dev blkio.Device, cpu uint32) *PerCPUStats {
	k := cpuKey{dev, cpu}
	s, ok := c.perCPU[k]
	if !ok {
		s = &PerCPUStats{Device: dev, CPU: cpu}
		c.perCPU[k] = s
	}
	return s
}

func (c *Collector) device(dev blkio.Device) *PerDeviceStats {
	s, ok := c.perDevice[dev]
	if !ok {
		s = &PerDeviceStats{Device: dev}
		c.perDevice[dev] = s
	}
	return s
}

func (c *Collector) process(pid uint32, comm string) *PerProcessStats {
	s, ok := c.perProcess[pid]
	if !ok {
		s = &PerProcessStats{PID: pid, Comm: comm}
		c.perProcess[pid] = s
	}
	if comm != "" {
		s.Comm = comm
	}
	return s
}

// Observe updates all three collectors for one record. res is the
// Lifetime Tracker's output for this record; pass a lifetime.Result
// with every field set to lifetime.Unknown when tracking is
// disabled — the counters still update, only the latency and
// longest-wait fields are skipped.
func (c *Collector) Observe(rec *blkio.Record, res lifetime.Result) {
	cpuS := c.cpu(rec.Device, rec.CPU)
	devS := c.device(rec.Device)
	procS := c.process(rec.PID, rec.Comm)

	dir := rec.Action.Direction()
	code := rec.Action.Code()

	for _, cs := range [...]*counters{&cpuS.counters, &devS.counters, &procS.counters} {
		switch code {
		case blkio.ActionQueue:
			dc := cs.dir(dir)
			dc.observe(&dc.Queued, &dc.QueuedKB, rec.Bytes)
			cs.recordQueue()
		case blkio.ActionIssue:
			if rec.Action.Category()&blkio.CategoryFS != 0 {
				cs.recordIssue(dir, rec.Bytes)
			} else {
				cs.TotalEvents++
			}
		case blkio.ActionComplete:
			if rec.Action.Category()&blkio.CategoryFS != 0 {
				cs.recordComplete(dir, rec.Bytes)
			} else {
				cs.TotalEvents++
			}
		case blkio.ActionBackMerge, blkio.ActionFrontMerge:
			cs.recordMerge(dir, rec.Bytes)
		case blkio.ActionRequeue:
			cs.recordRequeue(dir, rec.Bytes)
		case blkio.ActionUnplugIO:
			cs.UnplugIO++
			cs.TotalEvents++
		case blkio.ActionUnplugTimer:
			cs.UnplugTimer++
			cs.TotalEvents++
		case blkio.ActionSplit:
			cs.Splits++
			cs.TotalEvents++
		case blkio.ActionBounce:
			cs.Bounces++
			cs.TotalEvents++
		default:
			cs.TotalEvents++
		}
	}

	// Q2Q is the Queue-event inter-arrival gap, tracked per device
	// independently of the Lifetime Tracker (spec.md §4.4: "update q2q
	// inter-arrival average" happens at Queue, which doesn't touch a
	// RequestTrack at all).
	if code == blkio.ActionQueue {
		if last, ok := c.lastQueueTime[rec.Device]; ok && rec.Time >= last {
			devS.Q2Q.Observe(rec.Time - last)
		}
		if c.lastQueueTime == nil {
			c.lastQueueTime = make(map[blkio.Device]uint64)
		}
		c.lastQueueTime[rec.Device] = rec.Time
	}

	if res.Q2I != lifetime.Unknown {
		devS.Q2I.Observe(res.Q2I)
		procS.Waits.observeAlloc(dir, res.Q2I)
	}
	if res.I2D != lifetime.Unknown {
		devS.I2D.Observe(res.I2D)
		procS.Waits.observeDispatch(dir, res.I2D)
	}
	if res.D2C != lifetime.Unknown {
		devS.D2C.Observe(res.D2C)
		procS.Waits.observeCompletion(dir, res.D2C)
	}
	if res.Q2C != lifetime.Unknown {
		devS.Q2C.Observe(res.Q2C)
	}
}

// SetSkips copies the merger's final per-device skip count into the
// accounting layer's per-device table, for the aggregate report.
func (c *Collector) SetSkips(dev blkio.Device, skips int) {
	c.device(dev).Skips = uint64(skips)
}

// Devices returns the per-device stats, sorted by device number.
func (c *Collector) Devices() []*PerDeviceStats {
	out := make([]*PerDeviceStats, 0, len(c.perDevice))
	for _, s := range c.perDevice {
		out = append(out, s)
	}
	sortByDevice(out)
	return out
}

// Processes returns the per-process stats sorted by comm-name using a
// natural (digit-run-numeric) comparison, ties broken by PID.
func (c *Collector) Processes() []*PerProcessStats {
	out := make([]*PerProcessStats, 0, len(c.perProcess))
	for _, s := range c.perProcess {
		out = append(out, s)
	}
	sortProcesses(out)
	return out
}
