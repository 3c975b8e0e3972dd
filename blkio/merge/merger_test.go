package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdsc/blktrace/blkio"
)

func rec(seq uint32, t uint64, dev blkio.Device) *blkio.Record {
	return &blkio.Record{Sequence: seq, Time: t, Device: dev}
}

func TestDrainOrdersByTimeDeviceSequence(t *testing.T) {
	m := New(nil)
	dev := blkio.MakeDevice(8, 0)
	m.Insert(rec(1, 200, dev))
	m.Insert(rec(2, 100, dev))
	out := m.Drain()
	require.Len(t, out, 2)
	assert.Equal(t, uint32(2), out[0].Sequence)
	assert.Equal(t, uint32(1), out[1].Sequence)
}

func TestGapOfOneProducesNoSkip(t *testing.T) {
	m := New(nil)
	dev := blkio.MakeDevice(8, 0)
	m.Insert(rec(1, 100, dev))
	m.Insert(rec(2, 200, dev))
	m.Drain()
	assert.Equal(t, 0, m.Skips(dev))
}

func TestGapOfTwoProducesOneSkip(t *testing.T) {
	var diags []blkio.Diagnostic
	m := New(func(d blkio.Diagnostic) { diags = append(diags, d) })
	dev := blkio.MakeDevice(8, 0)
	m.Insert(rec(1, 100, dev))
	m.Insert(rec(3, 200, dev))
	m.Drain()
	assert.Equal(t, 1, m.Skips(dev))

	var sawSkip bool
	for _, d := range diags {
		if d.Kind == blkio.DiagSkip {
			sawSkip = true
		}
	}
	assert.True(t, sawSkip)
}

func TestSequenceAliasDropsDuplicate(t *testing.T) {
	var diags []blkio.Diagnostic
	m := New(func(d blkio.Diagnostic) { diags = append(diags, d) })
	dev := blkio.MakeDevice(8, 0)
	m.Insert(rec(1, 100, dev))
	m.Insert(rec(1, 100, dev)) // exact duplicate key
	out := m.Drain()
	require.Len(t, out, 1)
	assert.Equal(t, 0, m.Skips(dev))

	require.Len(t, diags, 1)
	assert.Equal(t, blkio.DiagSequenceAlias, diags[0].Kind)
}

func TestGenesisSubtraction(t *testing.T) {
	m := New(nil)
	dev := blkio.MakeDevice(8, 0)
	m.Insert(rec(1, 500, dev))
	m.Insert(rec(2, 300, dev))
	out := m.Drain()
	var minTime uint64 = ^uint64(0)
	for _, r := range out {
		if r.Time < minTime {
			minTime = r.Time
		}
	}
	assert.Equal(t, uint64(0), minTime)
}

func TestPipeReorderToleranceWithinWindow(t *testing.T) {
	m := New(nil)
	dev := blkio.MakeDevice(8, 0)

	// Batch 1: sequences {1,2,4,5} arrive; 1,2 emit immediately, 4,5 held.
	out1 := m.Step([]*blkio.Record{
		rec(1, 100, dev), rec(2, 200, dev), rec(4, 400, dev), rec(5, 500, dev),
	})
	require.Len(t, out1, 2)
	assert.Equal(t, uint32(1), out1[0].Sequence)
	assert.Equal(t, uint32(2), out1[1].Sequence)

	// Batches 2-4: nothing new arrives, held records keep waiting.
	for i := 0; i < 3; i++ {
		out := m.Step(nil)
		assert.Empty(t, out)
	}

	// Batch 5: sequence 3 arrives, filling the gap; 3,4,5 emit in order.
	out5 := m.Step([]*blkio.Record{rec(3, 300, dev)})
	require.Len(t, out5, 3)
	assert.Equal(t, uint32(3), out5[0].Sequence)
	assert.Equal(t, uint32(4), out5[1].Sequence)
	assert.Equal(t, uint32(5), out5[2].Sequence)
	assert.Equal(t, 0, m.Skips(dev))
}

func TestPipeForceEmitAfterSkipThreshold(t *testing.T) {
	m := New(nil)
	dev := blkio.MakeDevice(8, 0)

	out1 := m.Step([]*blkio.Record{rec(1, 100, dev), rec(3, 300, dev)})
	require.Len(t, out1, 1)
	assert.Equal(t, uint32(1), out1[0].Sequence)

	// Sequence 2 never arrives; after SkipThreshold more Step calls, 3
	// force-emits and the gap is logged.
	var last []*blkio.Record
	for i := 0; i < SkipThreshold; i++ {
		last = m.Step(nil)
	}
	require.Len(t, last, 1)
	assert.Equal(t, uint32(3), last[0].Sequence)
	assert.Equal(t, 1, m.Skips(dev))
}

func TestPipeStallHoldsLaterReadyDeviceBehindEarlierGap(t *testing.T) {
	m := New(nil)
	devA := blkio.MakeDevice(8, 0)
	devB := blkio.MakeDevice(8, 16)

	// Global order is A.seq1@100, A.seq3@300 (gap), B.seq1@400. B's
	// record is ready (it's B's first) but sorts after A's blocked
	// entry, so it must stay held until A's gap is resolved or forced.
	out := m.Step([]*blkio.Record{
		rec(1, 100, devA), rec(3, 300, devA), rec(1, 400, devB),
	})
	require.Len(t, out, 1)
	assert.Equal(t, uint32(1), out[0].Sequence)
	assert.Equal(t, devA, out[0].Device)

	// Filling A's gap emits A.seq2 itself, then lets both A.seq3 and
	// B.seq1 emit, in that order.
	out2 := m.Step([]*blkio.Record{rec(2, 200, devA)})
	require.Len(t, out2, 3)
	assert.Equal(t, uint32(2), out2[0].Sequence)
	assert.Equal(t, devA, out2[0].Device)
	assert.Equal(t, uint32(3), out2[1].Sequence)
	assert.Equal(t, devA, out2[1].Device)
	assert.Equal(t, uint32(1), out2[2].Sequence)
	assert.Equal(t, devB, out2[2].Device)
}

func TestStopwatchDropsOutOfWindowRecords(t *testing.T) {
	m := New(nil)
	m.SetStopwatch(0.0000002, 0.0000004) // [200ns, 400ns]
	dev := blkio.MakeDevice(8, 0)
	m.Insert(rec(1, 100, dev))
	m.Insert(rec(2, 300, dev))
	m.Insert(rec(3, 900, dev))
	out := m.Drain()
	require.Len(t, out, 1)
	assert.Equal(t, uint32(2), out[0].Sequence)
}
