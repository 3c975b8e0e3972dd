package lifetime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdsc/blktrace/blkio"
)

func actRec(dev blkio.Device, sector uint64, bytes uint32, pid uint32, t uint64, cat blkio.ActionCategory, code blkio.ActionCode) *blkio.Record {
	return &blkio.Record{
		Device: dev, Sector: sector, Bytes: bytes, PID: pid, Time: t,
		Action: blkio.MakeAction(cat, code),
	}
}

func TestSimpleReadLifecycle(t *testing.T) {
	tr := New(nil)
	dev := blkio.MakeDevice(8, 0)
	const fs = blkio.CategoryFS | blkio.CategoryRead

	res := tr.Process(actRec(dev, 1000, 4096, 42, 100, fs, blkio.ActionQueue))
	assert.Equal(t, Unknown, res.Q2I)
	assert.Equal(t, 0, tr.Live())

	res = tr.Process(actRec(dev, 1000, 4096, 42, 150, fs, blkio.ActionGetRQ))
	assert.Equal(t, Unknown, res.Q2I)
	assert.Equal(t, 1, tr.Live())

	res = tr.Process(actRec(dev, 1000, 4096, 42, 200, fs, blkio.ActionInsert))
	require.NotEqual(t, Unknown, res.Q2I)
	assert.Equal(t, uint64(50), res.Q2I)

	res = tr.Process(actRec(dev, 1000, 4096, 42, 500, fs, blkio.ActionIssue))
	require.NotEqual(t, Unknown, res.I2D)
	assert.Equal(t, uint64(300), res.I2D)

	res = tr.Process(actRec(dev, 1000, 4096, 42, 1500, fs, blkio.ActionComplete))
	require.NotEqual(t, Unknown, res.D2C)
	assert.Equal(t, uint64(1000), res.D2C)
	require.NotEqual(t, Unknown, res.Q2C)
	assert.Equal(t, uint64(1300), res.Q2C) // complete(1500) - queue_time(200)

	assert.Equal(t, 0, tr.Live(), "track freed after complete")
}

func TestFrontMergeRekeysBySector(t *testing.T) {
	tr := New(nil)
	dev := blkio.MakeDevice(8, 0)
	const fs = blkio.CategoryFS | blkio.CategoryRead

	// Existing track at sector 1008, 4096 bytes (ends at 1016).
	tr.Process(actRec(dev, 1008, 4096, 7, 100, fs, blkio.ActionGetRQ))
	require.NotNil(t, tr.lookup(dev, 1008))

	// FrontMerge at sector 1000, 4096 bytes (8 sectors): re-keys to 1000.
	tr.Process(actRec(dev, 1000, 4096, 7, 120, fs, blkio.ActionFrontMerge))

	assert.Nil(t, tr.lookup(dev, 1008))
	merged := tr.lookup(dev, 1000)
	require.NotNil(t, merged)
	assert.Equal(t, uint32(8192), merged.Bytes)
}

func TestFrontMergeWithoutPrecursorDiagnoses(t *testing.T) {
	var diags []blkio.Diagnostic
	tr := New(func(d blkio.Diagnostic) { diags = append(diags, d) })
	dev := blkio.MakeDevice(8, 0)
	const fs = blkio.CategoryFS | blkio.CategoryRead

	res := tr.Process(actRec(dev, 1000, 4096, 7, 120, fs, blkio.ActionFrontMerge))
	assert.Equal(t, Unknown, res.Q2I)
	require.Len(t, diags, 1)
	assert.Equal(t, blkio.DiagOrphanMerge, diags[0].Kind)
}

func TestRequeueResetsQueueAndDispatchKeepsAlloc(t *testing.T) {
	tr := New(nil)
	dev := blkio.MakeDevice(8, 0)
	const fs = blkio.CategoryFS | blkio.CategoryWrite

	tr.Process(actRec(dev, 2000, 4096, 9, 100, fs, blkio.ActionGetRQ))
	tr.Process(actRec(dev, 2000, 4096, 9, 150, fs, blkio.ActionInsert))
	tr.Process(actRec(dev, 2000, 4096, 9, 400, fs, blkio.ActionIssue))
	tr.Process(actRec(dev, 2000, 4096, 9, 800, fs, blkio.ActionComplete))
	assert.Equal(t, 0, tr.Live())

	// Requeue for the same sector after completion: track is recreated,
	// not double-freed, and the policy documented in SPEC_FULL.md kicks
	// in once a fresh GetRQ/Insert cycle begins.
	tr.Process(actRec(dev, 2000, 4096, 9, 850, fs, blkio.ActionGetRQ))
	tr.Process(actRec(dev, 2000, 4096, 9, 900, fs, blkio.ActionRequeue))
	live := tr.lookup(dev, 2000)
	require.NotNil(t, live)
	assert.Equal(t, uint64(0), live.QueueTime)
	assert.Equal(t, uint64(0), live.DispatchTime)
	assert.Equal(t, uint64(850), live.AllocTime)

	res := tr.Process(actRec(dev, 2000, 4096, 9, 950, fs, blkio.ActionInsert))
	require.NotEqual(t, Unknown, res.Q2I)
	assert.Equal(t, uint64(100), res.Q2I)
}

func TestCompleteWithoutIssueDiagnoses(t *testing.T) {
	var diags []blkio.Diagnostic
	tr := New(func(d blkio.Diagnostic) { diags = append(diags, d) })
	dev := blkio.MakeDevice(8, 0)
	const fs = blkio.CategoryFS | blkio.CategoryRead

	res := tr.Process(actRec(dev, 3000, 4096, 1, 100, fs, blkio.ActionComplete))
	assert.Equal(t, Unknown, res.D2C)
	require.Len(t, diags, 1)
	assert.Equal(t, blkio.DiagOrphanComplete, diags[0].Kind)
}

func TestNonFSIssueAndCompleteSkipLookup(t *testing.T) {
	tr := New(nil)
	dev := blkio.MakeDevice(8, 0)

	res := tr.Process(actRec(dev, 4000, 512, 1, 100, blkio.CategoryPC, blkio.ActionIssue))
	assert.Equal(t, Unknown, res.I2D)
	res = tr.Process(actRec(dev, 4000, 512, 1, 200, blkio.CategoryPC, blkio.ActionComplete))
	assert.Equal(t, Unknown, res.D2C)
	assert.Equal(t, 0, tr.Live())
}

func TestRemapRecordsDownstreamTargetOnExistingTrack(t *testing.T) {
	tr := New(nil)
	dev := blkio.MakeDevice(8, 0)
	downstream := blkio.MakeDevice(8, 16)
	const fs = blkio.CategoryFS | blkio.CategoryRead

	tr.Process(actRec(dev, 5000, 4096, 1, 100, fs, blkio.ActionGetRQ))

	pdu := make([]byte, 16)
	// device_from (unused by decodeRemapPDU), device_to, sector_from.
	putBE32(pdu[4:8], uint32(downstream))
	putBE64(pdu[8:16], 9000)
	rec := actRec(dev, 5000, 4096, 1, 110, fs, blkio.ActionRemap)
	rec.PDU = pdu
	tr.Process(rec)

	live := tr.lookup(dev, 5000)
	require.NotNil(t, live)
	require.NotNil(t, live.RemappedTo)
	assert.Equal(t, downstream, live.RemappedTo.Device)
	assert.Equal(t, uint64(9000), live.RemappedTo.Sector)
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func putBE64(b []byte, v uint64) {
	putBE32(b[0:4], uint32(v>>32))
	putBE32(b[4:8], uint32(v))
}

func TestGraphTracksNodesAcrossLifecycle(t *testing.T) {
	tr := New(nil)
	tr.WithGraph(true)
	dev := blkio.MakeDevice(8, 0)
	const fs = blkio.CategoryFS | blkio.CategoryRead

	tr.Process(actRec(dev, 6000, 4096, 1, 100, fs, blkio.ActionQueue))
	tr.Process(actRec(dev, 6000, 4096, 1, 150, fs, blkio.ActionGetRQ))
	tr.Process(actRec(dev, 6000, 4096, 1, 200, fs, blkio.ActionInsert))
	tr.Process(actRec(dev, 6000, 4096, 1, 500, fs, blkio.ActionIssue))
	tr.Process(actRec(dev, 6000, 4096, 1, 1500, fs, blkio.ActionComplete))

	assert.Equal(t, 5, tr.graph.Len())
	_, stillHead := tr.graph.heads[key{dev, 6000}]
	assert.False(t, stillHead, "completed chain's head is cleared")
}
