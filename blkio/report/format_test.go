package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdsc/blktrace/blkio"
	"github.com/sdsc/blktrace/blkio/lifetime"
)

func TestEmitInsertWithElapsed(t *testing.T) {
	f := New()
	dev := blkio.MakeDevice(8, 0)
	rec := &blkio.Record{
		Device: dev, Sector: 1000, Bytes: 4096, PID: 42, CPU: 1,
		Time: 200, Comm: "fio",
		Action: blkio.MakeAction(blkio.CategoryFS|blkio.CategoryRead, blkio.ActionInsert),
	}
	var buf strings.Builder
	require.NoError(t, f.Emit(&buf, rec, 50000))
	out := buf.String()
	assert.Contains(t, out, "fio")
	assert.Contains(t, out, "1000")
	assert.Contains(t, out, "8,0")
	assert.Contains(t, out, "50") // elapsed/1000 microseconds
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestEmitWithoutElapsedUsesSimplerTemplate(t *testing.T) {
	f := New()
	dev := blkio.MakeDevice(8, 0)
	rec := &blkio.Record{
		Device: dev, Sector: 500, Bytes: 512, PID: 1, Comm: "x",
		Action: blkio.MakeAction(blkio.CategoryFS|blkio.CategoryWrite, blkio.ActionInsert),
	}
	var buf strings.Builder
	require.NoError(t, f.Emit(&buf, rec, lifetime.Unknown))
	assert.NotContains(t, buf.String(), "(")
}

func TestOverrideAppliesToBothMergeLetters(t *testing.T) {
	f := New()
	f.SetOverride('M', "%C\n")
	dev := blkio.MakeDevice(8, 0)
	back := &blkio.Record{Device: dev, Comm: "a", Action: blkio.MakeAction(blkio.CategoryFS, blkio.ActionBackMerge)}
	front := &blkio.Record{Device: dev, Comm: "b", Action: blkio.MakeAction(blkio.CategoryFS, blkio.ActionFrontMerge)}

	var buf strings.Builder
	require.NoError(t, f.Emit(&buf, back, lifetime.Unknown))
	require.NoError(t, f.Emit(&buf, front, lifetime.Unknown))
	assert.Equal(t, "a\nb\n", buf.String())
}

func TestRWBSDecoding(t *testing.T) {
	assert.Equal(t, "R", rwbs(blkio.MakeAction(blkio.CategoryRead, blkio.ActionQueue)))
	assert.Equal(t, "WBS", rwbs(blkio.MakeAction(blkio.CategoryWrite|blkio.CategoryBarrier|blkio.CategorySync, blkio.ActionQueue)))
}

func TestPDUHexDump(t *testing.T) {
	f := New()
	f.SetOverride('Z', "%P\n")
	dev := blkio.MakeDevice(8, 0)
	rec := &blkio.Record{Device: dev, PDU: []byte{0xde, 0xad}, Action: blkio.MakeAction(blkio.CategoryPC, blkio.ActionAbort)}
	var buf strings.Builder
	require.NoError(t, f.Emit(&buf, rec, lifetime.Unknown))
	assert.Equal(t, "de ad\n", buf.String())
}
