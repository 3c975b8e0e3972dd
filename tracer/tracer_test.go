package tracer

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRing yields a fixed sequence of batches, then blocks until ctx is
// canceled, simulating a kernel ring with no more data until shutdown.
type fakeRing struct {
	batches [][]byte
	closed  bool
	mu      sync.Mutex
}

func (f *fakeRing) ReadBatch(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	if len(f.batches) > 0 {
		b := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return b, nil
	}
	f.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeRing) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type memWriteCloser struct {
	*bytes.Buffer
	closed bool
}

func (m *memWriteCloser) Close() error {
	m.closed = true
	return nil
}

func TestTracerWritesEachCPUsBatchesToItsOwnOutput(t *testing.T) {
	outs := make([]*memWriteCloser, 2)
	src0 := &fakeRing{batches: [][]byte{[]byte("cpu0-a"), []byte("cpu0-b")}}
	src1 := &fakeRing{batches: [][]byte{[]byte("cpu1-a")}}

	tr := New(Config{
		Base:    "dev",
		Sources: []RingSource{src0, src1},
		OpenOutput: func(cpu int) (io.WriteCloser, error) {
			outs[cpu] = &memWriteCloser{Buffer: &bytes.Buffer{}}
			return outs[cpu], nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := tr.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, "cpu0-acpu0-b", outs[0].String())
	assert.Equal(t, "cpu1-a", outs[1].String())
	assert.True(t, outs[0].closed)
	assert.True(t, src0.closed)
	assert.True(t, src1.closed)
}
