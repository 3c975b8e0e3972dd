package source

import (
	"errors"
	"io"
	"time"

	"github.com/sdsc/blktrace/blkio"
)

// DefaultBatchSize is the default pipe-mode batch count (SPEC_FULL.md §6).
const DefaultBatchSize = 1024

// deadliner is implemented by *os.File (for pipes and sockets on unix)
// and *net.TCPConn/UnixConn; when the underlying reader supports it,
// PipeSource uses it to implement "blocking for the first record of a
// batch, non-blocking for the rest" without needing raw non-blocking fd
// control.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// PipeSource reads a single interleaved stream in batches of records,
// per SPEC_FULL.md §4.1's pipe mode.
type PipeSource struct {
	r         io.Reader
	dec       *blkio.Decoder
	batchSize int
}

func NewPipe(r io.Reader, batchSize int) *PipeSource {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &PipeSource{r: r, dec: blkio.NewDecoder(0, "pipe"), batchSize: batchSize}
}

// ReadBatch reads up to the configured batch size of records. The first
// record's read blocks indefinitely; subsequent reads within the same
// batch are attempted non-blocking (via a zero-duration deadline when
// the reader supports one) and a short/would-block read simply ends the
// batch early rather than erroring.
//
// ReadBatch returns (nil, io.EOF) only when no record at all could be
// read; a partial batch followed by EOF is returned as (partial, nil),
// with the EOF surfacing on the next call.
func (p *PipeSource) ReadBatch() ([]*blkio.Record, error) {
	dl, hasDeadline := p.r.(deadliner)
	if hasDeadline {
		// Blocking first read: clear any deadline.
		_ = dl.SetReadDeadline(time.Time{})
	}

	first, err := p.dec.Decode(p.r)
	if err != nil {
		return nil, err
	}

	batch := make([]*blkio.Record, 0, p.batchSize)
	batch = append(batch, first)

	if hasDeadline {
		_ = dl.SetReadDeadline(time.Now())
	}
	for len(batch) < p.batchSize {
		rec, err := p.dec.Decode(p.r)
		if err != nil {
			if isTimeout(err) {
				break
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return batch, err
		}
		batch = append(batch, rec)
	}
	if hasDeadline {
		_ = dl.SetReadDeadline(time.Time{})
	}
	return batch, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	return errors.As(err, &t) && t.Timeout()
}
