// Package source implements the Record Source component: file mode,
// which drains N per-CPU trace files per device to completion, and pipe
// mode, which reads one interleaved stream from a reader in batches.
//
// Grounded on perffile.Open/perffile.Records (aclements-go-perf) for the
// open-until-EOF shape, and on golang.org/x/sys/unix.Mmap (as used by
// ehrlich-b-go-ublk/internal/uring/minimal.go) for mapping file-mode
// input instead of copying it through read(2).
package source

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/sdsc/blktrace/blkio"
)

// Stream is one per-CPU record stream: a device name, a CPU index, and a
// decoder reading from some underlying byte source.
type Stream struct {
	Device  string
	CPU     uint32
	dec     *blkio.Decoder
	r       io.Reader
	closer  io.Closer
	mapping []byte
}

// Next decodes the next record from the stream. It returns io.EOF when
// the stream is exhausted.
func (s *Stream) Next() (*blkio.Record, error) {
	rec, err := s.dec.Decode(s.r)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Close releases any mapping or file descriptor held by the stream.
func (s *Stream) Close() error {
	var err error
	if s.mapping != nil {
		err = unix.Munmap(s.mapping)
		s.mapping = nil
	}
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// fileName returns the conventional per-CPU trace file name for a
// device base name, matching SPEC_FULL.md §6: "<device-name>.blktrace.<cpu>".
func fileName(device string, cpu int) string {
	return fmt.Sprintf("%s.blktrace.%d", device, cpu)
}

// OpenFiles opens per-CPU trace files for each named device, scanning
// cpu = 0, 1, ... until stat fails for that device. Failing to open one
// per-CPU file is a silent skip (the device had fewer online CPUs than
// scanned); an empty file is legal and yields a Stream that immediately
// reports io.EOF, not an error.
//
// If no file at all is found for any device, OpenFiles returns
// ErrNoFilesFound so the caller can map it to the documented exit code 1.
func OpenFiles(devices []string) ([]*Stream, error) {
	var streams []*Stream
	for _, device := range devices {
		for cpu := 0; ; cpu++ {
			name := fileName(device, cpu)
			f, err := os.Open(name)
			if err != nil {
				if os.IsNotExist(err) {
					break
				}
				return nil, fmt.Errorf("blkio/source: opening %s: %w", name, err)
			}
			st, err := newFileStream(device, uint32(cpu), f)
			if err != nil {
				f.Close()
				return nil, err
			}
			streams = append(streams, st)
		}
	}
	if len(streams) == 0 {
		return nil, ErrNoFilesFound
	}
	return streams, nil
}

// ErrNoFilesFound is returned by OpenFiles when no per-CPU trace file
// exists for any requested device.
var ErrNoFilesFound = fmt.Errorf("blkio/source: no files found")

func newFileStream(device string, cpu uint32, f *os.File) (*Stream, error) {
	st := &Stream{Device: device, CPU: cpu, dec: blkio.NewDecoder(cpu, f.Name())}

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("blkio/source: stat %s: %w", f.Name(), err)
	}
	if fi.Size() == 0 {
		// Empty files are legal; leave r nil-equivalent so Next reports EOF.
		st.r = bytes.NewReader(nil)
		st.closer = f
		return st, nil
	}

	mapping, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		// Not every filesystem/platform supports mmap of this file;
		// fall back to ordinary buffered reads rather than failing the
		// whole stream.
		st.r = f
		st.closer = f
		return st, nil
	}
	st.mapping = mapping
	st.r = bytes.NewReader(mapping)
	st.closer = f
	return st, nil
}
