package source

import (
	"context"
	"fmt"
	"os"
)

// RelaySource reads one relayfs per-CPU channel file under
// /sys/kernel/debug/block/<device>/trace<cpu>, the kernel's actual
// blktrace export mechanism. It implements tracer.RingSource: the first
// Read of each call blocks until the kernel has appended data (relayfs
// channel files support blocking reads against a plain *os.File), so no
// mmap or poll loop is needed the way ehrlich-b-go-ublk's uring package
// needs for io_uring's SQ/CQ rings.
type RelaySource struct {
	f    *os.File
	size int
}

// OpenRelay opens the relayfs channel file for one CPU of device.
func OpenRelay(device string, cpu int) (*RelaySource, error) {
	path := fmt.Sprintf("/sys/kernel/debug/block/%s/trace%d", device, cpu)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blkio/source: opening relay channel %s: %w", path, err)
	}
	return &RelaySource{f: f, size: 64 << 10}, nil
}

// ReadBatch reads whatever the kernel has appended to the channel since
// the last read, blocking if nothing is yet available. It returns
// io.EOF only once the channel file itself has been removed (device
// tracing stopped and torn down).
func (r *RelaySource) ReadBatch(ctx context.Context) ([]byte, error) {
	buf := make([]byte, r.size)
	n, err := r.f.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}

func (r *RelaySource) Close() error { return r.f.Close() }
