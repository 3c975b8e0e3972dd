package source

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/sdsc/blktrace/blkio"
)

// The BLKTRACE* ioctls and the blk_user_trace_setup layout, per
// original_source/blktrace_api.h. x/sys/unix carries no Go names for
// these (they're blktrace-specific, not general-purpose), so they're
// reproduced here the way ehrlich-b-go-ublk/internal/uapi reproduces
// the ublk ioctl numbers it needs that aren't in x/sys/unix either.
const (
	blkTraceSetup    = 0xc0481273
	blkTraceStart    = 0x1274
	blkTraceStop     = 0x1275
	blkTraceTeardown = 0x1276
)

const traceMaxActName = 32

// traceSetup mirrors struct blk_user_trace_setup.
type traceSetup struct {
	actName  [traceMaxActName]byte
	actMask  uint16
	_        [2]byte
	bufSize  uint32
	bufNr    uint32
	startLBA uint64
	endLBA   uint64
	pid      uint32
}

// categoryNames maps the -mask flag's symbolic names to
// blkio.ActionCategory bits, per original_source/blktrace.h's
// tab_mask table.
var categoryNames = map[string]blkio.ActionCategory{
	"read":     blkio.CategoryRead,
	"write":    blkio.CategoryWrite,
	"barrier":  blkio.CategoryBarrier,
	"sync":     blkio.CategorySync,
	"queue":    blkio.CategoryQueue,
	"requeue":  blkio.CategoryRequeue,
	"issue":    blkio.CategoryIssue,
	"complete": blkio.CategoryComplete,
	"fs":       blkio.CategoryFS,
	"pc":       blkio.CategoryPC,
	"notify":   blkio.CategoryNotify,
	"ahead":    blkio.CategoryAhead,
	"meta":     blkio.CategoryMeta,
	"discard":  blkio.CategoryDiscard,
	"fua":     blkio.CategoryFUA,
}

// ParseMask parses a comma-separated list of category names (as
// accepted by -mask) into an ActionCategory bitmask. "all" sets every
// bit de-facto by setting every named bit.
func ParseMask(names []string) (blkio.ActionCategory, error) {
	var mask blkio.ActionCategory
	for _, n := range names {
		if n == "all" {
			for _, bit := range categoryNames {
				mask |= bit
			}
			continue
		}
		bit, ok := categoryNames[n]
		if !ok {
			return 0, fmt.Errorf("blkio/source: unknown trace category %q", n)
		}
		mask |= bit
	}
	return mask, nil
}

// Controller drives one block device's kernel tracer through the
// BLKTRACE* ioctl sequence: setup, start, (caller reads the relay
// channels), stop, teardown.
type Controller struct {
	dev *os.File
}

// OpenController opens the block device node for ioctl control.
func OpenController(devicePath string) (*Controller, error) {
	f, err := os.OpenFile(devicePath, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("blkio/source: opening device %s: %w", devicePath, err)
	}
	return &Controller{dev: f}, nil
}

// Setup configures the kernel tracer for this device with the given
// category mask, buffer size, and buffer count per CPU.
func (c *Controller) Setup(actName string, mask blkio.ActionCategory, bufSize, bufNr uint32) error {
	var s traceSetup
	copy(s.actName[:], actName)
	s.actMask = uint16(mask)
	s.bufSize = bufSize
	s.bufNr = bufNr
	return ioctl(c.dev, blkTraceSetup, unsafe.Pointer(&s))
}

func (c *Controller) Start() error    { return ioctl(c.dev, blkTraceStart, nil) }
func (c *Controller) Stop() error     { return ioctl(c.dev, blkTraceStop, nil) }
func (c *Controller) Teardown() error { return ioctl(c.dev, blkTraceTeardown, nil) }
func (c *Controller) Close() error    { return c.dev.Close() }

func ioctl(f *os.File, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
