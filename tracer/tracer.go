// Package tracer implements the external collaborator side of the
// system: one worker per online CPU, pinned via
// golang.org/x/sys/unix.SchedSetaffinity, each draining a kernel
// ring-buffer source and writing its own per-CPU trace file. Workers
// share no state; only the stop signal is shared, via context
// cancellation.
//
// Grounded on ehrlich-b-go-ublk/internal/queue/runner.go's
// cpuAffinity/SchedSetaffinity pattern (one queue runner per CPU,
// pinned at start) and aclements-go-perf/perffile/cpuset.go's online-
// CPU-set discovery.
package tracer

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/sdsc/blktrace/internal/logging"
)

// RingSource is the per-CPU kernel ring-buffer collaborator. A real
// implementation blocks in Read until data is available or the ring is
// torn down; ReadBatch returning (nil, io.EOF) stops that worker.
// Injectable for testing with a fake source.
type RingSource interface {
	// ReadBatch blocks for at least one record's worth of bytes and
	// returns whatever is available without blocking further.
	ReadBatch(ctx context.Context) ([]byte, error)
	Close() error
}

// Config configures one tracer run.
type Config struct {
	// Base is the output file base name; worker cpu writes "<Base>.blktrace.<cpu>".
	Base string
	// Sources is one RingSource per online CPU, indexed by CPU number.
	Sources []RingSource
	// OpenOutput creates the output writer for one CPU's file; tests
	// substitute an in-memory writer. Defaults to creating
	// "<Base>.blktrace.<cpu>" when nil.
	OpenOutput func(cpu int) (io.WriteCloser, error)
}

// Tracer runs one pinned worker per configured CPU.
type Tracer struct {
	cfg Config
}

func New(cfg Config) *Tracer {
	if cfg.OpenOutput == nil {
		cfg.OpenOutput = func(cpu int) (io.WriteCloser, error) {
			return os.Create(fmt.Sprintf("%s.blktrace.%d", cfg.Base, cpu))
		}
	}
	return &Tracer{cfg: cfg}
}

// Run starts one worker per source and blocks until ctx is canceled
// and every worker has drained and exited. It returns the first
// non-context-cancellation error encountered by any worker, if any.
func (t *Tracer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(t.cfg.Sources))

	for cpu, src := range t.cfg.Sources {
		wg.Add(1)
		go func(cpu int, src RingSource) {
			defer wg.Done()
			errs[cpu] = t.runWorker(ctx, cpu, src)
		}(cpu, src)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && ctx.Err() == nil {
			return err
		}
	}
	return nil
}

func (t *Tracer) runWorker(ctx context.Context, cpu int, src RingSource) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := pinToCPU(cpu); err != nil {
		logging.Default().Warn("failed to pin worker to CPU, continuing unpinned", "cpu", cpu, "error", err)
	}

	out, err := t.cfg.OpenOutput(cpu)
	if err != nil {
		return fmt.Errorf("tracer: opening output for cpu %d: %w", cpu, err)
	}
	defer out.Close()
	defer src.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}
		batch, err := src.ReadBatch(ctx)
		if len(batch) > 0 {
			if _, werr := out.Write(batch); werr != nil {
				return fmt.Errorf("tracer: writing cpu %d output: %w", cpu, werr)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("tracer: reading cpu %d ring: %w", cpu, err)
		}
	}
}

// pinToCPU sets the calling OS thread's affinity to cpu. Callers must
// have already called runtime.LockOSThread so the pin survives for the
// life of the goroutine.
func pinToCPU(cpu int) error {
	var mask unix.CPUSet
	mask.Set(cpu)
	return unix.SchedSetaffinity(0, &mask)
}
