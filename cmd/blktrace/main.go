// Command blktrace drives the kernel BLKTRACE* ioctls for one device
// and writes its per-CPU relay channels to per-CPU trace files, per
// SPEC_FULL.md §6's tracer CLI contract.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/sdsc/blktrace/blkio"
	"github.com/sdsc/blktrace/blkio/source"
	"github.com/sdsc/blktrace/internal/logging"
	"github.com/sdsc/blktrace/tracer"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("blktrace", flag.ContinueOnError)
	var (
		maskNames = fs.String("mask", "fs,pc", "comma-separated trace categories, or \"all\"")
		maskHex   = fs.String("mask-hex", "", "raw category mask in hex, overrides -mask")
		output    = fs.String("o", "", "output file base name (default: device base name)")
		bufSize   = fs.Uint("buf-size", 512*1024, "per-CPU relay sub-buffer size in bytes")
		bufCount  = fs.Uint("buf-nr", 4, "per-CPU relay sub-buffer count")
	)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: blktrace [flags] <device-path>\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	devicePath := fs.Arg(0)
	deviceName := strings.TrimPrefix(devicePath, "/dev/")
	base := *output
	if base == "" {
		base = deviceName
	}

	logging.SetDefault(logging.NewLogger(logging.DefaultConfig()))
	log := logging.Default()

	mask, err := resolveMask(*maskNames, *maskHex)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctl, err := source.OpenController(devicePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer ctl.Close()

	if err := ctl.Setup(deviceName, mask, uint32(*bufSize), uint32(*bufCount)); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("blktrace: setup: %w", err))
		return 1
	}
	if err := ctl.Start(); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("blktrace: start: %w", err))
		return 1
	}
	log.Info("tracing started", "device", devicePath, "mask", mask)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cpus := runtime.NumCPU()
	sources := make([]tracer.RingSource, 0, cpus)
	for cpu := 0; cpu < cpus; cpu++ {
		rs, err := source.OpenRelay(deviceName, cpu)
		if err != nil {
			log.Warn("skipping cpu, no relay channel", "cpu", cpu, "error", err)
			continue
		}
		sources = append(sources, rs)
	}

	t := tracer.New(tracer.Config{Base: base, Sources: sources})
	runErr := t.Run(ctx)

	if err := ctl.Stop(); err != nil {
		log.Warn("stop failed", "error", err)
	}
	if err := ctl.Teardown(); err != nil {
		log.Warn("teardown failed", "error", err)
	}
	log.Info("tracing stopped", "device", devicePath)

	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		return 1
	}
	return 0
}

func resolveMask(names, hex string) (blkio.ActionCategory, error) {
	if hex != "" {
		v, err := strconv.ParseUint(strings.TrimPrefix(hex, "0x"), 16, 16)
		if err != nil {
			return 0, fmt.Errorf("blktrace: bad -mask-hex %q: %w", hex, err)
		}
		return blkio.ActionCategory(v), nil
	}
	return source.ParseMask(strings.Split(names, ","))
}
