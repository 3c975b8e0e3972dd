// Command blkparse merges, tracks, and reports on block-I/O trace
// records captured by the tracer, per SPEC_FULL.md §6's analyzer CLI
// contract.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sdsc/blktrace/blkio"
	"github.com/sdsc/blktrace/blkio/lifetime"
	"github.com/sdsc/blktrace/blkio/merge"
	"github.com/sdsc/blktrace/blkio/metrics"
	"github.com/sdsc/blktrace/blkio/report"
	"github.com/sdsc/blktrace/blkio/source"
	"github.com/sdsc/blktrace/blkio/stats"
	"github.com/sdsc/blktrace/internal/logging"
)

// version is the CLI's self-reported build version, surfaced by -version.
const version = "0.1.0"

// deviceList accumulates the repeatable -i flag.
type deviceList []string

func (d *deviceList) String() string { return strings.Join(*d, ",") }
func (d *deviceList) Set(v string) error {
	*d = append(*d, v)
	return nil
}

// fmtSpecs accumulates the repeatable -fmt LETTER,TEMPLATE flag.
type fmtSpecs []string

func (f *fmtSpecs) String() string { return strings.Join(*f, ";") }
func (f *fmtSpecs) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("blkparse", flag.ContinueOnError)
	var (
		devices      deviceList
		fmtOverrides fmtSpecs
	)
	fs.Var(&devices, "i", "device base name to read (repeatable), or - for pipe mode on stdin")
	fs.Var(&fmtOverrides, "fmt", "LETTER,TEMPLATE format-spec override (repeatable)")
	var (
		outputBase  = fs.String("o", "", "output file base (default: stdout)")
		batchSize   = fs.Int("batch", source.DefaultBatchSize, "pipe-mode batch count")
		perProcess  = fs.Bool("per-process", false, "emit the per-process aggregate table")
		trackIOs    = fs.Bool("track-ios", true, "enable the Lifetime Tracker")
		useGraph    = fs.Bool("graph", false, "enable the extended dependency-graph variant")
		quiet       = fs.Bool("q", false, "suppress the final aggregate block")
		stopwatch   = fs.String("stopwatch", "", "start:end floating-point seconds window")
		metricsAddr = fs.String("metrics", "", "address to serve Prometheus metrics on, e.g. :9100")
		jsonLogs    = fs.Bool("json-logs", false, "emit logs as JSON lines")
		showVersion = fs.Bool("version", false, "print the version and exit")
	)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: blkparse -i <device>... [flags]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *showVersion {
		fmt.Println("blkparse", version)
		return 0
	}
	if len(devices) == 0 {
		fs.Usage()
		return 1
	}

	logging.SetDefault(logging.NewLogger(&logging.Config{Level: logging.LevelInfo, Output: os.Stderr, JSON: *jsonLogs}))
	log := logging.Default()

	m := metrics.New()
	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: m.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server exited", "error", err)
			}
		}()
		defer srv.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
	defer cancel()

	merger := merge.New(func(d blkio.Diagnostic) {
		m.ObserveDiagnostic(d)
		log.Warn(d.Error(), "kind", d.Kind.String())
	})
	if *stopwatch != "" {
		start, end, err := parseStopwatch(*stopwatch)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		merger.SetStopwatch(start, end)
	}

	tracker := lifetime.New(func(d blkio.Diagnostic) {
		m.ObserveDiagnostic(d)
		log.Warn(d.Error(), "kind", d.Kind.String())
	})
	tracker.WithGraph(*useGraph)

	collector := stats.New()

	var out *bufio.Writer
	if *outputBase == "" {
		out = bufio.NewWriter(os.Stdout)
	} else {
		f, err := os.Create(*outputBase)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer f.Close()
		out = bufio.NewWriter(f)
	}
	defer out.Flush()
	formatter := report.New()
	for _, spec := range fmtOverrides {
		letter, tmpl, err := parseFmtSpec(spec)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		formatter.SetOverride(letter, tmpl)
	}

	pipeMode := len(devices) == 1 && devices[0] == "-"

	var emitErr error
	emit := func(rec *blkio.Record) {
		m.ObserveRecord(rec)
		res := lifetime.Result{Q2I: lifetime.Unknown, I2D: lifetime.Unknown, D2C: lifetime.Unknown, Q2C: lifetime.Unknown}
		if *trackIOs {
			res = tracker.Process(rec)
			m.LiveTracks.Set(float64(tracker.Live()))
		}
		collector.Observe(rec, res)

		elapsed := lifetime.Unknown
		switch rec.Action.Code() {
		case blkio.ActionInsert:
			elapsed = res.Q2I
		case blkio.ActionIssue:
			elapsed = res.I2D
		case blkio.ActionComplete:
			elapsed = res.D2C
		}
		if err := formatter.Emit(out, rec, elapsed); err != nil && emitErr == nil {
			emitErr = err
		}
	}

	if pipeMode {
		if err := runPipeMode(ctx, os.Stdin, *batchSize, merger, emit); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	} else {
		if err := runFileMode(ctx, []string(devices), merger, emit); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	if emitErr != nil {
		fmt.Fprintln(os.Stderr, emitErr)
		return 1
	}

	for _, devS := range collector.Devices() {
		collector.SetSkips(devS.Device, merger.Skips(devS.Device))
	}

	if !*quiet {
		if err := report.WriteAggregate(out, collector, *perProcess); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	return 0
}

func runFileMode(ctx context.Context, devices []string, merger *merge.Merger, emit func(*blkio.Record)) error {
	streams, err := source.OpenFiles(devices)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range streams {
			s.Close()
		}
	}()

	for _, s := range streams {
		for {
			rec, err := s.Next()
			if err != nil {
				break
			}
			rec.CPU = s.CPU
			merger.Insert(rec)
		}
	}
	for _, rec := range merger.Drain() {
		if ctx.Err() != nil {
			break
		}
		emit(rec)
	}
	return nil
}

func runPipeMode(ctx context.Context, r *os.File, batchSize int, merger *merge.Merger, emit func(*blkio.Record)) error {
	ps := source.NewPipe(r, batchSize)
	for {
		if ctx.Err() != nil {
			break
		}
		batch, err := ps.ReadBatch()
		for _, rec := range merger.Step(batch) {
			emit(rec)
		}
		if err != nil {
			break
		}
	}
	for _, rec := range merger.Step(nil) {
		emit(rec)
	}
	return nil
}

// parseFmtSpec parses one -fmt LETTER,TEMPLATE argument, matching
// blkparse's --format-spec convention where the template may itself
// contain commas.
func parseFmtSpec(spec string) (byte, string, error) {
	parts := strings.SplitN(spec, ",", 2)
	if len(parts) != 2 || len(parts[0]) != 1 {
		return 0, "", fmt.Errorf("blkparse: bad -fmt %q, want LETTER,TEMPLATE", spec)
	}
	return parts[0][0], parts[1], nil
}

func parseStopwatch(s string) (start, end float64, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("blkparse: bad stopwatch %q, want start:end", s)
	}
	start, end = -1, -1
	if parts[0] != "" {
		start, err = strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return 0, 0, fmt.Errorf("blkparse: bad stopwatch start: %w", err)
		}
	}
	if parts[1] != "" {
		end, err = strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return 0, 0, fmt.Errorf("blkparse: bad stopwatch end: %w", err)
		}
	}
	return start, end, nil
}
