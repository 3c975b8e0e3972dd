package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sdsc/blktrace/blkio/stats"
)

// WriteAggregate renders the end-of-run summary block: the per-device
// table, and, when includeProcesses is set (the CLI's -per-process
// flag), the per-process table beneath it.
func WriteAggregate(w io.Writer, c *stats.Collector, includeProcesses bool) error {
	if err := WriteDeviceTable(w, c); err != nil {
		return err
	}
	if !includeProcesses {
		return nil
	}
	fmt.Fprintln(w)
	return WriteProcessTable(w, c)
}

// WriteDeviceTable renders one row per device with a MIN/AVG/MAX cell
// for each of Q2Q, Q2I, I2D, D2C, Q2C and a trailing N column holding
// the device's total event count (output_hdr2's six-column layout, minus
// Q2A — this implementation does not give Queue a RequestTrack, so an
// alloc-relative Q2A figure isn't available; see DESIGN.md).
func WriteDeviceTable(w io.Writer, c *stats.Collector) error {
	tw := tabwriter.NewWriter(w, 4, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tQ2Q\tQ2I\tI2D\tD2C\tQ2C\tN")
	for _, d := range c.Devices() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			d.Device, latencyCell(&d.Q2Q), latencyCell(&d.Q2I),
			latencyCell(&d.I2D), latencyCell(&d.D2C), latencyCell(&d.Q2C),
			d.TotalEvents)
	}
	return tw.Flush()
}

// WriteProcessTable renders one row per process: read/write counts and
// KB totals, plus the longest-wait trio for each direction.
func WriteProcessTable(w io.Writer, c *stats.Collector) error {
	tw := tabwriter.NewWriter(w, 4, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tCOMM\tREADS\tWRITES\tKREAD\tKWRITE\tLONGEST ALLOC\tLONGEST DISPATCH\tLONGEST COMPLETE")
	for _, p := range c.Processes() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d/%d\t%d/%d\t%d/%d\n",
			p.PID, p.Comm,
			p.Read.Completed, p.Write.Completed,
			p.Read.CompletedKB, p.Write.CompletedKB,
			p.Waits.AllocWait[0], p.Waits.AllocWait[1],
			p.Waits.DispatchWait[0], p.Waits.DispatchWait[1],
			p.Waits.CompletionWait[0], p.Waits.CompletionWait[1])
	}
	return tw.Flush()
}

func latencyCell(l *stats.Latency) string {
	if l.N() == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%.0f/%d", l.Min(), l.Mean(), l.Max())
}
