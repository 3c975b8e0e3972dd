package blkio

import "fmt"

// DiagnosticKind classifies a Diagnostic, per SPEC_FULL.md §7's error
// taxonomy.
type DiagnosticKind int

const (
	DiagSequenceAlias DiagnosticKind = iota
	DiagSectorAlias
	DiagOrphanComplete
	DiagOrphanMerge
	DiagSkip
	DiagBackwards
	DiagMalformed
)

func (k DiagnosticKind) String() string {
	switch k {
	case DiagSequenceAlias:
		return "sequence alias"
	case DiagSectorAlias:
		return "sector alias"
	case DiagOrphanComplete:
		return "failed to find complete event"
	case DiagOrphanMerge:
		return "failed to find mergeable event"
	case DiagSkip:
		return "skip"
	case DiagBackwards:
		return "backwards"
	case DiagMalformed:
		return "malformed input"
	default:
		return "unknown"
	}
}

// Diagnostic is a non-fatal, best-effort-recoverable event surfaced by
// the merger or lifetime tracker. Every diagnostic carries enough
// identification (device, sequence, sector, CPU) to locate the
// offending record, per SPEC_FULL.md §7.
type Diagnostic struct {
	Kind     DiagnosticKind
	Device   Device
	Sequence uint32
	Sector   uint64
	CPU      uint32
	Detail   string
}

func (d Diagnostic) Error() string {
	s := fmt.Sprintf("%s on device %s", d.Kind, d.Device)
	if d.Sequence != 0 {
		s += fmt.Sprintf(" seq %d", d.Sequence)
	}
	if d.Sector != 0 {
		s += fmt.Sprintf(" sector %d", d.Sector)
	}
	if d.Detail != "" {
		s += ": " + d.Detail
	}
	return s
}
