// Package report implements the Report Emitter: the external contract
// emit(action_letter, record, elapsed_ns), a default per-action-letter
// template table with a sparse override map, and the end-of-run
// aggregate block.
//
// Grounded on original_source/blkparse_fmt.c's print_field/fmt_select
// state machine (per-letter default templates, %[-][width]<field>
// tokens) and original_source/btt/output.c's output_hdr/__output_avg2
// column layout, the latter rendered here with text/tabwriter instead
// of blkparse_fmt.c's hand-padded sprintf widths.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/sdsc/blktrace/blkio"
	"github.com/sdsc/blktrace/blkio/lifetime"
)

const header = "%D %2c %8s %5T.%9t %5p %2a %3d "

// defaultTemplates mirrors fmt_select's per-letter switch. %C is comm,
// %S+%n is sector+sector-count, %8u is elapsed in microseconds when
// known, %P is the PDU hex-dump, %U is the PDU-carried unplug depth.
var defaultTemplates = map[byte]string{
	'Q': header + "%S + %n [%C]\n",
	'W': header + "%S + %n [%C]\n", // no action code maps to 'W'
	'B': header + "%S + %n [%C]\n", // Bounce
	'F': header + "%S + %n [%C]\n", // FrontMerge
	'M': header + "%S + %n [%C]\n", // BackMerge
	'G': header + "%S + %n [%C]\n",
	'S': header + "%S + %n [%C]\n",
	'I': header + "%S + %n (%8u) [%C]\n",
	'D': header + "%S + %n (%8u) [%C]\n",
	'C': header + "%S + %n (%8u) [%e]\n",
	'P': header + "[%C]\n",
	'U': header + "[%C] %U\n",
	'T': header + "[%C] %U\n",
	'X': header + "%S / %U [%C]\n",
	'A': header + "%S [%C]\n",
	'Z': header + "[%C]\n",
}

// noElapsedTemplates substitute for the '(%8u)' variants above when no
// elapsed interval is available for the record (matching fmt_select's
// "elapsed != -1ULL" branch).
var noElapsedTemplates = map[byte]string{
	'I': header + "%S + %n [%C]\n",
	'D': header + "%S + %n [%C]\n",
	'C': header + "%S + %n [%e]\n",
}

// pcTemplates are used in place of the above when the record's
// category carries the PC (passthrough) bit, per fmt_select.
var pcTemplates = map[byte]string{
	'I': header + "%n (%P) [%C]\n",
	'D': header + "%n (%P) [%C]\n",
	'C': header + "(%P) [%e]\n",
}

// Formatter renders individual trace records via the emit contract. A
// zero Formatter is ready to use with the default template table.
type Formatter struct {
	overrides map[byte]string
}

func New() *Formatter { return &Formatter{overrides: make(map[byte]string)} }

// SetOverride installs a --format-spec override for a single action
// letter. 'M' sets both merge letters ('M' BackMerge and 'F'
// FrontMerge), matching add_format_spec's handling of the merge
// override — adapted to this implementation's own letter table, where
// 'B' is Bounce rather than Back merge.
func (f *Formatter) SetOverride(letter byte, template string) {
	if letter == 'M' {
		f.overrides['M'] = template
		f.overrides['F'] = template
		return
	}
	f.overrides[letter] = template
}

// SetAllOverrides installs the same template for every action letter
// that has no override yet, matching set_all_format_specs.
func (f *Formatter) SetAllOverrides(template string) {
	for l := range defaultTemplates {
		if _, ok := f.overrides[l]; !ok {
			f.overrides[l] = template
		}
	}
}

func (f *Formatter) template(letter byte, rec *blkio.Record, hasElapsed bool) string {
	if t, ok := f.overrides[letter]; ok {
		return t
	}
	if rec.Action.Category()&blkio.CategoryPC != 0 {
		if t, ok := pcTemplates[letter]; ok {
			return t
		}
	}
	if !hasElapsed {
		if t, ok := noElapsedTemplates[letter]; ok {
			return t
		}
	}
	if t, ok := defaultTemplates[letter]; ok {
		return t
	}
	return header + "[%C]\n"
}

// Emit renders one record per the external contract: the action
// letter selects the template, elapsedNS is the interval relevant to
// that action (q->i for Insert, i->d/q->d for Issue, d->c for
// Complete), or lifetime.Unknown otherwise.
func (f *Formatter) Emit(w io.Writer, rec *blkio.Record, elapsedNS uint64) error {
	letter := rec.Letter()
	hasElapsed := elapsedNS != lifetime.Unknown
	tmpl := f.template(letter, rec, hasElapsed)
	return walkTemplate(w, tmpl, rec, letter, elapsedNS, hasElapsed)
}

func walkTemplate(w io.Writer, tmpl string, rec *blkio.Record, letter byte, elapsedNS uint64, hasElapsed bool) error {
	p := 0
	for p < len(tmpl) {
		c := tmpl[p]
		switch c {
		case '%':
			p++
			if p >= len(tmpl) {
				io.WriteString(w, "%")
				return nil
			}
			if tmpl[p] == '%' {
				io.WriteString(w, "%")
				p++
				continue
			}
			n, err := parseField(w, tmpl[p:], rec, letter, elapsedNS, hasElapsed)
			if err != nil {
				return err
			}
			p += n
		case '\\':
			if p+1 < len(tmpl) {
				switch tmpl[p+1] {
				case 'n':
					io.WriteString(w, "\n")
				case 't':
					io.WriteString(w, "\t")
				case 'r':
					io.WriteString(w, "\r")
				case 'b':
					io.WriteString(w, "\b")
				}
				p += 2
				continue
			}
			io.WriteString(w, string(c))
			p++
		default:
			io.WriteString(w, string(c))
			p++
		}
	}
	return nil
}

// parseField parses and renders one %[-][width]<letter> token from s
// (s starts just past the '%'), returning the number of bytes consumed
// from s.
func parseField(w io.Writer, s string, rec *blkio.Record, letter byte, elapsedNS uint64, hasElapsed bool) (int, error) {
	i := 0
	minus := false
	if i < len(s) && s[i] == '-' {
		minus = true
		i++
	}
	width := 0
	hasWidth := false
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		hasWidth = true
		width = width*10 + int(s[i]-'0')
		i++
	}
	if i >= len(s) {
		return i, nil
	}
	field := s[i]
	i++
	renderField(w, field, rec, letter, elapsedNS, hasElapsed, minus, hasWidth, width)
	return i, nil
}

func renderField(w io.Writer, field byte, rec *blkio.Record, letter byte, elapsedNS uint64, hasElapsed, minus, hasWidth bool, width int) {
	pad := func(s string) string {
		if !hasWidth {
			return s
		}
		if len(s) >= width {
			return s
		}
		padding := strings.Repeat(" ", width-len(s))
		if minus {
			return s + padding
		}
		return padding + s
	}

	switch field {
	case 'a':
		fmt.Fprint(w, pad(string(letter)))
	case 'c':
		fmt.Fprint(w, pad(fmt.Sprintf("%d", rec.CPU)))
	case 'C':
		comm := rec.Comm
		if comm == "" {
			comm = "?"
		}
		fmt.Fprint(w, pad(comm))
	case 'd':
		fmt.Fprint(w, pad(rwbs(rec.Action)))
	case 'D':
		fmt.Fprintf(w, "%3d,%-3d", rec.Device.Major(), rec.Device.Minor())
	case 'e':
		fmt.Fprint(w, pad(fmt.Sprintf("%d", rec.Error)))
	case 'M':
		fmt.Fprint(w, pad(fmt.Sprintf("%d", rec.Device.Major())))
	case 'm':
		fmt.Fprint(w, pad(fmt.Sprintf("%d", rec.Device.Minor())))
	case 'n':
		fmt.Fprint(w, pad(fmt.Sprintf("%d", rec.SectorCount())))
	case 'p':
		fmt.Fprint(w, pad(fmt.Sprintf("%d", rec.PID)))
	case 'P':
		for i, b := range rec.PDU {
			if i > 0 {
				io.WriteString(w, " ")
			}
			fmt.Fprintf(w, "%02x", b)
		}
	case 's':
		fmt.Fprint(w, pad(fmt.Sprintf("%d", rec.Sequence)))
	case 'S':
		fmt.Fprint(w, pad(fmt.Sprintf("%d", rec.Sector)))
	case 't':
		w2 := 9
		if hasWidth {
			w2 = width
		}
		fmt.Fprintf(w, "%0*d", w2, rec.Time%1_000_000_000)
	case 'T':
		fmt.Fprint(w, pad(fmt.Sprintf("%d", rec.Time/1_000_000_000)))
	case 'u':
		if hasElapsed {
			fmt.Fprint(w, pad(fmt.Sprintf("%d", elapsedNS/1000)))
		} else {
			fmt.Fprint(w, pad("0"))
		}
	case 'U':
		fmt.Fprint(w, pad(fmt.Sprintf("%d", unplugDepth(rec.PDU))))
	default:
		fmt.Fprint(w, string(field))
	}
}

// rwbs decodes the read/write/barrier/sync flag triple from the
// category mask, matching print_field's case 'd'.
func rwbs(a blkio.Action) string {
	cat := a.Category()
	var b strings.Builder
	if cat&blkio.CategoryWrite != 0 {
		b.WriteByte('W')
	} else {
		b.WriteByte('R')
	}
	if cat&blkio.CategoryBarrier != 0 {
		b.WriteByte('B')
	}
	if cat&blkio.CategorySync != 0 {
		b.WriteByte('S')
	}
	return b.String()
}

// unplugDepth reads the big-endian uint64 depth carried in an unplug
// or split PDU.
func unplugDepth(pdu []byte) uint64 {
	if len(pdu) < 8 {
		return 0
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(pdu[i])
	}
	return v
}
