package blkio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrBadMagic is returned when a record's magic field does not match
// Magic under either byte order.
var ErrBadMagic = errors.New("blkio: bad or unrecognized trace magic")

// ErrBadVersion is returned when a record's magic field identifies a
// supported format but an unsupported version.
var ErrBadVersion = errors.New("blkio: unsupported trace version")

// Decoder decodes a single per-CPU trace stream. Byte order is detected
// from the first record and is sticky for the lifetime of the Decoder:
// a single trace file cannot change endianness mid-stream (see
// SPEC_FULL.md §9), so unlike perffile (which carries order on the
// shared *File), it is cheapest and clearest to carry it per-stream
// here, one Decoder per input stream.
type Decoder struct {
	order      binary.ByteOrder
	sticky     bool
	comm       map[uint32]string // pid -> last-seen comm, for records that don't carry their own PDU name
	CPU        uint32            // CPU index this stream was read from; Decode leaves each record's CPU as read from its header
	StreamName string            // identifies the stream in diagnostics (file path or "pipe")
}

func NewDecoder(cpu uint32, streamName string) *Decoder {
	return &Decoder{comm: make(map[uint32]string), CPU: cpu, StreamName: streamName}
}

// Decode reads one record from r: the fixed header, then its PDU if
// pdu_len > 0. It detects and locks in byte order from the first call.
func (d *Decoder) Decode(r io.Reader) (*Record, error) {
	var hdrBuf [headerSize]byte
	if _, err := io.ReadFull(r, hdrBuf[:]); err != nil {
		return nil, err
	}

	order, err := d.resolveOrder(hdrBuf[:4])
	if err != nil {
		return nil, err
	}

	bd := &bufDecoder{hdrBuf[:], order}
	magic := bd.u32()
	if magic>>8 != Magic {
		return nil, ErrBadMagic
	}
	if magic&0xff != Version {
		return nil, fmt.Errorf("%w: got %#x", ErrBadVersion, magic&0xff)
	}

	rec := &Record{}
	rec.Sequence = bd.u32()
	rec.Time = bd.u64()
	rec.Sector = bd.u64()
	rec.Bytes = bd.u32()
	rec.Action = Action(bd.u32())
	rec.PID = bd.u32()
	rec.Device = Device(bd.u32())
	rec.CPU = bd.u32()
	rec.Error = bd.u16()
	pduLen := bd.u16()

	if pduLen > 0 {
		rec.PDU = make([]byte, pduLen)
		if _, err := io.ReadFull(r, rec.PDU); err != nil {
			return nil, fmt.Errorf("blkio: short PDU read on stream %s: %w", d.StreamName, err)
		}
	}

	d.attachComm(rec)
	return rec, nil
}

// resolveOrder detects byte order from the first 4 bytes of a header
// (the magic field), interpreting them as both little- and big-endian
// and picking whichever yields the expected 24-bit constant. The choice
// is sticky for the remainder of the stream.
func (d *Decoder) resolveOrder(magicBytes []byte) (binary.ByteOrder, error) {
	if d.sticky {
		return d.order, nil
	}
	le := binary.LittleEndian.Uint32(magicBytes)
	if le>>8 == Magic {
		d.order, d.sticky = binary.LittleEndian, true
		return d.order, nil
	}
	be := binary.BigEndian.Uint32(magicBytes)
	if be>>8 == Magic {
		d.order, d.sticky = binary.BigEndian, true
		return d.order, nil
	}
	return nil, ErrBadMagic
}

// attachComm fills rec.Comm either from the record's own PDU (for
// notify/process-mapping records, where the PDU is the process name) or
// from the last comm seen for this PID, mirroring how btt resolves
// process names out-of-band rather than carrying them on every record.
func (d *Decoder) attachComm(rec *Record) {
	if rec.Action.Category()&CategoryNotify != 0 && len(rec.PDU) > 0 {
		bd := &bufDecoder{rec.PDU, d.order}
		name := bd.cstring()
		if name != "" {
			d.comm[rec.PID] = name
		}
	}
	rec.Comm = d.comm[rec.PID]
}

// RememberComm records an out-of-band PID -> comm mapping, for callers
// (such as the file-mode Record Source) that learn process names from a
// side channel instead of inline notify records.
func (d *Decoder) RememberComm(pid uint32, comm string) {
	if comm != "" {
		d.comm[pid] = comm
	}
}
