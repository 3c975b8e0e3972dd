package blkio

import (
	"encoding/binary"
	"io"
)

// Encode writes rec to w in the given byte order, in the on-wire
// 48-byte-header-plus-PDU format that Decode reads back. It exists for
// the tracer (which must actually produce trace files) and for tests
// that want round-trip coverage without hand-building byte slices.
func Encode(w io.Writer, order binary.ByteOrder, rec *Record) error {
	var hdrBuf [headerSize]byte
	magic := uint32(Magic)<<8 | uint32(Version)
	order.PutUint32(hdrBuf[0:4], magic)
	order.PutUint32(hdrBuf[4:8], rec.Sequence)
	order.PutUint64(hdrBuf[8:16], rec.Time)
	order.PutUint64(hdrBuf[16:24], rec.Sector)
	order.PutUint32(hdrBuf[24:28], rec.Bytes)
	order.PutUint32(hdrBuf[28:32], uint32(rec.Action))
	order.PutUint32(hdrBuf[32:36], rec.PID)
	order.PutUint32(hdrBuf[36:40], uint32(rec.Device))
	order.PutUint32(hdrBuf[40:44], rec.CPU)
	order.PutUint16(hdrBuf[44:46], rec.Error)
	order.PutUint16(hdrBuf[46:48], uint16(len(rec.PDU)))

	if _, err := w.Write(hdrBuf[:]); err != nil {
		return err
	}
	if len(rec.PDU) > 0 {
		if _, err := w.Write(rec.PDU); err != nil {
			return err
		}
	}
	return nil
}

// EncodeNotify builds the PDU for a BLK_TN_PROCESS-style notify record
// that carries a process's comm string, the convention attachComm reads
// back in Decode.
func EncodeNotify(comm string) []byte {
	pdu := make([]byte, len(comm)+1)
	copy(pdu, comm)
	return pdu
}
