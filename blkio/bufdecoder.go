package blkio

import "encoding/binary"

// bufDecoder reads successive fields out of a byte slice in a given byte
// order, advancing as it goes. It is the same shape as perffile's
// bufDecoder: a tiny, allocation-free cursor, not a general-purpose
// streaming decoder.
type bufDecoder struct {
	buf   []byte
	order binary.ByteOrder
}

func (b *bufDecoder) u16() uint16 {
	x := b.order.Uint16(b.buf)
	b.buf = b.buf[2:]
	return x
}

func (b *bufDecoder) u32() uint32 {
	x := b.order.Uint32(b.buf)
	b.buf = b.buf[4:]
	return x
}

func (b *bufDecoder) u64() uint64 {
	x := b.order.Uint64(b.buf)
	b.buf = b.buf[8:]
	return x
}

// cstring reads a NUL-terminated (or buffer-exhausting) byte string.
// comm fields are byte strings and are never byte-swapped.
func (b *bufDecoder) cstring() string {
	for i, c := range b.buf {
		if c == 0 {
			x := string(b.buf[:i])
			b.buf = b.buf[i+1:]
			return x
		}
	}
	x := string(b.buf)
	b.buf = nil
	return x
}
