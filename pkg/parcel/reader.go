package parcel

import "encoding/binary"

// reader is a bounds-checked cursor over an untrusted byte buffer. Every
// read either succeeds in full or flags the reader as exhausted; callers
// check err() once after a run of reads.
type reader struct {
	buf  []byte
	pos  int
	fail bool
}

func newReader(buf []byte) reader { return reader{buf: buf} }

func (r *reader) err() error {
	if r.fail {
		return errTooShort
	}
	return nil
}

func (r *reader) u8() uint8 {
	if r.fail || r.pos+1 > len(r.buf) {
		r.fail = true
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *reader) u16() uint16 {
	if r.fail || r.pos+2 > len(r.buf) {
		r.fail = true
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) u64() uint64 {
	if r.fail || r.pos+8 > len(r.buf) {
		r.fail = true
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

// bytes returns a copy of the next n bytes. The copy detaches the parcel
// from the transport's receive buffer, which is reused between datagrams.
func (r *reader) bytes(n int) []byte {
	if r.fail || r.pos+n > len(r.buf) {
		r.fail = true
		return nil
	}
	v := make([]byte, n)
	copy(v, r.buf[r.pos:])
	r.pos += n
	return v
}
