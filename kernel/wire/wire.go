// Package wire implements the flat, explicitly byte-ordered encoding used to
// move kernel events between machines.
//
// Every fixed-size operand is aligned to a multiple of its own size before it
// is written, so a buffer produced on one machine decodes identically on any
// other. Multi-byte values are big-endian. Strings and byte slices are
// length-prefixed with a uint32.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortBuffer is returned when an Unpacker runs past the end of its input.
var ErrShortBuffer = errors.New("wire: short buffer")

// ErrOverflow is returned when a value does not fit in its length prefix.
var ErrOverflow = errors.New("wire: length overflow")

var order = binary.BigEndian

// Packer appends aligned values to a growing byte buffer.
type Packer struct {
	buf []byte
}

// NewPacker creates a Packer with the given initial capacity.
func NewPacker(capacity int) *Packer {
	return &Packer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the packed buffer. The slice aliases the Packer's storage
// until the next Reset.
func (p *Packer) Bytes() []byte { return p.buf }

// Len returns the number of bytes packed so far, padding included.
func (p *Packer) Len() int { return len(p.buf) }

// Reset empties the buffer, keeping its capacity.
func (p *Packer) Reset() { p.buf = p.buf[:0] }

func (p *Packer) align(size int) {
	for len(p.buf)%size != 0 {
		p.buf = append(p.buf, 0)
	}
}

func (p *Packer) PutUint8(v uint8) { p.buf = append(p.buf, v) }

func (p *Packer) PutUint16(v uint16) {
	p.align(2)
	p.buf = order.AppendUint16(p.buf, v)
}

func (p *Packer) PutUint32(v uint32) {
	p.align(4)
	p.buf = order.AppendUint32(p.buf, v)
}

func (p *Packer) PutInt32(v int32) { p.PutUint32(uint32(v)) }

func (p *Packer) PutUint64(v uint64) {
	p.align(8)
	p.buf = order.AppendUint64(p.buf, v)
}

func (p *Packer) PutInt64(v int64) { p.PutUint64(uint64(v)) }

func (p *Packer) PutFloat64(v float64) { p.PutUint64(math.Float64bits(v)) }

// PutBytes writes a uint32 length followed by the raw bytes.
func (p *Packer) PutBytes(b []byte) error {
	if uint64(len(b)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrOverflow, len(b))
	}
	p.PutUint32(uint32(len(b)))
	p.buf = append(p.buf, b...)
	return nil
}

// PutString writes a length-prefixed string.
func (p *Packer) PutString(s string) error {
	if uint64(len(s)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrOverflow, len(s))
	}
	p.PutUint32(uint32(len(s)))
	p.buf = append(p.buf, s...)
	return nil
}

// Reserve32 writes a zero uint32 placeholder and returns its offset, to be
// filled in later with Patch32.
func (p *Packer) Reserve32() int {
	p.align(4)
	off := len(p.buf)
	p.buf = append(p.buf, 0, 0, 0, 0)
	return off
}

// Patch32 overwrites a placeholder previously returned by Reserve32.
func (p *Packer) Patch32(off int, v uint32) {
	order.PutUint32(p.buf[off:off+4], v)
}

// Unpacker reads values written by a Packer. The first error is sticky: once
// set, every getter returns a zero value and Err reports the failure.
type Unpacker struct {
	buf []byte
	off int
	err error
}

// NewUnpacker wraps buf for reading.
func NewUnpacker(buf []byte) *Unpacker {
	return &Unpacker{buf: buf}
}

// Err returns the first decoding error, if any.
func (u *Unpacker) Err() error { return u.err }

// Remaining reports the number of unread bytes.
func (u *Unpacker) Remaining() int { return len(u.buf) - u.off }

func (u *Unpacker) next(size, align int) []byte {
	if u.err != nil {
		return nil
	}
	if align > 1 {
		if r := u.off % align; r != 0 {
			u.off += align - r
		}
	}
	if u.off+size > len(u.buf) {
		u.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, size, u.off, len(u.buf))
		return nil
	}
	b := u.buf[u.off : u.off+size]
	u.off += size
	return b
}

func (u *Unpacker) Uint8() uint8 {
	b := u.next(1, 1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (u *Unpacker) Uint16() uint16 {
	b := u.next(2, 2)
	if b == nil {
		return 0
	}
	return order.Uint16(b)
}

func (u *Unpacker) Uint32() uint32 {
	b := u.next(4, 4)
	if b == nil {
		return 0
	}
	return order.Uint32(b)
}

func (u *Unpacker) Int32() int32 { return int32(u.Uint32()) }

func (u *Unpacker) Uint64() uint64 {
	b := u.next(8, 8)
	if b == nil {
		return 0
	}
	return order.Uint64(b)
}

func (u *Unpacker) Int64() int64 { return int64(u.Uint64()) }

func (u *Unpacker) Float64() float64 { return math.Float64frombits(u.Uint64()) }

// Bytes reads a length-prefixed byte slice. The result aliases the input.
func (u *Unpacker) Bytes() []byte {
	n := u.Uint32()
	if u.err != nil {
		return nil
	}
	return u.next(int(n), 1)
}

// String reads a length-prefixed string.
func (u *Unpacker) String() string {
	return string(u.Bytes())
}
