// Package frame implements the little-endian, NUL-terminated-string wire
// framing shared by every relay datagram. A [Reader] and a [Writer] are
// thin cursors over a caller-owned byte slice; they are not streams. The
// only allocations are the strings built by Reader.CString and Writer.KV.
package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
)

// Reader is a read cursor over a single datagram.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) need(n int) {
	if r.Remaining() < n {
		panic(fmt.Sprintf("frame: short read: need %d bytes, have %d", n, r.Remaining()))
	}
}

// Int8 reads a signed byte. It panics if fewer than 1 byte remains; callers
// must validate sizes before calling fixed-width reads.
func (r *Reader) Int8() int8 {
	r.need(1)
	v := int8(r.buf[r.pos])
	r.pos++
	return v
}

// Uint8 reads an unsigned byte.
func (r *Reader) Uint8() uint8 {
	return uint8(r.Int8())
}

// Int16 reads a little-endian signed 16-bit integer.
func (r *Reader) Int16() int16 {
	r.need(2)
	v := int16(binary.LittleEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	return v
}

// Int32 reads a little-endian signed 32-bit integer.
func (r *Reader) Int32() int32 {
	r.need(4)
	v := int32(binary.LittleEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v
}

// Block returns the next n bytes, clamped to the remaining input if n is
// larger than what's left (a short read, never an error).
func (r *Reader) Block(n int) []byte {
	if n > r.Remaining() {
		n = r.Remaining()
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// Rest returns every remaining byte and advances the cursor to the end.
func (r *Reader) Rest() []byte {
	return r.Block(r.Remaining())
}

// CString reads a NUL-terminated string, consuming bytes up to and
// including the terminator. If no NUL appears before the end of the
// buffer, it consumes the rest of the input without requiring a
// terminator. The result is truncated to at most maxLen bytes; maxLen <= 0
// means unlimited.
func (r *Reader) CString(maxLen int) string {
	rest := r.buf[r.pos:]

	n := bytes.IndexByte(rest, 0)
	var consumed int
	if n < 0 {
		n = len(rest)
		consumed = n
	} else {
		consumed = n + 1
	}

	strLen := n
	if maxLen > 0 && strLen > maxLen {
		strLen = maxLen
	}

	s := string(rest[:strLen])
	r.pos += consumed
	return s
}

// Writer is a write cursor over a single datagram being assembled.
type Writer struct {
	buf []byte
	pos int
}

// NewWriter returns a Writer that will assemble a datagram into buf.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return w.pos
}

// Bytes returns the datagram assembled so far.
func (w *Writer) Bytes() []byte {
	return w.buf[:w.pos]
}

// Reset discards any staged datagram, re-arming the writer for the next one.
func (w *Writer) Reset() {
	w.pos = 0
}

func (w *Writer) reserve(n int) {
	if w.pos+n > len(w.buf) {
		panic(fmt.Sprintf("frame: write overflow: need %d bytes, have %d", n, len(w.buf)-w.pos))
	}
}

// Int8 writes a signed byte.
func (w *Writer) Int8(v int8) {
	w.reserve(1)
	w.buf[w.pos] = byte(v)
	w.pos++
}

// Uint8 writes an unsigned byte.
func (w *Writer) Uint8(v uint8) {
	w.Int8(int8(v))
}

// Int16 writes a little-endian signed 16-bit integer.
func (w *Writer) Int16(v int16) {
	w.reserve(2)
	binary.LittleEndian.PutUint16(w.buf[w.pos:], uint16(v))
	w.pos += 2
}

// Int32 writes a little-endian signed 32-bit integer.
func (w *Writer) Int32(v int32) {
	w.reserve(4)
	binary.LittleEndian.PutUint32(w.buf[w.pos:], uint32(v))
	w.pos += 4
}

// Block writes a raw byte slice verbatim.
func (w *Writer) Block(b []byte) {
	w.reserve(len(b))
	copy(w.buf[w.pos:], b)
	w.pos += len(b)
}

// CString writes s followed by a NUL terminator.
func (w *Writer) CString(s string) {
	w.reserve(len(s) + 1)
	w.pos += copy(w.buf[w.pos:], s)
	w.buf[w.pos] = 0
	w.pos++
}

// KV writes a QUERY-style key/value pair: a NUL-terminated key followed by
// the decimal rendering of value, also NUL-terminated.
func (w *Writer) KV(key string, value int64) {
	w.CString(key)
	w.CString(strconv.FormatInt(value, 10))
}
