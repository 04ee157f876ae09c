package frame

import (
	"bytes"
	"testing"
)

func TestIntRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	w := NewWriter(buf)
	w.Int8(-7)
	w.Int16(-1234)
	w.Int32(-123456789)
	w.Uint8(0xFE)

	r := NewReader(w.Bytes())
	if v := r.Int8(); v != -7 {
		t.Fatalf("Int8 = %d, want -7", v)
	}
	if v := r.Int16(); v != -1234 {
		t.Fatalf("Int16 = %d, want -1234", v)
	}
	if v := r.Int32(); v != -123456789 {
		t.Fatalf("Int32 = %d, want -123456789", v)
	}
	if v := r.Uint8(); v != 0xFE {
		t.Fatalf("Uint8 = %#x, want 0xfe", v)
	}
	if r.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", r.Remaining())
	}
}

func TestCStringRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	w := NewWriter(buf)
	w.CString("hostname")
	w.CString("")
	w.CString("a long value")

	r := NewReader(w.Bytes())
	if s := r.CString(0); s != "hostname" {
		t.Fatalf("CString = %q, want %q", s, "hostname")
	}
	if s := r.CString(0); s != "" {
		t.Fatalf("CString = %q, want empty", s)
	}
	if s := r.CString(0); s != "a long value" {
		t.Fatalf("CString = %q, want %q", s, "a long value")
	}
}

func TestCStringTruncation(t *testing.T) {
	buf := make([]byte, 32)
	w := NewWriter(buf)
	w.CString("abcdefgh")

	r := NewReader(w.Bytes())
	if s := r.CString(3); s != "abc" {
		t.Fatalf("CString(3) = %q, want %q", s, "abc")
	}
	// cursor must have advanced past the full string and its NUL, not just
	// the truncated portion, so a subsequent read sees the next field.
	if r.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", r.Remaining())
	}
}

func TestCStringNoTerminator(t *testing.T) {
	r := NewReader([]byte("nonul"))
	if s := r.CString(0); s != "nonul" {
		t.Fatalf("CString = %q, want %q", s, "nonul")
	}
	if r.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", r.Remaining())
	}
}

func TestBlockShortRead(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	b := r.Block(10)
	if !bytes.Equal(b, []byte{1, 2, 3}) {
		t.Fatalf("Block(10) = %v, want [1 2 3]", b)
	}
	if r.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", r.Remaining())
	}
}

func TestKV(t *testing.T) {
	buf := make([]byte, 32)
	w := NewWriter(buf)
	w.KV("clients", 8)

	r := NewReader(w.Bytes())
	if k := r.CString(0); k != "clients" {
		t.Fatalf("key = %q, want %q", k, "clients")
	}
	if v := r.CString(0); v != "8" {
		t.Fatalf("value = %q, want %q", v, "8")
	}
}

func TestWriterReset(t *testing.T) {
	buf := make([]byte, 4)
	w := NewWriter(buf)
	w.Int8(1)
	w.Int8(2)
	if w.Len() != 2 {
		t.Fatalf("Len = %d, want 2", w.Len())
	}
	w.Reset()
	if w.Len() != 0 {
		t.Fatalf("Len after Reset = %d, want 0", w.Len())
	}
}

func TestWriterOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on write overflow")
		}
	}()
	w := NewWriter(make([]byte, 1))
	w.Int32(1)
}

func TestReaderShortReadPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on short fixed-width read")
		}
	}()
	r := NewReader([]byte{1})
	r.Int32()
}
