package backend

import (
	"io"
	"testing"

	"github.com/cyberus-technology/go-ssm/internal/stream"
)

func TestMemoryWriteThenRead(t *testing.T) {
	m := NewMemory()
	n, err := m.Write([]byte("hello saved state"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len("hello saved state") {
		t.Fatalf("Write returned %d, want %d", n, len("hello saved state"))
	}

	m2 := NewMemoryFromBytes(m.Bytes())
	buf := make([]byte, n)
	if _, err := io.ReadFull(m2, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "hello saved state" {
		t.Fatalf("got %q", buf)
	}
}

func TestMemorySeek(t *testing.T) {
	m := NewMemoryFromBytes([]byte("0123456789"))

	pos, err := m.Seek(5, stream.SeekBegin)
	if err != nil || pos != 5 {
		t.Fatalf("Seek(5, Begin) = %d, %v", pos, err)
	}
	buf := make([]byte, 3)
	if _, err := m.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "567" {
		t.Fatalf("got %q, want 567", buf)
	}

	pos, err = m.Seek(0, stream.SeekEnd)
	if err != nil || pos != 10 {
		t.Fatalf("Seek(0, End) = %d, %v", pos, err)
	}
	if _, err := m.Read(buf); err != io.EOF {
		t.Fatalf("Read past end: got %v, want io.EOF", err)
	}
}

func TestMemorySeekOutOfRange(t *testing.T) {
	m := NewMemoryFromBytes([]byte("abc"))
	if _, err := m.Seek(100, stream.SeekBegin); err == nil {
		t.Fatal("expected out-of-range seek to fail")
	}
}

func TestMemoryCloseCancelledClearsBuffer(t *testing.T) {
	m := NewMemory()
	_, _ = m.Write([]byte("partial"))
	if err := m.Close(true); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(m.Bytes()) != 0 {
		t.Fatalf("expected cleared buffer after cancelled close, got %d bytes", len(m.Bytes()))
	}
}

func TestMemoryIsOKAlwaysNil(t *testing.T) {
	m := NewMemory()
	if err := m.IsOK(); err != nil {
		t.Fatalf("IsOK: %v", err)
	}
}
