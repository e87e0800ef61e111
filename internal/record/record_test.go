package record

import (
	"bytes"
	"testing"

	"github.com/cyberus-technology/go-ssm/internal/constants"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{Type: TypeRaw, Important: true, Length: 0},
		{Type: TypeRaw, Important: true, Length: 0x7f},
		{Type: TypeRaw, Important: false, Length: 0x80},
		{Type: TypeRawLZF, Important: true, Length: 0x7ff},
		{Type: TypeRawLZF, Important: true, Length: 0x800},
		{Type: TypeRaw, Important: true, Length: 0xffff},
		{Type: TypeRaw, Important: true, Length: 0x10000},
		{Type: TypeRaw, Important: true, Length: 0x1fffff},
		{Type: TypeRaw, Important: true, Length: 0x200000},
		{Type: TypeRaw, Important: true, Length: 0x3ffffff},
		{Type: TypeRaw, Important: true, Length: 0x4000000},
		{Type: TypeRaw, Important: true, Length: 0x7fffffff},
	}
	for _, h := range cases {
		var buf bytes.Buffer
		if err := WriteHeader(&buf, h); err != nil {
			t.Fatalf("WriteHeader(%+v): %v", h, err)
		}
		got, err := ReadHeader(&buf)
		if err != nil {
			t.Fatalf("ReadHeader after %+v: %v", h, err)
		}
		if got != h {
			t.Fatalf("round trip mismatch: want %+v, got %+v", h, got)
		}
		if buf.Len() != 0 {
			t.Fatalf("leftover bytes after decoding %+v", h)
		}
	}
}

func TestWriteHeaderRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	err := WriteHeader(&buf, Header{Type: TypeRaw, Length: 0x80000000})
	if err == nil {
		t.Fatal("expected error for length exceeding MaxRecordPayload")
	}
}

func TestReadHeaderRejectsMissingHighBit(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x02, 0x00})
	if _, err := ReadHeader(buf); err == nil {
		t.Fatal("expected error when high bit of header byte is unset")
	}
}

func TestTermRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	info := TermInfo{StreamCRCPresent: true, StreamCRC: 0xdeadbeef, UnitBytes: 123456}
	if err := WriteTerm(&buf, info); err != nil {
		t.Fatalf("WriteTerm: %v", err)
	}
	h, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.Type != TypeTerm || !h.Important {
		t.Fatalf("unexpected term header: %+v", h)
	}
	got, err := ReadTerm(&buf, h)
	if err != nil {
		t.Fatalf("ReadTerm: %v", err)
	}
	if got != info {
		t.Fatalf("term round trip mismatch: want %+v, got %+v", info, got)
	}
}

func TestWriterReaderSmallPuts(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	payload := []byte("hello, saved state")
	if err := w.Put(payload); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := WriteTerm(&buf, TermInfo{UnitBytes: uint64(len(payload))}); err != nil {
		t.Fatalf("WriteTerm: %v", err)
	}

	r := NewReader(&buf)
	got := make([]byte, len(payload))
	if err := r.Get(got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
	if err := r.Get(make([]byte, 0)); err != nil {
		t.Fatalf("zero-length Get: %v", err)
	}
	if err := r.fill(); err != nil {
		t.Fatalf("fill (terminator): %v", err)
	}
	if !r.AtEnd() {
		t.Fatalf("expected AtEnd after consuming all payload and the terminator")
	}
}

func TestWriterAllZeroChunk(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	zeros := make([]byte, 8192) // two full DataBufferSize chunks, each streamed through writeChunk
	if err := w.Put(zeros); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r := NewReader(&buf)
	got := make([]byte, len(zeros))
	if err := r.Get(got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, zeros) {
		t.Fatal("decoded zero chunk did not round trip to all-zero bytes")
	}
}

func TestWriterCompressiblePattern(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	pattern := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF}, 2000) // highly repetitive; one full chunk streamed, remainder coalesced
	if err := w.Put(pattern); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r := NewReader(&buf)
	got := make([]byte, len(pattern))
	if err := r.Get(got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, pattern) {
		t.Fatal("decoded compressed chunk mismatch")
	}
}

func TestWriterOddSizedPutAboveHalfBuffer(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	// 3000 bytes: more than half of DataBufferSize (2048) but below a
	// full 4096-byte chunk and not 1024-aligned, so Put coalesces it
	// rather than streaming it. Must not manufacture phantom trailing
	// bytes that bleed into whatever is read after it.
	payload := bytes.Repeat([]byte{0x42}, 3000)
	if err := w.Put(payload); err != nil {
		t.Fatalf("Put: %v", err)
	}
	trailer := []byte("trailing-unit-data")
	if err := w.Put(trailer); err != nil {
		t.Fatalf("Put (trailer): %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r := NewReader(&buf)
	got := make([]byte, len(payload))
	if err := r.Get(got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("decoded odd-sized chunk did not round trip")
	}
	gotTrailer := make([]byte, len(trailer))
	if err := r.Get(gotTrailer); err != nil {
		t.Fatalf("Get (trailer): %v", err)
	}
	if !bytes.Equal(gotTrailer, trailer) {
		t.Fatalf("trailer = %q, want %q (phantom bytes from the odd-sized chunk bled into it)", gotTrailer, trailer)
	}
}

func TestWriterBytesWrittenReflectsWireBytes(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Put(bytes.Repeat([]byte{0x11}, 100)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// A single small Put coalesces into one RAW record: header bytes
	// plus payload, strictly more than the 100 payload bytes alone.
	if got := w.BytesWritten(); got <= 100 {
		t.Fatalf("BytesWritten() = %d, want more than the 100 payload bytes (header overhead missing)", got)
	}
	if uint64(buf.Len()) != w.BytesWritten() {
		t.Fatalf("BytesWritten() = %d, want to match bytes actually on the wire (%d)", w.BytesWritten(), buf.Len())
	}
}

func TestWriterBytesWrittenAcrossStreamedChunks(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	// Three full DataBufferSize chunks, each streamed through writeChunk
	// as its own record; BytesWritten must tally every record emitted,
	// not just the first.
	payload := bytes.Repeat([]byte{0x22}, constants.DataBufferSize*3)
	if err := w.Put(payload); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if uint64(buf.Len()) != w.BytesWritten() {
		t.Fatalf("BytesWritten() = %d, want to match bytes actually on the wire (%d)", w.BytesWritten(), buf.Len())
	}
}

func TestReaderErrLoadedTooMuch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Put([]byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := WriteTerm(&buf, TermInfo{UnitBytes: 1}); err != nil {
		t.Fatalf("WriteTerm: %v", err)
	}

	r := NewReader(&buf)
	got := make([]byte, 1)
	if err := r.Get(got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := r.Get(make([]byte, 1)); err == nil {
		t.Fatal("expected ErrLoadedTooMuch when reading past the terminator")
	}
}

func TestReaderSkipsUnimportantUnknownRecord(t *testing.T) {
	var buf bytes.Buffer
	// An unknown, non-important record type should be skipped transparently.
	if err := WriteHeader(&buf, Header{Type: Type(9), Important: false, Length: 3}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	buf.Write([]byte{1, 2, 3})
	if err := WriteTerm(&buf, TermInfo{}); err != nil {
		t.Fatalf("WriteTerm: %v", err)
	}

	r := NewReader(&buf)
	if err := r.fill(); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if !r.AtEnd() {
		t.Fatal("expected the unknown skippable record to be discarded and TERM reached")
	}
}

func TestReaderRejectsUnknownImportantRecord(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHeader(&buf, Header{Type: Type(9), Important: true, Length: 0}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	r := NewReader(&buf)
	if err := r.fill(); err == nil {
		t.Fatal("expected error for unknown important record type")
	}
}
