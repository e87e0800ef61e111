package ssm

import (
	"bytes"
	"testing"

	"github.com/cyberus-technology/go-ssm/internal/record"
)

// newScalarTestHandle returns a Handle whose write sub-state writes to
// buf and, once beginRead is called, whose read sub-state reads back
// from the same bytes -- enough to exercise Put*/Get* without a full
// Save/Load orchestration.
func newScalarTestHandle(hostBits, gcPhysBytes, gcPtrBytes int) (*Handle, *bytes.Buffer) {
	s := New()
	h := newHandle(s, OpSaveExec)
	h.host = HostInfo{HostBits: hostBits, GCPhysBytes: gcPhysBytes, GCPtrBytes: gcPtrBytes}
	var buf bytes.Buffer
	h.rw = record.NewWriter(&buf)
	return h, &buf
}

func (h *Handle) beginRead(buf *bytes.Buffer) {
	if err := h.rw.Flush(); err != nil {
		panic(err)
	}
	h.rr = record.NewReader(bytes.NewReader(buf.Bytes()))
}

func TestScalarRoundTrip(t *testing.T) {
	h, buf := newScalarTestHandle(64, 8, 8)
	if err := h.PutU8(0x12); err != nil {
		t.Fatalf("PutU8: %v", err)
	}
	if err := h.PutU32(0xdeadbeef); err != nil {
		t.Fatalf("PutU32: %v", err)
	}
	if err := h.PutU64(0x1122334455667788); err != nil {
		t.Fatalf("PutU64: %v", err)
	}
	if err := h.PutBool(true); err != nil {
		t.Fatalf("PutBool: %v", err)
	}

	h.beginRead(buf)
	if v, err := h.GetU8(); err != nil || v != 0x12 {
		t.Fatalf("GetU8 = %x, %v, want 0x12", v, err)
	}
	if v, err := h.GetU32(); err != nil || v != 0xdeadbeef {
		t.Fatalf("GetU32 = %x, %v, want 0xdeadbeef", v, err)
	}
	if v, err := h.GetU64(); err != nil || v != 0x1122334455667788 {
		t.Fatalf("GetU64 = %x, %v, want 0x1122334455667788", v, err)
	}
	if v, err := h.GetBool(); err != nil || v != true {
		t.Fatalf("GetBool = %v, %v, want true", v, err)
	}
}

func TestGCPhysSameWidthRoundTrip(t *testing.T) {
	h, buf := newScalarTestHandle(64, 8, 8)
	const want = uint64(0xfeedfacecafebeef)
	if err := h.PutGCPhys(want); err != nil {
		t.Fatalf("PutGCPhys: %v", err)
	}
	h.beginRead(buf)
	got, err := h.GetGCPhys(8)
	if err != nil {
		t.Fatalf("GetGCPhys: %v", err)
	}
	if got != want {
		t.Fatalf("GetGCPhys = %x, want %x", got, want)
	}
}

func TestGCPhysZeroExtendsFrom32To64(t *testing.T) {
	// Saved on a 32-bit host (4-byte GCPhys), read back on a 64-bit one.
	w, buf := newScalarTestHandle(32, 4, 4)
	const want = uint64(0xaabbccdd)
	if err := w.PutGCPhys(want); err != nil {
		t.Fatalf("PutGCPhys: %v", err)
	}
	w.beginRead(buf)

	r, _ := newScalarTestHandle(64, 8, 8)
	r.rr = w.rr
	got, err := r.GetGCPhys(4) // fileBytes=4: that's what was actually written
	if err != nil {
		t.Fatalf("GetGCPhys: %v", err)
	}
	if got != want {
		t.Fatalf("GetGCPhys = %x, want %x", got, want)
	}
}

func TestGCPhysOverflowOnNarrowerLoad(t *testing.T) {
	// Saved on a 64-bit host with the high half set, loaded back on a
	// 32-bit one: must fail rather than silently truncate.
	w, buf := newScalarTestHandle(64, 8, 8)
	if err := w.PutGCPhys(0x1_0000_0001); err != nil {
		t.Fatalf("PutGCPhys: %v", err)
	}
	w.beginRead(buf)

	r, _ := newScalarTestHandle(32, 4, 4)
	r.rr = w.rr
	if _, err := r.GetGCPhys(8); err == nil { // fileBytes=8: that's what was actually written
		t.Fatal("expected GetGCPhys to fail when the saved value doesn't fit the loading host's width")
	}
}

func TestMemRoundTrip(t *testing.T) {
	h, buf := newScalarTestHandle(64, 8, 8)
	payload := []byte("a saved memory region")
	if err := h.PutMem(payload); err != nil {
		t.Fatalf("PutMem: %v", err)
	}
	h.beginRead(buf)
	got := make([]byte, len(payload))
	if err := h.GetMem(got); err != nil {
		t.Fatalf("GetMem: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("GetMem = %q, want %q", got, payload)
	}
}

func TestStrZRoundTrip(t *testing.T) {
	h, buf := newScalarTestHandle(64, 8, 8)
	if err := h.PutStrZ("hello"); err != nil {
		t.Fatalf("PutStrZ: %v", err)
	}
	h.beginRead(buf)
	got, err := h.GetStrZ(32)
	if err != nil {
		t.Fatalf("GetStrZ: %v", err)
	}
	if got != "hello" {
		t.Fatalf("GetStrZ = %q, want %q", got, "hello")
	}
}
