package ssm

import (
	"testing"

	"github.com/cyberus-technology/go-ssm/internal/constants"
	"github.com/cyberus-technology/go-ssm/internal/record"
)

func TestCheckCancelledObservesCancellation(t *testing.T) {
	s := New()
	h := newHandle(s, OpSaveExec)
	if err := h.checkCancelled(); err != nil {
		t.Fatalf("checkCancelled on a fresh handle: %v", err)
	}
	h.cancelled.Store(constants.CancelRequested)
	err := h.checkCancelled()
	if err == nil || !IsCode(err, CodeCancelled) {
		t.Fatalf("err = %v, want CodeCancelled", err)
	}
	// Sticky: once rc is set, further calls return the same error
	// without re-checking the atomic.
	h.cancelled.Store(constants.CancelOK)
	if err2 := h.checkCancelled(); err2 == nil {
		t.Fatal("expected checkCancelled to stay sticky after the first observed cancellation")
	}
}

func TestSetLoadErrorLatchesFirstError(t *testing.T) {
	s := New()
	h := newHandle(s, OpLoadExec)
	h.curUnit = &unit{name: "disk", instance: 0}
	h.curUnitVersion = 3

	err1 := h.SetLoadError(CodeFieldInvalidValue, "first problem")
	if err1 == nil || !IsCode(err1, CodeFieldInvalidValue) {
		t.Fatalf("first SetLoadError = %v, want CodeFieldInvalidValue", err1)
	}
	if h.HandleGetStatus() != err1 {
		t.Fatalf("HandleGetStatus = %v, want the first error latched", h.HandleGetStatus())
	}

	err2 := h.SetLoadError(CodeLoadConfigMismatch, "second problem")
	if err2 == nil {
		t.Fatal("expected a second SetLoadError call to still return a unit error")
	}
	if h.HandleGetStatus() != err1 {
		t.Fatal("expected the handle's sticky status to remain the first error")
	}
}

func TestSetConfigErrorUsesConfigMismatchCode(t *testing.T) {
	s := New()
	h := newHandle(s, OpLoadExec)
	err := h.SetConfigError("host width mismatch")
	if err == nil || !IsCode(err, CodeLoadConfigMismatch) {
		t.Fatalf("err = %v, want CodeLoadConfigMismatch", err)
	}
}

func TestSkipDiscardsExactByteCount(t *testing.T) {
	h, buf := newScalarTestHandle(64, 8, 8)
	if err := h.PutMem([]byte("0123456789")); err != nil {
		t.Fatalf("PutMem: %v", err)
	}
	if err := h.PutU32(0xcafef00d); err != nil {
		t.Fatalf("PutU32: %v", err)
	}
	h.beginRead(buf)

	if err := h.Skip(10); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	v, err := h.GetU32()
	if err != nil {
		t.Fatalf("GetU32 after Skip: %v", err)
	}
	if v != 0xcafef00d {
		t.Fatalf("GetU32 = %x, want 0xcafef00d", v)
	}
}

func TestSkipToEndOfUnitConsumesRemainder(t *testing.T) {
	h, buf := newScalarTestHandle(64, 8, 8)
	if err := h.PutMem([]byte("trailing unread payload")); err != nil {
		t.Fatalf("PutMem: %v", err)
	}
	if err := h.rw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := record.WriteTerm(buf, record.TermInfo{}); err != nil {
		t.Fatalf("WriteTerm: %v", err)
	}
	h.rr = record.NewReader(buf)

	if err := h.SkipToEndOfUnit(); err != nil {
		t.Fatalf("SkipToEndOfUnit: %v", err)
	}
	if !h.rr.AtEnd() {
		t.Fatal("expected the reader to be at end after SkipToEndOfUnit")
	}
}
