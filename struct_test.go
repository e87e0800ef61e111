package ssm

import (
	"bytes"
	"testing"

	"github.com/cyberus-technology/go-ssm/internal/record"
)

type widgetV2 struct {
	ID      uint32
	Flags   uint8
	Counter uint64 // added in version 2
}

func widgetFields() []FieldDesc {
	return []FieldDesc{
		{Name: "ID", Transform: TransformRaw},
		{Name: "Flags", Transform: TransformRaw},
		{Name: "Counter", Transform: TransformRaw, FirstVersion: 2},
	}
}

func TestStructVersionGateSkipsNewerField(t *testing.T) {
	w, buf := newScalarTestHandle(64, 8, 8)
	src := widgetV2{ID: 7, Flags: 1, Counter: 99}
	if err := w.PutStruct(&src, widgetFields()[:2], StructOptions{}); err != nil {
		t.Fatalf("PutStruct: %v", err)
	}
	w.beginRead(buf)

	// A version-1 unit never wrote Counter; loading it with the full
	// descriptor list at unit version 1 must skip Counter (FirstVersion
	// 2) on the wire and leave dst.Counter untouched.
	var dst widgetV2
	dst.Counter = 123
	if err := w.GetStruct(&dst, widgetFields(), 1, StructOptions{}); err != nil {
		t.Fatalf("GetStruct: %v", err)
	}
	if dst.ID != 7 || dst.Flags != 1 {
		t.Fatalf("got %+v, want ID=7 Flags=1", dst)
	}
	if dst.Counter != 123 {
		t.Fatalf("Counter was touched by a version-1 read: %d", dst.Counter)
	}
}

func TestStructFullRoundTripWithMarkers(t *testing.T) {
	w, buf := newScalarTestHandle(64, 8, 8)
	src := widgetV2{ID: 42, Flags: 3, Counter: 1000}
	if err := w.PutStruct(&src, widgetFields(), StructOptions{}); err != nil {
		t.Fatalf("PutStruct: %v", err)
	}
	w.beginRead(buf)

	var dst widgetV2
	if err := w.GetStruct(&dst, widgetFields(), 2, StructOptions{}); err != nil {
		t.Fatalf("GetStruct: %v", err)
	}
	if dst != src {
		t.Fatalf("got %+v, want %+v", dst, src)
	}
}

func TestStructBeginMarkerMismatch(t *testing.T) {
	w, _ := newScalarTestHandle(64, 8, 8)
	var buf bytes.Buffer
	// Write garbage instead of a real BEGIN marker.
	rw := record.NewWriter(&buf)
	_ = rw.Put([]byte{0, 0, 0, 0})
	_ = rw.Flush()
	w.rr = record.NewReader(bytes.NewReader(buf.Bytes()))

	var dst widgetV2
	err := w.GetStruct(&dst, widgetFields(), 2, StructOptions{})
	if err == nil || !IsCode(err, CodeIntegrityHeader) {
		t.Fatalf("err = %v, want CodeIntegrityHeader", err)
	}
}

func TestStructHCPtrHackU32Overflow(t *testing.T) {
	type hcptrStruct struct {
		Ptr uint64
	}
	fields := []FieldDesc{{Name: "Ptr", Transform: TransformHCPtrHackU32}}

	w, _ := newScalarTestHandle(64, 8, 8)
	src := hcptrStruct{Ptr: 0x1_0000_0000}
	err := w.PutStruct(&src, fields, StructOptions{NoMarkers: true})
	if err == nil || !IsCode(err, CodeFieldInvalidValue) {
		t.Fatalf("err = %v, want CodeFieldInvalidValue for a non-zero high half", err)
	}
}

func TestStructNoMarkersSuppressesMagic(t *testing.T) {
	w, buf := newScalarTestHandle(64, 8, 8)
	src := widgetV2{ID: 1, Flags: 0, Counter: 0}
	if err := w.PutStruct(&src, widgetFields()[:2], StructOptions{NoMarkers: true}); err != nil {
		t.Fatalf("PutStruct: %v", err)
	}
	if err := w.rw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// One RAW record: a 2-byte record header plus ID (4 bytes) + Flags
	// (1 byte), with no BEGIN/END markers (4 bytes each).
	if buf.Len() != 2+5 {
		t.Fatalf("buf.Len() = %d, want %d (markers written?)", buf.Len(), 2+5)
	}
}
