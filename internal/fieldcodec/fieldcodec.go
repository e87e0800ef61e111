// Package fieldcodec implements component D's scalar codec: the
// width-adaptive GC-phys/GC-ptr/RC-ptr wire types and the plain
// fixed-width scalar put/get helpers layered on a byte sink/source.
//
// Grounded on the teacher's uapi.Marshal/Unmarshal type-switch style
// (manual little-endian field-by-field encode/decode) rather than
// reflection or unsafe casts, since the wire layout here is declared
// by the caller's Go type (uint32 vs uint64), not a fixed C struct.
package fieldcodec

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HostWidths describes the bit widths in effect for the current
// stream: the host that is doing the decoding, not the host that
// wrote the file (that is carried per-field via the write-side width
// recorded in the unit/file header and passed to the Get* functions as
// fileBytes).
type HostWidths struct {
	GCPhysBytes int // 4 or 8
	GCPtrBytes  int // 4 or 8
}

// PutU8/PutU16/... write a fixed-width little-endian scalar.
func PutU8(w io.Writer, v uint8) error { _, err := w.Write([]byte{v}); return err }

func PutBool(w io.Writer, v bool) error {
	var b byte
	if v {
		b = 1
	}
	return PutU8(w, b)
}

func PutU16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func PutU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func PutU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// U128 is a 128-bit little-endian scalar represented as two 64-bit
// halves since Go has no native 128-bit integer type.
type U128 struct {
	Lo, Hi uint64
}

func PutU128(w io.Writer, v U128) error {
	if err := PutU64(w, v.Lo); err != nil {
		return err
	}
	return PutU64(w, v.Hi)
}

func GetU8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func GetBool(r io.Reader) (bool, error) {
	v, err := GetU8(r)
	return v != 0, err
}

func GetU16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func GetU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func GetU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func GetU128(r io.Reader) (U128, error) {
	lo, err := GetU64(r)
	if err != nil {
		return U128{}, err
	}
	hi, err := GetU64(r)
	if err != nil {
		return U128{}, err
	}
	return U128{Lo: lo, Hi: hi}, nil
}

// PutStrZ writes a length-prefixed string: u32 length, then raw bytes,
// with no terminator on the wire (spec section 4.D).
func PutStrZ(w io.Writer, s string) error {
	if err := PutU32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// GetStrZ reads a length-prefixed string, NUL-truncating the result if
// the stored length exceeds cbMax - 1.
func GetStrZ(r io.Reader, cbMax int) (string, error) {
	n, err := GetU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	if cbMax > 0 && len(buf) > cbMax-1 {
		buf = buf[:cbMax-1]
	}
	return string(buf), nil
}

// PutMem writes raw bytes verbatim (no length prefix; the caller
// already knows the length from the field descriptor or agreed
// protocol).
func PutMem(w io.Writer, p []byte) error {
	_, err := w.Write(p)
	return err
}

func GetMem(r io.Reader, p []byte) error {
	_, err := io.ReadFull(r, p)
	return err
}

// OverflowKind names which width-adaptive type overflowed, without
// importing the root ssm package's Code type here (fieldcodec sits
// below it in the dependency graph).
type OverflowKind int

const (
	OverflowGCPhys OverflowKind = iota
	OverflowGCPtr
)

type OverflowError struct {
	Kind  OverflowKind
	Value uint64
}

func (e *OverflowError) Error() string {
	name := "GC-phys"
	if e.Kind == OverflowGCPtr {
		name = "GC-ptr"
	}
	return fmt.Sprintf("fieldcodec: %s value 0x%x does not fit in the host's narrower width", name, e.Value)
}

// PutGCPhys writes a guest-physical address at the host's native
// width (4 or 8 bytes), per the writing host's HostWidths.
func PutGCPhys(w io.Writer, v uint64, hostBytes int) error {
	return putWidthAdaptive(w, v, hostBytes)
}

func PutGCPtr(w io.Writer, v uint64, hostBytes int) error {
	return putWidthAdaptive(w, v, hostBytes)
}

func putWidthAdaptive(w io.Writer, v uint64, hostBytes int) error {
	if hostBytes == 4 {
		return PutU32(w, uint32(v))
	}
	return PutU64(w, v)
}

// GetGCPhys reads a guest-physical address that was written with
// fileBytes width, adapting to the current host's hostBytes width per
// spec section 4.D: same width is a raw read; file-wrote-64/host-is-32
// requires the high half to be zero or fails with OverflowGCPhys;
// file-wrote-32/host-is-64 zero-extends.
func GetGCPhys(r io.Reader, fileBytes, hostBytes int) (uint64, error) {
	return getWidthAdaptive(r, fileBytes, hostBytes, OverflowGCPhys)
}

func GetGCPtr(r io.Reader, fileBytes, hostBytes int) (uint64, error) {
	return getWidthAdaptive(r, fileBytes, hostBytes, OverflowGCPtr)
}

func getWidthAdaptive(r io.Reader, fileBytes, hostBytes int, kind OverflowKind) (uint64, error) {
	if fileBytes == hostBytes {
		if hostBytes == 4 {
			v, err := GetU32(r)
			return uint64(v), err
		}
		return GetU64(r)
	}
	if fileBytes == 8 && hostBytes == 4 {
		v, err := GetU64(r)
		if err != nil {
			return 0, err
		}
		if v>>32 != 0 {
			return 0, &OverflowError{Kind: kind, Value: v}
		}
		return v, nil
	}
	// fileBytes == 4, hostBytes == 8: zero-extend.
	v, err := GetU32(r)
	return uint64(v), err
}

// PutRCPtr writes a ring-3-to-ring-0 pointer; always 32-bit on the
// wire per spec section 4.D.
func PutRCPtr(w io.Writer, v uint32) error { return PutU32(w, v) }
func GetRCPtr(r io.Reader) (uint32, error) { return GetU32(r) }

// PutIOPort/PutSel are 16-bit scalars with dedicated names purely for
// diagnostic clarity at call sites; the wire form is identical to u16.
func PutIOPort(w io.Writer, v uint16) error { return PutU16(w, v) }
func GetIOPort(r io.Reader) (uint16, error) { return GetU16(r) }
func PutSel(w io.Writer, v uint16) error    { return PutU16(w, v) }
func GetSel(r io.Reader) (uint16, error)    { return GetU16(r) }

// HCPtrHackU32 truncates a 64-bit host pointer to 32 bits for a
// 64-bit-saved file, per the "HCPTR hack U32" transform (spec section
// 9): the high half must be zero or the save must fail distinctly
// rather than silently lose data.
func HCPtrHackU32(w io.Writer, v uint64) error {
	if v>>32 != 0 {
		return &OverflowError{Kind: OverflowGCPtr, Value: v}
	}
	return PutU32(w, uint32(v))
}
