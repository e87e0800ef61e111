package ssm

import (
	"bytes"

	"github.com/cyberus-technology/go-ssm/internal/fieldcodec"
)

// Scalar put/get methods on Handle (spec section 4.D). Puts append to
// the write sub-state's record.Writer; gets pull from the read
// sub-state's record.Reader. Every put/get first polls for
// cancellation so a long run of small puts remains responsive to
// Cancel within one call (spec section 8 scenario 6).

func (h *Handle) put(fn func(*bytes.Buffer) error, n int) error {
	if err := h.checkCancelled(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		return h.fail(err)
	}
	if err := h.rw.Put(buf.Bytes()); err != nil {
		return h.fail(err)
	}
	h.offUnitUser += uint64(buf.Len())
	return nil
}

func (h *Handle) fail(err error) error {
	h.HandleSetStatus(err)
	return err
}

func (h *Handle) PutU8(v uint8) error   { return h.put(func(b *bytes.Buffer) error { return fieldcodec.PutU8(b, v) }, 1) }
func (h *Handle) PutBool(v bool) error  { return h.put(func(b *bytes.Buffer) error { return fieldcodec.PutBool(b, v) }, 1) }
func (h *Handle) PutU16(v uint16) error { return h.put(func(b *bytes.Buffer) error { return fieldcodec.PutU16(b, v) }, 2) }
func (h *Handle) PutU32(v uint32) error { return h.put(func(b *bytes.Buffer) error { return fieldcodec.PutU32(b, v) }, 4) }
func (h *Handle) PutU64(v uint64) error { return h.put(func(b *bytes.Buffer) error { return fieldcodec.PutU64(b, v) }, 8) }
func (h *Handle) PutU128(v fieldcodec.U128) error {
	return h.put(func(b *bytes.Buffer) error { return fieldcodec.PutU128(b, v) }, 16)
}
func (h *Handle) PutS8(v int8) error   { return h.PutU8(uint8(v)) }
func (h *Handle) PutS16(v int16) error { return h.PutU16(uint16(v)) }
func (h *Handle) PutS32(v int32) error { return h.PutU32(uint32(v)) }
func (h *Handle) PutS64(v int64) error { return h.PutU64(uint64(v)) }

func (h *Handle) PutGCPhys(v uint64) error {
	return h.put(func(b *bytes.Buffer) error { return fieldcodec.PutGCPhys(b, v, h.host.GCPhysBytes) }, h.host.GCPhysBytes)
}
func (h *Handle) PutGCPtr(v uint64) error {
	return h.put(func(b *bytes.Buffer) error { return fieldcodec.PutGCPtr(b, v, h.host.GCPtrBytes) }, h.host.GCPtrBytes)
}
func (h *Handle) PutRCPtr(v uint32) error {
	return h.put(func(b *bytes.Buffer) error { return fieldcodec.PutRCPtr(b, v) }, 4)
}
func (h *Handle) PutIOPort(v uint16) error { return h.PutU16(v) }
func (h *Handle) PutSel(v uint16) error    { return h.PutU16(v) }

func (h *Handle) PutMem(p []byte) error {
	if err := h.checkCancelled(); err != nil {
		return err
	}
	if err := h.rw.Put(p); err != nil {
		return h.fail(err)
	}
	h.offUnitUser += uint64(len(p))
	return nil
}

func (h *Handle) PutStrZ(s string) error {
	return h.put(func(b *bytes.Buffer) error { return fieldcodec.PutStrZ(b, s) }, 4+len(s))
}

// get mirrors put: it reads exactly n bytes through the record.Reader
// into a scratch buffer and hands it to fn for typed decoding.
func (h *Handle) get(n int, fn func([]byte) error) error {
	if err := h.checkCancelled(); err != nil {
		return err
	}
	buf := make([]byte, n)
	if err := h.rr.Get(buf); err != nil {
		return h.fail(err)
	}
	if err := fn(buf); err != nil {
		return h.fail(err)
	}
	h.offUnitUser += uint64(n)
	return nil
}

func (h *Handle) GetU8() (uint8, error) {
	var v uint8
	err := h.get(1, func(b []byte) error { v = b[0]; return nil })
	return v, err
}

func (h *Handle) GetBool() (bool, error) {
	v, err := h.GetU8()
	return v != 0, err
}

func (h *Handle) GetU16() (uint16, error) {
	var v uint16
	err := h.get(2, func(b []byte) error { r := bytes.NewReader(b); var e error; v, e = fieldcodec.GetU16(r); return e })
	return v, err
}

func (h *Handle) GetU32() (uint32, error) {
	var v uint32
	err := h.get(4, func(b []byte) error { r := bytes.NewReader(b); var e error; v, e = fieldcodec.GetU32(r); return e })
	return v, err
}

func (h *Handle) GetU64() (uint64, error) {
	var v uint64
	err := h.get(8, func(b []byte) error { r := bytes.NewReader(b); var e error; v, e = fieldcodec.GetU64(r); return e })
	return v, err
}

func (h *Handle) GetU128() (fieldcodec.U128, error) {
	var v fieldcodec.U128
	err := h.get(16, func(b []byte) error { r := bytes.NewReader(b); var e error; v, e = fieldcodec.GetU128(r); return e })
	return v, err
}

func (h *Handle) GetS8() (int8, error)   { v, err := h.GetU8(); return int8(v), err }
func (h *Handle) GetS16() (int16, error) { v, err := h.GetU16(); return int16(v), err }
func (h *Handle) GetS32() (int32, error) { v, err := h.GetU32(); return int32(v), err }
func (h *Handle) GetS64() (int64, error) { v, err := h.GetU64(); return int64(v), err }

// GetGCPhys reads a width-adaptive guest-physical address written
// with fileBytes width (typically h.host.GCPhysBytes from the loaded
// file's header) and converts it to the width in h.host.GCPhysBytes;
// during Load, h.host holds the widths from the file header.
func (h *Handle) GetGCPhys(fileBytes int) (uint64, error) {
	var v uint64
	err := h.get(fileBytes, func(b []byte) error {
		r := bytes.NewReader(b)
		var e error
		v, e = fieldcodec.GetGCPhys(r, fileBytes, h.host.GCPhysBytes)
		if e != nil {
			return h.SetLoadError(CodeGCPhysOverflow, e.Error())
		}
		return nil
	})
	return v, err
}

func (h *Handle) GetGCPtr(fileBytes int) (uint64, error) {
	var v uint64
	err := h.get(fileBytes, func(b []byte) error {
		r := bytes.NewReader(b)
		var e error
		v, e = fieldcodec.GetGCPtr(r, fileBytes, h.host.GCPtrBytes)
		if e != nil {
			return h.SetLoadError(CodeGCPtrOverflow, e.Error())
		}
		return nil
	})
	return v, err
}

func (h *Handle) GetRCPtr() (uint32, error) {
	var v uint32
	err := h.get(4, func(b []byte) error { r := bytes.NewReader(b); var e error; v, e = fieldcodec.GetRCPtr(r); return e })
	return v, err
}

func (h *Handle) GetIOPort() (uint16, error) { return h.GetU16() }
func (h *Handle) GetSel() (uint16, error)    { return h.GetU16() }

func (h *Handle) GetMem(p []byte) error {
	if err := h.checkCancelled(); err != nil {
		return err
	}
	if err := h.rr.Get(p); err != nil {
		return h.fail(err)
	}
	h.offUnitUser += uint64(len(p))
	return nil
}

// GetStrZ reads a length-prefixed string, truncating to cbMax-1 bytes
// like the underlying fieldcodec helper.
func (h *Handle) GetStrZ(cbMax int) (string, error) {
	if err := h.checkCancelled(); err != nil {
		return "", err
	}
	var lenBuf [4]byte
	if err := h.rr.Get(lenBuf[:]); err != nil {
		return "", h.fail(err)
	}
	n := int(lenBuf[0]) | int(lenBuf[1])<<8 | int(lenBuf[2])<<16 | int(lenBuf[3])<<24
	raw := make([]byte, n)
	if err := h.rr.Get(raw); err != nil {
		return "", h.fail(err)
	}
	h.offUnitUser += uint64(4 + n)
	if cbMax > 0 && len(raw) > cbMax-1 {
		raw = raw[:cbMax-1]
	}
	return string(raw), nil
}
