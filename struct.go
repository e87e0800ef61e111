package ssm

import (
	"fmt"
	"reflect"

	"github.com/cyberus-technology/go-ssm/internal/constants"
)

// Transform is the closed set of intrinsic field transforms the
// struct engine recognizes (spec section 4.D / 9: "keep the enum
// closed and order it so the common raw-copy case is the fast path").
type Transform int

const (
	TransformRaw Transform = iota // fast path: memcpy-equivalent, ordered first
	TransformGCPhys
	TransformGCPtr
	TransformRCPtr
	TransformRCPtrArray
	TransformHCPtrNIL      // stored as bool unless DontIgnore is set on the field
	TransformHCPtrNILArray
	TransformHCPtrHackU32 // truncate 64-bit host pointer to 32 bits on save
	TransformU32ZeroExtU64
	TransformIgnore // read/write zeros only when DontIgnore is set
	TransformOld    // skip a fixed number of bytes on load only
	TransformPadding
	TransformCallback // Fn is invoked directly
)

// FieldFlags are per-field modifiers orthogonal to the Transform tag.
type FieldFlags int

const (
	FlagNone FieldFlags = 0
	FlagDontIgnore FieldFlags = 1 << iota
)

// FieldDesc describes one field of a struct put/get call (spec section
// 4.D). Fields are located by Name with reflect's FieldByName rather
// than by byte offset and size, so a descriptor carries no offset.
type FieldDesc struct {
	Name         string
	Transform    Transform
	Fn           func(h *Handle, isGet bool, fieldPtr any) error // only for TransformCallback
	FirstVersion uint32                                          // get: skip if unit version < this
	Flags        FieldFlags

	// Padding-only fields (Transform == TransformPadding):
	PadBytes32, PadBytes64 int
	AutoPad                bool // pick PadBytes32/64 from the saving host's bit width

	// Old-field-only (Transform == TransformOld): number of bytes to
	// skip on load.
	OldSize int
}

// StructOptions toggles the BEGIN/END marker bracketing (spec section
// 4.D).
type StructOptions struct {
	NoMarkers     bool
	NoLeadMarker  bool
	NoTailMarker  bool
	FullStruct    bool // accepted but not checked: PutStruct/GetStruct make no coverage assertion
}

// PutStruct writes fields of v (a pointer to a struct) in field-
// descriptor order, bracketed by BEGIN/END magic markers unless
// suppressed.
func (h *Handle) PutStruct(v any, fields []FieldDesc, opts StructOptions) error {
	if !opts.NoMarkers && !opts.NoLeadMarker {
		if err := h.PutU32(constants.StructBeginMarker); err != nil {
			return err
		}
	}
	rv := reflect.ValueOf(v).Elem()
	for _, fd := range fields {
		fv := rv.FieldByName(fd.Name)
		if err := h.putField(fd, fv, v); err != nil {
			return err
		}
	}
	if !opts.NoMarkers && !opts.NoTailMarker {
		if err := h.PutU32(constants.StructEndMarker); err != nil {
			return err
		}
	}
	return nil
}

// GetStruct reads fields of v in descriptor order, applying the
// FirstVersion gate from spec section 4.D / testable property 4: a
// field whose FirstVersion exceeds the saved unit's version is skipped
// entirely (left untouched in memory).
func (h *Handle) GetStruct(v any, fields []FieldDesc, unitVersion uint32, opts StructOptions) error {
	if !opts.NoMarkers && !opts.NoLeadMarker {
		marker, err := h.GetU32()
		if err != nil {
			return err
		}
		if marker != constants.StructBeginMarker {
			return h.SetLoadError(CodeIntegrityHeader, fmt.Sprintf("struct BEGIN marker mismatch: got 0x%x", marker))
		}
	}
	rv := reflect.ValueOf(v).Elem()
	for _, fd := range fields {
		if fd.FirstVersion > unitVersion {
			continue
		}
		fv := rv.FieldByName(fd.Name)
		if err := h.getField(fd, fv, v); err != nil {
			return err
		}
	}
	if !opts.NoMarkers && !opts.NoTailMarker {
		marker, err := h.GetU32()
		if err != nil {
			return err
		}
		if marker != constants.StructEndMarker {
			return h.SetLoadError(CodeIntegrityHeader, fmt.Sprintf("struct END marker mismatch: got 0x%x", marker))
		}
	}
	return nil
}

func (h *Handle) padCount(fd FieldDesc) int {
	if fd.AutoPad {
		if h.host.HostBits == 32 {
			return fd.PadBytes32
		}
		return fd.PadBytes64
	}
	return fd.PadBytes64
}

func (h *Handle) putField(fd FieldDesc, fv reflect.Value, structPtr any) error {
	switch fd.Transform {
	case TransformRaw:
		return h.putRawField(fv)
	case TransformGCPhys:
		return h.PutGCPhys(fv.Uint())
	case TransformGCPtr:
		return h.PutGCPtr(fv.Uint())
	case TransformRCPtr:
		return h.PutRCPtr(uint32(fv.Uint()))
	case TransformRCPtrArray:
		for i := 0; i < fv.Len(); i++ {
			if err := h.PutRCPtr(uint32(fv.Index(i).Uint())); err != nil {
				return err
			}
		}
		return nil
	case TransformHCPtrNIL:
		if fd.Flags&FlagDontIgnore == 0 {
			return h.PutBool(fv.Uint() != 0)
		}
		return h.PutU64(fv.Uint())
	case TransformHCPtrNILArray:
		for i := 0; i < fv.Len(); i++ {
			if err := h.PutBool(fv.Index(i).Uint() != 0); err != nil {
				return err
			}
		}
		return nil
	case TransformHCPtrHackU32:
		if fv.Uint()>>32 != 0 {
			return h.fail(NewError("PutStruct", CodeFieldInvalidValue, "HCPTR hack U32: high half non-zero"))
		}
		return h.PutU32(uint32(fv.Uint()))
	case TransformU32ZeroExtU64:
		return h.PutU32(uint32(fv.Uint()))
	case TransformIgnore:
		if fd.Flags&FlagDontIgnore != 0 {
			return h.PutU32(0)
		}
		return nil
	case TransformOld:
		return nil // old fields are write-nothing; load-only skip
	case TransformPadding:
		n := h.padCount(fd)
		return h.PutMem(make([]byte, n))
	case TransformCallback:
		return fd.Fn(h, false, structPtr)
	default:
		return h.fail(NewError("PutStruct", CodeFieldComplex, fmt.Sprintf("unknown transform %d for field %s", fd.Transform, fd.Name)))
	}
}

func (h *Handle) getField(fd FieldDesc, fv reflect.Value, structPtr any) error {
	switch fd.Transform {
	case TransformRaw:
		return h.getRawField(fv)
	case TransformGCPhys:
		v, err := h.GetGCPhys(h.host.GCPhysBytes)
		if err != nil {
			return err
		}
		fv.SetUint(v)
		return nil
	case TransformGCPtr:
		v, err := h.GetGCPtr(h.host.GCPtrBytes)
		if err != nil {
			return err
		}
		fv.SetUint(v)
		return nil
	case TransformRCPtr:
		v, err := h.GetRCPtr()
		if err != nil {
			return err
		}
		fv.SetUint(uint64(v))
		return nil
	case TransformRCPtrArray:
		for i := 0; i < fv.Len(); i++ {
			v, err := h.GetRCPtr()
			if err != nil {
				return err
			}
			fv.Index(i).SetUint(uint64(v))
		}
		return nil
	case TransformHCPtrNIL:
		if fd.Flags&FlagDontIgnore == 0 {
			v, err := h.GetBool()
			if err != nil {
				return err
			}
			if v {
				fv.SetUint(1)
			} else {
				fv.SetUint(0)
			}
			return nil
		}
		v, err := h.GetU64()
		if err != nil {
			return err
		}
		fv.SetUint(v)
		return nil
	case TransformHCPtrNILArray:
		for i := 0; i < fv.Len(); i++ {
			v, err := h.GetBool()
			if err != nil {
				return err
			}
			if v {
				fv.Index(i).SetUint(1)
			} else {
				fv.Index(i).SetUint(0)
			}
		}
		return nil
	case TransformHCPtrHackU32:
		v, err := h.GetU32()
		if err != nil {
			return err
		}
		fv.SetUint(uint64(v))
		return nil
	case TransformU32ZeroExtU64:
		v, err := h.GetU32()
		if err != nil {
			return err
		}
		fv.SetUint(uint64(v))
		return nil
	case TransformIgnore:
		if fd.Flags&FlagDontIgnore != 0 {
			_, err := h.GetU32()
			return err
		}
		return nil
	case TransformOld:
		return h.Skip(fd.OldSize)
	case TransformPadding:
		n := h.padCount(fd)
		if n < 0 {
			return h.fail(NewError("GetStruct", CodeFieldInvalidPadding, fmt.Sprintf("negative padding for field %s", fd.Name)))
		}
		return h.Skip(n)
	case TransformCallback:
		return fd.Fn(h, true, structPtr)
	default:
		return h.fail(NewError("GetStruct", CodeFieldComplex, fmt.Sprintf("unknown transform %d for field %s", fd.Transform, fd.Name)))
	}
}

// putRawField/getRawField implement the fast "raw copy" path for
// plain fixed-width scalar kinds, covering the common case without
// requiring a transform tag for every integer width.
func (h *Handle) putRawField(fv reflect.Value) error {
	switch fv.Kind() {
	case reflect.Uint8:
		return h.PutU8(uint8(fv.Uint()))
	case reflect.Uint16:
		return h.PutU16(uint16(fv.Uint()))
	case reflect.Uint32:
		return h.PutU32(uint32(fv.Uint()))
	case reflect.Uint64:
		return h.PutU64(fv.Uint())
	case reflect.Int8:
		return h.PutS8(int8(fv.Int()))
	case reflect.Int16:
		return h.PutS16(int16(fv.Int()))
	case reflect.Int32:
		return h.PutS32(int32(fv.Int()))
	case reflect.Int64:
		return h.PutS64(fv.Int())
	case reflect.Bool:
		return h.PutBool(fv.Bool())
	default:
		return h.fail(NewError("PutStruct", CodeFieldInvalidSize, fmt.Sprintf("unsupported raw field kind %s", fv.Kind())))
	}
}

func (h *Handle) getRawField(fv reflect.Value) error {
	switch fv.Kind() {
	case reflect.Uint8:
		v, err := h.GetU8()
		if err == nil {
			fv.SetUint(uint64(v))
		}
		return err
	case reflect.Uint16:
		v, err := h.GetU16()
		if err == nil {
			fv.SetUint(uint64(v))
		}
		return err
	case reflect.Uint32:
		v, err := h.GetU32()
		if err == nil {
			fv.SetUint(uint64(v))
		}
		return err
	case reflect.Uint64:
		v, err := h.GetU64()
		if err == nil {
			fv.SetUint(v)
		}
		return err
	case reflect.Int8:
		v, err := h.GetS8()
		if err == nil {
			fv.SetInt(int64(v))
		}
		return err
	case reflect.Int16:
		v, err := h.GetS16()
		if err == nil {
			fv.SetInt(int64(v))
		}
		return err
	case reflect.Int32:
		v, err := h.GetS32()
		if err == nil {
			fv.SetInt(int64(v))
		}
		return err
	case reflect.Int64:
		v, err := h.GetS64()
		if err == nil {
			fv.SetInt(v)
		}
		return err
	case reflect.Bool:
		v, err := h.GetBool()
		if err == nil {
			fv.SetBool(v)
		}
		return err
	default:
		return h.fail(NewError("GetStruct", CodeFieldInvalidSize, fmt.Sprintf("unsupported raw field kind %s", fv.Kind())))
	}
}
