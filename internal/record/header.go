// Package record implements component C: the variable-length record
// header codec and the RAW/RAW_LZF/RAW_ZERO/TERM record types layered
// on top of internal/stream.
package record

import (
	"fmt"
	"io"

	"github.com/cyberus-technology/go-ssm/internal/constants"
)

// Type identifies a record's payload kind, carried in the low 4 bits
// of the header's first byte.
type Type uint8

const (
	TypeTerm   Type = constants.RecordTypeTerm
	TypeRaw    Type = constants.RecordTypeRaw
	TypeRawLZF Type = constants.RecordTypeRawLZF
	TypeRawZero Type = constants.RecordTypeRawZero
	TypeNamed  Type = constants.RecordTypeNamed
)

// Header is a decoded record header: type, the "important" bit (cleared
// means a forward-compatible reader may skip the record), and the
// declared payload length.
type Header struct {
	Type      Type
	Important bool
	Length    uint32
}

// WriteHeader encodes and writes a record header.
func WriteHeader(w io.Writer, h Header) error {
	if h.Length > constants.MaxRecordPayload {
		return fmt.Errorf("ssm: record payload length %d exceeds %d", h.Length, constants.MaxRecordPayload)
	}
	flags := byte(constants.RecordHeaderFlag) | byte(h.Type&0x0f)
	if h.Important {
		flags |= constants.RecordImportant
	}
	if _, err := w.Write([]byte{flags}); err != nil {
		return err
	}
	return writeLength(w, h.Length)
}

// ReadHeader reads and decodes a record header.
func ReadHeader(r io.Reader) (Header, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Header{}, err
	}
	if b[0]&constants.RecordHeaderFlag == 0 {
		return Header{}, fmt.Errorf("ssm: malformed record header: high bit not set (got 0x%02x)", b[0])
	}
	h := Header{
		Type:      Type(b[0] & 0x0f),
		Important: b[0]&constants.RecordImportant != 0,
	}
	length, err := readLength(r)
	if err != nil {
		return Header{}, err
	}
	h.Length = length
	return h, nil
}

// writeLength encodes length as the UTF-8-style variable-length value
// described in spec section 4.C: 1 to 6 bytes covering 7 to 31 value
// bits, using the same continuation-byte scheme as UTF-8 itself.
func writeLength(w io.Writer, length uint32) error {
	var buf [6]byte
	switch {
	case length <= 0x7f:
		buf[0] = byte(length)
		_, err := w.Write(buf[:1])
		return err
	case length <= 0x7ff:
		buf[0] = 0xc0 | byte(length>>6)
		buf[1] = 0x80 | byte(length&0x3f)
		_, err := w.Write(buf[:2])
		return err
	case length <= 0xffff:
		buf[0] = 0xe0 | byte(length>>12)
		buf[1] = 0x80 | byte((length>>6)&0x3f)
		buf[2] = 0x80 | byte(length&0x3f)
		_, err := w.Write(buf[:3])
		return err
	case length <= 0x1fffff:
		buf[0] = 0xf0 | byte(length>>18)
		buf[1] = 0x80 | byte((length>>12)&0x3f)
		buf[2] = 0x80 | byte((length>>6)&0x3f)
		buf[3] = 0x80 | byte(length&0x3f)
		_, err := w.Write(buf[:4])
		return err
	case length <= 0x3ffffff:
		buf[0] = 0xf8 | byte(length>>24)
		buf[1] = 0x80 | byte((length>>18)&0x3f)
		buf[2] = 0x80 | byte((length>>12)&0x3f)
		buf[3] = 0x80 | byte((length>>6)&0x3f)
		buf[4] = 0x80 | byte(length&0x3f)
		_, err := w.Write(buf[:5])
		return err
	default:
		buf[0] = 0xfc | byte(length>>30)
		buf[1] = 0x80 | byte((length>>24)&0x3f)
		buf[2] = 0x80 | byte((length>>18)&0x3f)
		buf[3] = 0x80 | byte((length>>12)&0x3f)
		buf[4] = 0x80 | byte((length>>6)&0x3f)
		buf[5] = 0x80 | byte(length&0x3f)
		_, err := w.Write(buf[:6])
		return err
	}
}

func readContinuation(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	if b[0]&0xc0 != 0x80 {
		return 0, fmt.Errorf("ssm: malformed record length: bad continuation byte 0x%02x", b[0])
	}
	return b[0] & 0x3f, nil
}

func readLength(r io.Reader) (uint32, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	first := b[0]

	switch {
	case first&0x80 == 0:
		return uint32(first), nil
	case first&0xe0 == 0xc0:
		c0, err := readContinuation(r)
		if err != nil {
			return 0, err
		}
		return uint32(first&0x1f)<<6 | uint32(c0), nil
	case first&0xf0 == 0xe0:
		c0, err := readContinuation(r)
		if err != nil {
			return 0, err
		}
		c1, err := readContinuation(r)
		if err != nil {
			return 0, err
		}
		return uint32(first&0x0f)<<12 | uint32(c0)<<6 | uint32(c1), nil
	case first&0xf8 == 0xf0:
		var c [3]byte
		for i := range c {
			v, err := readContinuation(r)
			if err != nil {
				return 0, err
			}
			c[i] = v
		}
		return uint32(first&0x07)<<18 | uint32(c[0])<<12 | uint32(c[1])<<6 | uint32(c[2]), nil
	case first&0xfc == 0xf8:
		var c [4]byte
		for i := range c {
			v, err := readContinuation(r)
			if err != nil {
				return 0, err
			}
			c[i] = v
		}
		return uint32(first&0x03)<<24 | uint32(c[0])<<18 | uint32(c[1])<<12 | uint32(c[2])<<6 | uint32(c[3]), nil
	case first&0xfe == 0xfc:
		var c [5]byte
		for i := range c {
			v, err := readContinuation(r)
			if err != nil {
				return 0, err
			}
			c[i] = v
		}
		return uint32(first&0x01)<<30 | uint32(c[0])<<24 | uint32(c[1])<<18 | uint32(c[2])<<12 | uint32(c[3])<<6 | uint32(c[4]), nil
	default:
		return 0, fmt.Errorf("ssm: malformed record length: invalid leading byte 0x%02x", first)
	}
}
