package record

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cyberus-technology/go-ssm/internal/constants"
	"github.com/cyberus-technology/go-ssm/internal/lzf"
)

// TermInfo is the fixed 14-byte payload of a TERM record.
type TermInfo struct {
	StreamCRCPresent bool
	StreamCRC        uint32
	UnitBytes        uint64
}

// WriteTerm writes a terminator record closing the current unit.
func WriteTerm(w io.Writer, info TermInfo) error {
	if err := WriteHeader(w, Header{Type: TypeTerm, Important: true, Length: constants.RecordTermSize - 2}); err != nil {
		return err
	}
	var flags uint16
	if info.StreamCRCPresent {
		flags |= constants.RecordTermFlagStreamCRC
	}
	var payload [14]byte
	binary.LittleEndian.PutUint16(payload[0:2], flags)
	binary.LittleEndian.PutUint32(payload[2:6], info.StreamCRC)
	binary.LittleEndian.PutUint64(payload[6:14], info.UnitBytes)
	_, err := w.Write(payload[:])
	return err
}

// ReadTerm reads a terminator record's payload; the caller has already
// consumed the header and confirmed h.Type == TypeTerm.
func ReadTerm(r io.Reader, h Header) (TermInfo, error) {
	if h.Length != constants.RecordTermSize-2 {
		return TermInfo{}, fmt.Errorf("ssm: terminator length %d, want %d", h.Length, constants.RecordTermSize-2)
	}
	var payload [14]byte
	if _, err := io.ReadFull(r, payload[:]); err != nil {
		return TermInfo{}, err
	}
	flags := binary.LittleEndian.Uint16(payload[0:2])
	return TermInfo{
		StreamCRCPresent: flags&constants.RecordTermFlagStreamCRC != 0,
		StreamCRC:        binary.LittleEndian.Uint32(payload[2:6]),
		UnitBytes:        binary.LittleEndian.Uint64(payload[6:14]),
	}, nil
}

// Writer coalesces small puts into DataBufferSize chunks and emits one
// RAW record per flush; a full DataBufferSize chunk bypasses coalescing
// and streams straight through writeChunk, per spec section 4.C's
// "splits into 4-KiB chunks" streaming path. Only exactly-DataBufferSize
// chunks ever reach writeChunk: any shorter remainder is pushed through
// the coalescing buf instead, since writeChunk's RAW_ZERO/RAW_LZF
// encodings round their declared length up to the nearest KiB and would
// otherwise manufacture phantom trailing bytes for an odd-sized chunk.
type Writer struct {
	w   *countingWriter
	buf [constants.DataBufferSize]byte
	n   int
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: &countingWriter{w: w}} }

// BytesWritten returns the total wire bytes (record headers plus
// payload) written to the underlying stream since this Writer was
// created, including anything still sitting in the coalescing buffer
// only once Flush has emitted it.
func (rw *Writer) BytesWritten() uint64 { return rw.w.n }

// countingWriter tallies bytes actually written to the stream, giving
// Writer a true wire-byte count distinct from the user-payload byte
// count the caller tracks separately.
type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

// Put buffers or streams p, peeling off full DataBufferSize chunks into
// the streaming path and coalescing whatever is left over.
func (rw *Writer) Put(p []byte) error {
	for len(p) > 0 {
		if rw.n == 0 && len(p) >= constants.DataBufferSize {
			chunk := p[:constants.DataBufferSize]
			if err := rw.writeChunk(chunk); err != nil {
				return err
			}
			p = p[constants.DataBufferSize:]
			continue
		}
		space := len(rw.buf) - rw.n
		take := len(p)
		if take > space {
			take = space
		}
		copy(rw.buf[rw.n:], p[:take])
		rw.n += take
		p = p[take:]
		if rw.n == len(rw.buf) {
			if err := rw.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush emits any buffered bytes as a single RAW record.
func (rw *Writer) Flush() error {
	if rw.n == 0 {
		return nil
	}
	if err := WriteHeader(rw.w, Header{Type: TypeRaw, Important: true, Length: uint32(rw.n)}); err != nil {
		return err
	}
	if _, err := rw.w.Write(rw.buf[:rw.n]); err != nil {
		return err
	}
	rw.n = 0
	return nil
}

// writeChunk applies the zero/LZF/raw selection from spec section 4.C
// to one chunk of exactly DataBufferSize bytes, called only from Put's
// streaming path.
func (rw *Writer) writeChunk(chunk []byte) error {
	if isAllZero(chunk) {
		kib := (len(chunk) + 1023) / 1024
		if err := WriteHeader(rw.w, Header{Type: TypeRawZero, Important: true, Length: 1}); err != nil {
			return err
		}
		_, err := rw.w.Write([]byte{byte(kib)})
		return err
	}

	compressed := lzf.Compress(chunk)
	if len(compressed) < constants.LZFWorstCaseCap {
		kib := (len(chunk) + 1023) / 1024
		payload := make([]byte, 0, 1+len(compressed))
		payload = append(payload, byte(kib))
		payload = append(payload, compressed...)
		if err := WriteHeader(rw.w, Header{Type: TypeRawLZF, Important: true, Length: uint32(len(payload))}); err != nil {
			return err
		}
		_, err := rw.w.Write(payload)
		return err
	}

	if err := WriteHeader(rw.w, Header{Type: TypeRaw, Important: true, Length: uint32(len(chunk))}); err != nil {
		return err
	}
	_, err := rw.w.Write(chunk)
	return err
}

func isAllZero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}

// Reader decodes the record stream back into a flat byte sequence,
// transparently decompressing RAW_LZF and expanding RAW_ZERO, and
// stopping at the unit's TERM record.
type Reader struct {
	r       io.Reader
	pending []byte // decompressed bytes not yet returned to the caller
	atTerm  bool
	term    TermInfo
}

func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

// Get reads exactly len(p) bytes from the unit's record stream,
// decoding as many records as necessary. It returns ErrLoadedTooMuch if
// the terminator has already been reached.
func (rr *Reader) Get(p []byte) error {
	for len(p) > 0 {
		if len(rr.pending) == 0 {
			if rr.atTerm {
				return ErrLoadedTooMuch
			}
			if err := rr.fill(); err != nil {
				return err
			}
			continue
		}
		n := copy(p, rr.pending)
		rr.pending = rr.pending[n:]
		p = p[n:]
	}
	return nil
}

// AtEnd reports whether the next record is the unit's terminator. When
// no decoded bytes are pending it reads the next record to find out; a
// read error makes it report false, leaving the error to the next Get.
func (rr *Reader) AtEnd() bool {
	for len(rr.pending) == 0 && !rr.atTerm {
		if err := rr.fill(); err != nil {
			return false
		}
	}
	return rr.atTerm && len(rr.pending) == 0
}

// Term returns the terminator payload; valid only once AtEnd is true.
func (rr *Reader) Term() TermInfo { return rr.term }

func (rr *Reader) fill() error {
	h, err := ReadHeader(rr.r)
	if err != nil {
		return err
	}
	switch h.Type {
	case TypeTerm:
		info, err := ReadTerm(rr.r, h)
		if err != nil {
			return err
		}
		rr.atTerm = true
		rr.term = info
		return nil
	case TypeRaw:
		buf := make([]byte, h.Length)
		if _, err := io.ReadFull(rr.r, buf); err != nil {
			return err
		}
		rr.pending = buf
		return nil
	case TypeRawLZF:
		buf := make([]byte, h.Length)
		if _, err := io.ReadFull(rr.r, buf); err != nil {
			return err
		}
		if len(buf) < 1 {
			return fmt.Errorf("ssm: empty RAW_LZF payload")
		}
		decompressedLen := int(buf[0]) * 1024
		decoded, err := lzf.Decompress(buf[1:], decompressedLen)
		if err != nil {
			return fmt.Errorf("ssm: %w", ErrDecompression)
		}
		rr.pending = decoded
		return nil
	case TypeRawZero:
		if h.Length != 1 {
			return fmt.Errorf("ssm: malformed RAW_ZERO header length %d", h.Length)
		}
		var kib [1]byte
		if _, err := io.ReadFull(rr.r, kib[:]); err != nil {
			return err
		}
		rr.pending = make([]byte, int(kib[0])*1024)
		return nil
	case TypeNamed:
		return fmt.Errorf("ssm: NAMED records are reserved and must never appear on the wire")
	default:
		if h.Important {
			return fmt.Errorf("ssm: unknown important record type %d", h.Type)
		}
		// Skippable record: discard its payload and keep going.
		if _, err := io.CopyN(io.Discard, rr.r, int64(h.Length)); err != nil {
			return err
		}
		return rr.fill()
	}
}

var (
	ErrLoadedTooMuch = fmt.Errorf("ssm: read past the unit's terminator record")
	ErrDecompression = fmt.Errorf("ssm: LZF decompression failed")
)
