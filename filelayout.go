package ssm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/cyberus-technology/go-ssm/internal/constants"
	"github.com/cyberus-technology/go-ssm/internal/lzf"
	"github.com/cyberus-technology/go-ssm/internal/record"
	"github.com/cyberus-technology/go-ssm/internal/stream"
)

// This file implements the raw, non-record-framed structures from
// spec section 3: the file header, unit headers, directory and
// footer. Unlike per-unit payload bytes (which flow through
// internal/record's RAW/LZF/ZERO/TERM framing), these are fixed byte
// layouts written directly to the stream.

func magic32(s string) [32]byte {
	var b [32]byte
	copy(b[:], s)
	return b
}

func magic8(s string) [8]byte {
	var b [8]byte
	copy(b[:], s)
	return b
}

// fileHeader is the in-memory form of a 64-byte file header, v1.x or
// v2. v1 carries no UnitCount/Flags/MaxDecompressedSize -- those
// fields are left zero when IsV1 is set.
type fileHeader struct {
	IsV1                       bool
	VersionMajor, VersionMinor uint16
	HostBits                   uint8
	GCPhysBytes                uint8
	GCPtrBytes                 uint8
	UnitCount                  uint32
	Flags                      uint32
	MaxDecompressedSize        uint32
}

func writeFileHeader(w io.Writer, h fileHeader) error {
	var buf bytes.Buffer
	m := magic32(constants.FileMagicV2)
	buf.Write(m[:])
	binary.Write(&buf, binary.LittleEndian, h.VersionMajor)
	binary.Write(&buf, binary.LittleEndian, h.VersionMinor)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // build
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // svn rev
	buf.WriteByte(h.HostBits)
	buf.WriteByte(h.GCPhysBytes)
	buf.WriteByte(h.GCPtrBytes)
	buf.WriteByte(0) // reserved
	binary.Write(&buf, binary.LittleEndian, h.UnitCount)
	binary.Write(&buf, binary.LittleEndian, h.Flags)
	binary.Write(&buf, binary.LittleEndian, h.MaxDecompressedSize)

	if buf.Len() != constants.FileHeaderSize-4 {
		return fmt.Errorf("ssm: internal error: file header prefix is %d bytes, want %d", buf.Len(), constants.FileHeaderSize-4)
	}
	crc := crc32.ChecksumIEEE(buf.Bytes())
	binary.Write(&buf, binary.LittleEndian, crc)
	_, err := w.Write(buf.Bytes())
	return err
}

// readFileHeader reads the fixed 64-byte header and dispatches on its
// magic to the v2 or legacy v1.x (load-only) parser (spec section 3).
func readFileHeader(r io.Reader) (fileHeader, error) {
	raw := make([]byte, constants.FileHeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return fileHeader{}, err
	}
	magic := string(raw[0:32])
	switch {
	case hasMagicPrefix(magic, constants.FileMagicV2):
		return parseFileHeaderV2(raw)
	case hasMagicPrefix(magic, constants.FileMagicV1_2):
		return parseFileHeaderV1(raw)
	case hasMagicPrefix(magic, constants.FileMagicV1_1):
		return parseFileHeaderV1(raw)
	default:
		return fileHeader{}, NewError("OpenFile", CodeIntegrityMagic, "unrecognized file magic")
	}
}

func hasMagicPrefix(raw, want string) bool {
	return len(raw) >= len(want) && raw[:len(want)] == want
}

func parseFileHeaderV2(raw []byte) (fileHeader, error) {
	wantCRC := binary.LittleEndian.Uint32(raw[60:64])
	gotCRC := crc32.ChecksumIEEE(raw[0:60])
	if gotCRC != wantCRC {
		return fileHeader{}, NewError("OpenFile", CodeIntegrityCRC, "file header CRC mismatch")
	}
	h := fileHeader{
		VersionMajor: binary.LittleEndian.Uint16(raw[32:34]),
		VersionMinor: binary.LittleEndian.Uint16(raw[34:36]),
		HostBits:     raw[44],
		GCPhysBytes:  raw[45],
		GCPtrBytes:   raw[46],
		UnitCount:    binary.LittleEndian.Uint32(raw[48:52]),
		Flags:        binary.LittleEndian.Uint32(raw[52:56]),
		MaxDecompressedSize: binary.LittleEndian.Uint32(raw[56:60]),
	}
	return h, nil
}

// parseFileHeaderV1 parses the legacy v1.1/v1.2 header layout: the
// same 64-byte budget as v2, but laid out {32-byte magic; u16
// VersionMajor; u16 VersionMinor; 8 bytes reserved; u8 HostBits; u8
// GCPhysBytes; u8 GCPtrBytes; 1 byte reserved; 16-byte machine UUID}.
// Unlike v2, v1 carries no header CRC of its own -- integrity is a
// single CRC32 over the whole file, checked separately by
// verifyV1WholeFileCRC before the sequential read begins.
func parseFileHeaderV1(raw []byte) (fileHeader, error) {
	var zero [16]byte
	if !bytes.Equal(raw[48:64], zero[:]) {
		return fileHeader{}, NewError("OpenFile", CodeIntegrityHeader, "v1 machine UUID field must be all-zero")
	}
	return fileHeader{
		IsV1:         true,
		VersionMajor: binary.LittleEndian.Uint16(raw[32:34]),
		VersionMinor: binary.LittleEndian.Uint16(raw[34:36]),
		HostBits:     raw[44],
		GCPhysBytes:  raw[45],
		GCPtrBytes:   raw[46],
	}, nil
}

// writeFileHeaderV1 builds a legacy v1.1/v1.2 header. v1 is load-only
// (spec section 3): this repo never writes it in production, but it
// lets tests build a valid v1 fixture without hand-laying out bytes.
func writeFileHeaderV1(w io.Writer, versionMinor uint16, hostBits, gcPhysBytes, gcPtrBytes uint8) error {
	var buf bytes.Buffer
	magicStr := constants.FileMagicV1_2
	if versionMinor == 1 {
		magicStr = constants.FileMagicV1_1
	}
	m := magic32(magicStr)
	buf.Write(m[:])
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, versionMinor)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // reserved
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // reserved
	buf.WriteByte(hostBits)
	buf.WriteByte(gcPhysBytes)
	buf.WriteByte(gcPtrBytes)
	buf.WriteByte(0) // reserved
	buf.Write(make([]byte, 16)) // machine UUID, must be zero

	if buf.Len() != constants.HeaderSizeV1 {
		return fmt.Errorf("ssm: internal error: v1 header is %d bytes, want %d", buf.Len(), constants.HeaderSizeV1)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// detectV1Format peeks at the file magic to decide whether backend holds
// a legacy v1.x saved state, restoring the backend's read position
// afterwards so the caller's own sequential pass starts clean.
func detectV1Format(backend stream.Backend) (bool, error) {
	if _, err := backend.Seek(0, stream.SeekBegin); err != nil {
		return false, err
	}
	var magic [32]byte
	if _, err := io.ReadFull(backend, magic[:]); err != nil {
		return false, err
	}
	if _, err := backend.Seek(0, stream.SeekBegin); err != nil {
		return false, err
	}
	s := string(magic[:])
	return hasMagicPrefix(s, constants.FileMagicV1_1) || hasMagicPrefix(s, constants.FileMagicV1_2), nil
}

// verifyV1WholeFileCRC validates the trailing 4-byte CRC32 that a
// v1.x file carries over its entire contents except that trailing
// field itself -- a materially different scope than v2's CRC over
// just the first 60 header bytes. It reads the backend directly
// (bypassing the pooled stream) since this is a one-off pre-check,
// not the hot read path, and restores the read position to the start
// afterwards.
func verifyV1WholeFileCRC(backend stream.Backend) error {
	size, err := backend.Size()
	if err != nil {
		return err
	}
	if size < 4 {
		return NewError("OpenFile", CodeIntegrityCRC, "v1 file too small to carry a trailing CRC")
	}
	if _, err := backend.Seek(0, stream.SeekBegin); err != nil {
		return err
	}
	crc := crc32.NewIEEE()
	remaining := size - 4
	buf := make([]byte, 64*1024)
	for remaining > 0 {
		chunk := int64(len(buf))
		if chunk > remaining {
			chunk = remaining
		}
		n, err := backend.Read(buf[:chunk])
		if n > 0 {
			crc.Write(buf[:n])
		}
		remaining -= int64(n)
		if err != nil {
			return err
		}
	}
	var tail [4]byte
	if _, err := io.ReadFull(backend, tail[:]); err != nil {
		return err
	}
	if crc.Sum32() != binary.LittleEndian.Uint32(tail[:]) {
		return NewError("OpenFile", CodeIntegrityCRC, "v1 whole-file CRC mismatch")
	}
	_, err = backend.Seek(0, stream.SeekBegin)
	return err
}

// unitHeaderRec is the in-memory form of a unit (or END-unit) header.
type unitHeaderRec struct {
	IsEnd        bool
	Offset       uint64
	StreamCRC    uint32
	Version      uint32
	Instance     uint32
	Pass         uint32
	Name         string
}

func writeUnitHeader(w io.Writer, uh unitHeaderRec) error {
	var buf bytes.Buffer
	magicStr := constants.UnitMagic
	if uh.IsEnd {
		magicStr = constants.EndUnitMagic
	}
	m := magic8(magicStr)
	buf.Write(m[:])
	binary.Write(&buf, binary.LittleEndian, uh.Offset)
	binary.Write(&buf, binary.LittleEndian, uh.StreamCRC)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // header CRC placeholder
	binary.Write(&buf, binary.LittleEndian, uh.Version)
	binary.Write(&buf, binary.LittleEndian, uh.Instance)
	binary.Write(&buf, binary.LittleEndian, uh.Pass)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // flags

	nameBytes := append([]byte(uh.Name), 0)
	if uh.IsEnd {
		nameBytes = nil
	}
	if len(nameBytes) > constants.MaxNameBytes {
		return NewError("WriteUnitHeader", CodeFieldInvalidValue, fmt.Sprintf("unit name %q too long", uh.Name))
	}
	binary.Write(&buf, binary.LittleEndian, uint32(len(nameBytes)))
	buf.Write(nameBytes)

	raw := buf.Bytes()
	crc := crc32.ChecksumIEEE(raw)
	binary.LittleEndian.PutUint32(raw[20:24], crc)
	_, err := w.Write(raw)
	return err
}

func readUnitHeader(r io.Reader) (unitHeaderRec, error) {
	var fixed [44]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return unitHeaderRec{}, err
	}
	magic := string(fixed[0:8])
	isEnd := magic == constants.EndUnitMagic
	if !isEnd && magic != constants.UnitMagic {
		return unitHeaderRec{}, NewError("LoadExec", CodeIntegrityUnitMagic, "bad unit header magic")
	}
	nameLen := binary.LittleEndian.Uint32(fixed[40:44])
	name := make([]byte, nameLen)
	if nameLen > 0 {
		if _, err := io.ReadFull(r, name); err != nil {
			return unitHeaderRec{}, err
		}
	}
	headerCRC := binary.LittleEndian.Uint32(fixed[20:24])
	check := make([]byte, 44)
	copy(check, fixed[:])
	binary.LittleEndian.PutUint32(check[20:24], 0)
	check = append(check, name...)
	if crc32.ChecksumIEEE(check) != headerCRC {
		return unitHeaderRec{}, NewError("LoadExec", CodeIntegrityUnit, "unit header CRC mismatch")
	}

	uh := unitHeaderRec{
		IsEnd:     isEnd,
		Offset:    binary.LittleEndian.Uint64(fixed[8:16]),
		StreamCRC: binary.LittleEndian.Uint32(fixed[16:20]),
		Version:   binary.LittleEndian.Uint32(fixed[24:28]),
		Instance:  binary.LittleEndian.Uint32(fixed[28:32]),
		Pass:      binary.LittleEndian.Uint32(fixed[32:36]),
	}
	if nameLen > 0 {
		uh.Name = string(bytes.TrimRight(name, "\x00"))
	}
	return uh, nil
}

// unitHeaderV1 is the in-memory form of a legacy v1.x unit header: a
// much plainer framing than v2's -- no header CRC, no stream-CRC-so-far
// field, no flags, and no Pass (live save is a v2-only concept), per
// spec section 3's "{8-byte magic; u64 cbUnit; u32 version; u32
// instance; u32 nameLen; name}".
type unitHeaderV1 struct {
	IsEnd    bool
	CbUnit   uint64
	Version  uint32
	Instance uint32
	Name     string
}

func writeUnitHeaderV1(w io.Writer, uh unitHeaderV1) error {
	var buf bytes.Buffer
	magicStr := constants.UnitMagic
	if uh.IsEnd {
		magicStr = constants.EndUnitMagic
	}
	m := magic8(magicStr)
	buf.Write(m[:])
	binary.Write(&buf, binary.LittleEndian, uh.CbUnit)
	binary.Write(&buf, binary.LittleEndian, uh.Version)
	binary.Write(&buf, binary.LittleEndian, uh.Instance)

	nameBytes := append([]byte(uh.Name), 0)
	if len(nameBytes) > constants.MaxNameBytes {
		return NewError("WriteUnitHeader", CodeFieldInvalidValue, fmt.Sprintf("unit name %q too long", uh.Name))
	}
	binary.Write(&buf, binary.LittleEndian, uint32(len(nameBytes)))
	buf.Write(nameBytes)
	_, err := w.Write(buf.Bytes())
	return err
}

func readUnitHeaderV1(r io.Reader) (unitHeaderV1, error) {
	var fixed [24]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return unitHeaderV1{}, err
	}
	magic := string(fixed[0:8])
	isEnd := magic == constants.EndUnitMagic
	if !isEnd && magic != constants.UnitMagic {
		return unitHeaderV1{}, NewError("LoadExec", CodeIntegrityUnitMagic, "bad v1 unit header magic")
	}
	uh := unitHeaderV1{
		IsEnd:    isEnd,
		CbUnit:   binary.LittleEndian.Uint64(fixed[8:16]),
		Version:  binary.LittleEndian.Uint32(fixed[16:20]),
		Instance: binary.LittleEndian.Uint32(fixed[20:24]),
	}
	if isEnd {
		return uh, nil
	}
	var nameLenBuf [4]byte
	if _, err := io.ReadFull(r, nameLenBuf[:]); err != nil {
		return unitHeaderV1{}, err
	}
	nameLen := binary.LittleEndian.Uint32(nameLenBuf[:])
	name := make([]byte, nameLen)
	if nameLen > 0 {
		if _, err := io.ReadFull(r, name); err != nil {
			return unitHeaderV1{}, err
		}
	}
	uh.Name = string(bytes.TrimRight(name, "\x00"))
	return uh, nil
}

// v1 unit payloads are a single blob, consumed historically by "a
// legacy streaming decompressor" (spec section 3) rather than
// internal/record's chunked RAW/RAW_LZF/RAW_ZERO framing. This repo
// settles on a small explicit sub-format for that blob: a u32
// decompressed length, a 1-byte compression marker (0 = raw bytes
// follow, 1 = LZF-compressed bytes follow), then the data itself.
func encodeV1Payload(raw []byte) []byte {
	compressed := lzf.Compress(raw)
	out := make([]byte, 0, 5+len(compressed))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(raw)))
	out = append(out, lenBuf[:]...)
	if len(compressed) < len(raw) {
		out = append(out, 1)
		out = append(out, compressed...)
	} else {
		out = append(out, 0)
		out = append(out, raw...)
	}
	return out
}

func decodeV1Payload(blob []byte) ([]byte, error) {
	if len(blob) < 5 {
		return nil, NewError("LoadExec", CodeIntegrityDecompress, "v1 unit payload shorter than its own framing")
	}
	decompressedLen := binary.LittleEndian.Uint32(blob[0:4])
	marker := blob[4]
	data := blob[5:]
	switch marker {
	case 0:
		if uint32(len(data)) != decompressedLen {
			return nil, NewError("LoadExec", CodeIntegritySize, "v1 raw unit payload size mismatch")
		}
		return data, nil
	case 1:
		decoded, err := lzf.Decompress(data, int(decompressedLen))
		if err != nil {
			return nil, NewError("LoadExec", CodeIntegrityDecompress, "v1 LZF payload decompression failed")
		}
		return decoded, nil
	default:
		return nil, NewError("LoadExec", CodeIntegrityDecompress, "unknown v1 payload compression marker")
	}
}

// newSyntheticV1Reader wraps a decompressed v1 unit payload in an
// in-memory v2-style record stream (one RAW record plus a synthetic
// TERM), so Handle.rr's existing *record.Reader field -- and every
// Get*/GetStruct codec built on it -- can consume v1 data unchanged.
func newSyntheticV1Reader(payload []byte) (*record.Reader, error) {
	var buf bytes.Buffer
	w := record.NewWriter(&buf)
	if err := w.Put(payload); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	if err := record.WriteTerm(&buf, record.TermInfo{UnitBytes: w.BytesWritten() + constants.RecordTermSize}); err != nil {
		return nil, err
	}
	return record.NewReader(&buf), nil
}

type dirEntry struct {
	Offset   uint64
	Instance uint32
	NameCRC  uint32
}

func writeDirectory(w io.Writer, entries []dirEntry) error {
	var buf bytes.Buffer
	m := magic8(constants.DirectoryMagic)
	buf.Write(m[:])
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // crc placeholder
	binary.Write(&buf, binary.LittleEndian, uint32(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, binary.LittleEndian, e.Offset)
		binary.Write(&buf, binary.LittleEndian, e.Instance)
		binary.Write(&buf, binary.LittleEndian, e.NameCRC)
	}
	raw := buf.Bytes()
	check := make([]byte, len(raw))
	copy(check, raw)
	binary.LittleEndian.PutUint32(check[8:12], 0)
	crc := crc32.ChecksumIEEE(check)
	binary.LittleEndian.PutUint32(raw[8:12], crc)
	_, err := w.Write(raw)
	return err
}

func readDirectory(r io.Reader) ([]dirEntry, error) {
	var fixed [16]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, err
	}
	if string(fixed[0:8]) != constants.DirectoryMagic {
		return nil, NewError("Close", CodeIntegrityDirMagic, "bad directory magic")
	}
	wantCRC := binary.LittleEndian.Uint32(fixed[8:12])
	count := binary.LittleEndian.Uint32(fixed[12:16])
	body := make([]byte, int(count)*16)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	check := make([]byte, 16+len(body))
	copy(check, fixed[:])
	binary.LittleEndian.PutUint32(check[8:12], 0)
	copy(check[16:], body)
	if crc32.ChecksumIEEE(check) != wantCRC {
		return nil, NewError("Close", CodeIntegrityDir, "directory CRC mismatch")
	}
	entries := make([]dirEntry, count)
	for i := range entries {
		off := 16 * i
		entries[i] = dirEntry{
			Offset:   binary.LittleEndian.Uint64(body[off : off+8]),
			Instance: binary.LittleEndian.Uint32(body[off+8 : off+12]),
			NameCRC:  binary.LittleEndian.Uint32(body[off+12 : off+16]),
		}
	}
	return entries, nil
}

func writeFooter(w io.Writer, footerOffset uint64, finalCRC uint32, dirCount uint32) error {
	var buf bytes.Buffer
	m := magic8(constants.FooterMagic)
	buf.Write(m[:])
	binary.Write(&buf, binary.LittleEndian, footerOffset)
	binary.Write(&buf, binary.LittleEndian, finalCRC)
	binary.Write(&buf, binary.LittleEndian, dirCount)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // reserved
	raw := buf.Bytes()
	crc := crc32.ChecksumIEEE(raw)
	binary.Write(&buf, binary.LittleEndian, crc)
	_, err := w.Write(buf.Bytes())
	return err
}

type footerRec struct {
	FooterOffset uint64
	FinalCRC     uint32
	DirCount     uint32
}

func readFooter(r io.Reader) (footerRec, error) {
	raw := make([]byte, constants.FooterSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return footerRec{}, err
	}
	if string(raw[0:8]) != constants.FooterMagic {
		return footerRec{}, NewError("Close", CodeIntegrityFooter, "bad footer magic")
	}
	wantCRC := binary.LittleEndian.Uint32(raw[28:32])
	if crc32.ChecksumIEEE(raw[0:28]) != wantCRC {
		return footerRec{}, NewError("Close", CodeIntegrityFooter, "footer CRC mismatch")
	}
	return footerRec{
		FooterOffset: binary.LittleEndian.Uint64(raw[8:16]),
		FinalCRC:     binary.LittleEndian.Uint32(raw[16:20]),
		DirCount:     binary.LittleEndian.Uint32(raw[20:24]),
	}, nil
}

func nameCRC32(name string) uint32 {
	return crc32.ChecksumIEEE([]byte(name))
}
