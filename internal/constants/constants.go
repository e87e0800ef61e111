// Package constants holds the wire-format byte layout shared by the
// stream, record and orchestrator layers. Keeping them in one leaf
// package (rather than scattered across internal/stream, internal/record
// and the root ssm package) lets every layer agree on magic strings and
// sizes without import cycles.
package constants

import "time"

// Stream buffer pool (Component A).
const (
	// StreamBufferSize is the fixed payload size of every pooled stream
	// buffer.
	StreamBufferSize = 64 * 1024

	// DefaultSaveBufferCount is the pool depth used for a save stream.
	DefaultSaveBufferCount = 8

	// DefaultLoadBufferCount is the pool depth used for a load stream.
	DefaultLoadBufferCount = 8

	// DefaultValidateBufferCount is the pool depth used for a
	// validate/seek-only stream (no dedicated I/O thread needed).
	DefaultValidateBufferCount = 1

	// SemaphoreTimeout bounds how long a producer/consumer waits on its
	// counting semaphore before re-checking for termination. It is a
	// liveness poll, never a per-operation deadline.
	SemaphoreTimeout = 30 * time.Second

	// IdleBufferFlushAge is how long a partially filled buffer may sit
	// before the producer is allowed to flush it early.
	IdleBufferFlushAge = 500 * time.Millisecond

	// LowDiskSpaceFloor is the minimum free space required on a local
	// file backend before a write is attempted.
	LowDiskSpaceFloor = 10 * 1024 * 1024
)

// File header (v2), spec section 3.
const (
	FileMagicV2     = "\x7fVirtualBox SavedState V2.0\n\x00\x00\x00"
	FileHeaderSize  = 64
	VersionMajorV2  = 2
	VersionMinorV2  = 0
	FlagStreamCRC32 = 1 << 0
	FlagLiveSave    = 1 << 1

	MaxDecompressedSizeDefault = 4096
	MaxDecompressedSizeMin     = 1024
	MaxDecompressedSizeStep    = 256
)

// Unit header, spec section 3.
const (
	UnitMagic    = "\nUnit\n\x00"
	EndUnitMagic = "\nTheEnd"
	MagicSize    = 8
	MaxNameBytes = 48 // including the NUL terminator
	PassFinal    = 0xffffffff
)

// Directory / footer, spec section 3.
const (
	DirectoryMagic = "\nDir\n\x00\x00"
	FooterMagic    = "\nFooter"
	FooterSize     = 32
)

// v1.x legacy header (load-only), spec section 3.
const (
	FileMagicV1_1 = "\x7fVirtualBox SavedState\n\x00\x00\x00\x00\x00"
	FileMagicV1_2 = "\x7fVirtualBox SavedState V1.2\n\x00\x00\x00"
	HeaderSizeV1  = 64

	// SvnRevZeroDirOffsetCutoff: directories produced by builds older
	// than this SVN revision may legitimately contain a zero Offset
	// field. No reader in this module consults it.
	SvnRevZeroDirOffsetCutoff = 53365
)

// Record codec (Component C), spec section 4.C.
const (
	RecordHeaderFlag = 0x80 // high bit always set on the first header byte
	RecordImportant  = 0x10 // bit 4: "important", cleared = skippable

	RecordTypeTerm    = 1
	RecordTypeRaw     = 2
	RecordTypeRawLZF  = 3
	RecordTypeRawZero = 4
	RecordTypeNamed   = 5 // reserved, never emitted

	RecordTermSize          = 16
	RecordTermFlagStreamCRC = 1 << 0

	// DataBufferSize is the size of both the write-side coalescing
	// buffer and the read-side decompressed-payload buffer.
	DataBufferSize = 4096

	// LZFWorstCaseCap is the maximum compressed size a 4 KiB chunk must
	// beat to be emitted as RAW_LZF instead of RAW.
	LZFWorstCaseCap = DataBufferSize - 256

	MaxRecordPayload = 0x7fffffff
)

// Struct transformer markers, spec section 4.D.
const (
	StructBeginMarker uint32 = 0x19200102
	StructEndMarker   uint32 = 0x19920406
)

// Live save, spec section 4.E.2.
const (
	MaxLivePasses            = 1_000_000
	LiveSaveMinGrowthCap     = 1 << 30 // 1 GiB
	LiveSaveFileMultiplier   = 10_000
	LiveSaveRemoteMultiplier = 100_000
)

// Cancellation sentinels, spec section 3 / 4.E.4.
const (
	CancelOK        = 0x77777777
	CancelRequested = 0xdeadbeef
)
