package stream

import "io"

// SeekMethod mirrors the three-way seek origin the stream facade
// exposes to callers (component B's method table uses the same three
// origins as io.Seeker, spelled out here so backend implementers don't
// need to import io for the constants).
type SeekMethod int

const (
	SeekBegin   SeekMethod = SeekMethod(io.SeekStart)
	SeekCurrent SeekMethod = SeekMethod(io.SeekCurrent)
	SeekEnd     SeekMethod = SeekMethod(io.SeekEnd)
)

// Backend is the seven-method table spec section 4.B describes:
// a sequential read/write surface plus liveness and size queries. It is
// deliberately narrower than go-ublk's random-access Backend
// (ReadAt/WriteAt) because a saved-state stream is written and read
// strictly sequentially.
type Backend interface {
	// Write appends p at the backend's current write position.
	Write(p []byte) (n int, err error)
	// Read fills p from the backend's current read position.
	Read(p []byte) (n int, err error)
	// Seek repositions the backend's read cursor. Only valid on read
	// backends; write backends may return an error.
	Seek(offset int64, method SeekMethod) (absolute int64, err error)
	// Tell returns the current position.
	Tell() (int64, error)
	// Size returns the total backend size, if known.
	Size() (int64, error)
	// IsOK is a cheap liveness check, and on local-file backends also
	// the low-disk-space guard described in spec section 4.A.
	IsOK() error
	// Close releases the backend. cancelled is true when the owning
	// Stream was torn down by a cancelled operation; a local-file
	// backend interprets that as "delete the partial file".
	Close(cancelled bool) error
}
