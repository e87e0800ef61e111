package stream

import (
	"fmt"
	"os"
	"path/filepath"

	natomic "github.com/natefinch/atomic"

	"github.com/cyberus-technology/go-ssm/internal/constants"
)

// AtomicFileBackend writes to a temporary sibling file and only renames
// it into place on a successful, non-cancelled Close, so a crash or a
// cancelled save never leaves a half-written file at the requested
// path. This is the crash-safe counterpart to FileBackend, which
// truncates the destination up front.
type AtomicFileBackend struct {
	f       *os.File
	tmpPath string
	finalPath string
}

// OpenAtomicFileBackendForWrite creates a temp file alongside path; its
// content only becomes visible at path once Close(false) succeeds.
func OpenAtomicFileBackendForWrite(path string) (*AtomicFileBackend, error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, filepath.Base(path)+".ssm-tmp-*")
	if err != nil {
		return nil, fmt.Errorf("ssm: create temp file for %q: %w", path, err)
	}
	return &AtomicFileBackend{f: f, tmpPath: f.Name(), finalPath: path}, nil
}

func (b *AtomicFileBackend) Write(p []byte) (int, error) { return b.f.Write(p) }
func (b *AtomicFileBackend) Read(p []byte) (int, error)  { return b.f.Read(p) }

func (b *AtomicFileBackend) Seek(offset int64, method SeekMethod) (int64, error) {
	return b.f.Seek(offset, int(method))
}

func (b *AtomicFileBackend) Tell() (int64, error) {
	return b.f.Seek(0, int(SeekCurrent))
}

func (b *AtomicFileBackend) Size() (int64, error) {
	fi, err := b.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (b *AtomicFileBackend) IsOK() error {
	free, err := freeSpace(b.tmpPath)
	if err != nil {
		return nil
	}
	if free < constants.LowDiskSpaceFloor {
		return fmt.Errorf("ssm: low on disk space: %d bytes free", free)
	}
	return nil
}

// Close flushes and closes the temp file. On success it atomically
// renames the temp file into place; on cancellation it discards it,
// leaving the destination path untouched (which may not exist yet).
func (b *AtomicFileBackend) Close(cancelled bool) error {
	syncErr := b.f.Sync()
	closeErr := b.f.Close()
	if cancelled {
		_ = os.Remove(b.tmpPath)
		return closeErr
	}
	if syncErr != nil {
		_ = os.Remove(b.tmpPath)
		return syncErr
	}
	if closeErr != nil {
		_ = os.Remove(b.tmpPath)
		return closeErr
	}
	if err := natomic.ReplaceFile(b.tmpPath, b.finalPath); err != nil {
		return fmt.Errorf("ssm: atomic rename %q -> %q: %w", b.tmpPath, b.finalPath, err)
	}
	return nil
}
