package stream

import (
	"fmt"
	"os"

	"github.com/cyberus-technology/go-ssm/internal/constants"
)

// FileBackend is the mandated local-file backend from spec section 4.B.
// On a cancelled close it deletes the file, matching the save-state
// cleanup rule in spec section 3's Lifecycles paragraph.
type FileBackend struct {
	f    *os.File
	path string
}

// OpenFileBackendForWrite creates (or truncates) path for a save stream.
func OpenFileBackendForWrite(path string) (*FileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ssm: create %q: %w", path, err)
	}
	return &FileBackend{f: f, path: path}, nil
}

// OpenFileBackendForRead opens an existing file for a load stream.
func OpenFileBackendForRead(path string) (*FileBackend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ssm: open %q: %w", path, err)
	}
	return &FileBackend{f: f, path: path}, nil
}

func (b *FileBackend) Write(p []byte) (int, error) { return b.f.Write(p) }
func (b *FileBackend) Read(p []byte) (int, error)  { return b.f.Read(p) }

func (b *FileBackend) Seek(offset int64, method SeekMethod) (int64, error) {
	return b.f.Seek(offset, int(method))
}

func (b *FileBackend) Tell() (int64, error) {
	return b.f.Seek(0, int(SeekCurrent))
}

func (b *FileBackend) Size() (int64, error) {
	fi, err := b.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// IsOK performs the free-space guard described in spec section 4.A:
// before each buffer write on a local file backend, fail with a
// low-disk-space error when free space drops below the floor.
func (b *FileBackend) IsOK() error {
	free, err := freeSpace(b.path)
	if err != nil {
		// Liveness check is advisory; a Statfs failure doesn't itself
		// fail the write, it just skips the guard.
		return nil
	}
	if free < constants.LowDiskSpaceFloor {
		return fmt.Errorf("ssm: low on disk space: %d bytes free", free)
	}
	return nil
}

func (b *FileBackend) Close(cancelled bool) error {
	err := b.f.Close()
	if cancelled {
		_ = os.Remove(b.path)
	}
	return err
}
