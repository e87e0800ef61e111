//go:build linux || darwin

package stream

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// freeSpace returns the free space, in bytes, of the filesystem
// containing path. Grounded on go-ublk's use of golang.org/x/sys/unix
// for low-level syscalls.
func freeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(path), &st); err != nil {
		return 0, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
