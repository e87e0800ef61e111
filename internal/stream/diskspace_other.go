//go:build !linux && !darwin

package stream

import "errors"

// freeSpace has no portable implementation outside unix-like platforms;
// callers treat an error here as "skip the guard".
func freeSpace(path string) (uint64, error) {
	return 0, errors.New("ssm: free space check unsupported on this platform")
}
