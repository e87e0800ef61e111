// Package backend provides Memory, an in-memory stream.Backend for
// embedders that don't want to open a real file.
package backend

import (
	"fmt"
	"io"
	"sync"

	"github.com/cyberus-technology/go-ssm/internal/stream"
)

// Memory is a RAM-backed stream.Backend. Unlike a disk-device backend
// it is written and read strictly sequentially, so it needs only one
// mutex instead of go-ublk's sharded-lock scheme for random access.
type Memory struct {
	mu  sync.Mutex
	buf []byte

	writePos int64
	readPos  int64
	closed   bool
}

// NewMemory creates an empty, growable in-memory backend suitable for
// SaveToBackend; use NewMemoryFromBytes to seed one for LoadFromBackend.
func NewMemory() *Memory {
	return &Memory{}
}

// NewMemoryFromBytes wraps an existing byte slice for reading. The
// slice is copied so later mutation by the caller doesn't race with
// Stream reads.
func NewMemoryFromBytes(data []byte) *Memory {
	cp := append([]byte(nil), data...)
	return &Memory{buf: cp}
}

// Write implements stream.Backend: appends p at the current write
// position, always at the end of buf since writes are sequential.
func (m *Memory) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("ssm: write to closed memory backend")
	}
	m.buf = append(m.buf, p...)
	m.writePos += int64(len(p))
	return len(p), nil
}

// Read implements stream.Backend: fills p from the current read
// position, advancing it, and returns io.EOF once buf is exhausted.
func (m *Memory) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readPos >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[m.readPos:])
	m.readPos += int64(n)
	return n, nil
}

// Seek implements stream.Backend, repositioning the read cursor.
func (m *Memory) Seek(offset int64, method stream.SeekMethod) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var base int64
	switch method {
	case stream.SeekBegin:
		base = 0
	case stream.SeekCurrent:
		base = m.readPos
	case stream.SeekEnd:
		base = int64(len(m.buf))
	default:
		return 0, fmt.Errorf("ssm: unknown seek method %d", method)
	}
	pos := base + offset
	if pos < 0 || pos > int64(len(m.buf)) {
		return 0, fmt.Errorf("ssm: seek out of range: %d", pos)
	}
	m.readPos = pos
	return pos, nil
}

// Tell implements stream.Backend.
func (m *Memory) Tell() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readPos, nil
}

// Size implements stream.Backend.
func (m *Memory) Size() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.buf)), nil
}

// IsOK implements stream.Backend; an in-memory backend never runs out
// of "disk" space.
func (m *Memory) IsOK() error { return nil }

// Close implements stream.Backend. A cancelled close discards the
// buffered bytes, so Bytes() returns nothing afterwards; the bytes of a
// cancelled save are only available from Bytes() before closing.
func (m *Memory) Close(cancelled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if cancelled {
		m.buf = nil
	}
	return nil
}

// Bytes returns a copy of the backend's current contents, useful for
// handing a completed in-memory save straight to NewMemoryFromBytes.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.buf...)
}

var _ stream.Backend = (*Memory)(nil)
