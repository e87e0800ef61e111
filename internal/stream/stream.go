// Package stream implements component A/B of the saved-state engine: a
// fixed pool of 64 KiB buffers moved between a producer (the caller)
// and an optional dedicated I/O goroutine, plus the sequential
// read/write/peek/seek facade callers see.
//
// The original design hands buffers between producer and consumer
// through two atomically CAS-managed singly-linked LIFOs and a pair of
// counting semaphores, with the consumer reversing its LIFO into a
// private FIFO list to preserve byte order. In Go, a buffered channel
// already is a FIFO-ordered, semaphore-guarded queue, so the handoff
// here is two buffered channels (full/free) instead -- same handoff
// contract (bounded pool, blocking on empty/full with a timed liveness
// poll), without reimplementing a lock-free list the runtime already
// gives us for free.
package stream

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberus-technology/go-ssm/internal/constants"
	"github.com/cyberus-technology/go-ssm/internal/interfaces"
)

// Direction is the fixed read/write mode a Stream is opened in. No
// reads happen on a write stream and vice versa.
type Direction int

const (
	DirWrite Direction = iota
	DirRead
)

var (
	// ErrClosed is returned by any operation attempted after Close.
	ErrClosed = errors.New("ssm: stream closed")
	// ErrWrongDirection is returned when a write-only or read-only
	// operation is attempted on the other kind of stream.
	ErrWrongDirection = errors.New("ssm: wrong stream direction")
	// ErrIOThreadActive is returned by Seek/PeekAt, which require
	// exclusive control of the backend's read cursor.
	ErrIOThreadActive = errors.New("ssm: operation invalid while I/O thread is active")
)

type errBox struct{ err error }

// Stream is the sequential facade over a Backend, buffered through a
// fixed pool of StreamBufferSize buffers and optionally drained or
// filled by a dedicated goroutine.
type Stream struct {
	backend       Backend
	dir           Direction
	logger        interfaces.Logger
	observer      interfaces.Observer
	withIOThread  bool
	checksummed   atomic.Bool

	full chan *buffer // producer -> consumer handoff (filled buffers)
	free chan *buffer // consumer -> producer handoff (empty buffers)

	ioWG       sync.WaitGroup
	ioStopOnce sync.Once
	ioErr      atomic.Pointer[errBox]

	cur    *buffer
	curOff int

	streamOffset uint64 // absolute offset of the first byte of cur
	totalBytes   uint64 // write: bytes produced; read: bytes consumed

	crc          uint32
	offStreamCRC int

	backendPos int64 // raw backend cursor, tracked for PeekAt/Seek bookkeeping

	rc     atomic.Pointer[errBox]
	closed atomic.Bool
	ended  atomic.Bool // write: SetEnd has been called

	allocated []*buffer // every buffer this stream owns, for pool return on Close
	allocMu   sync.Mutex
}

// Options configures a new Stream.
type Options struct {
	BufferCount  int
	Checksummed  bool
	WithIOThread bool
	Logger       interfaces.Logger
	Observer     interfaces.Observer
}

func (o Options) bufferCount() int {
	if o.BufferCount <= 0 {
		return constants.DefaultSaveBufferCount
	}
	return o.BufferCount
}

// NewWriteStream opens backend for sequential writes.
func NewWriteStream(backend Backend, opts Options) (*Stream, error) {
	s := newStream(backend, DirWrite, opts)
	s.cur = s.allocBuffer()
	s.cur.n = 0
	for i := 1; i < opts.bufferCount(); i++ {
		s.free <- s.allocBuffer()
	}
	if opts.WithIOThread {
		s.ioWG.Add(1)
		go s.writeLoop()
	}
	return s, nil
}

// NewReadStream opens backend for sequential reads.
func NewReadStream(backend Backend, opts Options) (*Stream, error) {
	s := newStream(backend, DirRead, opts)
	if opts.WithIOThread {
		// Pre-seed the free pool so the reader goroutine has buffers to
		// fill immediately.
		for i := 0; i < opts.bufferCount(); i++ {
			s.free <- s.allocBuffer()
		}
		s.ioWG.Add(1)
		go s.readLoop()
	}
	return s, nil
}

func newStream(backend Backend, dir Direction, opts Options) *Stream {
	s := &Stream{
		backend:      backend,
		dir:          dir,
		logger:       opts.Logger,
		observer:     opts.Observer,
		withIOThread: opts.WithIOThread,
		full:         make(chan *buffer, opts.bufferCount()),
		free:         make(chan *buffer, opts.bufferCount()),
	}
	s.checksummed.Store(opts.Checksummed)
	return s
}

func (s *Stream) allocBuffer() *buffer {
	b := getBuffer()
	s.allocMu.Lock()
	s.allocated = append(s.allocated, b)
	s.allocMu.Unlock()
	return b
}

func (s *Stream) setErr(target *atomic.Pointer[errBox], err error) bool {
	if err == nil {
		return false
	}
	return target.CompareAndSwap(nil, &errBox{err: err})
}

func (s *Stream) loadErr(target *atomic.Pointer[errBox]) error {
	b := target.Load()
	if b == nil {
		return nil
	}
	return b.err
}

// Err returns the stream's sticky first error, if any.
func (s *Stream) Err() error {
	if err := s.loadErr(&s.rc); err != nil {
		return err
	}
	return s.loadErr(&s.ioErr)
}

func (s *Stream) log(format string, args ...any) {
	if s.logger != nil {
		s.logger.Debugf(format, args...)
	}
}

// waitBuffer blocks on ch with the 30-second liveness poll described in
// spec section 4.A: each timeout just re-checks for termination before
// waiting again, it is never treated as a per-operation deadline.
func (s *Stream) waitBuffer(ch chan *buffer) (*buffer, error) {
	for {
		select {
		case b, ok := <-ch:
			if !ok {
				return nil, io.EOF
			}
			return b, nil
		case <-time.After(constants.SemaphoreTimeout):
			if s.closed.Load() {
				return nil, ErrClosed
			}
			if err := s.Err(); err != nil {
				return nil, err
			}
		}
	}
}

// --- write path ---------------------------------------------------------

// Write appends p to the stream, coalescing into StreamBufferSize
// buffers. Write-only; calling it on a read stream is an error.
func (s *Stream) Write(p []byte) (int, error) {
	if s.dir != DirWrite {
		return 0, ErrWrongDirection
	}
	if err := s.Err(); err != nil {
		return 0, err
	}
	written := 0
	for len(p) > 0 {
		if s.cur == nil {
			buf, err := s.waitBuffer(s.free)
			if err != nil {
				return written, err
			}
			buf.n = 0
			s.cur = buf
		}
		n := copy(s.cur.data[s.cur.n:], p)
		s.cur.n += n
		p = p[n:]
		written += n
		s.totalBytes += uint64(n)
		if s.cur.n == len(s.cur.data) {
			if err := s.flushCur(false); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// flushCur hands the current write buffer off to the backend, either
// directly (no I/O thread) or via the full channel to writeLoop.
func (s *Stream) flushCur(eof bool) error {
	if s.cur == nil {
		if eof {
			s.cur = s.allocBuffer()
			s.cur.n = 0
		} else {
			return nil
		}
	}
	s.foldCRC(s.cur.data[:s.cur.n])
	s.cur.streamOff = s.streamOffset
	s.cur.eof = eof

	if s.withIOThread {
		s.full <- s.cur
		s.streamOffset += uint64(s.cur.n)
		s.offStreamCRC = 0
		if eof {
			s.cur = nil
			return nil
		}
		buf, err := s.waitBuffer(s.free)
		if err != nil {
			s.cur = nil
			return err
		}
		buf.n = 0
		s.cur = buf
		return nil
	}

	// No dedicated I/O thread: drain inline and reuse the same buffer,
	// matching the "caller both produces and consumes" fallback spec
	// section 9 describes for a stream with no I/O worker.
	flushed := s.cur
	if err := s.writeOne(flushed); err != nil {
		s.setErr(&s.rc, err)
		return err
	}
	s.streamOffset += uint64(flushed.n)
	s.offStreamCRC = 0
	if eof {
		s.cur = nil
		return nil
	}
	flushed.n = 0
	s.cur = flushed
	return nil
}

func (s *Stream) writeOne(buf *buffer) error {
	if err := s.backend.IsOK(); err != nil {
		return err
	}
	start := time.Now()
	n, err := s.backend.Write(buf.data[:buf.n])
	if s.observer != nil {
		s.observer.ObserveBufferWrite(uint64(n), uint64(time.Since(start).Nanoseconds()), err == nil)
	}
	s.backendPos += int64(n)
	if err != nil {
		return fmt.Errorf("ssm: backend write: %w", err)
	}
	if n != buf.n {
		return fmt.Errorf("ssm: short write: wrote %d of %d bytes", n, buf.n)
	}
	return nil
}

func (s *Stream) writeLoop() {
	defer s.ioWG.Done()
	for buf := range s.full {
		if err := s.writeOne(buf); err != nil {
			s.setErr(&s.ioErr, err)
		}
		if buf.eof {
			continue
		}
		buf.n = 0
		s.free <- buf
	}
}

// SetEnd marks the current buffer as the final one and flushes it.
// Write-only.
func (s *Stream) SetEnd() error {
	if s.dir != DirWrite {
		return ErrWrongDirection
	}
	if s.ended.Load() {
		return nil
	}
	s.ended.Store(true)
	return s.flushCur(true)
}

// --- read path -----------------------------------------------------------

// Read fills p from the stream, pulling fresh buffers from the backend
// (directly or via readLoop) as needed. Read-only.
func (s *Stream) Read(p []byte) (int, error) {
	if s.dir != DirRead {
		return 0, ErrWrongDirection
	}
	if err := s.Err(); err != nil {
		return 0, err
	}
	read := 0
	for len(p) > 0 {
		if s.cur == nil || s.curOff >= s.cur.n {
			if s.cur != nil && s.cur.eof {
				return read, io.EOF
			}
			if s.withIOThread && s.cur != nil {
				// Recycle the exhausted buffer back to readLoop so it
				// keeps prefetching ahead of the consumer.
				s.free <- s.cur
			}
			buf, err := s.nextReadBuffer()
			if err != nil {
				if read > 0 && errors.Is(err, io.EOF) {
					return read, nil
				}
				return read, err
			}
			s.cur = buf
			s.curOff = 0
			s.offStreamCRC = 0
			if buf.n == 0 && buf.eof {
				return read, io.EOF
			}
		}
		n := copy(p, s.cur.data[s.curOff:s.cur.n])
		s.foldCRC(s.cur.data[s.curOff : s.curOff+n])
		s.curOff += n
		p = p[n:]
		read += n
		s.totalBytes += uint64(n)
	}
	return read, nil
}

func (s *Stream) nextReadBuffer() (*buffer, error) {
	if s.withIOThread {
		buf, err := s.waitBuffer(s.full)
		if err != nil {
			return nil, err
		}
		s.streamOffset = buf.streamOff
		return buf, nil
	}
	buf := s.cur
	if buf == nil {
		buf = s.allocBuffer()
	}
	n, err := s.backend.Read(buf.data)
	buf.n = n
	buf.streamOff = s.streamOffset
	s.streamOffset += uint64(n)
	s.backendPos += int64(n)
	if errors.Is(err, io.EOF) {
		buf.eof = true
		return buf, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ssm: backend read: %w", err)
	}
	return buf, nil
}

func (s *Stream) readLoop() {
	defer s.ioWG.Done()
	// offset is owned exclusively by this goroutine; the consumer only
	// ever learns the position of a buffer through buf.streamOff, never
	// through the shared s.streamOffset field, so there is no race with
	// Read() while an I/O thread is active.
	var offset uint64
	for buf := range s.free {
		start := time.Now()
		n, err := s.backend.Read(buf.data)
		if s.observer != nil {
			s.observer.ObserveBufferRead(uint64(n), uint64(time.Since(start).Nanoseconds()), err == nil || errors.Is(err, io.EOF))
		}
		buf.n = n
		buf.streamOff = offset
		offset += uint64(n)
		s.backendPos += int64(n)
		if errors.Is(err, io.EOF) {
			buf.eof = true
			s.full <- buf
			return
		}
		if err != nil {
			s.setErr(&s.ioErr, fmt.Errorf("ssm: backend read: %w", err))
			buf.eof = true
			s.full <- buf
			return
		}
		s.full <- buf
	}
}

// --- crc -------------------------------------------------------------

func (s *Stream) foldCRC(b []byte) {
	if !s.checksummed.Load() || len(b) == 0 {
		return
	}
	s.crc = crc32.Update(s.crc, crc32.IEEETable, b)
}

// CurCRC returns the rolling CRC-32 of every byte processed so far.
func (s *Stream) CurCRC() uint32 { return s.crc }

// FinalCRC flushes any unprocessed bytes of the current buffer and
// returns the final CRC-32.
func (s *Stream) FinalCRC() uint32 {
	if s.cur != nil {
		if s.dir == DirWrite {
			s.foldCRC(s.cur.data[s.offStreamCRC:s.cur.n])
		}
		s.offStreamCRC = s.cur.n
	}
	return s.crc
}

// DisableChecksumming turns off CRC accumulation; this cannot be
// un-done mid-stream (the v2 file-header flag is fixed for the whole
// file, per spec section 3's invariant 3).
func (s *Stream) DisableChecksumming() { s.checksummed.Store(false) }

// --- positioning -------------------------------------------------------

// Tell returns the current absolute logical stream position.
func (s *Stream) Tell() uint64 { return s.totalBytes }

// Size returns the backend's total size, if known.
func (s *Stream) Size() (int64, error) { return s.backend.Size() }

// ReadDirect returns a borrowed slice into the current buffer when it
// wholly contains the next n bytes; otherwise it returns ok=false and
// the caller must fall back to Read.
func (s *Stream) ReadDirect(n int) (p []byte, ok bool) {
	if s.dir != DirRead || s.cur == nil {
		return nil, false
	}
	if s.cur.n-s.curOff < n {
		return nil, false
	}
	out := s.cur.data[s.curOff : s.curOff+n]
	s.foldCRC(out)
	s.curOff += n
	s.totalBytes += uint64(n)
	return out, true
}

// PeekAt performs a non-destructive read of len(buf) bytes starting at
// the given absolute backend offset. It never advances the consumer
// cursor or the rolling CRC. Only valid on read streams with no active
// I/O thread, since it must seek the shared backend cursor directly.
func (s *Stream) PeekAt(offset int64, buf []byte) error {
	if s.dir != DirRead {
		return ErrWrongDirection
	}
	if s.withIOThread {
		return ErrIOThreadActive
	}
	if _, err := s.backend.Seek(offset, SeekBegin); err != nil {
		return fmt.Errorf("ssm: peek seek: %w", err)
	}
	if _, err := io.ReadFull(structReaderFunc(s.backend.Read), buf); err != nil {
		return fmt.Errorf("ssm: peek read: %w", err)
	}
	if _, err := s.backend.Seek(s.backendPos, SeekBegin); err != nil {
		return fmt.Errorf("ssm: peek restore seek: %w", err)
	}
	return nil
}

type structReaderFunc func([]byte) (int, error)

func (f structReaderFunc) Read(p []byte) (int, error) { return f(p) }

// Seek repositions a read stream. Invalid while an I/O thread is
// active, per spec section 4.A.
func (s *Stream) Seek(offset int64, method SeekMethod, crcSeed uint32) error {
	if s.dir != DirRead {
		return ErrWrongDirection
	}
	if s.withIOThread {
		return ErrIOThreadActive
	}
	abs, err := s.backend.Seek(offset, method)
	if err != nil {
		return fmt.Errorf("ssm: seek: %w", err)
	}
	s.backendPos = abs
	s.streamOffset = uint64(abs)
	s.totalBytes = uint64(abs)
	s.crc = crcSeed
	s.offStreamCRC = 0
	s.cur = nil
	s.curOff = 0
	return nil
}

// --- lifecycle -----------------------------------------------------------

// Close tears the stream down, closing the backend. cancelled indicates
// the owning operation was aborted, which a local-file backend
// interprets as "discard the partial file".
func (s *Stream) Close(cancelled bool) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.dir == DirWrite && !cancelled {
		if err := s.SetEnd(); err != nil {
			s.setErr(&s.rc, err)
		}
	}
	if s.withIOThread {
		if s.dir == DirWrite {
			close(s.full)
		} else {
			close(s.free)
		}
		s.ioWG.Wait()
	}
	for _, b := range s.allocated {
		putBuffer(b)
	}
	s.allocated = nil
	if err := s.backend.Close(cancelled); err != nil {
		s.setErr(&s.rc, err)
	}
	return s.Err()
}
