package stream

import (
	"sync"
	"time"

	"github.com/cyberus-technology/go-ssm/internal/constants"
)

// buffer is the unit of handoff between the producer and the I/O
// thread: a fixed-capacity byte slice plus the bookkeeping the stream
// needs to place it in the backend or hand it to the consumer.
type buffer struct {
	data        []byte // data[:n] is the valid region
	n           int
	streamOff   uint64
	eof         bool
	allocatedAt time.Time
}

// globalBufferPool recycles fixed StreamBufferSize byte slices across
// every open Stream. Using *[]byte avoids boxing the slice header on
// every sync.Pool.Get/Put, the same trick go-ublk's queue.BufferPool
// uses for its size-bucketed pools; SSM only ever needs one bucket
// because every stream buffer is exactly StreamBufferSize.
var globalBufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, constants.StreamBufferSize)
		return &b
	},
}

func getBuffer() *buffer {
	bp := globalBufferPool.Get().(*[]byte)
	return &buffer{data: *bp, allocatedAt: time.Now()}
}

func putBuffer(b *buffer) {
	if b == nil || cap(b.data) != constants.StreamBufferSize {
		return
	}
	full := b.data[:constants.StreamBufferSize]
	globalBufferPool.Put(&full)
}
