// Package interfaces provides internal interface definitions shared by
// internal/stream, internal/record and the root ssm package. These are
// kept in their own leaf package (rather than defined on the consumer)
// purely to avoid import cycles -- stream and record both need a logger
// and an observer, and neither should import the other.
package interfaces

// Logger is the narrow logging interface stream/record code depends on.
// *logging.Logger satisfies it directly.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer receives counters from the stream and record layers.
// Implementations must be safe to call from the I/O thread concurrently
// with the producer side.
type Observer interface {
	ObserveBufferWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveBufferRead(bytes uint64, latencyNs uint64, success bool)
	ObserveRecord(recordType uint8, rawBytes uint64, compressedBytes uint64)
	ObserveFlush(latencyNs uint64, success bool)
	ObserveQueueDepth(depth uint32)
}
