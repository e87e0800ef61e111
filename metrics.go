package ssm

import (
	"sync/atomic"
	"time"

	"github.com/cyberus-technology/go-ssm/internal/interfaces"
)

// LatencyBuckets defines the callback-latency histogram buckets in
// nanoseconds. Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for an
// orchestrator's save/load/live-save operations.
type Metrics struct {
	// Operation counters.
	SavesStarted     atomic.Uint64
	SavesCompleted   atomic.Uint64
	SavesFailed      atomic.Uint64
	LoadsStarted     atomic.Uint64
	LoadsCompleted   atomic.Uint64
	LoadsFailed      atomic.Uint64
	LiveSavesStarted atomic.Uint64

	// Unit counters.
	UnitsSaved  atomic.Uint64
	UnitsLoaded atomic.Uint64

	// Byte counters (stream-level, via the Observer hooks below).
	BytesWritten atomic.Uint64
	BytesRead    atomic.Uint64

	// Per-record-type counters, keyed by internal/constants.RecordType*.
	RecordsRaw     atomic.Uint64
	RecordsRawLZF  atomic.Uint64
	RecordsRawZero atomic.Uint64
	RecordsTerm    atomic.Uint64
	RawBytesTotal  atomic.Uint64
	CompressedBytesTotal atomic.Uint64

	// Live-save convergence.
	LiveSavePasses atomic.Uint64

	// Flush accounting.
	FlushOps    atomic.Uint64
	FlushErrors atomic.Uint64

	// Callback latency tracking, fed by RecordCallback; the orchestrator
	// does not call it.
	TotalLatencyNs atomic.Uint64
	CallbackCount  atomic.Uint64
	latencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordCallback records a single unit callback's latency and updates
// the histogram.
func (m *Metrics) RecordCallback(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.CallbackCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.latencyBuckets[i].Add(1)
		}
	}
}

func (m *Metrics) recordLivePass() { m.LiveSavePasses.Add(1) }

// ObserveBufferWrite implements interfaces.Observer.
func (m *Metrics) ObserveBufferWrite(bytes uint64, _ uint64, success bool) {
	if success {
		m.BytesWritten.Add(bytes)
	}
}

// ObserveBufferRead implements interfaces.Observer.
func (m *Metrics) ObserveBufferRead(bytes uint64, _ uint64, success bool) {
	if success {
		m.BytesRead.Add(bytes)
	}
}

// ObserveRecord implements interfaces.Observer, tallying per-type
// record counts and the raw-vs-compressed byte totals LZF selection
// produces (spec section 4.C).
func (m *Metrics) ObserveRecord(recordType uint8, rawBytes uint64, compressedBytes uint64) {
	switch recordType {
	case 1:
		m.RecordsTerm.Add(1)
	case 2:
		m.RecordsRaw.Add(1)
	case 3:
		m.RecordsRawLZF.Add(1)
	case 4:
		m.RecordsRawZero.Add(1)
	}
	m.RawBytesTotal.Add(rawBytes)
	m.CompressedBytesTotal.Add(compressedBytes)
}

// ObserveFlush implements interfaces.Observer.
func (m *Metrics) ObserveFlush(_ uint64, success bool) {
	m.FlushOps.Add(1)
	if !success {
		m.FlushErrors.Add(1)
	}
}

// ObserveQueueDepth implements interfaces.Observer. SSM streams have no
// queue depth concept (single sequential producer/consumer), so this
// is a no-op kept to satisfy the interface.
func (m *Metrics) ObserveQueueDepth(uint32) {}

var _ interfaces.Observer = (*Metrics)(nil)

// MetricsSnapshot is a point-in-time, non-atomic copy of Metrics for
// reporting.
type MetricsSnapshot struct {
	SavesStarted, SavesCompleted, SavesFailed uint64
	LoadsStarted, LoadsCompleted, LoadsFailed uint64
	LiveSavesStarted, LiveSavePasses          uint64

	UnitsSaved, UnitsLoaded uint64

	BytesWritten, BytesRead uint64

	RecordsRaw, RecordsRawLZF, RecordsRawZero, RecordsTerm uint64
	RawBytesTotal, CompressedBytesTotal                    uint64

	FlushOps, FlushErrors uint64

	AvgCallbackLatencyNs uint64
	LatencyHistogram     [numLatencyBuckets]uint64

	UptimeNs uint64
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SavesStarted: m.SavesStarted.Load(), SavesCompleted: m.SavesCompleted.Load(), SavesFailed: m.SavesFailed.Load(),
		LoadsStarted: m.LoadsStarted.Load(), LoadsCompleted: m.LoadsCompleted.Load(), LoadsFailed: m.LoadsFailed.Load(),
		LiveSavesStarted: m.LiveSavesStarted.Load(), LiveSavePasses: m.LiveSavePasses.Load(),
		UnitsSaved: m.UnitsSaved.Load(), UnitsLoaded: m.UnitsLoaded.Load(),
		BytesWritten: m.BytesWritten.Load(), BytesRead: m.BytesRead.Load(),
		RecordsRaw: m.RecordsRaw.Load(), RecordsRawLZF: m.RecordsRawLZF.Load(),
		RecordsRawZero: m.RecordsRawZero.Load(), RecordsTerm: m.RecordsTerm.Load(),
		RawBytesTotal: m.RawBytesTotal.Load(), CompressedBytesTotal: m.CompressedBytesTotal.Load(),
		FlushOps: m.FlushOps.Load(), FlushErrors: m.FlushErrors.Load(),
	}

	callbackCount := m.CallbackCount.Load()
	if callbackCount > 0 {
		snap.AvgCallbackLatencyNs = m.TotalLatencyNs.Load() / callbackCount
	}
	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.latencyBuckets[i].Load()
	}
	snap.UptimeNs = uint64(time.Now().UnixNano() - m.StartTime.Load())
	return snap
}

// Reset zeroes all counters. Useful in tests that reuse one
// orchestrator across several Save/Load calls.
func (m *Metrics) Reset() {
	*m = Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
}
