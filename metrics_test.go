package ssm

import (
	"testing"
	"time"
)

func TestMetricsOperationCounters(t *testing.T) {
	m := NewMetrics()

	m.SavesStarted.Add(1)
	m.SavesCompleted.Add(1)
	m.LoadsStarted.Add(1)
	m.LoadsFailed.Add(1)
	m.LiveSavesStarted.Add(1)
	m.UnitsSaved.Add(3)
	m.UnitsLoaded.Add(2)

	snap := m.Snapshot()
	if snap.SavesStarted != 1 || snap.SavesCompleted != 1 {
		t.Errorf("save counters = %d/%d, want 1/1", snap.SavesStarted, snap.SavesCompleted)
	}
	if snap.LoadsStarted != 1 || snap.LoadsFailed != 1 {
		t.Errorf("load counters = %d/%d, want 1/1", snap.LoadsStarted, snap.LoadsFailed)
	}
	if snap.LiveSavesStarted != 1 {
		t.Errorf("LiveSavesStarted = %d, want 1", snap.LiveSavesStarted)
	}
	if snap.UnitsSaved != 3 || snap.UnitsLoaded != 2 {
		t.Errorf("unit counters = %d/%d, want 3/2", snap.UnitsSaved, snap.UnitsLoaded)
	}
}

func TestMetricsObserveBufferWriteRead(t *testing.T) {
	m := NewMetrics()

	m.ObserveBufferWrite(1024, 1_000_000, true)
	m.ObserveBufferWrite(512, 1_000_000, false) // failed write, not counted
	m.ObserveBufferRead(2048, 2_000_000, true)

	snap := m.Snapshot()
	if snap.BytesWritten != 1024 {
		t.Errorf("BytesWritten = %d, want 1024", snap.BytesWritten)
	}
	if snap.BytesRead != 2048 {
		t.Errorf("BytesRead = %d, want 2048", snap.BytesRead)
	}
}

func TestMetricsObserveRecord(t *testing.T) {
	m := NewMetrics()

	m.ObserveRecord(2, 4096, 4096) // RAW
	m.ObserveRecord(3, 4096, 512)  // RAW_LZF
	m.ObserveRecord(3, 4096, 600)  // RAW_LZF
	m.ObserveRecord(4, 4096, 1)    // RAW_ZERO
	m.ObserveRecord(1, 0, 0)       // TERM

	snap := m.Snapshot()
	if snap.RecordsRaw != 1 {
		t.Errorf("RecordsRaw = %d, want 1", snap.RecordsRaw)
	}
	if snap.RecordsRawLZF != 2 {
		t.Errorf("RecordsRawLZF = %d, want 2", snap.RecordsRawLZF)
	}
	if snap.RecordsRawZero != 1 {
		t.Errorf("RecordsRawZero = %d, want 1", snap.RecordsRawZero)
	}
	if snap.RecordsTerm != 1 {
		t.Errorf("RecordsTerm = %d, want 1", snap.RecordsTerm)
	}
	if snap.RawBytesTotal != 4*4096 {
		t.Errorf("RawBytesTotal = %d, want %d", snap.RawBytesTotal, 4*4096)
	}
	if snap.CompressedBytesTotal != 4096+512+600+1 {
		t.Errorf("CompressedBytesTotal = %d, want %d", snap.CompressedBytesTotal, 4096+512+600+1)
	}
}

func TestMetricsObserveFlush(t *testing.T) {
	m := NewMetrics()

	m.ObserveFlush(4096, true)
	m.ObserveFlush(4096, false)
	m.ObserveFlush(4096, true)

	snap := m.Snapshot()
	if snap.FlushOps != 3 {
		t.Errorf("FlushOps = %d, want 3", snap.FlushOps)
	}
	if snap.FlushErrors != 1 {
		t.Errorf("FlushErrors = %d, want 1", snap.FlushErrors)
	}
}

func TestMetricsObserveQueueDepthIsNoOp(t *testing.T) {
	m := NewMetrics()
	m.ObserveQueueDepth(7) // SSM streams have no queue depth; must not panic
}

func TestMetricsRecordCallbackHistogram(t *testing.T) {
	m := NewMetrics()

	m.RecordCallback(500)        // 1us bucket
	m.RecordCallback(5_000)      // 10us bucket
	m.RecordCallback(50_000_000) // 100ms bucket

	snap := m.Snapshot()
	if snap.AvgCallbackLatencyNs == 0 {
		t.Error("expected non-zero average callback latency")
	}
	var total uint64
	for _, c := range snap.LatencyHistogram {
		total += c
	}
	if total == 0 {
		t.Error("expected histogram buckets to be populated")
	}
}

func TestMetricsLiveSavePasses(t *testing.T) {
	m := NewMetrics()
	m.recordLivePass()
	m.recordLivePass()

	if got := m.Snapshot().LiveSavePasses; got != 2 {
		t.Errorf("LiveSavePasses = %d, want 2", got)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()
	time.Sleep(5 * time.Millisecond)

	if snap := m.Snapshot(); snap.UptimeNs < 5*uint64(time.Millisecond) {
		t.Errorf("UptimeNs = %d, want >= %d", snap.UptimeNs, 5*uint64(time.Millisecond))
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.SavesStarted.Add(1)
	m.BytesWritten.Add(1024)

	m.Reset()

	snap := m.Snapshot()
	if snap.SavesStarted != 0 || snap.BytesWritten != 0 {
		t.Errorf("expected zeroed counters after Reset, got SavesStarted=%d BytesWritten=%d", snap.SavesStarted, snap.BytesWritten)
	}
}
