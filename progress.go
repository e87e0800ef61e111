package ssm

// ProgressFunc is the progress callback contract (spec section 6):
// called with a monotonically non-decreasing percent in [0, 100].
type ProgressFunc func(percent int)

// progressTracker turns byte-level exec progress and live-save vote
// percentages into the monotonic percent stream a ProgressFunc
// expects (spec section 3 / 4.E.2's SSMLiveControl pseudo-unit).
type progressTracker struct {
	fn ProgressFunc

	percentPrepare int // budget reserved for the PREP phase
	percentDone    int // budget reserved for the DONE phase
	percentLive    int // budget reserved for live-save passes, 0 for non-live

	estimatedTotalBytes uint64
	reportedPercent     int
	reportedLivePerTen  uint16
}

func newProgressTracker(fn ProgressFunc) *progressTracker {
	if fn == nil {
		fn = func(int) {}
	}
	return &progressTracker{fn: fn, percentPrepare: 2, percentDone: 2}
}

func (p *progressTracker) report(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent < p.reportedPercent {
		percent = p.reportedPercent
	}
	p.reportedPercent = percent
	p.fn(percent)
}

func (p *progressTracker) reportPrepare() { p.report(p.percentPrepare) }

func (p *progressTracker) reportExec(bytesDone uint64) {
	if p.estimatedTotalBytes == 0 {
		return
	}
	execBudget := 100 - p.percentPrepare - p.percentDone - p.percentLive
	if execBudget < 0 {
		execBudget = 0
	}
	frac := float64(bytesDone) / float64(p.estimatedTotalBytes)
	if frac > 1 {
		frac = 1
	}
	p.report(p.percentPrepare + p.percentLive + int(frac*float64(execBudget)))
}

func (p *progressTracker) reportDone() { p.report(100) }

// reportLive records a live-save vote-phase update expressed in parts
// per ten thousand, the unit used by the SSMLiveControl pseudo-unit on
// the wire (spec section 4.E.2).
func (p *progressTracker) reportLive(partsPerTenThousand uint16) {
	if partsPerTenThousand < p.reportedLivePerTen {
		partsPerTenThousand = p.reportedLivePerTen
	}
	p.reportedLivePerTen = partsPerTenThousand
	frac := float64(partsPerTenThousand) / 10000.0
	p.report(int(frac * float64(p.percentLive)))
}
