package ssm

import (
	"sync/atomic"

	"github.com/cyberus-technology/go-ssm/internal/constants"
	"github.com/cyberus-technology/go-ssm/internal/record"
	"github.com/cyberus-technology/go-ssm/internal/stream"
)

// OpKind is the current phase of the operation driving a Handle (spec
// section 3's "operation kind").
type OpKind int

const (
	OpInvalid OpKind = iota
	OpLivePrep
	OpLiveStep1
	OpLiveExec
	OpLiveVote
	OpLiveStep2
	OpSavePrep
	OpSaveExec
	OpSaveDone
	OpLoadPrep
	OpLoadExec
	OpLoadDone
	OpOpenRead
)

// AfterDisposition is what should happen to the VM once the operation
// finishes (spec section 3's "after" disposition). SSM only carries
// this value through; it never acts on it.
type AfterDisposition int

const (
	AfterDestroy AfterDisposition = iota
	AfterContinue
	AfterTeleport
	AfterResume
	AfterDebug
	AfterOpened
)

// HostInfo describes the format-version and host-width metadata
// recorded in a v2 file header, or assumed defaults on save.
type HostInfo struct {
	VersionMajor, VersionMinor uint16
	HostBits                   int // 32 or 64
	GCPhysBytes                int // 4 or 8
	GCPtrBytes                 int // 4 or 8
	HostOSAndArch              string
	IsHostMSC32                bool
}

func defaultHostInfo() HostInfo {
	return HostInfo{
		VersionMajor: constants.VersionMajorV2,
		VersionMinor: constants.VersionMinorV2,
		HostBits:     64,
		GCPhysBytes:  8,
		GCPtrBytes:   8,
	}
}

// Handle is the SSM operation context passed to every unit callback
// (spec section 3's "SSM handle"). One Handle exists per in-flight
// Save/Load/LiveSave call.
type Handle struct {
	orch *SSM

	op    OpKind
	after AfterDisposition

	cancelled atomic.Uint32 // constants.CancelOK / constants.CancelRequested
	rc        error         // sticky first error

	offUnitUser uint64 // user-visible bytes put/got in current unit; ^uint64(0) when no unit open

	fLiveSave bool
	maxDowntimeMs uint32

	progress *progressTracker

	curUnit         *unit
	curUnitVersion  uint32
	curUnitPass     uint32
	haveSetError    bool

	host HostInfo

	// write sub-state
	rw *record.Writer

	// read sub-state
	rr            *record.Reader
	formatIsV1    bool
	fEndOfData    bool

	strm *stream.Stream
}

func newHandle(orch *SSM, op OpKind) *Handle {
	h := &Handle{orch: orch, op: op, host: defaultHostInfo()}
	h.cancelled.Store(constants.CancelOK)
	h.offUnitUser = ^uint64(0)
	return h
}

// HandleGetStatus returns the handle's sticky error, if any.
func (h *Handle) HandleGetStatus() error { return h.rc }

// HandleSetStatus sets the sticky error if none is set yet.
func (h *Handle) HandleSetStatus(err error) {
	if h.rc == nil {
		h.rc = err
	}
}

func (h *Handle) HandleGetAfter() AfterDisposition { return h.after }
func (h *Handle) HandleIsLiveSave() bool           { return h.fLiveSave }
func (h *Handle) HandleMaxDowntime() uint32        { return h.maxDowntimeMs }
func (h *Handle) HandleHostBits() int              { return h.host.HostBits }
func (h *Handle) HandleVersion() (major, minor uint16) {
	return h.host.VersionMajor, h.host.VersionMinor
}
func (h *Handle) HandleHostOSAndArch() string { return h.host.HostOSAndArch }

// HandleReportLivePercent feeds a live-save progress update into this
// operation's progress tracker (spec section 4.E.2).
func (h *Handle) HandleReportLivePercent(partsPerTenThousand uint16) {
	if h.progress != nil {
		h.progress.reportLive(partsPerTenThousand)
	}
}

// checkCancelled is the hot-path cancellation poll (spec section 4.E.4
// / 5's SSM_CHECK_CANCELLED_RET): an unordered atomic read, converted
// to CodeCancelled the moment it is observed.
func (h *Handle) checkCancelled() error {
	if h.rc != nil {
		return h.rc
	}
	if h.cancelled.Load() == constants.CancelRequested {
		err := NewError("CheckCancelled", CodeCancelled, "operation cancelled")
		h.rc = err
		return err
	}
	return nil
}

// SetLoadError implements the idempotent-latch behaviour from spec
// section 7 tier 4 / section 8: the first call latches its error as the
// handle's status unless a status is already set. Later calls build and
// return a new unit error but leave the latched status, including its
// message, unchanged.
func (h *Handle) SetLoadError(code Code, msg string) error {
	unitName, instance, pass, version := "", uint32(0), uint32(0), uint32(0)
	if h.curUnit != nil {
		unitName, instance, version = h.curUnit.name, h.curUnit.instance, h.curUnitVersion
		pass = h.curUnitPass
	}
	err := NewUnitError("LoadExec", unitName, instance, pass, version, code, msg)
	if !h.haveSetError {
		h.haveSetError = true
		if h.rc == nil {
			h.rc = err
		}
	}
	return err
}

// SetConfigError is SetLoadError specialised to CodeLoadConfigMismatch.
func (h *Handle) SetConfigError(msg string) error {
	return h.SetLoadError(CodeLoadConfigMismatch, msg)
}

// Skip discards n bytes of the current unit's record stream without
// interpreting them.
func (h *Handle) Skip(n int) error {
	buf := make([]byte, 4096)
	for n > 0 {
		chunk := n
		if chunk > len(buf) {
			chunk = len(buf)
		}
		if err := h.rr.Get(buf[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// SkipToEndOfUnit discards the remainder of the current unit's
// records up to its terminator. It makes no v1/v2 distinction; that
// gate lives in finishUnitRead.
func (h *Handle) SkipToEndOfUnit() error {
	for !h.rr.AtEnd() {
		var scratch [4096]byte
		if err := h.rr.Get(scratch[:1]); err != nil {
			if err == record.ErrLoadedTooMuch {
				break
			}
			return err
		}
	}
	return nil
}
