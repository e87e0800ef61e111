package ssm

// UnitKind tags which of the five caller kinds owns a registered unit,
// per spec section 3 / 9 ("dynamic dispatch over heterogeneous
// callback shapes" -- the C union of five caller kinds maps to a
// closed Go enum here instead of an interface type switch, since the
// orchestrator never needs to do anything kind-specific beyond
// diagnostics).
type UnitKind int

const (
	KindDevice UnitKind = iota
	KindDriver
	KindUSB
	KindInternal
	KindExternal
)

func (k UnitKind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindDriver:
		return "driver"
	case KindUSB:
		return "usb"
	case KindInternal:
		return "internal"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// VoteResult is the return value of a LiveVote callback.
type VoteResult int

const (
	VoteReady VoteResult = iota
	VoteForAnotherPass
	VoteDoneDontCallAgain
	VoteGiveUp
)

// ExecResult is the return value of a LiveExec callback.
type ExecResult int

const (
	ExecContinue ExecResult = iota
	ExecDontCallAgain
)

// Callbacks groups the nine optional functions a unit may implement
// (spec section 6). Owner is the opaque value passed back into every
// callback; the orchestrator never inspects it.
type Callbacks struct {
	SavePrep func(owner any, h *Handle) error
	SaveExec func(owner any, h *Handle) error
	SaveDone func(owner any, h *Handle) error

	LoadPrep func(owner any, h *Handle) error
	LoadExec func(owner any, h *Handle, version uint32, pass uint32) error
	LoadDone func(owner any, h *Handle) error

	LivePrep func(owner any, h *Handle) error
	LiveExec func(owner any, h *Handle, pass uint32) (ExecResult, error)
	LiveVote func(owner any, h *Handle, pass uint32) (VoteResult, error)
}

// CriticalSection is the scope-guard entered around every callback
// invocation for a unit that names one (spec section 3). A *sync.Mutex
// satisfies this trivially; it is an interface so callers can share
// one guard across several units.
type CriticalSection interface {
	Lock()
	Unlock()
}

// unit is the orchestrator's internal registration record (spec
// section 3's "unit registration record").
type unit struct {
	name     string
	instance uint32
	kind     UnitKind
	owner    any
	version  uint32
	guard    CriticalSection
	cb       Callbacks

	guessedSizeBytes uint64

	// transient per-operation state, reset at the start of each op.
	called       bool
	liveDone     bool
	streamOffset uint64
}

func (u *unit) enterGuard() {
	if u.guard != nil {
		u.guard.Lock()
	}
}

func (u *unit) leaveGuard() {
	if u.guard != nil {
		u.guard.Unlock()
	}
}
