// Package ssm implements the Saved-State Manager core: orchestration
// state machines (this file, save.go, load.go, live.go, progress.go)
// layered on the stream/record/fieldcodec building blocks in
// internal/.
package ssm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cyberus-technology/go-ssm/internal/constants"
	"github.com/cyberus-technology/go-ssm/internal/logging"
)

// SSM is the orchestrator: the unit registry plus the entry points for
// Save, Load and LiveSave (spec section 4.E).
type SSM struct {
	mu    sync.Mutex
	units []*unit

	cancelMu sync.Mutex
	active   atomic.Pointer[Handle] // the VM-wide "currently cancellable operation" slot

	logger  *logging.Logger
	metrics *Metrics
	tuning  TuningConfig
}

// New creates an empty orchestrator using DefaultTuningConfig.
func New() *SSM {
	return NewWithTuning(DefaultTuningConfig())
}

// NewWithTuning creates an empty orchestrator with an explicit
// TuningConfig, typically loaded via LoadTuningConfig.
func NewWithTuning(cfg TuningConfig) *SSM {
	return &SSM{logger: logging.Default(), metrics: NewMetrics(), tuning: cfg}
}

// Logger returns the orchestrator's logger, for callers that want to
// attach contextual child loggers via logging.WithUnit etc.
func (s *SSM) Logger() *logging.Logger { return s.logger }

// Metrics returns the orchestrator's metrics sink.
func (s *SSM) Metrics() *Metrics { return s.metrics }

// RegisterOptions configure a single RegisterUnit call.
type RegisterOptions struct {
	InsertBefore string // if set, insert before the unit with this name
	Guard        CriticalSection
	GuessedSize  uint64
}

// RegisterUnit adds a unit to the registry, rejecting a duplicate
// (name, instance) pair (spec section 3).
func (s *SSM) RegisterUnit(name string, instance uint32, kind UnitKind, owner any, version uint32, cb Callbacks, opts RegisterOptions) error {
	if len(name) == 0 || len(name)+1 > constants.MaxNameBytes {
		return NewError("RegisterUnit", CodeFieldInvalidValue, fmt.Sprintf("unit name %q exceeds %d bytes", name, constants.MaxNameBytes-1))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.units {
		if u.name == name && u.instance == instance {
			return NewUnitError("RegisterUnit", name, instance, 0, version, CodeUnitExists, "unit already registered")
		}
	}
	nu := &unit{
		name: name, instance: instance, kind: kind, owner: owner,
		version: version, guard: opts.Guard, cb: cb, guessedSizeBytes: opts.GuessedSize,
	}
	if opts.InsertBefore != "" {
		for i, u := range s.units {
			if u.name == opts.InsertBefore {
				s.units = append(s.units[:i], append([]*unit{nu}, s.units[i:]...)...)
				return nil
			}
		}
	}
	s.units = append(s.units, nu)
	return nil
}

// resetTransientState clears the per-operation fields on every unit
// before a new Save/Load/LiveSave begins.
func (s *SSM) resetTransientState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.units {
		u.called = false
		u.liveDone = false
		u.streamOffset = 0
	}
}

func (s *SSM) findUnit(name string, instance uint32) *unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.units {
		if u.name == name && u.instance == instance {
			return u
		}
	}
	return nil
}

// beginOp registers h in the VM-wide cancellable-operation slot (spec
// section 4.E.4 / 9's "global mutable state").
func (s *SSM) beginOp(h *Handle) error {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.active.Load() != nil {
		return NewError("Begin", CodeNoPendingOperation, "another operation is already in progress")
	}
	s.active.Store(h)
	return nil
}

func (s *SSM) endOp() {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	s.active.Store(nil)
}

// Cancel requests cancellation of the in-flight operation, if any
// (spec section 4.E.4): CAS the active handle's flag from OK to
// CANCELLED under the cancel critical section.
func (s *SSM) Cancel() error {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	h := s.active.Load()
	if h == nil {
		return NewError("Cancel", CodeNoPendingOperation, "no operation is in progress")
	}
	if !h.cancelled.CompareAndSwap(constants.CancelOK, constants.CancelRequested) {
		return NewError("Cancel", CodeAlreadyCancelled, "operation already cancelled")
	}
	h.HandleSetStatus(NewError("Cancel", CodeCancelled, "operation cancelled"))
	return nil
}
