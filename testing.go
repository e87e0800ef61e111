package ssm

import "sync"

// RecordingUnit is a test double implementing all nine Callbacks hooks
// (spec section 6), tracking call counts and arguments for assertions
// in save/load/live-save tests. Every hook is present (never nil) so a
// RecordingUnit always exercises the orchestrator's full callback
// contract; set the Err fields to make a specific phase fail.
type RecordingUnit struct {
	mu sync.Mutex

	savePrepCalls, saveExecCalls, saveDoneCalls int
	loadPrepCalls, loadExecCalls, loadDoneCalls int
	livePrepCalls, liveExecCalls, liveVoteCalls int

	loadedVersions []uint32
	loadedPasses   []uint32

	// Err fields, when non-nil, are returned by the matching hook
	// instead of the normal behaviour.
	SavePrepErr, SaveExecErr, SaveDoneErr error
	LoadPrepErr, LoadExecErr, LoadDoneErr error
	LivePrepErr, LiveExecErr, LiveVoteErr error

	// LiveConvergeAfter is the LiveExec pass number from which this
	// unit reports ExecDontCallAgain and votes VoteDoneDontCallAgain
	// (0 means its first LiveExec already reports it done, so no vote
	// is needed).
	LiveConvergeAfter int

	// Payload is written verbatim by SaveExec/LiveExec; LoadExec reads
	// len(Payload) bytes back and replaces Payload with them.
	Payload []byte
}

// NewRecordingUnit creates a RecordingUnit whose SaveExec/LoadExec
// round-trip payload as raw bytes with no length prefix.
func NewRecordingUnit(payload []byte) *RecordingUnit {
	return &RecordingUnit{Payload: payload}
}

func (r *RecordingUnit) SavePrep(_ any, h *Handle) error {
	r.mu.Lock()
	r.savePrepCalls++
	r.mu.Unlock()
	return r.SavePrepErr
}

func (r *RecordingUnit) SaveExec(_ any, h *Handle) error {
	r.mu.Lock()
	r.saveExecCalls++
	r.mu.Unlock()
	if r.SaveExecErr != nil {
		return r.SaveExecErr
	}
	return h.PutMem(r.Payload)
}

func (r *RecordingUnit) SaveDone(_ any, h *Handle) error {
	r.mu.Lock()
	r.saveDoneCalls++
	r.mu.Unlock()
	return r.SaveDoneErr
}

func (r *RecordingUnit) LoadPrep(_ any, h *Handle) error {
	r.mu.Lock()
	r.loadPrepCalls++
	r.mu.Unlock()
	return r.LoadPrepErr
}

func (r *RecordingUnit) LoadExec(_ any, h *Handle, version uint32, pass uint32) error {
	r.mu.Lock()
	r.loadExecCalls++
	r.loadedVersions = append(r.loadedVersions, version)
	r.loadedPasses = append(r.loadedPasses, pass)
	r.mu.Unlock()
	if r.LoadExecErr != nil {
		return r.LoadExecErr
	}
	got := make([]byte, len(r.Payload))
	if err := h.GetMem(got); err != nil {
		return err
	}
	r.mu.Lock()
	r.Payload = got
	r.mu.Unlock()
	return nil
}

func (r *RecordingUnit) LoadDone(_ any, h *Handle) error {
	r.mu.Lock()
	r.loadDoneCalls++
	r.mu.Unlock()
	return r.LoadDoneErr
}

func (r *RecordingUnit) LivePrep(_ any, h *Handle) error {
	r.mu.Lock()
	r.livePrepCalls++
	r.mu.Unlock()
	return r.LivePrepErr
}

func (r *RecordingUnit) LiveExec(_ any, h *Handle, pass uint32) (ExecResult, error) {
	r.mu.Lock()
	r.liveExecCalls++
	converge := r.LiveConvergeAfter
	r.mu.Unlock()
	if r.LiveExecErr != nil {
		return ExecDontCallAgain, r.LiveExecErr
	}
	if err := h.PutMem(r.Payload); err != nil {
		return ExecDontCallAgain, err
	}
	if int(pass) >= converge {
		return ExecDontCallAgain, nil
	}
	return ExecContinue, nil
}

func (r *RecordingUnit) LiveVote(_ any, h *Handle, pass uint32) (VoteResult, error) {
	r.mu.Lock()
	r.liveVoteCalls++
	converge := r.LiveConvergeAfter
	r.mu.Unlock()
	if r.LiveVoteErr != nil {
		return VoteGiveUp, r.LiveVoteErr
	}
	if int(pass) >= converge {
		return VoteDoneDontCallAgain, nil
	}
	return VoteForAnotherPass, nil
}

// Callbacks returns a Callbacks value wired to this RecordingUnit's
// nine hooks, for use with RegisterUnit.
func (r *RecordingUnit) Callbacks() Callbacks {
	return Callbacks{
		SavePrep: r.SavePrep, SaveExec: r.SaveExec, SaveDone: r.SaveDone,
		LoadPrep: r.LoadPrep, LoadExec: r.LoadExec, LoadDone: r.LoadDone,
		LivePrep: r.LivePrep, LiveExec: r.LiveExec, LiveVote: r.LiveVote,
	}
}

// CallCounts returns the number of times each hook has fired, keyed by
// hook name, for test assertions.
func (r *RecordingUnit) CallCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]int{
		"save_prep": r.savePrepCalls, "save_exec": r.saveExecCalls, "save_done": r.saveDoneCalls,
		"load_prep": r.loadPrepCalls, "load_exec": r.loadExecCalls, "load_done": r.loadDoneCalls,
		"live_prep": r.livePrepCalls, "live_exec": r.liveExecCalls, "live_vote": r.liveVoteCalls,
	}
}

// LoadedVersions returns the unit version passed to every LoadExec call.
func (r *RecordingUnit) LoadedVersions() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint32(nil), r.loadedVersions...)
}
