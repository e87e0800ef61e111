package ssm

import (
	"io"

	"github.com/cyberus-technology/go-ssm/internal/constants"
	"github.com/cyberus-technology/go-ssm/internal/record"
	"github.com/cyberus-technology/go-ssm/internal/stream"
)

// LoadOptions configure a single Load call.
type LoadOptions struct {
	Progress ProgressFunc
	// DebugMode skips payloads for units not found in the registry
	// instead of failing with CodeUnitNotFound (spec section 4.E.3).
	DebugMode bool
}

// Load drives the load state machine (spec section 4.E.3): OpenFile
// -> LOAD_PREP -> LOAD_EXEC -> LOAD_DONE -> Close.
func (s *SSM) Load(path string, opts LoadOptions) error {
	backend, err := stream.OpenFileBackendForRead(path)
	if err != nil {
		return WrapError("Load", err)
	}
	return s.LoadFromBackend(backend, opts)
}

// LoadFromBackend drives the load state machine against a caller-
// supplied backend.
func (s *SSM) LoadFromBackend(backend stream.Backend, opts LoadOptions) (err error) {
	s.resetTransientState()

	s.metrics.LoadsStarted.Add(1)
	defer func() {
		if err != nil {
			s.metrics.LoadsFailed.Add(1)
		} else {
			s.metrics.LoadsCompleted.Add(1)
		}
	}()

	isV1, err := detectV1Format(backend)
	if err != nil {
		return WrapError("Load", err)
	}
	if isV1 {
		if err := verifyV1WholeFileCRC(backend); err != nil {
			return WrapError("Load", err)
		}
	}

	strm, err := stream.NewReadStream(backend, stream.Options{
		BufferCount: s.tuning.LoadBufferCount,
		Checksummed: true,
		Logger:      s.logger,
		Observer:    s.metrics,
	})
	if err != nil {
		return WrapError("Load", err)
	}
	defer func() {
		closeErr := strm.Close(false)
		if err == nil && closeErr != nil {
			err = WrapError("Load", closeErr)
		}
	}()

	fh, err := readFileHeader(strm)
	if err != nil {
		return err
	}

	h := newHandle(s, OpLoadPrep)
	h.strm = strm
	h.formatIsV1 = fh.IsV1
	h.host = HostInfo{
		VersionMajor: fh.VersionMajor, VersionMinor: fh.VersionMinor,
		HostBits: int(fh.HostBits), GCPhysBytes: int(fh.GCPhysBytes), GCPtrBytes: int(fh.GCPtrBytes),
	}
	h.progress = newProgressTracker(opts.Progress)

	if err := s.beginOp(h); err != nil {
		return err
	}
	defer s.endOp()

	s.mu.Lock()
	units := append([]*unit(nil), s.units...)
	s.mu.Unlock()

	h.op = OpLoadPrep
	for _, u := range units {
		if u.cb.LoadPrep != nil {
			u.enterGuard()
			cbErr := u.cb.LoadPrep(u.owner, h)
			u.leaveGuard()
			if cbErr != nil {
				h.HandleSetStatus(cbErr)
				break
			}
		}
	}
	h.progress.reportPrepare()

	if h.rc == nil {
		h.op = OpLoadExec
		if err := s.loadExecLoop(h, strm, units, opts); err != nil {
			h.HandleSetStatus(err)
		}
	}

	h.op = OpLoadDone
	for _, u := range units {
		if u.cb.LoadDone != nil {
			u.enterGuard()
			_ = u.cb.LoadDone(u.owner, h)
			u.leaveGuard()
		}
	}
	h.progress.reportDone()

	return h.rc
}

func (s *SSM) loadExecLoop(h *Handle, strm *stream.Stream, units []*unit, opts LoadOptions) error {
	if h.formatIsV1 {
		return s.loadExecLoopV1(h, strm, units, opts)
	}
	return s.loadExecLoopV2(h, strm, units, opts)
}

func (s *SSM) loadExecLoopV2(h *Handle, strm *stream.Stream, units []*unit, opts LoadOptions) error {
	for {
		if err := h.checkCancelled(); err != nil {
			return err
		}
		uh, err := readUnitHeader(strm)
		if err != nil {
			return WrapError("LoadExec", err)
		}
		if uh.IsEnd {
			return nil
		}

		u := s.findUnit(uh.Name, uh.Instance)
		h.rr = record.NewReader(strm)
		if u == nil {
			if opts.DebugMode {
				if err := h.skipUnitPayload(); err != nil {
					return err
				}
				continue
			}
			return NewUnitError("LoadExec", uh.Name, uh.Instance, uh.Pass, uh.Version, CodeUnitNotFound, "unit not found in registry")
		}

		h.curUnit = u
		h.curUnitVersion = uh.Version
		h.curUnitPass = uh.Pass
		h.haveSetError = false
		h.offUnitUser = 0
		u.called = true

		if u.cb.LoadExec == nil {
			return NewUnitError("LoadExec", uh.Name, uh.Instance, uh.Pass, uh.Version, CodeNoLoadExec, "unit has no load_exec callback")
		}

		u.enterGuard()
		cbErr := u.cb.LoadExec(u.owner, h, uh.Version, uh.Pass)
		u.leaveGuard()
		if cbErr != nil {
			return cbErr
		}

		if err := h.finishUnitRead(); err != nil {
			return err
		}
		h.orch.metrics.UnitsLoaded.Add(1)
	}
}

// loadExecLoopV1 is loadExecLoopV2's legacy counterpart: unit framing
// is the plainer {magic; cbUnit; version; instance; nameLen; name}
// layout (no Pass -- live save is v2-only, so every v1 unit is treated
// as PassFinal), and the payload is one decompressed blob wrapped in a
// synthetic record stream rather than v2's chunked framing.
func (s *SSM) loadExecLoopV1(h *Handle, strm *stream.Stream, units []*unit, opts LoadOptions) error {
	for {
		if err := h.checkCancelled(); err != nil {
			return err
		}
		uh, err := readUnitHeaderV1(strm)
		if err != nil {
			return WrapError("LoadExec", err)
		}
		if uh.IsEnd {
			return nil
		}

		blob := make([]byte, uh.CbUnit)
		if _, err := io.ReadFull(strm, blob); err != nil {
			return WrapError("LoadExec", err)
		}
		payload, err := decodeV1Payload(blob)
		if err != nil {
			return err
		}

		u := s.findUnit(uh.Name, uh.Instance)
		rr, err := newSyntheticV1Reader(payload)
		if err != nil {
			return WrapError("LoadExec", err)
		}
		h.rr = rr
		if u == nil {
			if opts.DebugMode {
				continue
			}
			return NewUnitError("LoadExec", uh.Name, uh.Instance, constants.PassFinal, uh.Version, CodeUnitNotFound, "unit not found in registry")
		}

		h.curUnit = u
		h.curUnitVersion = uh.Version
		h.curUnitPass = constants.PassFinal
		h.haveSetError = false
		h.offUnitUser = 0
		u.called = true

		if u.cb.LoadExec == nil {
			return NewUnitError("LoadExec", uh.Name, uh.Instance, constants.PassFinal, uh.Version, CodeNoLoadExec, "unit has no load_exec callback")
		}

		u.enterGuard()
		cbErr := u.cb.LoadExec(u.owner, h, uh.Version, constants.PassFinal)
		u.leaveGuard()
		if cbErr != nil {
			return cbErr
		}

		if err := h.finishUnitRead(); err != nil {
			return err
		}
		h.orch.metrics.UnitsLoaded.Add(1)
	}
}

// skipUnitPayload discards a unit's record stream when the unit is
// unknown and the orchestrator is running in debug mode.
func (h *Handle) skipUnitPayload() error {
	return h.SkipToEndOfUnit()
}

// finishUnitRead implements the v1-soft / v2-hard gate from spec
// section 4.C: v2 requires the pending record to be exactly the
// terminator with nothing buffered or unread; v1 instead tolerates
// (and merely warns about) leftover bytes, for compatibility with
// historical bugs (spec section 9).
func (h *Handle) finishUnitRead() error {
	if h.formatIsV1 {
		if !h.rr.AtEnd() {
			h.orch.logger.Warnf("unit %q left unread bytes at close (v1 compatibility, ignored)", h.curUnit.name)
			_ = h.SkipToEndOfUnit()
		}
		return nil
	}
	if !h.rr.AtEnd() {
		return NewUnitError("LoadExec", h.curUnit.name, h.curUnit.instance, h.curUnitPass, h.curUnitVersion,
			CodeLoadedTooLittle, "unit closed with unread records remaining")
	}
	return nil
}
