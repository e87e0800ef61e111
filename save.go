package ssm

import (
	"github.com/cyberus-technology/go-ssm/internal/constants"
	"github.com/cyberus-technology/go-ssm/internal/record"
	"github.com/cyberus-technology/go-ssm/internal/stream"
)

// SaveOptions configure a single Save call.
type SaveOptions struct {
	Checksummed bool
	Progress    ProgressFunc
}

// Save drives the non-live save state machine (spec section 4.E.1):
// CreateFile -> WriteHdr -> PREP -> EXEC -> FINALIZATION -> DONE ->
// Close. On any failure path, a local file backend has its partially
// written file deleted.
func (s *SSM) Save(path string, opts SaveOptions) (err error) {
	s.resetTransientState()

	backend, err := stream.OpenAtomicFileBackendForWrite(path)
	if err != nil {
		return WrapError("Save", err)
	}
	return s.saveToBackend(backend, opts, true)
}

// SaveToBackend drives the same state machine against a caller-
// supplied backend (spec section 4.B's "caller-provided method
// table"), e.g. an in-memory backend for tests.
func (s *SSM) SaveToBackend(backend stream.Backend, opts SaveOptions) error {
	return s.saveToBackend(backend, opts, false)
}

func (s *SSM) saveToBackend(backend stream.Backend, opts SaveOptions, isLocalFile bool) (err error) {
	s.metrics.SavesStarted.Add(1)
	defer func() {
		if err != nil {
			s.metrics.SavesFailed.Add(1)
		} else {
			s.metrics.SavesCompleted.Add(1)
		}
	}()

	strm, err := stream.NewWriteStream(backend, stream.Options{
		BufferCount: s.tuning.SaveBufferCount,
		Checksummed: opts.Checksummed,
		Logger:      s.logger,
		Observer:    s.metrics,
	})
	if err != nil {
		return WrapError("Save", err)
	}

	h := newHandle(s, OpSavePrep)
	h.host = defaultHostInfo()
	h.strm = strm
	h.progress = newProgressTracker(opts.Progress)

	if err := s.beginOp(h); err != nil {
		_ = strm.Close(true)
		return err
	}
	defer s.endOp()

	cancelled := false
	defer func() {
		closeErr := strm.Close(cancelled)
		if err == nil && closeErr != nil {
			err = WrapError("Save", closeErr)
		}
	}()

	s.mu.Lock()
	units := append([]*unit(nil), s.units...)
	s.mu.Unlock()

	flags := uint32(0)
	if opts.Checksummed {
		flags |= constants.FlagStreamCRC32
	}
	if err := writeFileHeader(strm, fileHeader{
		VersionMajor: constants.VersionMajorV2, VersionMinor: constants.VersionMinorV2,
		HostBits: uint8(h.host.HostBits), GCPhysBytes: uint8(h.host.GCPhysBytes), GCPtrBytes: uint8(h.host.GCPtrBytes),
		UnitCount: uint32(len(units)), Flags: flags, MaxDecompressedSize: s.tuning.MaxDecompressedSize,
	}); err != nil {
		h.HandleSetStatus(WrapError("Save", err))
		cancelled = true
		return h.rc
	}

	// PREP
	h.op = OpSavePrep
	var estimatedTotal uint64
	for _, u := range units {
		if err := h.checkCancelled(); err != nil {
			cancelled = true
			return err
		}
		if u.cb.SavePrep != nil {
			u.enterGuard()
			cbErr := u.cb.SavePrep(u.owner, h)
			u.leaveGuard()
			if cbErr != nil {
				h.HandleSetStatus(cbErr)
				break
			}
		}
		estimatedTotal += u.guessedSizeBytes
	}
	h.progress.estimatedTotalBytes = estimatedTotal
	h.progress.reportPrepare()

	if h.rc == nil {
		h.op = OpSaveExec
		var bytesDone uint64
		for _, u := range units {
			if err := h.checkCancelled(); err != nil {
				cancelled = true
				break
			}
			if u.cb.SaveExec == nil {
				continue
			}
			u.called = true
			u.streamOffset = strm.Tell()

			if err := writeUnitHeader(strm, unitHeaderRec{
				Offset: u.streamOffset, StreamCRC: strm.CurCRC(),
				Version: u.version, Instance: u.instance, Pass: constants.PassFinal, Name: u.name,
			}); err != nil {
				h.HandleSetStatus(WrapError("Save", err))
				break
			}

			h.rw = record.NewWriter(strm)
			h.curUnit = u
			h.curUnitVersion = u.version
			h.offUnitUser = 0

			u.enterGuard()
			cbErr := u.cb.SaveExec(u.owner, h)
			u.leaveGuard()

			if flushErr := h.rw.Flush(); flushErr != nil && cbErr == nil {
				cbErr = flushErr
			}
			if termErr := record.WriteTerm(strm, record.TermInfo{
				StreamCRCPresent: true, StreamCRC: strm.CurCRC(), UnitBytes: h.rw.BytesWritten() + constants.RecordTermSize,
			}); termErr != nil && cbErr == nil {
				cbErr = termErr
			}

			if cbErr != nil {
				h.HandleSetStatus(cbErr)
				break
			}
			s.metrics.UnitsSaved.Add(1)
			bytesDone += u.guessedSizeBytes
			h.progress.reportExec(bytesDone)
		}
	}

	if h.rc == nil {
		if err := s.writeFinalization(strm, units); err != nil {
			h.HandleSetStatus(err)
		}
	}

	// DONE always runs, even on abort (spec section 4.E.1).
	h.op = OpSaveDone
	for _, u := range units {
		if !u.called && u.cb.SaveDone == nil {
			continue
		}
		if u.cb.SaveDone == nil {
			continue
		}
		u.enterGuard()
		_ = u.cb.SaveDone(u.owner, h)
		u.leaveGuard()
	}
	h.progress.reportDone()

	if h.rc != nil {
		cancelled = IsCode(h.rc, CodeCancelled)
		if isLocalFile {
			cancelled = true // delete the partial file on any save failure
		}
		return h.rc
	}
	return nil
}

func (s *SSM) writeFinalization(strm *stream.Stream, units []*unit) error {
	endOffset := strm.Tell()
	if err := writeUnitHeader(strm, unitHeaderRec{IsEnd: true, Offset: endOffset, StreamCRC: strm.CurCRC()}); err != nil {
		return WrapError("Save", err)
	}

	var entries []dirEntry
	for _, u := range units {
		if !u.called {
			continue
		}
		entries = append(entries, dirEntry{Offset: u.streamOffset, Instance: u.instance, NameCRC: nameCRC32(u.name)})
	}
	if err := writeDirectory(strm, entries); err != nil {
		return WrapError("Save", err)
	}

	footerOffset := strm.Tell()
	if err := writeFooter(strm, footerOffset, strm.FinalCRC(), uint32(len(entries))); err != nil {
		return WrapError("Save", err)
	}
	return nil
}
