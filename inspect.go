package ssm

import (
	"io"

	"github.com/cyberus-technology/go-ssm/internal/constants"
	"github.com/cyberus-technology/go-ssm/internal/record"
	"github.com/cyberus-technology/go-ssm/internal/stream"
)

// UnitReport describes one unit record found while walking a saved-state
// file, for use by inspection tools such as cmd/ssmctl.
type UnitReport struct {
	Name         string
	Instance     uint32
	Version      uint32
	Pass         uint32
	Offset       uint64
	PayloadBytes uint64
	StreamCRC    uint32
}

// FileReport is the structural dump of a saved-state file's header,
// units, directory and footer, independent of any registered unit. A
// legacy v1.x file has no directory/footer/stream-CRC, so IsV1 callers
// should expect DirectoryEntries/FooterOffset/FinalCRC to stay zero.
type FileReport struct {
	IsV1                       bool
	VersionMajor, VersionMinor uint16
	HostBits, GCPhysBytes, GCPtrBytes uint8
	Flags               uint32
	MaxDecompressedSize uint32
	LiveSave            bool
	Checksummed         bool

	Units []UnitReport

	DirectoryEntries int
	FooterOffset     uint64
	FinalCRC         uint32
}

// Inspect walks path's file header, every unit's header and raw record
// stream, the directory and the footer, and returns what it found
// without needing any unit registered to interpret the payloads. It
// validates every CRC it passes (header, each unit header, directory,
// footer) and fails on the first mismatch.
func Inspect(path string) (*FileReport, error) {
	backend, err := stream.OpenFileBackendForRead(path)
	if err != nil {
		return nil, WrapError("Inspect", err)
	}

	isV1, err := detectV1Format(backend)
	if err != nil {
		return nil, WrapError("Inspect", err)
	}
	if isV1 {
		if err := verifyV1WholeFileCRC(backend); err != nil {
			return nil, WrapError("Inspect", err)
		}
	}

	strm, err := stream.NewReadStream(backend, stream.Options{
		BufferCount: constants.DefaultLoadBufferCount,
		Checksummed: true,
	})
	if err != nil {
		return nil, WrapError("Inspect", err)
	}
	defer strm.Close(false)

	return walkFileReport(strm)
}

func walkFileReport(strm *stream.Stream) (*FileReport, error) {
	fh, err := readFileHeader(strm)
	if err != nil {
		return nil, err
	}

	rep := &FileReport{
		IsV1:         fh.IsV1,
		VersionMajor: fh.VersionMajor, VersionMinor: fh.VersionMinor,
		HostBits: fh.HostBits, GCPhysBytes: fh.GCPhysBytes, GCPtrBytes: fh.GCPtrBytes,
		Flags: fh.Flags, MaxDecompressedSize: fh.MaxDecompressedSize,
		LiveSave:    fh.Flags&constants.FlagLiveSave != 0,
		Checksummed: fh.Flags&constants.FlagStreamCRC32 != 0,
	}

	if fh.IsV1 {
		for {
			uh, err := readUnitHeaderV1(strm)
			if err != nil {
				return nil, WrapError("Inspect", err)
			}
			if uh.IsEnd {
				break
			}
			blob := make([]byte, uh.CbUnit)
			if _, err := io.ReadFull(strm, blob); err != nil {
				return nil, WrapError("Inspect", err)
			}
			payload, err := decodeV1Payload(blob)
			if err != nil {
				return nil, err
			}
			rep.Units = append(rep.Units, UnitReport{
				Name: uh.Name, Instance: uh.Instance, Version: uh.Version, Pass: constants.PassFinal,
				PayloadBytes: uint64(len(payload)),
			})
		}
		return rep, nil
	}

	for {
		uh, err := readUnitHeader(strm)
		if err != nil {
			return nil, WrapError("Inspect", err)
		}
		if uh.IsEnd {
			break
		}

		rr := record.NewReader(strm)
		var payloadBytes uint64
		for !rr.AtEnd() {
			var scratch [4096]byte
			if err := rr.Get(scratch[:1]); err != nil {
				if err == record.ErrLoadedTooMuch {
					break
				}
				return nil, WrapError("Inspect", err)
			}
			payloadBytes++
		}

		rep.Units = append(rep.Units, UnitReport{
			Name: uh.Name, Instance: uh.Instance, Version: uh.Version, Pass: uh.Pass,
			Offset: uh.Offset, PayloadBytes: payloadBytes, StreamCRC: rr.Term().StreamCRC,
		})
	}

	dir, err := readDirectory(strm)
	if err != nil {
		return nil, WrapError("Inspect", err)
	}
	rep.DirectoryEntries = len(dir)

	footer, err := readFooter(strm)
	if err != nil {
		return nil, WrapError("Inspect", err)
	}
	rep.FooterOffset = footer.FooterOffset
	rep.FinalCRC = footer.FinalCRC

	return rep, nil
}

// ValidateFile re-derives every structural CRC in path by walking it
// end to end with Inspect and reports the first integrity failure, if
// any. A nil return means the file's header, unit headers, directory
// and footer all check out.
func ValidateFile(path string) error {
	_, err := Inspect(path)
	return err
}

// UnitPayload returns the fully decoded (decompressed) payload bytes of
// a single unit matching name and instance, without needing that unit
// registered with an SSM. It is meant for diagnostic dumping (cmd/ssmctl
// cat-unit), not for production load paths.
func UnitPayload(path, name string, instance uint32) ([]byte, error) {
	backend, err := stream.OpenFileBackendForRead(path)
	if err != nil {
		return nil, WrapError("UnitPayload", err)
	}

	strm, err := stream.NewReadStream(backend, stream.Options{
		BufferCount: constants.DefaultLoadBufferCount,
		Checksummed: true,
	})
	if err != nil {
		return nil, WrapError("UnitPayload", err)
	}
	defer strm.Close(false)

	if _, err := readFileHeader(strm); err != nil {
		return nil, err
	}

	for {
		uh, err := readUnitHeader(strm)
		if err != nil {
			return nil, WrapError("UnitPayload", err)
		}
		if uh.IsEnd {
			return nil, NewUnitError("UnitPayload", name, instance, 0, 0, CodeUnitNotFound, "unit not found in file")
		}

		rr := record.NewReader(strm)
		if uh.Name != name || uh.Instance != instance {
			for !rr.AtEnd() {
				var scratch [4096]byte
				if err := rr.Get(scratch[:1]); err != nil {
					if err == record.ErrLoadedTooMuch {
						break
					}
					return nil, WrapError("UnitPayload", err)
				}
			}
			continue
		}

		var out []byte
		for !rr.AtEnd() {
			var scratch [4096]byte
			if err := rr.Get(scratch[:1]); err != nil {
				if err == record.ErrLoadedTooMuch {
					break
				}
				return nil, WrapError("UnitPayload", err)
			}
			out = append(out, scratch[0])
		}
		return out, nil
	}
}
