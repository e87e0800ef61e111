package ssm

import "github.com/cyberus-technology/go-ssm/internal/constants"

// Re-export the wire-format constants most embedders need when
// interpreting a saved-state file directly (e.g. cmd/ssmctl), without
// requiring an import of internal/constants.
const (
	FileHeaderSize = constants.FileHeaderSize
	FooterSize     = constants.FooterSize
	MaxNameBytes   = constants.MaxNameBytes

	VersionMajorV2 = constants.VersionMajorV2
	VersionMinorV2 = constants.VersionMinorV2

	FlagStreamCRC32 = constants.FlagStreamCRC32
	FlagLiveSave    = constants.FlagLiveSave

	MaxDecompressedSizeDefault = constants.MaxDecompressedSizeDefault
	MaxDecompressedSizeMin     = constants.MaxDecompressedSizeMin

	MaxLivePasses = constants.MaxLivePasses

	DefaultSaveBufferCount = constants.DefaultSaveBufferCount
	DefaultLoadBufferCount = constants.DefaultLoadBufferCount
)
