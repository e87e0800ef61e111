package ssm

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/cyberus-technology/go-ssm/internal/constants"
)

// TuningConfig holds the handful of knobs spec section 4.A/4.E leave to
// the embedder: buffer pool depth, the LZF decompression cap advertised
// in the file header, and the live-save pass ceiling. Unset fields fall
// back to internal/constants' defaults.
type TuningConfig struct {
	SaveBufferCount     int    `json:"save_buffer_count,omitempty"`
	LoadBufferCount     int    `json:"load_buffer_count,omitempty"`
	MaxDecompressedSize uint32 `json:"max_decompressed_size,omitempty"`
	MaxLivePasses       uint32 `json:"max_live_passes,omitempty"`
}

// DefaultTuningConfig returns the defaults baked into internal/constants.
func DefaultTuningConfig() TuningConfig {
	return TuningConfig{
		SaveBufferCount:     constants.DefaultSaveBufferCount,
		LoadBufferCount:     constants.DefaultLoadBufferCount,
		MaxDecompressedSize: constants.MaxDecompressedSizeDefault,
		MaxLivePasses:       constants.MaxLivePasses,
	}
}

// LoadTuningConfig reads a JWCC (JSON-with-comments-and-trailing-commas)
// tuning file, standardizes it to plain JSON, and overlays it onto
// DefaultTuningConfig. A missing file is not an error; it just yields
// the defaults.
func LoadTuningConfig(path string) (TuningConfig, error) {
	cfg := DefaultTuningConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("ssm: read tuning config %q: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return cfg, fmt.Errorf("ssm: parse tuning config %q: %w", path, err)
	}
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return cfg, fmt.Errorf("ssm: decode tuning config %q: %w", path, err)
	}
	if cfg.MaxDecompressedSize < constants.MaxDecompressedSizeMin {
		return cfg, fmt.Errorf("ssm: max_decompressed_size %d below minimum %d", cfg.MaxDecompressedSize, constants.MaxDecompressedSizeMin)
	}
	return cfg, nil
}
