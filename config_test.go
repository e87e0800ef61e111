package ssm

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTuningConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadTuningConfig(filepath.Join(t.TempDir(), "does-not-exist.jwcc"))
	if err != nil {
		t.Fatalf("LoadTuningConfig on a missing file: %v", err)
	}
	if cfg != DefaultTuningConfig() {
		t.Fatalf("got %+v, want defaults %+v", cfg, DefaultTuningConfig())
	}
}

func TestLoadTuningConfigOverlaysHuJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.jwcc")
	// Trailing comma and a comment: hujson.Standardize must strip both.
	body := `{
		// buffer depths tuned for this embedder
		"save_buffer_count": 16,
		"max_live_passes": 10,
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("LoadTuningConfig: %v", err)
	}
	if cfg.SaveBufferCount != 16 {
		t.Fatalf("SaveBufferCount = %d, want 16", cfg.SaveBufferCount)
	}
	if cfg.MaxLivePasses != 10 {
		t.Fatalf("MaxLivePasses = %d, want 10", cfg.MaxLivePasses)
	}
	// Fields absent from the file fall back to the defaults.
	want := DefaultTuningConfig()
	if cfg.LoadBufferCount != want.LoadBufferCount {
		t.Fatalf("LoadBufferCount = %d, want default %d", cfg.LoadBufferCount, want.LoadBufferCount)
	}
	if cfg.MaxDecompressedSize != want.MaxDecompressedSize {
		t.Fatalf("MaxDecompressedSize = %d, want default %d", cfg.MaxDecompressedSize, want.MaxDecompressedSize)
	}
}

func TestLoadTuningConfigRejectsDecompressedSizeBelowMinimum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.json")
	if err := os.WriteFile(path, []byte(`{"max_decompressed_size": 1}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := LoadTuningConfig(path)
	if err == nil {
		t.Fatal("expected LoadTuningConfig to reject a max_decompressed_size below the minimum")
	}
}

func TestDefaultTuningConfigMatchesConstants(t *testing.T) {
	cfg := DefaultTuningConfig()
	if cfg.SaveBufferCount != DefaultSaveBufferCount {
		t.Fatalf("SaveBufferCount = %d, want %d", cfg.SaveBufferCount, DefaultSaveBufferCount)
	}
	if cfg.LoadBufferCount != DefaultLoadBufferCount {
		t.Fatalf("LoadBufferCount = %d, want %d", cfg.LoadBufferCount, DefaultLoadBufferCount)
	}
	if cfg.MaxDecompressedSize != MaxDecompressedSizeDefault {
		t.Fatalf("MaxDecompressedSize = %d, want %d", cfg.MaxDecompressedSize, MaxDecompressedSizeDefault)
	}
}
