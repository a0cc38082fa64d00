package ledgertree

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultEngineConfig(t *testing.T) {
	cfg := DefaultEngineConfig()
	if cfg.DefaultCommitPolicy != DurabilityHard {
		t.Fatalf("default commit policy = %q, want %q", cfg.DefaultCommitPolicy, DurabilityHard)
	}
	if cfg.PageSize != 8192 {
		t.Fatalf("default page size = %d, want 8192", cfg.PageSize)
	}
	if cfg.Logger == nil {
		t.Fatal("default logger is nil")
	}
}

func TestEngineConfig_GroupCommitWindow(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.GroupCommitWindowMS = 10
	if got := cfg.groupCommitWindow(); got != 10*time.Millisecond {
		t.Fatalf("groupCommitWindow() = %v, want 10ms", got)
	}

	cfg.GroupCommitWindowMS = 0
	if got := cfg.groupCommitWindow(); got <= 0 {
		t.Fatalf("groupCommitWindow() with 0ms config = %v, want > 0", got)
	}
}

func TestLoadEngineConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgertree.yaml")
	contents := "page_size: 4096\ndefault_commit_policy: soft\nvolume_dir: /data/volumes\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("LoadEngineConfig: %v", err)
	}
	if cfg.PageSize != 4096 {
		t.Fatalf("PageSize = %d, want 4096", cfg.PageSize)
	}
	if cfg.DefaultCommitPolicy != DurabilitySoft {
		t.Fatalf("DefaultCommitPolicy = %q, want %q", cfg.DefaultCommitPolicy, DurabilitySoft)
	}
	if cfg.VolumeDir != "/data/volumes" {
		t.Fatalf("VolumeDir = %q", cfg.VolumeDir)
	}
	// Fields not present in the file keep DefaultEngineConfig's values.
	if cfg.MaxCachePages != 1024 {
		t.Fatalf("MaxCachePages = %d, want default 1024", cfg.MaxCachePages)
	}
	if cfg.Logger == nil {
		t.Fatal("Logger should default to a non-nil logger after LoadEngineConfig")
	}
}

func TestLoadEngineConfig_MissingFile(t *testing.T) {
	if _, err := LoadEngineConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error loading nonexistent config file")
	}
}
