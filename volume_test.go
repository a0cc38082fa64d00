package ledgertree

import (
	"path/filepath"
	"testing"
)

func testVolumeConfig() EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.PageSize = 4096
	cfg.MaxCachePages = 64
	return cfg
}

func TestVolume_CreateOpenCloseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.ltdb")
	cfg := testVolumeConfig()

	vol, err := createVolume("orders", path, cfg)
	if err != nil {
		t.Fatalf("createVolume: %v", err)
	}
	if vol.Name() != "orders" {
		t.Fatalf("Name() = %q, want orders", vol.Name())
	}
	if vol.PageSize() != cfg.PageSize {
		t.Fatalf("PageSize() = %d, want %d", vol.PageSize(), cfg.PageSize)
	}
	if vol.ID() == 0 {
		t.Fatal("ID() is zero for a freshly created volume")
	}
	if err := vol.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := openVolume("orders", path, cfg)
	if err != nil {
		t.Fatalf("openVolume: %v", err)
	}
	defer reopened.Close()
	if reopened.ID() != vol.ID() {
		t.Fatalf("reopened ID() = %d, want %d", reopened.ID(), vol.ID())
	}
}

func TestVolume_CreateOpenDropTree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.ltdb")
	vol, err := createVolume("orders", path, testVolumeConfig())
	if err != nil {
		t.Fatalf("createVolume: %v", err)
	}
	defer vol.Close()

	if _, err := vol.CreateTree("accounts"); err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	if _, err := vol.CreateTree("accounts"); err == nil {
		t.Fatal("expected error creating a tree name that already exists")
	}

	names, err := vol.ListTrees()
	if err != nil {
		t.Fatalf("ListTrees: %v", err)
	}
	if len(names) != 1 || names[0] != "accounts" {
		t.Fatalf("ListTrees() = %v, want [accounts]", names)
	}

	if _, err := vol.OpenTree("accounts"); err != nil {
		t.Fatalf("OpenTree: %v", err)
	}
	if _, err := vol.OpenTree("missing"); err == nil {
		t.Fatal("expected error opening a nonexistent tree")
	}

	if err := vol.DropTree("accounts"); err != nil {
		t.Fatalf("DropTree: %v", err)
	}
	names, err = vol.ListTrees()
	if err != nil {
		t.Fatalf("ListTrees after drop: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("ListTrees() after drop = %v, want empty", names)
	}
}

func TestVolume_GCAndCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.ltdb")
	vol, err := createVolume("orders", path, testVolumeConfig())
	if err != nil {
		t.Fatalf("createVolume: %v", err)
	}
	defer vol.Close()

	if _, err := vol.CreateTree("t1"); err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	if err := vol.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	result, err := vol.GC()
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if result == nil {
		t.Fatal("GC returned nil result with no error")
	}
}

func TestVolume_ScheduledCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.ltdb")
	cfg := testVolumeConfig()
	cfg.CheckpointSchedule = "*/1 * * * * *" // every second

	vol, err := createVolume("orders", path, cfg)
	if err != nil {
		t.Fatalf("createVolume: %v", err)
	}
	defer vol.Close()

	if vol.ckpt == nil {
		t.Fatal("expected a background checkpointer when CheckpointSchedule is set")
	}
}

func TestVolume_NoScheduleMeansManualOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.ltdb")
	vol, err := createVolume("orders", path, testVolumeConfig())
	if err != nil {
		t.Fatalf("createVolume: %v", err)
	}
	defer vol.Close()

	if vol.ckpt != nil {
		t.Fatal("expected no background checkpointer when CheckpointSchedule is empty")
	}
}

func TestResolvePath(t *testing.T) {
	cfg := testVolumeConfig()
	cfg.VolumeDir = "/data/volumes"

	if got := resolvePath(cfg, "orders"); got != filepath.Join("/data/volumes", "orders") {
		t.Fatalf("resolvePath(bare name) = %q", got)
	}
	if got := resolvePath(cfg, "sub/orders.ltdb"); got != "sub/orders.ltdb" {
		t.Fatalf("resolvePath(path with directory component) = %q, want unchanged", got)
	}
	if got := resolvePath(cfg, "/abs/orders.ltdb"); got != "/abs/orders.ltdb" {
		t.Fatalf("resolvePath(absolute path) = %q, want unchanged", got)
	}
}
