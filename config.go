package ledgertree

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DurabilityPolicy selects how a transaction's commit record reaches
// stable storage before Commit returns (§4.4/§4.5).
type DurabilityPolicy string

const (
	// DurabilitySoft returns as soon as the commit record is appended to
	// the WAL file, without an fsync. No background syncer runs: the record
	// reaches disk at the next WAL fsync (a hard or group commit, a
	// checkpoint, or Close).
	DurabilitySoft DurabilityPolicy = "soft"
	// DurabilityHard fsyncs the journal before Commit returns.
	DurabilityHard DurabilityPolicy = "hard"
	// DurabilityGroup batches commit records arriving within
	// GroupCommitWindow into a single fsync shared by all waiters.
	DurabilityGroup DurabilityPolicy = "group"
)

// EngineConfig holds every recognized configuration option (§6
// "Configuration (recognized options)") plus the ambient additions a real
// deployment needs (page size, volume directory, logging).
type EngineConfig struct {
	// BufferPoolBytesPerSize is the buffer pool allotment in bytes for
	// the configured page size.
	BufferPoolBytesPerSize int64 `yaml:"buffer_pool_bytes_per_size"`

	// JournalFileSize is parsed and stored, but the WAL is a single file
	// that does not read this value and never starts a second file.
	JournalFileSize int64 `yaml:"journal_file_size"`

	// DefaultCommitPolicy is the durability policy used when a
	// transaction does not request one explicitly.
	DefaultCommitPolicy DurabilityPolicy `yaml:"default_commit_policy"`

	// GroupCommitWindowMS is the batching window, in milliseconds, for
	// the `group` durability policy.
	GroupCommitWindowMS int `yaml:"group_commit_window_ms"`

	// ConstructorOverride is accepted and parsed for compatibility with
	// the option list in §6 but is consumed only by an external
	// serializer/codec collaborator; the engine itself never reads it.
	ConstructorOverride string `yaml:"constructor_override"`

	// PageSize is the fixed page size for every volume opened by this
	// engine. Must be a power of two.
	PageSize int `yaml:"page_size"`

	// VolumeDir is the directory new volumes are created in when a
	// caller supplies only a volume name rather than a full path.
	VolumeDir string `yaml:"volume_dir"`

	// MaxCachePages bounds the buffer pool's resident page count.
	MaxCachePages int `yaml:"max_cache_pages"`

	// CheckpointSchedule is a 6-field cron expression (seconds included)
	// for background checkpoints of every open volume. Empty disables
	// the background scheduler; a volume can still be checkpointed
	// on demand via Volume.Checkpoint.
	CheckpointSchedule string `yaml:"checkpoint_schedule"`

	// LogVerbose enables diagnostics on Logger: a line when a volume's
	// checkpoint schedule starts and one when OpenVolume finishes recovery.
	LogVerbose bool `yaml:"log_verbose"`

	// Logger receives diagnostics when LogVerbose is set. Defaults to
	// log.Default() if nil.
	Logger *log.Logger `yaml:"-"`
}

// DefaultEngineConfig returns an EngineConfig with reasonable defaults for
// every field §6 names as a recognized option.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BufferPoolBytesPerSize: 64 << 20,
		JournalFileSize:        64 << 20,
		DefaultCommitPolicy:    DurabilityHard,
		GroupCommitWindowMS:    5,
		PageSize:               8192,
		MaxCachePages:          1024,
		Logger:                 log.Default(),
	}
}

// groupCommitWindow returns the configured group-commit batching window as
// a time.Duration.
func (c EngineConfig) groupCommitWindow() time.Duration {
	ms := c.GroupCommitWindowMS
	if ms <= 0 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

func (c EngineConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// LoadEngineConfig reads a YAML file at path and unmarshals it over
// DefaultEngineConfig, so a file that overrides only some fields keeps
// sane defaults for the rest.
func LoadEngineConfig(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("load engine config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode engine config %s: %w", path, err)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return cfg, nil
}
