package testsupport

import (
	"path/filepath"
	"testing"

	"tarchive/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.ScratchDir = filepath.Join(base, "scratch")
	cfg.Paths.SocketPath = filepath.Join(base, "tarchived.sock")
	cfg.Paths.MountPoint = filepath.Join(base, "ltfs")
	cfg.Library.ChangerDevice = "/dev/null"
	cfg.Library.DriveSerial = "TESTDRIVE"
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithPrepareThreshold overrides the compression file-count threshold.
func WithPrepareThreshold(files int64) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Prepare.ThresholdFiles = files
	}
}

// WithSourceRoots sets the inventory scan roots.
func WithSourceRoots(roots ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Inventory.SourceRoots = roots
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
