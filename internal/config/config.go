package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// DefaultPath is where the daemon looks for its configuration when no
// explicit path is supplied.
const DefaultPath = "/etc/tarchive/config.toml"

// Paths contains directory and socket configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	ScratchDir string `toml:"scratch_dir"`
	SocketPath string `toml:"socket_path"`
	MountPoint string `toml:"mount_point"`
}

// Library contains the tape changer and drive addressing.
type Library struct {
	ChangerDevice string `toml:"changer_device"`
	DriveSerial   string `toml:"drive_serial"`
	DriveSlot     int    `toml:"drive_slot"`
}

// Tape contains cartridge bookkeeping defaults.
type Tape struct {
	CapacityBytes int64 `toml:"capacity_bytes"`
}

// Prepare contains folder preparation settings.
type Prepare struct {
	// ThresholdFiles is the file count above which a folder is compressed
	// before archiving. LTFS metadata handling degrades sharply past this.
	ThresholdFiles int64 `toml:"threshold_files"`
}

// Archive contains transfer settings.
type Archive struct {
	ExcludeFolders []string `toml:"exclude_folders"`
}

// Inventory contains inventory-scan settings.
type Inventory struct {
	SourceRoots []string `toml:"source_roots"`
}

// Workflow contains daemon timing and worker-pool sizing.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	AuxWorkers         int `toml:"aux_workers"`
}

// Notifications contains webhook event delivery settings.
type Notifications struct {
	WebhookURL     string `toml:"webhook_url"`
	RequestTimeout int    `toml:"request_timeout"`
	Verification   bool   `toml:"verification"`
	Quarantine     bool   `toml:"quarantine"`
	Inventory      bool   `toml:"inventory"`
	Errors         bool   `toml:"errors"`
}

// Logging contains log output configuration.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the root configuration document.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Library       Library       `toml:"library"`
	Tape          Tape          `toml:"tape"`
	Prepare       Prepare       `toml:"prepare"`
	Archive       Archive       `toml:"archive"`
	Inventory     Inventory     `toml:"inventory"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// Load reads configuration from path (or DefaultPath when empty), applies
// defaults, normalizes paths, and validates the result. The second return
// value is the path actually read; it is empty when no file existed and
// defaults were used.
func Load(path string) (*Config, string, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = DefaultPath
	}

	cfg := Default()

	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, resolved, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		if strings.TrimSpace(path) != "" {
			return nil, resolved, fmt.Errorf("config file %s not found", resolved)
		}
		resolved = ""
	default:
		return nil, resolved, fmt.Errorf("read config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, resolved, err
	}
	return &cfg, resolved, nil
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.ScratchDir}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	if dir := filepath.Dir(c.Paths.SocketPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create socket directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the queue database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "tarchive.db")
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "tarchived.log")
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o640)
}
