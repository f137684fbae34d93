package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() {
	c.Paths.DataDir = cleanPath(c.Paths.DataDir)
	c.Paths.LogDir = cleanPath(c.Paths.LogDir)
	c.Paths.ScratchDir = cleanPath(c.Paths.ScratchDir)
	c.Paths.SocketPath = cleanPath(c.Paths.SocketPath)
	c.Paths.MountPoint = cleanPath(c.Paths.MountPoint)
	c.Library.ChangerDevice = strings.TrimSpace(c.Library.ChangerDevice)
	c.Library.DriveSerial = strings.TrimSpace(c.Library.DriveSerial)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	roots := c.Inventory.SourceRoots[:0]
	for _, root := range c.Inventory.SourceRoots {
		if cleaned := cleanPath(root); cleaned != "" {
			roots = append(roots, cleaned)
		}
	}
	c.Inventory.SourceRoots = roots
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.Paths.DataDir == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if c.Paths.SocketPath == "" {
		problems = append(problems, "paths.socket_path must not be empty")
	}
	if c.Paths.MountPoint == "" {
		problems = append(problems, "paths.mount_point must not be empty")
	}
	if c.Library.ChangerDevice == "" {
		problems = append(problems, "library.changer_device must not be empty")
	}
	if c.Library.DriveSlot < 0 {
		problems = append(problems, "library.drive_slot must not be negative")
	}
	if c.Tape.CapacityBytes <= 0 {
		problems = append(problems, "tape.capacity_bytes must be positive")
	}
	if c.Prepare.ThresholdFiles <= 0 {
		problems = append(problems, "prepare.threshold_files must be positive")
	}
	if c.Workflow.QueuePollInterval <= 0 {
		problems = append(problems, "workflow.queue_poll_interval must be positive")
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		problems = append(problems, "workflow.error_retry_interval must be positive")
	}
	if c.Workflow.AuxWorkers < 1 || c.Workflow.AuxWorkers > 16 {
		problems = append(problems, "workflow.aux_workers must be between 1 and 16")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

func cleanPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	return filepath.Clean(trimmed)
}
