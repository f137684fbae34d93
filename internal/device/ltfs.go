package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"tarchive/internal/config"
)

const (
	unmountAttempts = 5
	unmountDelay    = 10 * time.Second
)

// Mounter mounts and unmounts the LTFS filesystem on the archive drive.
type Mounter struct {
	driveSerial string
	mountPoint  string
}

// NewMounter builds a mounter for the configured drive and mount point.
func NewMounter(cfg *config.Config) *Mounter {
	return &Mounter{
		driveSerial: cfg.Library.DriveSerial,
		mountPoint:  cfg.Paths.MountPoint,
	}
}

// MountPoint returns where the tape filesystem appears when mounted.
func (m *Mounter) MountPoint() string {
	return m.mountPoint
}

// Mount mounts the cartridge currently in the drive. LTFS replays the tape
// index on mount, which can take minutes on a full cartridge.
func (m *Mounter) Mount(ctx context.Context) error {
	mounted, err := m.Mounted()
	if err != nil {
		return err
	}
	if mounted {
		return nil
	}
	if err := os.MkdirAll(m.mountPoint, 0o755); err != nil {
		return fmt.Errorf("create mount point: %w", err)
	}

	devname := fmt.Sprintf("devname=%s", m.driveSerial)
	output, err := exec.CommandContext(ctx, "ltfs", "-o", devname, m.mountPoint).CombinedOutput()
	if err != nil {
		return &SenseError{
			Op:     "ltfs mount",
			Code:   parseSense(string(output)),
			Output: string(output),
			Err:    err,
		}
	}
	return nil
}

// Unmount unmounts the tape filesystem. LTFS flushes its index on unmount
// and can stay busy well after the last write, so failures are retried with
// a delay before giving up.
func (m *Mounter) Unmount(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= unmountAttempts; attempt++ {
		mounted, err := m.Mounted()
		if err != nil {
			return err
		}
		if !mounted {
			return nil
		}

		output, err := exec.CommandContext(ctx, "umount", m.mountPoint).CombinedOutput()
		if err == nil {
			return nil
		}
		lastErr = &SenseError{
			Op:     "umount",
			Code:   parseSense(string(output)),
			Output: string(output),
			Err:    err,
		}

		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), lastErr)
		case <-time.After(unmountDelay):
		}
	}
	return fmt.Errorf("unmount %s after %d attempts: %w", m.mountPoint, unmountAttempts, lastErr)
}

// Mounted reports whether the mount point currently has a filesystem on it.
func (m *Mounter) Mounted() (bool, error) {
	file, err := os.Open("/proc/mounts")
	if err != nil {
		return false, fmt.Errorf("open /proc/mounts: %w", err)
	}
	defer file.Close()
	return mountedIn(file, m.mountPoint)
}

func mountedIn(r io.Reader, mountPoint string) (bool, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[1] == mountPoint {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("scan mounts: %w", err)
	}
	return false, nil
}

// FreeBytes returns the free space of the filesystem holding path.
func FreeBytes(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
