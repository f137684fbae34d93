package config

const (
	defaultDataDir        = "/var/lib/tarchive"
	defaultLogDir         = "/var/log/tarchive"
	defaultScratchDir     = "/var/lib/tarchive/scratch"
	defaultSocketPath     = "/run/tarchive/tarchived.sock"
	defaultMountPoint     = "/ltfs"
	defaultChangerDevice  = "/dev/sch0"
	defaultDriveSlot      = 0
	defaultCapacityBytes  = int64(18_000_000_000_000) // LTO-9 native
	defaultThresholdFiles = int64(500_000)
	defaultPollInterval   = 5
	defaultErrorRetry     = 10
	defaultAuxWorkers     = 2
	defaultNotifyTimeout  = 10
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			ScratchDir: defaultScratchDir,
			SocketPath: defaultSocketPath,
			MountPoint: defaultMountPoint,
		},
		Library: Library{
			ChangerDevice: defaultChangerDevice,
			DriveSlot:     defaultDriveSlot,
		},
		Tape: Tape{
			CapacityBytes: defaultCapacityBytes,
		},
		Prepare: Prepare{
			ThresholdFiles: defaultThresholdFiles,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetry,
			AuxWorkers:         defaultAuxWorkers,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Verification:   true,
			Quarantine:     true,
			Inventory:      true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
