// Package logs reads the daemon log file incrementally so the CLI can tail
// it through the IPC socket without opening the file itself, which matters
// because the log directory is root-owned.
package logs
