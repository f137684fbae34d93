// Package daemon owns the process lifecycle: the single-instance lock, the
// startup sweep that fails tasks interrupted by an unclean shutdown, drive
// state reconciliation against live hardware, and the operation surface the
// IPC layer exposes to the CLI.
package daemon
