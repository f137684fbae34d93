// Package queue persists tasks, tapes, archived folders, and the drive state
// in SQLite. All state transitions are guarded updates so concurrent workers
// and an unclean daemon restart cannot double-run or lose work.
package queue
