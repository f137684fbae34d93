// Package tasks implements the handlers behind each task kind: preparing
// folders, archiving to and restoring from tape, exploring cartridges, and
// scanning source roots for archive candidates. Handlers never touch the
// drive directly; all hardware sequencing goes through the arbiter.
package tasks
