// Package workflow runs the task queue: a single serial lane for everything
// that needs the tape drive and a bounded worker pool for preparation and
// inventory work that does not.
package workflow
