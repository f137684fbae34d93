// Package logging configures slog handlers and shared attribute helpers for
// the daemon and CLI.
package logging
