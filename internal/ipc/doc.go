// Package ipc exposes the daemon over JSON-RPC on a Unix domain socket and
// ships the matching client used by the CLI.
//
// The socket is privilege-restricted: every accepted connection is checked
// via SO_PEERCRED and only root (or the daemon's own uid, for tests) may
// invoke operations. Long-running tape work never blocks the socket; RPC
// handlers only touch the store and the daemon's control surface.
package ipc
