// Package manifest builds and compares per-file SHA-256 inventories of
// folders. Verification of an archive is a manifest comparison between the
// source folder and its copy on tape.
package manifest
