// Package arbiter serializes access to the single tape drive. It persists
// the drive state across restarts and quarantines the hardware on any
// failure that would otherwise leave a cartridge in an unknown position.
package arbiter
