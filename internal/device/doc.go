// Package device drives the physical tape hardware: the media changer via
// mtx and the LTFS filesystem mount on the drive. All entry points accept a
// context and surface SCSI sense codes when the hardware refuses a move.
package device
