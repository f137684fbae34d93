package daemon

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"tarchive/internal/logging"
	"tarchive/internal/queue"
)

// TapeSummary pairs a cartridge with the folders archived on it.
type TapeSummary struct {
	Tape    *queue.Tape
	Folders []*queue.ArchivedFolder
}

// Summary is the read-only per-tape usage report. It is derived entirely
// from the store and never touches hardware.
type Summary struct {
	Stats queue.Stats
	Tapes []TapeSummary
}

// DeleteableFolder is a deleteable archive annotated with whether the source
// folder still occupies disk space.
type DeleteableFolder struct {
	Folder        *queue.ArchivedFolder
	SourcePresent bool
}

// Summary builds the per-tape usage report.
func (d *Daemon) Summary(ctx context.Context) (*Summary, error) {
	stats, err := d.store.TaskStats(ctx)
	if err != nil {
		return nil, err
	}
	tapes, err := d.store.ListTapes(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Stats: stats, Tapes: make([]TapeSummary, 0, len(tapes))}
	for _, tape := range tapes {
		folders, err := d.store.ListArchivedFolders(ctx, tape.TapeID)
		if err != nil {
			return nil, err
		}
		summary.Tapes = append(summary.Tapes, TapeSummary{Tape: tape, Folders: folders})
	}
	return summary, nil
}

// DeleteableReport promotes verified folders whose size is covered by the
// tape's recorded usage, then lists every deleteable folder. The report is
// the operator's signal that source data may be removed by hand; the system
// never deletes anything itself.
func (d *Daemon) DeleteableReport(ctx context.Context) ([]DeleteableFolder, error) {
	if err := d.promoteVerified(ctx); err != nil {
		return nil, err
	}

	folders, err := d.store.ListFoldersByVerification(ctx, queue.VerificationDeleteable)
	if err != nil {
		return nil, err
	}

	report := make([]DeleteableFolder, 0, len(folders))
	for _, folder := range folders {
		present := true
		if _, err := os.Stat(folder.Path); errors.Is(err, fs.ErrNotExist) {
			present = false
		}
		report = append(report, DeleteableFolder{Folder: folder, SourcePresent: present})
	}
	return report, nil
}

// promoteVerified cross-checks each verified folder against the tape's
// recorded usage before promoting it to deleteable.
func (d *Daemon) promoteVerified(ctx context.Context) error {
	verified, err := d.store.ListFoldersByVerification(ctx, queue.VerificationVerified)
	if err != nil {
		return err
	}
	for _, folder := range verified {
		tape, err := d.store.GetTape(ctx, folder.TapeID)
		if err != nil {
			return err
		}
		if tape == nil || tape.UsedBytes < folder.ByteSize {
			d.logger.Warn("verified folder not covered by tape usage, promotion skipped",
				logging.String("path", folder.Path),
				logging.String(logging.FieldTapeID, folder.TapeID))
			continue
		}
		promoted, err := d.store.PromoteDeleteable(ctx, folder.ID)
		if err != nil {
			return err
		}
		if promoted {
			d.logger.Info("archived folder promoted to deleteable",
				logging.String("path", folder.Path),
				logging.String(logging.FieldTapeID, folder.TapeID))
		}
	}
	return nil
}
