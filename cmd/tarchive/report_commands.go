package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tarchive/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and drive status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				running := "stopped"
				if status.Running {
					running = fmt.Sprintf("running (pid %d)", status.PID)
				}
				fmt.Fprintf(out, "daemon:   %s\n", running)
				drive := status.DriveState
				if status.DriveTapeID != "" {
					drive = fmt.Sprintf("%s (%s)", drive, status.DriveTapeID)
				}
				fmt.Fprintf(out, "drive:    %s\n", drive)
				if status.DriveReason != "" {
					fmt.Fprintf(out, "reason:   %s\n", status.DriveReason)
				}
				fmt.Fprintf(out, "queue:    %d queued, %d running, %d completed, %d failed\n",
					status.Queued, status.RunningTasks, status.Completed, status.Failed)
				fmt.Fprintf(out, "database: %s\n", status.QueueDBPath)
				fmt.Fprintf(out, "socket:   %s\n", status.SocketPath)
				for _, dep := range status.Dependencies {
					if !dep.Available {
						fmt.Fprintf(out, "missing:  %s (%s)\n", dep.Name, dep.Detail)
					}
				}
				return nil
			})
		},
	}
}

func newSummaryCommand(ctx *commandContext) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show per-tape usage and archived folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				summary, err := client.Summary()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(summary.Tapes) == 0 {
					fmt.Fprintln(out, "no tapes recorded")
					return nil
				}

				rows := make([][]string, 0, len(summary.Tapes))
				for _, entry := range summary.Tapes {
					tape := entry.Tape
					free := tape.CapacityBytes - tape.UsedBytes
					if free < 0 {
						free = 0
					}
					rows = append(rows, []string{
						tape.TapeID,
						tapeLocationCell(tape),
						humanize.IBytes(uint64(tape.UsedBytes)),
						humanize.IBytes(uint64(free)),
						strconv.Itoa(len(entry.Folders)),
					})
				}
				fmt.Fprintln(out, renderTable(out,
					[]string{"TAPE", "LOCATION", "USED", "FREE", "FOLDERS"}, rows, 2, 3, 4))

				if !verbose {
					return nil
				}
				for _, entry := range summary.Tapes {
					if len(entry.Folders) == 0 {
						continue
					}
					fmt.Fprintf(out, "\n%s:\n", entry.Tape.TapeID)
					for _, folder := range entry.Folders {
						fmt.Fprintf(out, "  %-10s %9s  %s\n",
							folder.VerificationState,
							humanize.IBytes(uint64(folder.ByteSize)),
							folder.Path)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List the folders on each tape")
	return cmd
}

func newDeleteableCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deleteable",
		Short: "List verified archives whose source folders may be removed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				report, err := client.DeleteableReport()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(report.Folders) == 0 {
					fmt.Fprintln(out, "nothing is deleteable yet")
					return nil
				}

				var reclaimable uint64
				rows := make([][]string, 0, len(report.Folders))
				for _, entry := range report.Folders {
					source := "already removed"
					if entry.SourcePresent {
						source = entry.Folder.Path
						reclaimable += uint64(entry.Folder.ByteSize)
					}
					rows = append(rows, []string{
						entry.Folder.TapeID,
						humanize.IBytes(uint64(entry.Folder.ByteSize)),
						source,
					})
				}
				fmt.Fprintln(out, renderTable(out, []string{"TAPE", "SIZE", "SOURCE"}, rows, 1))
				fmt.Fprintf(out, "%s reclaimable; deletion is always manual\n", humanize.IBytes(reclaimable))
				return nil
			})
		},
	}
}

func newTapesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tapes",
		Short: "List every cartridge known to the library",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Tapes()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Tapes) == 0 {
					fmt.Fprintln(out, "no tapes recorded")
					return nil
				}
				rows := make([][]string, 0, len(resp.Tapes))
				for _, tape := range resp.Tapes {
					rows = append(rows, []string{
						tape.TapeID,
						tapeLocationCell(tape),
						humanize.IBytes(uint64(tape.CapacityBytes)),
						humanize.IBytes(uint64(tape.UsedBytes)),
					})
				}
				fmt.Fprintln(out, renderTable(out,
					[]string{"TAPE", "LOCATION", "CAPACITY", "USED"}, rows, 2, 3))
				return nil
			})
		},
	}
}

func newQuarantineCommand(ctx *commandContext) *cobra.Command {
	quarantineCmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Inspect or clear a drive quarantine",
	}

	quarantineCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Re-verify the hardware and free a quarantined drive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QuarantineClear()
				if err != nil {
					return err
				}
				if !resp.Cleared {
					return fmt.Errorf("quarantine not cleared: %s", resp.Message)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "quarantine cleared, drive is free")
				return nil
			})
		},
	})

	return quarantineCmd
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the configured webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return nil
			})
		},
	}
}

func tapeLocationCell(tape ipc.TapeView) string {
	if tape.Location == "slot" {
		return fmt.Sprintf("slot %d", tape.Slot)
	}
	return tape.Location
}
