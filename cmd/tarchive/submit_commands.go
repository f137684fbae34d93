package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tarchive/internal/ipc"
)

func newArchiveCommand(ctx *commandContext) *cobra.Command {
	var tapeID string
	var description string

	cmd := &cobra.Command{
		Use:   "archive <folder>",
		Short: "Archive a folder to a tape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(ipc.SubmitRequest{
					Kind:        "archive",
					TargetPath:  args[0],
					TapeID:      tapeID,
					Description: description,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "archive task %d queued for tape %s\n", resp.Task.ID, resp.Task.TapeID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&tapeID, "tape", "t", "", "Tape barcode to archive onto (required)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Free-form description stored with the archive")
	_ = cmd.MarkFlagRequired("tape")
	return cmd
}

func newRestoreCommand(ctx *commandContext) *cobra.Command {
	var destination string

	cmd := &cobra.Command{
		Use:   "restore <archived-folder>",
		Short: "Restore an archived folder from tape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(ipc.SubmitRequest{
					Kind:        "restore",
					TargetPath:  args[0],
					RestorePath: destination,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restore task %d queued from tape %s\n", resp.Task.ID, resp.Task.TapeID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&destination, "to", "o", "", "Destination directory (required)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newPrepareCommand(ctx *commandContext) *cobra.Command {
	var compress bool

	cmd := &cobra.Command{
		Use:   "prepare <folder>",
		Short: "Measure a folder and compress it when it has too many files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(ipc.SubmitRequest{
					Kind:       "prepare",
					TargetPath: args[0],
					Compress:   compress,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "prepare task %d queued\n", resp.Task.ID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&compress, "compress", false, "Compress regardless of file count")
	return cmd
}

func newExploreCommand(ctx *commandContext) *cobra.Command {
	exploreCmd := &cobra.Command{
		Use:   "explore",
		Short: "Mount a tape for browsing, or release it",
	}

	var tapeID string
	mountCmd := &cobra.Command{
		Use:   "mount",
		Short: "Load and mount a tape, holding the drive until unmount",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(ipc.SubmitRequest{Kind: "explore-mount", TapeID: tapeID})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "explore-mount task %d queued for tape %s\n", resp.Task.ID, resp.Task.TapeID)
				return nil
			})
		},
	}
	mountCmd.Flags().StringVarP(&tapeID, "tape", "t", "", "Tape barcode to mount (required)")
	_ = mountCmd.MarkFlagRequired("tape")

	unmountCmd := &cobra.Command{
		Use:   "unmount",
		Short: "Unmount the held tape and free the drive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(ipc.SubmitRequest{Kind: "explore-unmount"})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "explore-unmount task %d queued\n", resp.Task.ID)
				return nil
			})
		},
	}

	exploreCmd.AddCommand(mountCmd)
	exploreCmd.AddCommand(unmountCmd)
	return exploreCmd
}

func newInventoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "inventory",
		Short: "Scan the source roots and report folders not yet on tape",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(ipc.SubmitRequest{Kind: "inventory-scan"})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "inventory-scan task %d queued; see `tarchive queue show %d` for the report\n", resp.Task.ID, resp.Task.ID)
				return nil
			})
		},
	}
}
