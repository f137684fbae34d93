package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tarchive/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the daemon configuration file",
	}

	var initPath string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented sample configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := initPath
			if path == "" {
				path = config.DefaultPath
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, refusing to overwrite", path)
			}
			if err := config.WriteSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sample configuration written to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&initPath, "path", "", "Destination path (default "+config.DefaultPath+")")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "data dir:      %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "scratch dir:   %s\n", cfg.Paths.ScratchDir)
			fmt.Fprintf(out, "mount point:   %s\n", cfg.Paths.MountPoint)
			fmt.Fprintf(out, "socket:        %s\n", cfg.Paths.SocketPath)
			fmt.Fprintf(out, "changer:       %s\n", cfg.Library.ChangerDevice)
			fmt.Fprintf(out, "drive serial:  %s\n", cfg.Library.DriveSerial)
			fmt.Fprintf(out, "tape capacity: %d bytes\n", cfg.Tape.CapacityBytes)
			return nil
		},
	}

	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	return configCmd
}
