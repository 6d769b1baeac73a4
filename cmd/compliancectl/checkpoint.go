package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cpNote string

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.Flags().StringVar(&cpNote, "note", "", "Note stored with the checkpoint")
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Snapshot the current workflow state",
	Long: `Snapshot the current workflow state into an immutable checkpoint
file. Checkpoints are never overwritten; an id collision gets a numeric
suffix.

Examples:
  # Checkpoint before a risky change
  compliancectl checkpoint --note "before refactor"`,
	RunE: runCheckpoint,
}

func runCheckpoint(cmd *cobra.Command, args []string) error {
	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.logger.Sync()

	cp, err := svc.controller.CreateCheckpoint(targetDir, cpNote)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cp)
	}
	fmt.Printf("Checkpoint %s created (state %s)\n", cp.CheckpointID, cp.State)
	fmt.Printf("File: %s\n", cp.File)
	return nil
}
