package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/complianced/internal/gates"
)

var cleanupForce bool

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupForce, "force", false, "Delete without asking for confirmation")
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete generated spec workspaces from the holding directory",
	Long: `Scan the holding directory for generated workspaces (three-digit
prefix) and delete them after confirmation. The protected workspace is
never touched. Deletion failures are reported per entry and do not abort
the remaining deletions; any failure exits with code 104.

Examples:
  # Interactive
  compliancectl cleanup

  # Unattended
  compliancectl cleanup --force`,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.logger.Sync()

	result, err := svc.gates.Cleanup(targetDir, confirmDeletion, cleanupForce)
	if outputJSON {
		if printErr := printJSON(result); printErr != nil {
			return printErr
		}
	} else {
		switch {
		case result.Aborted:
			fmt.Println("Cleanup aborted")
		case len(result.Candidates) == 0:
			fmt.Println("No temporary workspaces found")
		default:
			for _, name := range result.Removed {
				fmt.Printf("Deleted: %s\n", name)
			}
			for _, name := range result.Failed {
				fmt.Printf("Failed: %s\n", name)
			}
		}
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		svc.logger.Sync()
		os.Exit(gates.ExitCleanupFail)
	}
	return nil
}

// confirmDeletion lists the candidates and asks for a y/N answer on stdin.
func confirmDeletion(candidates []string) bool {
	fmt.Printf("Found %d candidate(s) for deletion:\n", len(candidates))
	for _, name := range candidates {
		fmt.Printf("  - %s\n", name)
	}
	fmt.Print("\nDelete these directories? [y/N] ")

	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.ToLower(strings.TrimSpace(answer)) == "y"
}
