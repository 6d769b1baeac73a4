package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/complianced/internal/gates"
	"github.com/fyrsmithlabs/complianced/internal/watch"
)

var (
	auditFix   bool
	auditWatch bool
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().BoolVar(&auditFix, "fix", false, "Rewrite mismatching version tokens before auditing")
	auditCmd.Flags().BoolVar(&auditWatch, "watch", false, "Re-run the audit whenever the target changes")
}

var auditCmd = &cobra.Command{
	Use:   "audit [gate|all]",
	Short: "Run the compliance gates",
	Long: `Run one gate (1-5) or all gates against the target directory.

The process exit code reports the first failing gate: 101 for Gate 1,
102 for Gate 2, 103 for Gate 3, 105 for Gate 4, 106 for Gate 5.

Examples:
  # Full pipeline
  compliancectl audit all

  # Only version consistency, fixing drift first
  compliancectl audit 1 --fix

  # Continuous re-audit while editing
  compliancectl audit all --watch`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAudit,
}

func runAudit(cmd *cobra.Command, args []string) error {
	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.logger.Sync()

	selector := "all"
	if len(args) > 0 {
		selector = args[0]
	}

	if auditFix {
		fix, err := svc.gates.FixVersions(targetDir)
		if err != nil {
			return fmt.Errorf("version fix failed: %w", err)
		}
		if len(fix.Updated) > 0 && !outputJSON {
			fmt.Printf("Fixed %d file(s) to version %s (backup: %s)\n",
				len(fix.Updated), fix.TargetVersion, fix.BackupDir)
		}
	}

	if auditWatch {
		return runAuditWatch(svc, selector)
	}

	results, err := runSelectedGates(svc, selector)
	if err != nil {
		return err
	}
	if err := reportResults(results); err != nil {
		return err
	}
	if code := gates.FirstFailureExitCode(results); code != gates.ExitSuccess {
		// os.Exit skips the deferred Sync.
		svc.logger.Sync()
		os.Exit(code)
	}
	return nil
}

func runSelectedGates(svc *services, selector string) ([]gates.GateResult, error) {
	ctx := context.Background()
	if selector == "all" {
		return svc.gates.RunAll(ctx, targetDir), nil
	}
	id, err := strconv.Atoi(selector)
	if err != nil {
		return nil, fmt.Errorf("gate must be a number 1-5 or %q, got %q", "all", selector)
	}
	result, err := svc.gates.Run(ctx, targetDir, id)
	if err != nil {
		return nil, err
	}
	return []gates.GateResult{result}, nil
}

func runAuditWatch(svc *services, selector string) error {
	if selector != "all" {
		return fmt.Errorf("--watch only supports auditing all gates")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watch.New(svc.cfg, svc.gates, svc.logger, func(results []gates.GateResult) {
		if err := reportResults(results); err != nil {
			svc.logger.Warn("failed to report results")
		}
	})
	if err := w.Run(ctx, targetDir); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func reportResults(results []gates.GateResult) error {
	if outputJSON {
		return printJSON(struct {
			Success bool               `json:"success"`
			Results []gates.GateResult `json:"results"`
		}{gates.AllPassed(results), results})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, r := range results {
		status := "PASS"
		switch {
		case r.Skipped:
			status = "SKIP"
		case !r.Passed:
			status = "FAIL"
		}
		line := fmt.Sprintf("%s\tGate %d\t%s", status, r.GateID, r.Name)
		if r.Message != "" {
			line += "\t" + r.Message
		}
		fmt.Fprintln(w, line)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if gates.AllPassed(results) {
		fmt.Println("COMPLIANT")
	} else {
		fmt.Println("NOT COMPLIANT")
	}
	return nil
}
