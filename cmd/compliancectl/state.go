package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	trTo     string
	trFrom   string
	trForce  bool
	trReason string
)

func init() {
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(transitionCmd)
	rootCmd.AddCommand(validateCmd)

	for _, cmd := range []*cobra.Command{transitionCmd, validateCmd} {
		cmd.Flags().StringVar(&trTo, "to", "", "Target state (A-E, required)")
		cmd.Flags().StringVar(&trFrom, "from", "", "Current state override (defaults to the persisted state)")
		cmd.Flags().BoolVar(&trForce, "force", false, "Bypass the transition table and policy checks")
		_ = cmd.MarkFlagRequired("to")
	}
	transitionCmd.Flags().StringVar(&trReason, "reason", "manual", "Reason recorded in the transition history")
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the current workflow state",
	Long: `Show the current workflow state of the target directory.

Examples:
  # Current state of the working directory
  compliancectl state

  # Another project, as JSON
  compliancectl state --target ../svc --json`,
	RunE: runState,
}

var transitionCmd = &cobra.Command{
	Use:   "transition",
	Short: "Request a workflow state transition",
	Long: `Request a transition to a new workflow state. The transition table
and the per-pair policy checks must allow it unless --force is given;
--force still requires a valid A-E state code.

Examples:
  # Move from Intake to Plan
  compliancectl transition --to B

  # Retry execution after a failed verification
  compliancectl transition --to C --reason "verification failed"

  # Force past the checks (recorded as forced)
  compliancectl transition --to E --force --reason "emergency close"`,
	RunE: runTransition,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a hypothetical transition without committing it",
	Long: `Run the transition-table and policy checks for a transition without
mutating any state.

Examples:
  # Would B -> C be allowed right now?
  compliancectl validate --to C --from B`,
	RunE: runValidate,
}

func runState(cmd *cobra.Command, args []string) error {
	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.logger.Sync()

	report, err := svc.controller.GetCurrentState(targetDir)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(report)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "State:\t%s\n", report.CurrentState)
	fmt.Fprintf(w, "Description:\t%s\n", report.Description)
	if report.PreviousState != "" {
		fmt.Fprintf(w, "Previous:\t%s\n", report.PreviousState)
	}
	if report.LastTransition != "" {
		fmt.Fprintf(w, "Last transition:\t%s\n", report.LastTransition)
	}
	fmt.Fprintf(w, "Valid next:\t%v\n", report.ValidNext)
	return w.Flush()
}

func runTransition(cmd *cobra.Command, args []string) error {
	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.logger.Sync()

	result, err := svc.controller.RequestTransition(context.Background(), targetDir, trTo, trFrom, trForce, trReason)
	if err != nil {
		return err
	}
	if outputJSON {
		if err := printJSON(result); err != nil {
			return err
		}
	} else if result.Success {
		fmt.Printf("Transition committed: %s -> %s\n", result.FromState, result.ToState)
		fmt.Printf("Now in %s\n", result.Description)
	} else {
		fmt.Printf("Transition rejected: %s\n", result.Message)
	}

	if !result.Success {
		svc.logger.Sync()
		os.Exit(1)
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.logger.Sync()

	result, err := svc.controller.ValidateTransition(context.Background(), targetDir, trTo, trFrom, trForce)
	if err != nil {
		return err
	}
	if outputJSON {
		if err := printJSON(result); err != nil {
			return err
		}
	} else if result.Success {
		fmt.Printf("Transition %s -> %s would be allowed\n", result.FromState, result.ToState)
	} else {
		fmt.Printf("Transition %s -> %s would be rejected: %s\n", result.FromState, result.ToState, result.Message)
	}

	if !result.Success {
		svc.logger.Sync()
		os.Exit(1)
	}
	return nil
}
