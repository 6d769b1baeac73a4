package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	entForce  bool
	entTopN   int
	entDryRun bool
)

func init() {
	rootCmd.AddCommand(entropyCmd)
	entropyCmd.AddCommand(entropyMeasureCmd)
	entropyCmd.AddCommand(entropyHotspotsCmd)
	entropyCmd.AddCommand(entropyOptimizeCmd)

	entropyMeasureCmd.Flags().BoolVar(&entForce, "force", false, "Recompute even when the cache is valid")
	entropyHotspotsCmd.Flags().IntVar(&entTopN, "top", 10, "Number of hotspots to show")
	entropyOptimizeCmd.Flags().BoolVar(&entDryRun, "dry-run", true, "Plan only, never mutate the tree")
}

var entropyCmd = &cobra.Command{
	Use:   "entropy",
	Short: "Entropy metrics, hotspots and optimization planning",
}

var entropyMeasureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Compute the entropy metrics for the target",
	Long: `Compute c_dir, c_sig, c_test, the compliance score and h_sys.
Results are cached against a fingerprint of the target's source files.

Examples:
  compliancectl entropy measure
  compliancectl entropy measure --force --json`,
	RunE: runEntropyMeasure,
}

var entropyHotspotsCmd = &cobra.Command{
	Use:   "hotspots",
	Short: "List heuristic entropy hotspots",
	RunE:  runEntropyHotspots,
}

var entropyOptimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Plan optimization actions for the detected hotspots",
	RunE:  runEntropyOptimize,
}

func runEntropyMeasure(cmd *cobra.Command, args []string) error {
	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.logger.Sync()

	m, err := svc.entropy.Calculate(context.Background(), targetDir, entForce)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(m)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "c_dir:\t%.4f\n", m.CDir)
	fmt.Fprintf(w, "c_sig:\t%.4f\n", m.CSig)
	fmt.Fprintf(w, "c_test:\t%.4f\n", m.CTest)
	fmt.Fprintf(w, "score:\t%.4f\n", m.ComplianceScore)
	fmt.Fprintf(w, "h_sys:\t%.4f\n", m.HSys)
	fmt.Fprintf(w, "status:\t%s\n", m.Status)
	return w.Flush()
}

func runEntropyHotspots(cmd *cobra.Command, args []string) error {
	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.logger.Sync()

	hotspots := svc.entropy.AnalyzeHotspots(targetDir, entTopN)
	if outputJSON {
		return printJSON(hotspots)
	}
	if len(hotspots) == 0 {
		fmt.Println("No hotspots found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, h := range hotspots {
		fmt.Fprintf(w, "%.1f\t%s\t%s\n", h.Score, h.Path, h.Reason)
	}
	return w.Flush()
}

func runEntropyOptimize(cmd *cobra.Command, args []string) error {
	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.logger.Sync()

	plan := svc.entropy.GenerateOptimizationPlan(targetDir, entDryRun)
	if outputJSON {
		return printJSON(plan)
	}
	if len(plan.Actions) == 0 {
		fmt.Println("Nothing to optimize")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, a := range plan.Actions {
		fmt.Fprintf(w, "%s\t%s\n", a.Kind, a.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if plan.DryRun {
		fmt.Println("(dry run: no changes made)")
	}
	return nil
}
