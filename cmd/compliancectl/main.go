// Package main implements the compliancectl CLI: workflow state
// management, transition validation, the audit pipeline, entropy metrics
// and the metrics cache, all against a target project directory.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/complianced/internal/config"
	"github.com/fyrsmithlabs/complianced/internal/depcache"
	"github.com/fyrsmithlabs/complianced/internal/entropy"
	"github.com/fyrsmithlabs/complianced/internal/gates"
	"github.com/fyrsmithlabs/complianced/internal/gateway"
	"github.com/fyrsmithlabs/complianced/internal/logging"
	"github.com/fyrsmithlabs/complianced/internal/policy"
	"github.com/fyrsmithlabs/complianced/internal/toolchain"
	"github.com/fyrsmithlabs/complianced/internal/workflow"
)

var (
	targetDir  string
	verbose    bool
	outputJSON bool

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "compliancectl",
	Short: "Compliance workflow and gate engine CLI",
	Long: `compliancectl manages the five-state compliance workflow (A Intake,
B Plan, C Execute, D Verify, E Close) for a target project directory and
runs the five-gate audit pipeline against it.

Gate failures map to distinct exit codes:
  101  Gate 1 (Version Consistency)
  102  Gate 2 (Behavior Verification)
  103  Gate 3 (Entropy Monitoring)
  104  cleanup failure
  105  Gate 4 (Semantic Audit)
  106  Gate 5 (Reference Integrity)`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&targetDir, "target", "t", ".", "Target project directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
}

// services is the explicitly wired object graph. Every command builds it
// from the target's configuration; nothing is process-global.
type services struct {
	cfg        *config.Config
	logger     *logging.Logger
	registry   *policy.Registry
	runner     toolchain.TestRunner
	auditor    toolchain.StyleAuditor
	cache      *depcache.Cache
	entropy    *entropy.Engine
	gates      *gates.Engine
	gateway    *gateway.Gateway
	controller *workflow.Controller
}

func newServices() (*services, error) {
	cfg, err := config.Load(targetDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	if verbose {
		logCfg.Level = zapcore.DebugLevel
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	cache, err := depcache.New(targetDir, cfg.Cache.DirName, cfg.Cache.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics cache: %w", err)
	}

	runner := toolchain.NewTestRunner(cfg.Toolchain.TestRunner, cfg.Toolchain.TestArgs, cfg.Toolchain.CollectArgs)
	auditor := toolchain.NewStyleAuditor(cfg.Toolchain.StyleAuditor)
	registry := policy.NewRegistry()

	entropyEngine := entropy.NewEngine(cfg, runner, cache, logger)
	gateEngine := gates.NewEngine(cfg, entropyEngine, runner, auditor, registry, logger)
	gw := gateway.New(cfg, entropyEngine, gateEngine, runner, logger)
	controller := workflow.NewController(gw, logger)

	return &services{
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		runner:     runner,
		auditor:    auditor,
		cache:      cache,
		entropy:    entropyEngine,
		gates:      gateEngine,
		gateway:    gw,
		controller: controller,
	}, nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
