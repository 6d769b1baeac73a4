// Package gateway maps a requested workflow transition to the policy
// checks that guard it. Only four state pairs carry checks; every other
// pair passes unconditionally. The entropy check on A→B fails open when it
// cannot be computed, because it is advisory; the other three gate real
// completion criteria and fail closed when unevaluable.
package gateway

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/complianced/internal/config"
	"github.com/fyrsmithlabs/complianced/internal/entropy"
	"github.com/fyrsmithlabs/complianced/internal/gates"
	"github.com/fyrsmithlabs/complianced/internal/logging"
	"github.com/fyrsmithlabs/complianced/internal/toolchain"
)

const instrumentationName = "github.com/fyrsmithlabs/complianced/internal/gateway"

// approvalMarker is the substring that marks a spec artifact as approved.
const approvalMarker = "Approval Status: Approved"

// specSuffix identifies spec artifacts in the holding directory.
const specSuffix = "_spec.md"

// Verdict is the uniform outcome of a transition validation.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Check   string `json:"check,omitempty"`
	Basis   string `json:"basis,omitempty"`
	Message string `json:"message,omitempty"`
	// Skipped marks the fail-open path: the check could not be evaluated
	// and the transition was allowed anyway.
	Skipped bool `json:"skipped,omitempty"`
	Details any  `json:"details,omitempty"`
}

// Gateway validates state transitions against the per-pair policy table.
type Gateway struct {
	cfg     *config.Config
	entropy *entropy.Engine
	gates   *gates.Engine
	runner  toolchain.TestRunner
	logger  *logging.Logger
	tracer  trace.Tracer
}

// New builds a gateway. runner may be nil; the C→D check then fails closed.
// logger may be nil.
func New(cfg *config.Config, entropyEngine *entropy.Engine, gateEngine *gates.Engine, runner toolchain.TestRunner, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gateway{
		cfg:     cfg,
		entropy: entropyEngine,
		gates:   gateEngine,
		runner:  runner,
		logger:  logger.Named("gateway"),
		tracer:  otel.Tracer(instrumentationName),
	}
}

// Validate runs the policy check for the from→to pair, if any.
func (g *Gateway) Validate(ctx context.Context, target, from, to string) Verdict {
	ctx, span := g.tracer.Start(ctx, "gateway.validate",
		trace.WithAttributes(attribute.String("from", from), attribute.String("to", to)))
	defer span.End()

	var verdict Verdict
	switch {
	case from == "A" && to == "B":
		verdict = g.checkEntropy(ctx, target)
	case from == "B" && to == "C":
		verdict = g.checkSpecApproval(target)
	case from == "C" && to == "D":
		verdict = g.checkTests(ctx, target)
	case from == "D" && to == "E":
		verdict = g.checkAudit(ctx, target)
	default:
		verdict = Verdict{Allowed: true}
	}

	span.SetAttributes(attribute.Bool("allowed", verdict.Allowed))
	if !verdict.Allowed {
		g.logger.Info("transition rejected",
			zap.String("from", from), zap.String("to", to),
			zap.String("check", verdict.Check), zap.String("message", verdict.Message))
	}
	return verdict
}

// checkEntropy gates planning on the entropy score. Fail-open: an internal
// error computing the score warns and allows.
func (g *Gateway) checkEntropy(ctx context.Context, target string) Verdict {
	verdict := Verdict{Check: "entropy", Basis: "§102"}
	m, err := g.entropy.Calculate(ctx, target, false)
	if err != nil {
		g.logger.Warn("entropy check could not be evaluated, allowing transition",
			zap.Error(err))
		verdict.Allowed = true
		verdict.Skipped = true
		verdict.Message = fmt.Sprintf("entropy check skipped: %v", err)
		return verdict
	}
	threshold := g.cfg.Entropy.WarningThreshold
	verdict.Details = m
	if m.HSys > threshold {
		verdict.Message = fmt.Sprintf("h_sys = %.4f exceeds threshold %.2f", m.HSys, threshold)
		return verdict
	}
	verdict.Allowed = true
	return verdict
}

// specApproval is the B→C detail payload.
type specApproval struct {
	SpecFile string `json:"spec_file,omitempty"`
	Approved bool   `json:"approved"`
	Note     string `json:"note,omitempty"`
}

// checkSpecApproval requires the latest spec artifact under the holding
// directory to carry the approval marker. Fail-closed throughout.
func (g *Gateway) checkSpecApproval(target string) Verdict {
	verdict := Verdict{Check: "spec_approval", Basis: "§311"}

	holding := filepath.Join(target, g.cfg.Gates.HoldingDir)
	specs := findSpecArtifacts(holding)
	if len(specs) == 0 {
		verdict.Message = "no spec artifact found"
		verdict.Details = specApproval{Note: "no *_spec.md under " + g.cfg.Gates.HoldingDir}
		return verdict
	}

	// The lexically last artifact is the active one; ids sort with names.
	latest := specs[len(specs)-1]
	rel, err := filepath.Rel(target, latest)
	if err != nil {
		rel = latest
	}
	content, err := os.ReadFile(latest)
	if err != nil {
		verdict.Message = fmt.Sprintf("failed to read spec artifact: %v", err)
		verdict.Details = specApproval{SpecFile: filepath.ToSlash(rel)}
		return verdict
	}
	if !strings.Contains(string(content), approvalMarker) {
		verdict.Message = "spec artifact is not marked approved"
		verdict.Details = specApproval{SpecFile: filepath.ToSlash(rel), Note: "missing approval marker"}
		return verdict
	}
	verdict.Allowed = true
	verdict.Details = specApproval{SpecFile: filepath.ToSlash(rel), Approved: true}
	return verdict
}

// checkTests requires a passing test run. Fail-closed: an unavailable
// runner rejects the transition.
func (g *Gateway) checkTests(ctx context.Context, target string) Verdict {
	verdict := Verdict{Check: "tests", Basis: "§300.3"}
	if g.runner == nil || !g.runner.Available() {
		verdict.Message = "test runner unavailable; completion cannot be verified"
		return verdict
	}

	rctx, cancel := context.WithTimeout(ctx, g.cfg.TestTimeout())
	defer cancel()

	run, err := g.runner.Run(rctx, target)
	if err != nil {
		verdict.Message = fmt.Sprintf("test execution failed: %v", err)
		return verdict
	}
	verdict.Details = run
	if run.TimedOut {
		verdict.Message = fmt.Sprintf("tests timed out after %s", g.cfg.TestTimeout())
		return verdict
	}
	if !run.Passed {
		verdict.Message = fmt.Sprintf("tests failed with exit code %d", run.ExitCode)
		return verdict
	}
	verdict.Allowed = true
	return verdict
}

// checkAudit requires every gate to pass. Fail-closed; the message names
// the first failing gate.
func (g *Gateway) checkAudit(ctx context.Context, target string) Verdict {
	verdict := Verdict{Check: "audit", Basis: "§300.3"}
	results := g.gates.RunAll(ctx, target)
	verdict.Details = results
	if gates.AllPassed(results) {
		verdict.Allowed = true
		return verdict
	}
	for _, r := range results {
		if !r.Passed {
			verdict.Message = fmt.Sprintf("gate %d (%s) failed: %s", r.GateID, r.Name, r.Message)
			break
		}
	}
	return verdict
}

// findSpecArtifacts returns every *_spec.md under dir, sorted.
func findSpecArtifacts(dir string) []string {
	var specs []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), specSuffix) {
			specs = append(specs, path)
		}
		return nil
	})
	sort.Strings(specs)
	return specs
}
