// Package toolchain wraps the external collaborators the compliance core
// invokes: the project's test runner and the style/compliance auditor. Each
// is a subprocess with a bounded per-call timeout; a timeout fails only the
// call that hit it.
package toolchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// ErrUnavailable signals that the collaborator binary is not installed.
// Callers decide whether that soft-passes or fails closed.
var ErrUnavailable = errors.New("tool unavailable")

// RunResult is the outcome of one test-suite run.
type RunResult struct {
	Passed   bool   `json:"passed"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// CollectResult reports what the test collector found without running
// anything.
type CollectResult struct {
	// Found is true when the collector discovered at least one test.
	Found bool `json:"found"`
	// Inconclusive is true when collection failed or reported nothing;
	// callers treat this as a presence signal of 0.5, not a failure.
	Inconclusive bool `json:"inconclusive"`
	Tests        int  `json:"tests,omitempty"`
}

// StyleReport is the structured output of the style auditor.
type StyleReport struct {
	TotalFiles     int `json:"total_files_scanned"`
	CompliantFiles int `json:"compliant_files"`
}

// ComplianceRate returns the percentage of compliant files; an empty scan
// counts as fully compliant.
func (r StyleReport) ComplianceRate() float64 {
	if r.TotalFiles == 0 {
		return 100
	}
	return float64(r.CompliantFiles) / float64(r.TotalFiles) * 100
}

// TestRunner runs and collects the managed project's test suite.
type TestRunner interface {
	// Available reports whether the runner binary can be invoked at all.
	Available() bool
	// Run executes the suite in dir; the context bounds the call.
	Run(ctx context.Context, dir string) (RunResult, error)
	// Collect discovers tests in dir without executing them.
	Collect(ctx context.Context, dir string) (CollectResult, error)
}

// StyleAuditor runs the external style/compliance audit.
type StyleAuditor interface {
	Available() bool
	// Audit returns the structured report for dir.
	Audit(ctx context.Context, dir string) (StyleReport, error)
}

// collectedPattern extracts the test count from collector output.
var collectedPattern = regexp.MustCompile(`(\d+)\s+test`)

// execRunner shells out to the configured runner command.
type execRunner struct {
	command     []string
	runArgs     []string
	collectArgs []string
}

// NewTestRunner builds a TestRunner over command (argv prefix), runArgs for
// full runs and collectArgs for discovery.
func NewTestRunner(command, runArgs, collectArgs []string) TestRunner {
	return &execRunner{command: command, runArgs: runArgs, collectArgs: collectArgs}
}

func (r *execRunner) Available() bool {
	if len(r.command) == 0 {
		return false
	}
	_, err := exec.LookPath(r.command[0])
	return err == nil
}

func (r *execRunner) Run(ctx context.Context, dir string) (RunResult, error) {
	if !r.Available() {
		return RunResult{}, ErrUnavailable
	}
	args := append(append([]string{}, r.command[1:]...), r.runArgs...)
	cmd := exec.CommandContext(ctx, r.command[0], args...)
	cmd.Dir = dir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	result := RunResult{Output: truncateOutput(buf.String())}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Passed = true
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return result, fmt.Errorf("failed to run test suite: %w", err)
	}
	return result, nil
}

func (r *execRunner) Collect(ctx context.Context, dir string) (CollectResult, error) {
	if !r.Available() {
		return CollectResult{Inconclusive: true}, nil
	}
	args := append(append([]string{}, r.command[1:]...), r.collectArgs...)
	cmd := exec.CommandContext(ctx, r.command[0], args...)
	cmd.Dir = dir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := buf.String()

	if err != nil || strings.Contains(out, "no tests collected") {
		return CollectResult{Inconclusive: true}, nil
	}
	if m := collectedPattern.FindStringSubmatch(out); m != nil {
		n := 0
		fmt.Sscanf(m[1], "%d", &n)
		return CollectResult{Found: n > 0, Inconclusive: n == 0, Tests: n}, nil
	}
	return CollectResult{Inconclusive: true}, nil
}

// execAuditor shells out to the configured style auditor and decodes its
// JSON report.
type execAuditor struct {
	command []string
}

// NewStyleAuditor builds a StyleAuditor over command (argv).
func NewStyleAuditor(command []string) StyleAuditor {
	return &execAuditor{command: command}
}

func (a *execAuditor) Available() bool {
	if len(a.command) == 0 {
		return false
	}
	_, err := exec.LookPath(a.command[0])
	return err == nil
}

func (a *execAuditor) Audit(ctx context.Context, dir string) (StyleReport, error) {
	if !a.Available() {
		return StyleReport{}, ErrUnavailable
	}
	cmd := exec.CommandContext(ctx, a.command[0], a.command[1:]...)
	cmd.Dir = dir

	out, err := cmd.Output()
	if ctx.Err() == context.DeadlineExceeded {
		return StyleReport{}, fmt.Errorf("style audit timed out")
	}
	if err != nil {
		return StyleReport{}, fmt.Errorf("style audit failed: %w", err)
	}

	var report StyleReport
	if err := json.Unmarshal(out, &report); err != nil {
		return StyleReport{}, fmt.Errorf("failed to decode style report: %w", err)
	}
	return report, nil
}

// truncateOutput keeps gate details readable.
func truncateOutput(s string) string {
	const max = 2000
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
