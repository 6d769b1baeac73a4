package gates

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// candidatePattern matches generated workspace directories in the holding
// directory: a three-digit prefix followed by a dash.
var candidatePattern = regexp.MustCompile(`^\d{3}-`)

// CleanupResult reports a cleanup run.
type CleanupResult struct {
	Candidates []string `json:"candidates,omitempty"`
	Removed    []string `json:"removed,omitempty"`
	Failed     []string `json:"failed,omitempty"`
	Aborted    bool     `json:"aborted,omitempty"`
}

// ConfirmFunc asks the operator whether the listed directories may be
// deleted. The CLI wires this to an interactive y/N prompt.
type ConfirmFunc func(candidates []string) bool

// CleanupCandidates lists the holding-directory entries eligible for
// deletion: directories with a three-digit prefix, excluding the protected
// name.
func (e *Engine) CleanupCandidates(target string) ([]string, error) {
	holding := filepath.Join(target, e.cfg.Gates.HoldingDir)
	entries, err := os.ReadDir(holding)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read holding directory: %w", err)
	}

	var candidates []string
	for _, entry := range entries {
		if !entry.IsDir() || !candidatePattern.MatchString(entry.Name()) {
			continue
		}
		if e.cfg.Gates.ProtectedFragment != "" &&
			strings.Contains(entry.Name(), e.cfg.Gates.ProtectedFragment) {
			continue
		}
		candidates = append(candidates, entry.Name())
	}
	return candidates, nil
}

// Cleanup deletes eligible holding-directory entries. Without force the
// confirm callback must approve the candidate list first. Per-entry
// deletion failures are aggregated and reported without aborting the
// remaining deletions.
func (e *Engine) Cleanup(target string, confirm ConfirmFunc, force bool) (CleanupResult, error) {
	candidates, err := e.CleanupCandidates(target)
	if err != nil {
		return CleanupResult{}, err
	}
	result := CleanupResult{Candidates: candidates}
	if len(candidates) == 0 {
		return result, nil
	}

	if !force {
		if confirm == nil || !confirm(candidates) {
			result.Aborted = true
			e.logger.Info("cleanup aborted", zap.Int("candidates", len(candidates)))
			return result, nil
		}
	}

	holding := filepath.Join(target, e.cfg.Gates.HoldingDir)
	var errs error
	for _, name := range candidates {
		if err := os.RemoveAll(filepath.Join(holding, name)); err != nil {
			result.Failed = append(result.Failed, name)
			errs = multierr.Append(errs, fmt.Errorf("failed to delete %s: %w", name, err))
			continue
		}
		result.Removed = append(result.Removed, name)
		e.logger.Info("deleted workspace", zap.String("name", name))
	}
	return result, errs
}
