// Package entropy computes the composite compliance score for a target
// directory. The score is a weighted sum of three sub-metrics (directory
// layout, signature coverage, test presence) and h_sys is its
// complement; lower entropy is better. Results are memoized in the
// dependency-hashed cache keyed by the target's source-file fingerprint,
// but the cache is an optimization only and never the source of truth.
package entropy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/complianced/internal/config"
	"github.com/fyrsmithlabs/complianced/internal/depcache"
	"github.com/fyrsmithlabs/complianced/internal/logging"
	"github.com/fyrsmithlabs/complianced/internal/toolchain"
)

const instrumentationName = "github.com/fyrsmithlabs/complianced/internal/entropy"

const cacheKey = "entropy_metrics"

// Status bands for h_sys.
const (
	StatusExcellent = "excellent"
	StatusGood      = "good"
	StatusWarning   = "warning"
	StatusDanger    = "danger"
)

// Metrics is the computed entropy record. compliance_score is exactly
// dirWeight*c_dir + sigWeight*c_sig + testWeight*c_test and h_sys is
// exactly 1 - compliance_score; only display layers round.
type Metrics struct {
	CDir            float64 `json:"c_dir"`
	CSig            float64 `json:"c_sig"`
	CTest           float64 `json:"c_test"`
	ComplianceScore float64 `json:"compliance_score"`
	HSys            float64 `json:"h_sys"`
	Status          string  `json:"status"`
}

// signaturePatterns recognizes "function definition with type annotation"
// per source extension. Compiled once; ordered so tests can pin behavior.
var signaturePatterns = []struct {
	ext     string
	pattern *regexp.Regexp
}{
	{".py", regexp.MustCompile(`def\s+\w+\s*\([^)]*\)\s*->`)},
	{".ts", regexp.MustCompile(`function\s+\w+\s*\([^)]*\)\s*:\s*\w+`)},
}

// Engine computes metrics, hotspots and optimization plans.
type Engine struct {
	cfg    *config.EntropyConfig
	runner toolchain.TestRunner
	cache  *depcache.Cache
	ttl    time.Duration
	logger *logging.Logger
	tracer trace.Tracer

	collectTimeout time.Duration
}

// NewEngine builds an engine. cache may be nil to disable memoization;
// logger may be nil.
func NewEngine(cfg *config.Config, runner toolchain.TestRunner, cache *depcache.Cache, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		cfg:            &cfg.Entropy,
		runner:         runner,
		cache:          cache,
		ttl:            cfg.CacheTTL(),
		logger:         logger.Named("entropy"),
		tracer:         otel.Tracer(instrumentationName),
		collectTimeout: cfg.CollectTimeout(),
	}
}

// Calculate computes metrics for target, consulting the cache unless force
// is set.
func (e *Engine) Calculate(ctx context.Context, target string, force bool) (Metrics, error) {
	ctx, span := e.tracer.Start(ctx, "entropy.calculate")
	defer span.End()

	deps := e.dependencyFingerprint(target)

	if e.cache != nil {
		if raw, recompute := e.cache.GetWithDeps(cacheKey, deps, force); !recompute {
			var m Metrics
			if err := json.Unmarshal(raw, &m); err == nil {
				span.SetAttributes(attribute.Bool("cache_hit", true))
				return m, nil
			}
		}
	}

	cDir := e.calculateCDir(target)
	cSig, err := e.calculateCSig(target)
	if err != nil {
		return Metrics{}, err
	}
	cTest := e.calculateCTest(ctx, target)

	score := e.cfg.DirWeight*cDir + e.cfg.SigWeight*cSig + e.cfg.TestWeight*cTest
	m := Metrics{
		CDir:            cDir,
		CSig:            cSig,
		CTest:           cTest,
		ComplianceScore: score,
		HSys:            1.0 - score,
	}
	m.Status = e.Band(m.HSys)

	if e.cache != nil {
		if err := e.cache.SetWithDeps(cacheKey, m, deps, e.ttl); err != nil {
			e.logger.Warn("failed to cache entropy metrics", zap.Error(err))
		}
	}

	span.SetAttributes(attribute.Float64("h_sys", m.HSys), attribute.String("status", m.Status))
	e.logger.Debug("entropy computed",
		zap.Float64("c_dir", cDir),
		zap.Float64("c_sig", cSig),
		zap.Float64("c_test", cTest),
		zap.Float64("h_sys", m.HSys),
	)
	return m, nil
}

// Band maps an h_sys value to its status band.
func (e *Engine) Band(hSys float64) string {
	switch {
	case hSys <= e.cfg.ExcellentThreshold:
		return StatusExcellent
	case hSys <= e.cfg.GoodThreshold:
		return StatusGood
	case hSys <= e.cfg.WarningThreshold:
		return StatusWarning
	default:
		return StatusDanger
	}
}

// calculateCDir scores directory layout: required directories weigh 1.0,
// optional ones 0.5. The required set switches when the target is this
// tool's own repository, detected via the self marker file. Optional
// directories count only when present, so a target with the full required
// set and no optionals still scores 1.0.
func (e *Engine) calculateCDir(target string) float64 {
	required := e.cfg.RequiredDirs
	if e.isSelfRepo(target) {
		required = e.cfg.RequiredSelfDirs
	}

	var score, total float64
	for _, d := range required {
		total += 1.0
		if dirExists(filepath.Join(target, d)) {
			score += 1.0
		}
	}
	for _, d := range e.cfg.OptionalDirs {
		if dirExists(filepath.Join(target, d)) {
			score += 0.5
			total += 0.5
		}
	}
	if total == 0 {
		return 0.5
	}
	return score / total
}

// calculateCSig is the fraction of source files containing a typed function
// definition. Unreadable files are skipped, not penalized.
func (e *Engine) calculateCSig(target string) (float64, error) {
	var total, typed int
	err := filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if d.IsDir() {
			if shouldSkip(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if shouldSkip(path) {
			return nil
		}
		ext := filepath.Ext(path)
		for _, sp := range signaturePatterns {
			if sp.ext != ext {
				continue
			}
			total++
			content, readErr := os.ReadFile(path)
			if readErr != nil {
				total-- // unreadable: not counted either way
				return nil
			}
			if sp.pattern.Match(content) {
				typed++
			}
			return nil
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan signatures: %w", err)
	}
	if total == 0 {
		// No recognizable source files means zero signature coverage.
		return 0, nil
	}
	return float64(typed) / float64(total), nil
}

// calculateCTest is a presence signal, not a pass/fail run: 1.0 when the
// collector finds tests, 0.5 when collection is inconclusive or absent.
func (e *Engine) calculateCTest(ctx context.Context, target string) float64 {
	if e.runner == nil {
		return 0.5
	}
	cctx, cancel := context.WithTimeout(ctx, e.collectTimeout)
	defer cancel()

	col, err := e.runner.Collect(cctx, target)
	if err != nil || col.Inconclusive || !col.Found {
		return 0.5
	}
	return 1.0
}

// isSelfRepo reports whether target is the tool's own repository.
func (e *Engine) isSelfRepo(target string) bool {
	if e.cfg.SelfMarker == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(target, filepath.FromSlash(e.cfg.SelfMarker)))
	return err == nil
}

// dependencyFingerprint lists the inputs the cached metrics depend on:
// each source or layout-relevant entry with its mtime and size.
func (e *Engine) dependencyFingerprint(target string) []string {
	var deps []string
	_ = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if shouldSkip(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if shouldSkip(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(target, path)
		if err != nil {
			return nil
		}
		deps = append(deps, fmt.Sprintf("%s:%d:%d", filepath.ToSlash(rel), info.ModTime().Unix(), info.Size()))
		return nil
	})
	sort.Strings(deps)
	return deps
}

var skipFragments = []string{
	"__pycache__", ".git", "node_modules", ".venv",
	".metrics_cache", ".compliance_checkpoints", ".compliance_backups",
}

func shouldSkip(path string) bool {
	for _, frag := range skipFragments {
		if strings.Contains(path, frag) {
			return true
		}
	}
	return false
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
