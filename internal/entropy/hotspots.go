package entropy

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Hotspot is one heuristic finding. The score is explanatory only and is
// not derived from the compliance formula.
type Hotspot struct {
	Path       string  `json:"path"`
	Score      float64 `json:"entropy"`
	Reason     string  `json:"reason"`
	Suggestion string  `json:"suggestion,omitempty"`
}

// ActionKind is the closed set of optimization action variants.
type ActionKind string

const (
	// ActionSplit proposes splitting a large file.
	ActionSplit ActionKind = "split"
	// ActionFlatten proposes flattening a deeply nested directory.
	ActionFlatten ActionKind = "flatten"
)

// Action is one planned optimization step.
type Action struct {
	Kind        ActionKind `json:"type"`
	Target      string     `json:"target"`
	Description string     `json:"description"`
	DryRun      bool       `json:"dry_run"`
}

// Plan is the output of GenerateOptimizationPlan.
type Plan struct {
	DryRun  bool     `json:"dry_run"`
	Actions []Action `json:"actions"`
}

const (
	largeFileScore   = 0.3
	deepNestingScore = 0.2
)

// AnalyzeHotspots scans target for files above the size threshold and
// directories above the depth threshold, sorted by score descending and
// truncated to topN.
func (e *Engine) AnalyzeHotspots(target string, topN int) []Hotspot {
	var hotspots []Hotspot

	_ = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if shouldSkip(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(target, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			depth := len(strings.Split(rel, "/"))
			if depth > e.cfg.DeepNestingDepth {
				hotspots = append(hotspots, Hotspot{
					Path:       rel,
					Score:      deepNestingScore,
					Reason:     fmt.Sprintf("Deep nesting (depth: %d)", depth),
					Suggestion: "Consider flattening directory structure",
				})
			}
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if info.Size() > e.cfg.LargeFileBytes {
			hotspots = append(hotspots, Hotspot{
				Path:       rel,
				Score:      largeFileScore,
				Reason:     fmt.Sprintf("Large file (%dKB)", info.Size()/1024),
				Suggestion: "Consider splitting into smaller files",
			})
		}
		return nil
	})

	sort.SliceStable(hotspots, func(i, j int) bool {
		return hotspots[i].Score > hotspots[j].Score
	})
	if topN > 0 && len(hotspots) > topN {
		hotspots = hotspots[:topN]
	}
	return hotspots
}

// GenerateOptimizationPlan maps hotspot reasons onto the closed action set.
// The engine only ever plans; the mutations themselves belong to the
// operator.
func (e *Engine) GenerateOptimizationPlan(target string, dryRun bool) Plan {
	hotspots := e.AnalyzeHotspots(target, 20)

	plan := Plan{DryRun: dryRun}
	for _, h := range hotspots {
		switch {
		case strings.HasPrefix(h.Reason, "Large file"):
			plan.Actions = append(plan.Actions, Action{
				Kind:        ActionSplit,
				Target:      h.Path,
				Description: fmt.Sprintf("Split large file: %s", h.Path),
				DryRun:      dryRun,
			})
		case strings.HasPrefix(h.Reason, "Deep nesting"):
			plan.Actions = append(plan.Actions, Action{
				Kind:        ActionFlatten,
				Target:      h.Path,
				Description: fmt.Sprintf("Flatten directory: %s", h.Path),
				DryRun:      dryRun,
			})
		}
	}
	return plan
}
