package gates

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/fyrsmithlabs/complianced/internal/config"
)

// versionPatterns is the ordered (pattern, label) table. Order matters: the
// first matching pattern per file wins, so the specific forms shadow the
// generic token.
var versionPatterns = []struct {
	label   string
	pattern *regexp.Regexp
}{
	{"constant declaration", regexp.MustCompile(`VERSION\s*=\s*["']([^"']+)["']`)},
	{"structured field", regexp.MustCompile(`"version":\s*"([^"]+)"`)},
	{"labelled header (zh)", regexp.MustCompile(`版本[：:]\s*v?(\d+\.\d+\.\d+)`)},
	{"labelled header (en)", regexp.MustCompile(`Version[：:]\s*v?(\d+\.\d+\.\d+)`)},
	{"generic token", regexp.MustCompile(`\bv(\d+\.\d+\.\d+)\b`)},
}

// FileVersion is one discovered version token.
type FileVersion struct {
	File    string `json:"file"`
	Version string `json:"version"`
	Label   string `json:"label"`
}

// VersionScan is the result of scanning a tree for version tokens. Files
// preserves scan order, which breaks most-frequent ties.
type VersionScan struct {
	Files []FileVersion `json:"files"`
}

// Consistent reports whether at most one unique version was found.
func (s VersionScan) Consistent() bool {
	return len(s.UniqueVersions()) <= 1
}

// UniqueVersions returns the distinct versions in order of first appearance.
func (s VersionScan) UniqueVersions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range s.Files {
		if !seen[f.Version] {
			seen[f.Version] = true
			out = append(out, f.Version)
		}
	}
	return out
}

// Distribution counts occurrences per version.
func (s VersionScan) Distribution() map[string]int {
	dist := make(map[string]int)
	for _, f := range s.Files {
		dist[f.Version]++
	}
	return dist
}

// MostFrequent returns the version with the highest occurrence count, ties
// broken by scan order. Empty when nothing was found.
func (s VersionScan) MostFrequent() string {
	dist := s.Distribution()
	best := ""
	for _, f := range s.Files {
		if best == "" || dist[f.Version] > dist[best] {
			best = f.Version
		}
	}
	return best
}

// FixResult reports a version rewrite.
type FixResult struct {
	TargetVersion string   `json:"target_version"`
	Updated       []string `json:"updated,omitempty"`
	Failed        []string `json:"failed,omitempty"`
	BackupDir     string   `json:"backup_dir,omitempty"`
	Restored      bool     `json:"restored,omitempty"`
}

// ScanVersions runs the Gate 1 scan without evaluating the gate.
func (e *Engine) ScanVersions(target string) (VersionScan, error) {
	return newVersionScanner(&e.cfg.Gates).Scan(target)
}

// FixVersions rewrites mismatching version tokens to the most frequent
// discovered value. Used by the audit fix mode before the gates run.
func (e *Engine) FixVersions(target string) (FixResult, error) {
	return newVersionScanner(&e.cfg.Gates).Fix(target)
}

// versionScanner discovers and rewrites version tokens.
type versionScanner struct {
	cfg *config.GatesConfig
}

func newVersionScanner(cfg *config.GatesConfig) *versionScanner {
	return &versionScanner{cfg: cfg}
}

// Scan walks target collecting the first version token per file, for files
// with a configured extension, excluding skip fragments and test files.
func (s *versionScanner) Scan(target string) (VersionScan, error) {
	var scan VersionScan
	err := filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if s.shouldSkip(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.shouldSkip(path) || isTestFile(path) || !s.hasVersionExtension(path) {
			return nil
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(target, path)
		if relErr != nil {
			rel = path
		}
		for _, vp := range versionPatterns {
			if m := vp.pattern.FindSubmatch(content); m != nil {
				scan.Files = append(scan.Files, FileVersion{
					File:    filepath.ToSlash(rel),
					Version: string(m[1]),
					Label:   vp.label,
				})
				break
			}
		}
		return nil
	})
	if err != nil {
		return VersionScan{}, fmt.Errorf("failed to scan versions: %w", err)
	}
	return scan, nil
}

// Fix rewrites every mismatching file to the most frequent discovered
// version. Affected files are backed up first; if a rewrite fails partway,
// the already-rewritten files are restored best-effort and the restore
// outcome is reported alongside the write error.
func (s *versionScanner) Fix(target string) (FixResult, error) {
	scan, err := s.Scan(target)
	if err != nil {
		return FixResult{}, err
	}
	want := scan.MostFrequent()
	result := FixResult{TargetVersion: want}
	if want == "" || scan.Consistent() {
		return result, nil
	}

	var mismatched []string
	for _, f := range scan.Files {
		if f.Version != want {
			mismatched = append(mismatched, f.File)
		}
	}

	backupDir, err := s.backup(target, mismatched)
	if err != nil {
		return result, fmt.Errorf("failed to back up files before fix: %w", err)
	}
	result.BackupDir = backupDir

	for i, rel := range mismatched {
		if err := rewriteVersions(filepath.Join(target, filepath.FromSlash(rel)), want); err != nil {
			result.Failed = append(result.Failed, rel)
			restoreErr := s.restore(target, backupDir, mismatched[:i])
			result.Restored = restoreErr == nil
			return result, multierr.Append(
				fmt.Errorf("failed to rewrite %s: %w", rel, err), restoreErr)
		}
		result.Updated = append(result.Updated, rel)
	}
	return result, nil
}

// backup copies the files about to be rewritten into a timestamped holding
// area under the target's backup directory, preserving relative paths.
func (s *versionScanner) backup(target string, files []string) (string, error) {
	id := fmt.Sprintf("%s_%s", time.Now().Format("20060102_150405"), uuid.NewString()[:8])
	backupDir := filepath.Join(target, ".compliance_backups", id)

	for _, rel := range files {
		src := filepath.Join(target, filepath.FromSlash(rel))
		dst := filepath.Join(backupDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", err
		}
		content, err := os.ReadFile(src)
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return "", err
		}
	}
	return backupDir, nil
}

// restore copies backed-up files over their rewritten counterparts.
// Per-file failures are aggregated, not short-circuited.
func (s *versionScanner) restore(target, backupDir string, files []string) error {
	var errs error
	for _, rel := range files {
		src := filepath.Join(backupDir, filepath.FromSlash(rel))
		dst := filepath.Join(target, filepath.FromSlash(rel))
		content, err := os.ReadFile(src)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to restore %s: %w", rel, err))
			continue
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to restore %s: %w", rel, err))
		}
	}
	return errs
}

// rewriteVersions substitutes the captured version group in every pattern
// occurrence, leaving the surrounding syntax untouched.
func rewriteVersions(path, want string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	text := string(content)
	for _, vp := range versionPatterns {
		text = vp.pattern.ReplaceAllStringFunc(text, func(m string) string {
			sub := vp.pattern.FindStringSubmatch(m)
			if len(sub) < 2 || sub[1] == want {
				return m
			}
			return strings.Replace(m, sub[1], want, 1)
		})
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

func (s *versionScanner) shouldSkip(path string) bool {
	for _, frag := range s.cfg.SkipFragments {
		if strings.Contains(path, frag) {
			return true
		}
	}
	return false
}

func (s *versionScanner) hasVersionExtension(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range s.cfg.VersionExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
