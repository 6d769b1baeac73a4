package gates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/complianced/internal/config"
)

func newScanner() *versionScanner {
	cfg := config.Default()
	return newVersionScanner(&cfg.Gates)
}

func TestScan_FirstPatternPerFileWins(t *testing.T) {
	target := t.TempDir()
	// Both a constant and a generic token: the constant shadows it.
	writeFile(t, target, "tool.py", "VERSION = \"1.2.3\"\n# changelog mentions v9.9.9\n")

	scan, err := newScanner().Scan(target)
	require.NoError(t, err)
	require.Len(t, scan.Files, 1)
	assert.Equal(t, "1.2.3", scan.Files[0].Version)
	assert.Equal(t, "constant declaration", scan.Files[0].Label)
}

func TestScan_PatternVariants(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		version string
		label   string
	}{
		{"json field", "meta.json", `{"version": "2.1.0"}`, "2.1.0", "structured field"},
		{"zh header", "readme.md", "版本: v3.0.1\n", "3.0.1", "labelled header (zh)"},
		{"en header", "notes.md", "Version: 4.5.6\n", "4.5.6", "labelled header (en)"},
		{"generic token", "changelog.md", "released v7.8.9 today\n", "7.8.9", "generic token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := t.TempDir()
			writeFile(t, target, tt.file, tt.content)

			scan, err := newScanner().Scan(target)
			require.NoError(t, err)
			require.Len(t, scan.Files, 1)
			assert.Equal(t, tt.version, scan.Files[0].Version)
			assert.Equal(t, tt.label, scan.Files[0].Label)
		})
	}
}

func TestScan_ExcludesTestFilesAndSkipFragments(t *testing.T) {
	target := t.TempDir()
	writeFile(t, target, "test_tool.py", `VERSION = "9.9.9"`)
	writeFile(t, target, "node_modules/pkg/index.json", `{"version": "8.8.8"}`)
	writeFile(t, target, "tool.go", `VERSION = "7.7.7"`) // extension not scanned
	writeFile(t, target, "tool.py", `VERSION = "1.0.0"`)

	scan, err := newScanner().Scan(target)
	require.NoError(t, err)
	require.Len(t, scan.Files, 1)
	assert.Equal(t, "tool.py", scan.Files[0].File)
}

func TestMostFrequent_TiesBrokenByScanOrder(t *testing.T) {
	scan := VersionScan{Files: []FileVersion{
		{File: "a.py", Version: "1.0.0"},
		{File: "b.py", Version: "2.0.0"},
	}}
	assert.Equal(t, "1.0.0", scan.MostFrequent())
}

func TestMostFrequent_PicksMajority(t *testing.T) {
	scan := VersionScan{Files: []FileVersion{
		{File: "a.py", Version: "1.0.0"},
		{File: "b.py", Version: "2.0.0"},
		{File: "c.py", Version: "2.0.0"},
	}}
	assert.Equal(t, "2.0.0", scan.MostFrequent())
}

func TestFix_RewritesToMostFrequent(t *testing.T) {
	target := t.TempDir()
	writeFile(t, target, "a.py", `VERSION = "1.2.3"`)
	writeFile(t, target, "b.py", `VERSION = "1.2.3"`)
	writeFile(t, target, "c.md", "Version: v1.0.0\n")

	s := newScanner()
	result, err := s.Fix(target)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", result.TargetVersion)
	assert.Equal(t, []string{"c.md"}, result.Updated)
	assert.NotEmpty(t, result.BackupDir)

	// Rewrite preserves the surrounding syntax.
	content, err := os.ReadFile(filepath.Join(target, "c.md"))
	require.NoError(t, err)
	assert.Equal(t, "Version: v1.2.3\n", string(content))

	// A subsequent scan reports full consistency.
	scan, err := s.Scan(target)
	require.NoError(t, err)
	assert.True(t, scan.Consistent())

	// The backup holds the pre-fix content.
	backup, err := os.ReadFile(filepath.Join(result.BackupDir, "c.md"))
	require.NoError(t, err)
	assert.Equal(t, "Version: v1.0.0\n", string(backup))
}

func TestFix_ConsistentTreeIsNoOp(t *testing.T) {
	target := t.TempDir()
	writeFile(t, target, "a.py", `VERSION = "1.2.3"`)

	result, err := newScanner().Fix(target)
	require.NoError(t, err)
	assert.Empty(t, result.Updated)
	assert.Empty(t, result.BackupDir)
	assert.NoDirExists(t, filepath.Join(target, ".compliance_backups"))
}

func TestFix_BackupsAreExcludedFromLaterScans(t *testing.T) {
	target := t.TempDir()
	writeFile(t, target, "a.py", `VERSION = "1.2.3"`)
	writeFile(t, target, "b.py", `VERSION = "1.2.3"`)
	writeFile(t, target, "c.py", `VERSION = "1.0.0"`)

	s := newScanner()
	_, err := s.Fix(target)
	require.NoError(t, err)

	// The pre-fix copy under .compliance_backups must not reintroduce the
	// old version into the scan.
	scan, err := s.Scan(target)
	require.NoError(t, err)
	assert.True(t, scan.Consistent())
	assert.Len(t, scan.Files, 3)
}

func TestRewriteVersions_MultipleOccurrences(t *testing.T) {
	target := t.TempDir()
	writeFile(t, target, "doc.md", "Version: v1.0.0\nAlso mentions v1.0.0 inline.\n")

	require.NoError(t, rewriteVersions(filepath.Join(target, "doc.md"), "2.0.0"))
	content, err := os.ReadFile(filepath.Join(target, "doc.md"))
	require.NoError(t, err)
	assert.Equal(t, "Version: v2.0.0\nAlso mentions v2.0.0 inline.\n", string(content))
}
