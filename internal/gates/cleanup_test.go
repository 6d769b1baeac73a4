package gates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedHolding(t *testing.T, target string) {
	t.Helper()
	for _, d := range []string{
		"specs/001-add-login",
		"specs/002-fix-cache",
		"specs/010-compliance-core",
		"specs/feature-branch",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(target, d), 0o755))
	}
	// A matching name that is a file, not a directory.
	require.NoError(t, os.WriteFile(filepath.Join(target, "specs", "003-note.txt"), []byte("x"), 0o644))
}

func TestCleanupCandidates(t *testing.T) {
	target := t.TempDir()
	seedHolding(t, target)

	e := newTestEngine(t, nil, nil, nil)
	candidates, err := e.CleanupCandidates(target)
	require.NoError(t, err)
	// Protected fragment, non-matching names and plain files are excluded.
	assert.Equal(t, []string{"001-add-login", "002-fix-cache"}, candidates)
}

func TestCleanupCandidates_MissingHoldingDir(t *testing.T) {
	e := newTestEngine(t, nil, nil, nil)
	candidates, err := e.CleanupCandidates(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestCleanup_DeclinedConfirmationAborts(t *testing.T) {
	target := t.TempDir()
	seedHolding(t, target)

	e := newTestEngine(t, nil, nil, nil)
	result, err := e.Cleanup(target, func([]string) bool { return false }, false)
	require.NoError(t, err)
	assert.True(t, result.Aborted)
	assert.Empty(t, result.Removed)
	assert.DirExists(t, filepath.Join(target, "specs", "001-add-login"))
}

func TestCleanup_NilConfirmWithoutForceAborts(t *testing.T) {
	target := t.TempDir()
	seedHolding(t, target)

	e := newTestEngine(t, nil, nil, nil)
	result, err := e.Cleanup(target, nil, false)
	require.NoError(t, err)
	assert.True(t, result.Aborted)
}

func TestCleanup_ConfirmedDeletes(t *testing.T) {
	target := t.TempDir()
	seedHolding(t, target)

	var asked []string
	e := newTestEngine(t, nil, nil, nil)
	result, err := e.Cleanup(target, func(c []string) bool {
		asked = c
		return true
	}, false)
	require.NoError(t, err)
	assert.False(t, result.Aborted)
	assert.Equal(t, []string{"001-add-login", "002-fix-cache"}, asked)
	assert.Equal(t, []string{"001-add-login", "002-fix-cache"}, result.Removed)

	assert.NoDirExists(t, filepath.Join(target, "specs", "001-add-login"))
	assert.NoDirExists(t, filepath.Join(target, "specs", "002-fix-cache"))
	// Protected and non-matching entries survive.
	assert.DirExists(t, filepath.Join(target, "specs", "010-compliance-core"))
	assert.DirExists(t, filepath.Join(target, "specs", "feature-branch"))
}

func TestCleanup_ForceSkipsConfirmation(t *testing.T) {
	target := t.TempDir()
	seedHolding(t, target)

	e := newTestEngine(t, nil, nil, nil)
	result, err := e.Cleanup(target, nil, true)
	require.NoError(t, err)
	assert.False(t, result.Aborted)
	assert.Len(t, result.Removed, 2)
}

func TestCleanup_NoCandidatesIsNoOp(t *testing.T) {
	target := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(target, "specs", "misc"), 0o755))

	e := newTestEngine(t, nil, nil, nil)
	called := false
	result, err := e.Cleanup(target, func([]string) bool { called = true; return true }, false)
	require.NoError(t, err)
	assert.False(t, called)
	assert.False(t, result.Aborted)
	assert.Empty(t, result.Removed)
}
