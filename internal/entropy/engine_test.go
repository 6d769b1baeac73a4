package entropy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/complianced/internal/config"
	"github.com/fyrsmithlabs/complianced/internal/depcache"
	"github.com/fyrsmithlabs/complianced/internal/toolchain"
)

// fakeRunner satisfies toolchain.TestRunner for engine tests.
type fakeRunner struct {
	collect toolchain.CollectResult
	run     toolchain.RunResult
	runErr  error
}

func (f *fakeRunner) Available() bool { return true }
func (f *fakeRunner) Run(ctx context.Context, dir string) (toolchain.RunResult, error) {
	return f.run, f.runErr
}
func (f *fakeRunner) Collect(ctx context.Context, dir string) (toolchain.CollectResult, error) {
	return f.collect, nil
}

func newEngine(t *testing.T, runner toolchain.TestRunner, cache *depcache.Cache) *Engine {
	t.Helper()
	return NewEngine(config.Default(), runner, cache, nil)
}

func mkdirs(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
}

func TestCalculate_FreshTargetBandsDanger(t *testing.T) {
	target := t.TempDir()
	e := newEngine(t, &fakeRunner{collect: toolchain.CollectResult{Inconclusive: true}}, nil)

	m, err := e.Calculate(context.Background(), target, false)
	require.NoError(t, err)

	assert.Zero(t, m.CDir)
	assert.Zero(t, m.CSig)
	assert.InDelta(t, 0.5, m.CTest, 1e-9)
	assert.InDelta(t, 0.15, m.ComplianceScore, 1e-9)
	assert.InDelta(t, 0.85, m.HSys, 1e-9)
	assert.Equal(t, StatusDanger, m.Status)
}

func TestCalculate_RequiredDirsGiveFullCDir(t *testing.T) {
	target := t.TempDir()
	mkdirs(t, target, "src", "tests", "memory_bank")
	e := newEngine(t, &fakeRunner{collect: toolchain.CollectResult{Found: true}}, nil)

	m, err := e.Calculate(context.Background(), target, false)
	require.NoError(t, err)

	// Full required weight, zero optional contribution.
	assert.InDelta(t, 1.0, m.CDir, 1e-9)
	assert.InDelta(t, 1.0, m.CTest, 1e-9)
}

func TestCalculate_OptionalDirsCountOnlyWhenPresent(t *testing.T) {
	runner := &fakeRunner{collect: toolchain.CollectResult{Inconclusive: true}}

	// Two of three required dirs, no optionals: 2/3.
	partial := t.TempDir()
	mkdirs(t, partial, "src", "tests")
	e := newEngine(t, runner, nil)

	m, err := e.Calculate(context.Background(), partial, false)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, m.CDir, 1e-9)

	// Same required dirs plus a present optional: (2+0.5)/(3+0.5).
	withOptional := t.TempDir()
	mkdirs(t, withOptional, "src", "tests", "examples")

	m, err = e.Calculate(context.Background(), withOptional, false)
	require.NoError(t, err)
	assert.InDelta(t, 2.5/3.5, m.CDir, 1e-9)
}

func TestCalculate_FormulaIsExact(t *testing.T) {
	target := t.TempDir()
	mkdirs(t, target, "src", "tests", "memory_bank", "examples")
	// One typed file, one untyped: c_sig = 0.5.
	require.NoError(t, os.WriteFile(filepath.Join(target, "src", "typed.py"),
		[]byte("def add(a: int, b: int) -> int:\n    return a + b\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(target, "src", "untyped.py"),
		[]byte("def add(a, b):\n    return a + b\n"), 0o644))

	e := newEngine(t, &fakeRunner{collect: toolchain.CollectResult{Found: true}}, nil)
	m, err := e.Calculate(context.Background(), target, false)
	require.NoError(t, err)

	wantScore := 0.4*m.CDir + 0.3*m.CSig + 0.3*m.CTest
	assert.Equal(t, wantScore, m.ComplianceScore)
	assert.Equal(t, 1.0-wantScore, m.HSys)
	assert.InDelta(t, 0.5, m.CSig, 1e-9)
}

func TestCalculate_SelfRepoUsesSelfDirs(t *testing.T) {
	target := t.TempDir()
	mkdirs(t, target, "cmd/compliancectl", "internal", "docs", "templates", "tests")
	require.NoError(t, os.WriteFile(filepath.Join(target, "cmd", "compliancectl", "main.go"),
		[]byte("package main\n"), 0o644))

	e := newEngine(t, &fakeRunner{collect: toolchain.CollectResult{Inconclusive: true}}, nil)
	m, err := e.Calculate(context.Background(), target, false)
	require.NoError(t, err)

	// All five self-required dirs present, no optional ones: full weight.
	assert.InDelta(t, 1.0, m.CDir, 1e-9)
}

func TestBand(t *testing.T) {
	e := newEngine(t, nil, nil)
	tests := []struct {
		hSys float64
		want string
	}{
		{0.0, StatusExcellent},
		{0.3, StatusExcellent},
		{0.31, StatusGood},
		{0.5, StatusGood},
		{0.7, StatusWarning},
		{0.71, StatusDanger},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Band(tt.hSys), "h_sys=%v", tt.hSys)
	}
}

func TestCalculate_CacheHitSkipsRecompute(t *testing.T) {
	target := t.TempDir()
	mkdirs(t, target, "src", "tests", "memory_bank")
	cache, err := depcache.New(target, ".metrics_cache", "metrics.json")
	require.NoError(t, err)

	e := newEngine(t, &fakeRunner{collect: toolchain.CollectResult{Found: true}}, cache)

	first, err := e.Calculate(context.Background(), target, false)
	require.NoError(t, err)

	// Second call with unchanged deps returns the cached record.
	second, err := e.Calculate(context.Background(), target, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	info := cache.Info()
	assert.True(t, info.Exists)
	assert.Contains(t, info.Keys, "entropy_metrics")
}

func TestCalculate_ForceBypassesCache(t *testing.T) {
	target := t.TempDir()
	mkdirs(t, target, "src", "tests", "memory_bank")
	cache, err := depcache.New(target, ".metrics_cache", "metrics.json")
	require.NoError(t, err)

	runner := &fakeRunner{collect: toolchain.CollectResult{Found: true}}
	e := newEngine(t, runner, cache)

	first, err := e.Calculate(context.Background(), target, false)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, first.CTest, 1e-9)

	// The collector's answer changes; only force sees it.
	runner.collect = toolchain.CollectResult{Inconclusive: true}

	cached, err := e.Calculate(context.Background(), target, false)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cached.CTest, 1e-9)

	fresh, err := e.Calculate(context.Background(), target, true)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, fresh.CTest, 1e-9)
}

func TestCalculate_NilRunnerIsInconclusive(t *testing.T) {
	target := t.TempDir()
	e := newEngine(t, nil, nil)

	m, err := e.Calculate(context.Background(), target, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, m.CTest, 1e-9)
}
