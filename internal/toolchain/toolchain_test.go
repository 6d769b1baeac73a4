package toolchain

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests shell out to sh")
	}
}

func TestStyleReport_ComplianceRate(t *testing.T) {
	tests := []struct {
		name   string
		report StyleReport
		want   float64
	}{
		{"empty scan is fully compliant", StyleReport{}, 100},
		{"all compliant", StyleReport{TotalFiles: 4, CompliantFiles: 4}, 100},
		{"half compliant", StyleReport{TotalFiles: 4, CompliantFiles: 2}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.report.ComplianceRate(), 1e-9)
		})
	}
}

func TestTestRunner_UnavailableBinary(t *testing.T) {
	r := NewTestRunner([]string{"definitely-not-installed-zzz"}, nil, nil)
	assert.False(t, r.Available())

	_, err := r.Run(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrUnavailable)

	col, err := r.Collect(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, col.Inconclusive)
	assert.False(t, col.Found)
}

func TestTestRunner_PassingSuite(t *testing.T) {
	skipOnWindows(t)
	r := NewTestRunner([]string{"sh", "-c", "exit 0"}, nil, nil)

	res, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.False(t, res.TimedOut)
}

func TestTestRunner_FailingSuite(t *testing.T) {
	skipOnWindows(t)
	r := NewTestRunner([]string{"sh", "-c", "echo boom; exit 3"}, nil, nil)

	res, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Output, "boom")
}

func TestTestRunner_Timeout(t *testing.T) {
	skipOnWindows(t)
	r := NewTestRunner([]string{"sh", "-c", "sleep 5"}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := r.Run(ctx, t.TempDir())
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.True(t, res.TimedOut)
}

func TestTestRunner_CollectParsesCount(t *testing.T) {
	skipOnWindows(t)
	r := NewTestRunner([]string{"sh", "-c", "echo '12 tests collected'"}, nil, nil)

	col, err := r.Collect(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, col.Found)
	assert.Equal(t, 12, col.Tests)
}

func TestTestRunner_CollectNoTests(t *testing.T) {
	skipOnWindows(t)
	r := NewTestRunner([]string{"sh", "-c", "echo 'no tests collected'"}, nil, nil)

	col, err := r.Collect(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.False(t, col.Found)
	assert.True(t, col.Inconclusive)
}

func TestStyleAuditor_UnavailableBinary(t *testing.T) {
	a := NewStyleAuditor([]string{"definitely-not-installed-zzz"})
	assert.False(t, a.Available())

	_, err := a.Audit(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStyleAuditor_DecodesReport(t *testing.T) {
	skipOnWindows(t)
	a := NewStyleAuditor([]string{"sh", "-c", `echo '{"total_files_scanned": 10, "compliant_files": 9}'`})

	report, err := a.Audit(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 10, report.TotalFiles)
	assert.Equal(t, 9, report.CompliantFiles)
	assert.InDelta(t, 90, report.ComplianceRate(), 1e-9)
}

func TestStyleAuditor_BadJSON(t *testing.T) {
	skipOnWindows(t)
	a := NewStyleAuditor([]string{"sh", "-c", "echo not-json"})

	_, err := a.Audit(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}
