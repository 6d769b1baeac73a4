package depcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), ".metrics_cache", "metrics.json")
	require.NoError(t, err)
	return c
}

func TestNew_CreatesIgnoreMarkedDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := New(dir, ".metrics_cache", "metrics.json")
	require.NoError(t, err)

	gi, err := os.ReadFile(filepath.Join(dir, ".metrics_cache", ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "*\n!.gitignore\n", string(gi))
}

func TestHashDeps_OrderIndependent(t *testing.T) {
	a := HashDeps([]string{"a", "b", "c"})
	b := HashDeps([]string{"c", "a", "b"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 12)

	assert.NotEqual(t, a, HashDeps([]string{"a", "b", "d"}))
}

func TestHashDepsMap_KeySorted(t *testing.T) {
	a := HashDepsMap(map[string]string{"x": "1", "y": "2"})
	b := HashDepsMap(map[string]string{"y": "2", "x": "1"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, HashDepsMap(map[string]string{"x": "1", "y": "3"}))
}

func TestRoundTrip(t *testing.T) {
	c := newTestCache(t)
	deps := []string{"src/a.py:100", "src/b.py:200"}

	require.NoError(t, c.SetWithDeps("entropy_metrics", map[string]float64{"h_sys": 0.4}, deps, 0))

	raw, recompute := c.GetWithDeps("entropy_metrics", deps, false)
	assert.False(t, recompute)

	var got map[string]float64
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.InDelta(t, 0.4, got["h_sys"], 1e-9)
}

func TestGetWithDeps_MutatedDepsForceRecompute(t *testing.T) {
	c := newTestCache(t)
	deps := []string{"src/a.py:100", "src/b.py:200"}
	require.NoError(t, c.SetWithDeps("k", "v", deps, 0))

	mutated := []string{"src/a.py:101", "src/b.py:200"}
	raw, recompute := c.GetWithDeps("k", mutated, false)
	assert.True(t, recompute)
	assert.Nil(t, raw)
}

func TestGetWithDeps_ForceAndMissing(t *testing.T) {
	c := newTestCache(t)
	deps := []string{"d"}
	require.NoError(t, c.SetWithDeps("k", "v", deps, 0))

	_, recompute := c.GetWithDeps("k", deps, true)
	assert.True(t, recompute, "force always recomputes")

	_, recompute = c.GetWithDeps("absent", deps, false)
	assert.True(t, recompute, "missing key recomputes")
}

func TestGetWithDeps_TTLExpiry(t *testing.T) {
	c := newTestCache(t)
	deps := []string{"d"}
	require.NoError(t, c.SetWithDeps("k", "v", deps, time.Hour))
	require.NoError(t, c.SetWithDeps("forever", "v", deps, 0))

	// The expiry is stored as an absolute timestamp computed at write time;
	// entries without a TTL carry none.
	raw, err := os.ReadFile(c.file)
	require.NoError(t, err)
	var data map[string]Entry
	require.NoError(t, json.Unmarshal(raw, &data))
	require.NotNil(t, data["k"].Expires)
	assert.WithinDuration(t, data["k"].Timestamp.Add(time.Hour), *data["k"].Expires, time.Second)
	assert.Nil(t, data["forever"].Expires)

	_, recompute := c.GetWithDeps("k", deps, false)
	assert.False(t, recompute)

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, recompute = c.GetWithDeps("k", deps, false)
	assert.True(t, recompute, "elapsed TTL recomputes")
}

func TestGet_ReturnsStoredValueOrNil(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.SetWithDeps("k", 42, []string{"d"}, 0))

	raw, err := c.Get("k")
	require.NoError(t, err)
	assert.JSONEq(t, "42", string(raw))

	raw, err = c.Get("absent")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestClearAndInfo(t *testing.T) {
	c := newTestCache(t)

	info := c.Info()
	assert.False(t, info.Exists)

	require.NoError(t, c.SetWithDeps("a", 1, []string{"d"}, 0))
	require.NoError(t, c.SetWithDeps("b", 2, []string{"d"}, 0))

	info = c.Info()
	assert.True(t, info.Exists)
	assert.Equal(t, 2, info.Entries)
	assert.Equal(t, []string{"a", "b"}, info.Keys)
	assert.Positive(t, info.SizeBytes)

	require.NoError(t, c.Clear())
	assert.False(t, c.Info().Exists)
	require.NoError(t, c.Clear(), "clearing an absent cache is not an error")
}

func TestGetWithDeps_CorruptFileRecomputes(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, os.WriteFile(c.file, []byte("{not json"), 0o644))

	_, recompute := c.GetWithDeps("k", []string{"d"}, false)
	assert.True(t, recompute)
}

func TestSetWithDeps_OverwritesExistingKey(t *testing.T) {
	c := newTestCache(t)
	deps := []string{"d1"}
	require.NoError(t, c.SetWithDeps("k", "old", deps, 0))
	require.NoError(t, c.SetWithDeps("k", "new", []string{"d2"}, 0))

	raw, recompute := c.GetWithDeps("k", []string{"d2"}, false)
	assert.False(t, recompute)
	assert.JSONEq(t, `"new"`, string(raw))

	assert.Equal(t, 1, c.Info().Entries)
}
