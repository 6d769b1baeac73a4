// Package depcache memoizes expensive metric computations in a single JSON
// file per target directory. An entry is valid only while the hash of its
// declared dependencies matches; the hash is the sole invalidation signal,
// and values are never re-validated against underlying content.
//
// No locking: one caller per target directory is assumed. Concurrent
// writers race and the last write wins.
package depcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrCorrupted signals an unreadable cache file.
var ErrCorrupted = errors.New("cache file corrupted")

// Entry is one cached value with its validity metadata.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	DepsHash  string          `json:"deps_hash,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	// Expires is an absolute expiry computed at write time; nil means no
	// expiry.
	Expires *time.Time `json:"expires,omitempty"`
}

// Info describes the cache file for introspection.
type Info struct {
	Exists    bool     `json:"exists"`
	Entries   int      `json:"entries"`
	Keys      []string `json:"keys,omitempty"`
	SizeBytes int64    `json:"size_bytes,omitempty"`
}

// Cache is a dependency-hashed memoization store.
type Cache struct {
	dir  string
	file string
	now  func() time.Time
}

// New creates a cache rooted at targetDir/dirName. The directory is created
// on first use along with a .gitignore so cache contents never land in
// version control.
func New(targetDir, dirName, fileName string) (*Cache, error) {
	dir := filepath.Join(targetDir, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	gitignore := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignore); os.IsNotExist(err) {
		if err := os.WriteFile(gitignore, []byte("*\n!.gitignore\n"), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write cache .gitignore: %w", err)
		}
	}
	return &Cache{
		dir:  dir,
		file: filepath.Join(dir, fileName),
		now:  time.Now,
	}, nil
}

// HashDeps produces a stable digest over a dependency list. The list is
// sorted first, so ordering does not affect validity.
func HashDeps(deps []string) string {
	sorted := make([]string, len(deps))
	copy(sorted, deps)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(sum[:])[:12]
}

// HashDepsMap produces a stable digest over a dependency map, key-sorted.
func HashDepsMap(deps map[string]string) string {
	keys := make([]string, 0, len(deps))
	for k := range deps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+deps[k])
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:12]
}

// Get returns the stored raw value for key, or nil when absent.
func (c *Cache) Get(key string) (json.RawMessage, error) {
	data, err := c.load()
	if err != nil {
		return nil, err
	}
	entry, ok := data[key]
	if !ok {
		return nil, nil
	}
	return entry.Value, nil
}

// GetWithDeps returns (value, needsRecompute). needsRecompute is true iff
// force is set, no cache file exists, the stored hash mismatches, or the
// entry has expired. A corrupt cache file also forces recompute rather than
// failing the caller.
func (c *Cache) GetWithDeps(key string, deps []string, force bool) (json.RawMessage, bool) {
	if force {
		return nil, true
	}
	data, err := c.load()
	if err != nil || data == nil {
		return nil, true
	}
	entry, ok := data[key]
	if !ok {
		return nil, true
	}
	if entry.DepsHash != HashDeps(deps) {
		return nil, true
	}
	if entry.Expires != nil && c.now().After(*entry.Expires) {
		return nil, true
	}
	return entry.Value, false
}

// SetWithDeps stores value under key with the dependency hash. A non-zero
// ttl is converted to an absolute expiry at write time.
func (c *Cache) SetWithDeps(key string, value any, deps []string, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	data, err := c.load()
	if err != nil {
		return err
	}
	if data == nil {
		data = map[string]Entry{}
	}
	entry := Entry{
		Value:     raw,
		DepsHash:  HashDeps(deps),
		Timestamp: c.now(),
	}
	if ttl > 0 {
		expires := c.now().Add(ttl)
		entry.Expires = &expires
	}
	data[key] = entry
	return c.save(data)
}

// Clear deletes the cache file.
func (c *Cache) Clear() error {
	if err := os.Remove(c.file); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// Info reports whether the cache file exists, its entry count, keys and
// size.
func (c *Cache) Info() Info {
	st, err := os.Stat(c.file)
	if err != nil {
		return Info{Exists: false}
	}
	data, err := c.load()
	if err != nil {
		return Info{Exists: false}
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Info{
		Exists:    true,
		Entries:   len(data),
		Keys:      keys,
		SizeBytes: st.Size(),
	}
}

func (c *Cache) load() (map[string]Entry, error) {
	raw, err := os.ReadFile(c.file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}
	var data map[string]Entry
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return data, nil
}

func (c *Cache) save(data map[string]Entry) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}
	tmp := c.file + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := os.Rename(tmp, c.file); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename cache: %w", err)
	}
	return nil
}
