// Package config provides configuration loading for complianced.
//
// Precedence (highest to lowest):
//  1. Environment variables (COMPLIANCED_GATES_TEST_TIMEOUT_SECONDS, ...)
//  2. .compliance.yaml in the target directory
//  3. Hardcoded defaults
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Entropy   EntropyConfig   `koanf:"entropy"`
	Gates     GatesConfig     `koanf:"gates"`
	Toolchain ToolchainConfig `koanf:"toolchain"`
	Cache     CacheConfig     `koanf:"cache"`
	Watch     WatchConfig     `koanf:"watch"`
}

// EntropyConfig controls the compliance-score computation.
type EntropyConfig struct {
	// Weights must sum to 1.0.
	DirWeight  float64 `koanf:"dir_weight"`
	SigWeight  float64 `koanf:"sig_weight"`
	TestWeight float64 `koanf:"test_weight"`

	// Status band upper bounds for h_sys.
	ExcellentThreshold float64 `koanf:"excellent_threshold"`
	GoodThreshold      float64 `koanf:"good_threshold"`
	WarningThreshold   float64 `koanf:"warning_threshold"`

	// Directory sets for c_dir. RequiredDirs applies to managed projects,
	// RequiredSelfDirs when the target is this tool's own repository
	// (detected via SelfMarker).
	RequiredDirs     []string `koanf:"required_dirs"`
	RequiredSelfDirs []string `koanf:"required_self_dirs"`
	OptionalDirs     []string `koanf:"optional_dirs"`
	SelfMarker       string   `koanf:"self_marker"`

	// Hotspot heuristics.
	LargeFileBytes   int64 `koanf:"large_file_bytes"`
	DeepNestingDepth int   `koanf:"deep_nesting_depth"`
}

// GatesConfig controls the audit pipeline.
type GatesConfig struct {
	// VersionExtensions are the file extensions Gate 1 scans.
	VersionExtensions []string `koanf:"version_extensions"`
	// SkipFragments excludes any path containing one of these fragments.
	SkipFragments []string `koanf:"skip_fragments"`

	DocCoverageThreshold         float64 `koanf:"doc_coverage_threshold"`
	StyleComplianceThreshold     float64 `koanf:"style_compliance_threshold"`
	ReferenceComplianceThreshold float64 `koanf:"reference_compliance_threshold"`

	TestTimeoutSeconds  int `koanf:"test_timeout_seconds"`
	AuditTimeoutSeconds int `koanf:"audit_timeout_seconds"`

	// HoldingDir holds generated spec workspaces; cleanup scans it.
	HoldingDir string `koanf:"holding_dir"`
	// ProtectedFragment exempts matching entries from cleanup.
	ProtectedFragment string `koanf:"protected_fragment"`
}

// ToolchainConfig names the external collaborator commands.
type ToolchainConfig struct {
	TestRunner   []string `koanf:"test_runner"`
	TestArgs     []string `koanf:"test_args"`
	CollectArgs  []string `koanf:"collect_args"`
	StyleAuditor []string `koanf:"style_auditor"`

	CollectTimeoutSeconds int `koanf:"collect_timeout_seconds"`
}

// CacheConfig controls the dependency-hashed metrics cache.
type CacheConfig struct {
	DirName    string `koanf:"dir_name"`
	FileName   string `koanf:"file_name"`
	TTLSeconds int    `koanf:"ttl_seconds"`
}

// WatchConfig controls audit watch mode.
type WatchConfig struct {
	DebounceMillis int `koanf:"debounce_millis"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Entropy: EntropyConfig{
			DirWeight:  0.4,
			SigWeight:  0.3,
			TestWeight: 0.3,

			ExcellentThreshold: 0.3,
			GoodThreshold:      0.5,
			WarningThreshold:   0.7,

			RequiredDirs:     []string{"memory_bank", "src", "tests"},
			RequiredSelfDirs: []string{"cmd", "internal", "docs", "templates", "tests"},
			OptionalDirs:     []string{"examples", "utils"},
			SelfMarker:       "cmd/compliancectl/main.go",

			LargeFileBytes:   100_000,
			DeepNestingDepth: 5,
		},
		Gates: GatesConfig{
			VersionExtensions: []string{".py", ".md", ".json"},
			SkipFragments: []string{
				".git", "node_modules", "__pycache__", ".venv",
				".metrics_cache", ".compliance_checkpoints", ".compliance_backups",
			},
			DocCoverageThreshold:         80,
			StyleComplianceThreshold:     80,
			ReferenceComplianceThreshold: 95,
			TestTimeoutSeconds:           120,
			AuditTimeoutSeconds:          60,
			HoldingDir:                   "specs",
			ProtectedFragment:            "compliance-core",
		},
		Toolchain: ToolchainConfig{
			TestRunner:            []string{"python", "-m", "pytest"},
			TestArgs:              []string{"-v", "--tb=short"},
			CollectArgs:           []string{"--collect-only", "-q"},
			StyleAuditor:          []string{"style-audit", "--json"},
			CollectTimeoutSeconds: 60,
		},
		Cache: CacheConfig{
			DirName:    ".metrics_cache",
			FileName:   "metrics.json",
			TTLSeconds: 3600,
		},
		Watch: WatchConfig{
			DebounceMillis: 500,
		},
	}
}

// Validate rejects configurations the engines cannot run with.
func (c *Config) Validate() error {
	sum := c.Entropy.DirWeight + c.Entropy.SigWeight + c.Entropy.TestWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("entropy weights must sum to 1.0, got %.4f", sum)
	}
	if c.Entropy.WarningThreshold <= 0 || c.Entropy.WarningThreshold > 1 {
		return fmt.Errorf("warning threshold must be in (0,1], got %v", c.Entropy.WarningThreshold)
	}
	if c.Gates.TestTimeoutSeconds <= 0 {
		return fmt.Errorf("test timeout must be positive, got %d", c.Gates.TestTimeoutSeconds)
	}
	if len(c.Toolchain.TestRunner) == 0 {
		return fmt.Errorf("test runner command must not be empty")
	}
	if c.Cache.DirName == "" || c.Cache.FileName == "" {
		return fmt.Errorf("cache dir and file names must not be empty")
	}
	return nil
}

// TestTimeout returns the Gate 2 run timeout.
func (c *Config) TestTimeout() time.Duration {
	return time.Duration(c.Gates.TestTimeoutSeconds) * time.Second
}

// AuditTimeout returns the style auditor timeout.
func (c *Config) AuditTimeout() time.Duration {
	return time.Duration(c.Gates.AuditTimeoutSeconds) * time.Second
}

// CollectTimeout returns the test collection timeout.
func (c *Config) CollectTimeout() time.Duration {
	return time.Duration(c.Toolchain.CollectTimeoutSeconds) * time.Second
}

// CacheTTL returns the cache entry lifetime; zero disables expiry.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// Debounce returns the watch debounce window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMillis) * time.Millisecond
}
