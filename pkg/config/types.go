// Package config loads and merges the repo-side plugin and tool manifests
// that make up a Compas RepoConfig: plugin.toml / tool.toml / quality_contract.toml /
// env_registry.toml / allowlist.toml / failure_modes.toml under a fixed
// directory layout.
//
// Load is the single entry point; it decodes the six-manifest TOML layout
// with strict unknown-field rejection.
package config

import "time"

// ToolPolicyMode controls which commands a plugin's tools may invoke.
type ToolPolicyMode string

const (
	ToolPolicyAllowlist ToolPolicyMode = "allowlist"
	ToolPolicyAllowAny  ToolPolicyMode = "allow_any"
)

// GateKind identifies one of the three ordered tool chains.
type GateKind string

const (
	GateCIFast    GateKind = "ci_fast"
	GateCI        GateKind = "ci"
	GateFlagship  GateKind = "flagship"
)

// AllGateKinds lists every recognized gate kind, in canonical order.
func AllGateKinds() []GateKind {
	return []GateKind{GateCIFast, GateCI, GateFlagship}
}

// ReceiptContract describes the minimum shape a tool's execution receipt
// must satisfy for the gate runner to accept it as a legitimate run.
type ReceiptContract struct {
	MinDurationMs       int64  `toml:"min_duration_ms"`
	MinStdoutBytes      int64  `toml:"min_stdout_bytes"`
	ExpectStdoutPattern string `toml:"expect_stdout_pattern,omitempty"`
}

// ToolConfig is a single executable tool, whether declared inline in a
// plugin.toml or imported from a tool.toml via tool_import_globs.
type ToolConfig struct {
	ID              string            `toml:"id"`
	Description     string            `toml:"description"`
	Command         string            `toml:"command"`
	Args            []string          `toml:"args,omitempty"`
	TimeoutMs       int64             `toml:"timeout_ms"`
	MaxStdoutBytes  int64             `toml:"max_stdout_bytes"`
	MaxStderrBytes  int64             `toml:"max_stderr_bytes"`
	Env             map[string]string `toml:"env,omitempty"`
	ReceiptContract *ReceiptContract  `toml:"receipt_contract,omitempty"`

	// OwnerPluginID records which plugin owns this tool; set by the loader,
	// never present in the TOML source.
	OwnerPluginID string `toml:"-"`
	// SourcePath records the manifest file this tool was parsed from, for
	// error messages.
	SourcePath string `toml:"-"`
}

// ToolPolicy controls command-execution scope for a plugin's tools.
type ToolPolicy struct {
	Mode          ToolPolicyMode `toml:"mode"`
	AllowCommands []string       `toml:"allow_commands,omitempty"`
}

// BoundaryRule is a single named deny-pattern scan.
type BoundaryRule struct {
	Name             string   `toml:"name"`
	IncludeGlobs     []string `toml:"include_globs"`
	DenyRegex        string   `toml:"deny_regex"`
}

// LOCCheckConfig configures the lines-of-code budget check.
type LOCCheckConfig struct {
	IncludeGlobs []string `toml:"include_globs"`
	ExcludeGlobs []string `toml:"exclude_globs,omitempty"`
	MaxLOC       int      `toml:"max_loc"`
}

// BoundaryCheckConfig configures the regex boundary check.
type BoundaryCheckConfig struct {
	Rules                 []BoundaryRule `toml:"rules,omitempty"`
	StripRustCfgTestBlocks bool          `toml:"strip_rust_cfg_test_blocks,omitempty"`
}

// PublicSurfaceCheckConfig configures the public-API surface census.
type PublicSurfaceCheckConfig struct {
	IncludeGlobs []string `toml:"include_globs"`
	MaxPubItems  int      `toml:"max_pub_items"`
}

// DuplicatesCheckConfig configures the duplicate-file detector.
type DuplicatesCheckConfig struct {
	IncludeGlobs []string `toml:"include_globs"`
	MaxFileBytes int64    `toml:"max_file_bytes"`
}

// SupplyChainCheckConfig configures the manifest/lockfile pairing check.
type SupplyChainCheckConfig struct {
	ManifestGlobs []string `toml:"manifest_globs,omitempty"`
}

// ToolBudgetCheckConfig configures the tool/check count ceilings.
type ToolBudgetCheckConfig struct {
	MaxToolsTotal        int `toml:"max_tools_total,omitempty"`
	MaxToolsPerPlugin    int `toml:"max_tools_per_plugin,omitempty"`
	MaxGateToolsPerKind  int `toml:"max_gate_tools_per_kind,omitempty"`
	MaxChecksTotal       int `toml:"max_checks_total,omitempty"`
}

// ChecksConfig is the aggregated, post-merge configuration of every check.
type ChecksConfig struct {
	LOC           *LOCCheckConfig           `toml:"loc,omitempty"`
	Boundary      *BoundaryCheckConfig      `toml:"boundary,omitempty"`
	PublicSurface *PublicSurfaceCheckConfig `toml:"public_surface,omitempty"`
	Duplicates    *DuplicatesCheckConfig    `toml:"duplicates,omitempty"`
	SupplyChain   *SupplyChainCheckConfig   `toml:"supply_chain,omitempty"`
	ToolBudget    *ToolBudgetCheckConfig    `toml:"tool_budget,omitempty"`
}

// PluginConfig is one loaded plugin.toml, with inline and imported tools
// already merged into Tools.
type PluginConfig struct {
	ID               string         `toml:"id"`
	Description      string         `toml:"description"`
	ToolImportGlobs  []string       `toml:"tool_import_globs,omitempty"`
	ToolPolicy       ToolPolicy     `toml:"tool_policy"`
	Tools            []ToolConfig   `toml:"tools,omitempty"`
	Checks           ChecksConfig   `toml:"checks,omitempty"`
	Gates            map[GateKind][]string `toml:"-"`
	SourcePath       string         `toml:"-"`
}

// ExceptionEntry is one allowlist.toml entry: a time-bounded suppression
// of a specific (rule, path) violation.
type ExceptionEntry struct {
	ID         string     `toml:"id"`
	Rule       string     `toml:"rule"`
	Path       string     `toml:"path"`
	Owner      string     `toml:"owner"`
	Reason     string     `toml:"reason"`
	ExpiresAt  *time.Time `toml:"expires_at,omitempty"`
}

// BaselineMaintenance authorizes a baseline (quality-snapshot) write in
// ratchet mode.
type BaselineMaintenance struct {
	Reason string `toml:"reason"`
	Owner  string `toml:"owner"`
}

// BaselineConfig names where the quality snapshot baseline lives.
type BaselineConfig struct {
	SnapshotPath string `toml:"snapshot_path"`
}

// ExceptionsConfig bounds how many allowlist suppressions are tolerated.
type ExceptionsConfig struct {
	MaxExceptions int `toml:"max_exceptions,omitempty"`
}

// MandatoryConfig names checks/failure-modes that must always be active.
type MandatoryConfig struct {
	Checks        []string `toml:"checks,omitempty"`
	FailureModes  []string `toml:"failure_modes,omitempty"`
}

// QualityContract is the optional governance contract loaded from
// quality_contract.toml.
type QualityContract struct {
	MinTrustScore             int              `toml:"min_trust_score"`
	AllowTrustDrop             bool             `toml:"allow_trust_drop"`
	AllowCoverageDrop          bool             `toml:"allow_coverage_drop"`
	MaxWeightedRiskIncrease    float64          `toml:"max_weighted_risk_increase"`
	MaxScopeNarrowing          float64          `toml:"max_scope_narrowing"`
	Exceptions                 ExceptionsConfig `toml:"exceptions,omitempty"`
	Receipts                   *ReceiptContract `toml:"receipts,omitempty"`
	Mandatory                  MandatoryConfig  `toml:"mandatory,omitempty"`
	Baseline                   BaselineConfig   `toml:"baseline"`
}

// EnvRegistryEntry describes one recognized environment variable.
type EnvRegistryEntry struct {
	Name      string `toml:"name"`
	Sensitive bool   `toml:"sensitive,omitempty"`
	Required  bool   `toml:"required,omitempty"`
	Default   string `toml:"default,omitempty"`
}

// FailureMode is one canonical failure-mode catalog entry used by coverage
// computation.
type FailureMode struct {
	ID          string `toml:"id"`
	Description string `toml:"description,omitempty"`
}

// RepoConfig is the fully loaded and merged configuration for one
// repository root.
type RepoConfig struct {
	RepoRoot           string
	Plugins            map[string]*PluginConfig
	Tools              map[string]*ToolConfig
	Gates              map[GateKind][]string
	Checks             ChecksConfig
	Allowlist          []ExceptionEntry
	// AllowlistValid is false when allowlist.toml exists but failed to
	// parse; validate.Run emits exception.allowlist_invalid in that
	// case rather than silently suppressing nothing.
	AllowlistValid      bool
	QualityContract    *QualityContract
	FailureModesCatalog map[string]FailureMode
	EnvRegistry        map[string]EnvRegistryEntry
	EnvRegistryPresent bool
	EnvRegistryValid   bool
	AllowAnyPlugins    []string
}
