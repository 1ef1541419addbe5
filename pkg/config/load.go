package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"
)

var logger = slog.Default().With("component", "config")

// Reserved path layout under the repository's managed config directory.
const (
	PluginsDir           = ".agents/mcp/compas/plugins"
	QualityContractFile  = ".agents/mcp/compas/quality_contract.toml"
	EnvRegistryFile      = ".agents/mcp/compas/env_registry.toml"
	AllowlistFile        = ".agents/mcp/compas/allowlist.toml"
	FailureModesFile     = ".agents/mcp/compas/failure_modes.toml"
)

var idRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)

// rawPluginManifest mirrors plugin.toml's on-disk shape exactly, with
// DisallowUnknownFields enforcing the "unknown fields in any manifest
// fail the load" invariant.
type rawPluginManifest struct {
	Plugin struct {
		ID              string   `toml:"id"`
		Description     string   `toml:"description"`
		ToolImportGlobs []string `toml:"tool_import_globs,omitempty"`
	} `toml:"plugin"`
	ToolPolicy ToolPolicy            `toml:"tool_policy"`
	Tools      []ToolConfig          `toml:"tools,omitempty"`
	Checks     ChecksConfig          `toml:"checks,omitempty"`
	Gate       map[string]gateTools  `toml:"gate,omitempty"`
}

type gateTools struct {
	Tools []string `toml:"tools,omitempty"`
}

type rawToolManifest struct {
	Tool ToolConfig `toml:"tool"`
}

// Load walks repoRoot's reserved manifest layout and returns the merged
// RepoConfig, or an *ApiError describing why loading failed.
func Load(repoRoot string) (*RepoConfig, error) {
	cfg, err := load(repoRoot)
	if err != nil {
		logger.Error("config load failed", "repo_root", repoRoot, "error", err)
		return nil, err
	}
	logger.Debug("config loaded", "repo_root", repoRoot, "plugins", len(cfg.Plugins), "tools", len(cfg.Tools))
	return cfg, nil
}

func load(repoRoot string) (*RepoConfig, error) {
	pluginsDir := filepath.Join(repoRoot, PluginsDir)
	info, err := os.Stat(pluginsDir)
	if err != nil || !info.IsDir() {
		return nil, &ApiError{Code: ErrPluginsDirMissing, Message: pluginsDir}
	}

	entries, err := os.ReadDir(pluginsDir)
	if err != nil {
		return nil, &ApiError{Code: ErrPluginsDirMissing, Message: err.Error()}
	}

	var pluginDirNames []string
	for _, e := range entries {
		if e.IsDir() {
			pluginDirNames = append(pluginDirNames, e.Name())
		}
	}
	sort.Strings(pluginDirNames)

	if len(pluginDirNames) == 0 {
		return nil, &ApiError{Code: ErrEmpty, Message: "no plugins found under " + pluginsDir}
	}

	cfg := &RepoConfig{
		RepoRoot:            repoRoot,
		Plugins:             make(map[string]*PluginConfig),
		Tools:               make(map[string]*ToolConfig),
		Gates:               make(map[GateKind][]string),
		FailureModesCatalog: make(map[string]FailureMode),
		EnvRegistry:         make(map[string]EnvRegistryEntry),
		AllowlistValid:      true,
	}

	for _, dirName := range pluginDirNames {
		pluginPath := filepath.Join(pluginsDir, dirName, "plugin.toml")
		plugin, err := loadPlugin(repoRoot, pluginPath)
		if err != nil {
			return nil, err
		}
		if err := validateID(plugin.ID); err != nil {
			return nil, &ApiError{Code: ErrParseFailed, Message: fmt.Sprintf("%s: plugin id %q: %v", pluginPath, plugin.ID, err)}
		}
		if err := validateDescription(plugin.Description); err != nil {
			return nil, &ApiError{Code: ErrParseFailed, Message: fmt.Sprintf("%s: %v", pluginPath, err)}
		}
		if _, exists := cfg.Plugins[plugin.ID]; exists {
			return nil, &ApiError{Code: ErrParseFailed, Message: fmt.Sprintf("duplicate plugin id %q", plugin.ID)}
		}
		if isEmptyPlugin(plugin) {
			return nil, &ApiError{Code: ErrParseFailed, Message: fmt.Sprintf("%s: plugin %q has no payload (no tools, imports, checks, or gate entries)", pluginPath, plugin.ID)}
		}

		for i := range plugin.Tools {
			t := &plugin.Tools[i]
			t.OwnerPluginID = plugin.ID
			t.SourcePath = pluginPath
			if err := validateID(t.ID); err != nil {
				return nil, &ApiError{Code: ErrParseFailed, Message: fmt.Sprintf("%s: tool id %q: %v", pluginPath, t.ID, err)}
			}
			if _, dup := cfg.Tools[t.ID]; dup {
				return nil, &ApiError{Code: ErrDuplicateToolID, Message: t.ID}
			}
			cfg.Tools[t.ID] = t
		}

		if plugin.ToolPolicy.Mode == ToolPolicyAllowAny {
			cfg.AllowAnyPlugins = append(cfg.AllowAnyPlugins, plugin.ID)
		}

		cfg.Plugins[plugin.ID] = plugin
		mergeChecks(&cfg.Checks, plugin.Checks)

		for kind, ids := range plugin.Gates {
			cfg.Gates[kind] = append(cfg.Gates[kind], ids...)
		}
	}

	// Resolve imported tools after all plugins are registered, so duplicate
	// detection spans both inline and imported tools uniformly.
	for _, dirName := range pluginDirNames {
		plugin := cfg.Plugins[pluginDirNameToID(cfg, dirName)]
		if plugin == nil {
			continue
		}
		if err := importTools(repoRoot, plugin, cfg); err != nil {
			return nil, err
		}
	}

	for kind, ids := range cfg.Gates {
		for _, id := range ids {
			if _, ok := cfg.Tools[id]; !ok {
				return nil, &ApiError{Code: ErrUnknownGateTool, Message: fmt.Sprintf("gate %s references unknown tool %q", kind, id)}
			}
		}
	}

	if err := loadQualityContract(repoRoot, cfg); err != nil {
		return nil, err
	}
	if err := loadEnvRegistry(repoRoot, cfg); err != nil {
		return nil, err
	}
	if err := loadAllowlist(repoRoot, cfg); err != nil {
		return nil, err
	}
	if err := loadFailureModes(repoRoot, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// pluginDirNameToID is a small helper kept deliberately simple: plugin
// directory names are not required to equal the plugin id, so re-deriving
// the id from the directory requires remembering the mapping. We stash it
// via SourcePath instead of a side map, scanning is cheap at this scale.
func pluginDirNameToID(cfg *RepoConfig, dirName string) string {
	want := filepath.Join(cfg.RepoRoot, PluginsDir, dirName, "plugin.toml")
	for id, p := range cfg.Plugins {
		if p.SourcePath == want {
			return id
		}
	}
	return ""
}

func loadPlugin(repoRoot, path string) (*PluginConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ApiError{Code: ErrParseFailed, Message: fmt.Sprintf("read %s: %v", path, err)}
	}

	var raw rawPluginManifest
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, parseErr(path, err)
	}

	plugin := &PluginConfig{
		ID:              raw.Plugin.ID,
		Description:     raw.Plugin.Description,
		ToolImportGlobs: raw.Plugin.ToolImportGlobs,
		ToolPolicy:      raw.ToolPolicy,
		Tools:           raw.Tools,
		Checks:          raw.Checks,
		Gates:           make(map[GateKind][]string),
		SourcePath:      path,
	}
	if plugin.ToolPolicy.Mode == "" {
		plugin.ToolPolicy.Mode = ToolPolicyAllowlist
	}
	for kindStr, gt := range raw.Gate {
		plugin.Gates[GateKind(kindStr)] = gt.Tools
	}
	return plugin, nil
}

func importTools(repoRoot string, plugin *PluginConfig, cfg *RepoConfig) error {
	for _, pattern := range plugin.ToolImportGlobs {
		if !doublestar.ValidatePattern(pattern) {
			return &ApiError{Code: ErrImportGlobInvalid, Message: fmt.Sprintf("%s: %q", plugin.SourcePath, pattern)}
		}
		matches, err := doublestar.Glob(os.DirFS(repoRoot), pattern)
		if err != nil {
			return &ApiError{Code: ErrImportGlobInvalid, Message: fmt.Sprintf("%s: %q: %v", plugin.SourcePath, pattern, err)}
		}
		sort.Strings(matches)
		for _, rel := range matches {
			importPath := filepath.Join(repoRoot, rel)
			data, err := os.ReadFile(importPath)
			if err != nil {
				return &ApiError{Code: ErrImportReadFailed, Message: importPath}
			}
			var raw rawToolManifest
			dec := toml.NewDecoder(bytes.NewReader(data))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&raw); err != nil {
				return &ApiError{Code: ErrImportParseFailed, Message: fmt.Sprintf("%s: %v", importPath, err)}
			}
			t := raw.Tool
			if err := validateID(t.ID); err != nil {
				return &ApiError{Code: ErrImportParseFailed, Message: fmt.Sprintf("%s: tool id %q: %v", importPath, t.ID, err)}
			}
			t.OwnerPluginID = plugin.ID
			t.SourcePath = importPath
			if _, dup := cfg.Tools[t.ID]; dup {
				return &ApiError{Code: ErrDuplicateToolID, Message: t.ID}
			}
			cfg.Tools[t.ID] = &t
			plugin.Tools = append(plugin.Tools, t)
		}
	}
	return nil
}

func isEmptyPlugin(p *PluginConfig) bool {
	if len(p.Tools) > 0 || len(p.ToolImportGlobs) > 0 {
		return false
	}
	if p.Checks.LOC != nil || p.Checks.Boundary != nil || p.Checks.PublicSurface != nil ||
		p.Checks.Duplicates != nil || p.Checks.SupplyChain != nil || p.Checks.ToolBudget != nil {
		return false
	}
	if len(p.Gates) > 0 {
		return false
	}
	return true
}

func validateID(id string) error {
	if !idRegex.MatchString(id) {
		return fmt.Errorf("id %q does not match %s", id, idRegex.String())
	}
	return nil
}

func validateDescription(d string) error {
	if len(d) < 12 || len(d) > 220 {
		return fmt.Errorf("description length %d outside [12,220]", len(d))
	}
	return nil
}

// mergeChecks unions check configuration contributed by each plugin.
// Globs are unioned and de-duplicated; numeric ceilings take the most
// restrictive (minimum) value across plugins, biasing fail-closed when
// plugins disagree.
func mergeChecks(dst *ChecksConfig, src ChecksConfig) {
	if src.LOC != nil {
		if dst.LOC == nil {
			dst.LOC = &LOCCheckConfig{}
		}
		dst.LOC.IncludeGlobs = unionSorted(dst.LOC.IncludeGlobs, src.LOC.IncludeGlobs)
		dst.LOC.ExcludeGlobs = unionSorted(dst.LOC.ExcludeGlobs, src.LOC.ExcludeGlobs)
		dst.LOC.MaxLOC = minPositive(dst.LOC.MaxLOC, src.LOC.MaxLOC)
	}
	if src.Boundary != nil {
		if dst.Boundary == nil {
			dst.Boundary = &BoundaryCheckConfig{}
		}
		dst.Boundary.Rules = append(dst.Boundary.Rules, src.Boundary.Rules...)
		dst.Boundary.StripRustCfgTestBlocks = dst.Boundary.StripRustCfgTestBlocks || src.Boundary.StripRustCfgTestBlocks
	}
	if src.PublicSurface != nil {
		if dst.PublicSurface == nil {
			dst.PublicSurface = &PublicSurfaceCheckConfig{}
		}
		dst.PublicSurface.IncludeGlobs = unionSorted(dst.PublicSurface.IncludeGlobs, src.PublicSurface.IncludeGlobs)
		dst.PublicSurface.MaxPubItems = minPositive(dst.PublicSurface.MaxPubItems, src.PublicSurface.MaxPubItems)
	}
	if src.Duplicates != nil {
		if dst.Duplicates == nil {
			dst.Duplicates = &DuplicatesCheckConfig{}
		}
		dst.Duplicates.IncludeGlobs = unionSorted(dst.Duplicates.IncludeGlobs, src.Duplicates.IncludeGlobs)
		if dst.Duplicates.MaxFileBytes == 0 || (src.Duplicates.MaxFileBytes > 0 && src.Duplicates.MaxFileBytes < dst.Duplicates.MaxFileBytes) {
			dst.Duplicates.MaxFileBytes = src.Duplicates.MaxFileBytes
		}
	}
	if src.SupplyChain != nil {
		if dst.SupplyChain == nil {
			dst.SupplyChain = &SupplyChainCheckConfig{}
		}
		dst.SupplyChain.ManifestGlobs = unionSorted(dst.SupplyChain.ManifestGlobs, src.SupplyChain.ManifestGlobs)
	}
	if src.ToolBudget != nil {
		if dst.ToolBudget == nil {
			dst.ToolBudget = &ToolBudgetCheckConfig{}
		}
		dst.ToolBudget.MaxToolsTotal = minPositive(dst.ToolBudget.MaxToolsTotal, src.ToolBudget.MaxToolsTotal)
		dst.ToolBudget.MaxToolsPerPlugin = minPositive(dst.ToolBudget.MaxToolsPerPlugin, src.ToolBudget.MaxToolsPerPlugin)
		dst.ToolBudget.MaxGateToolsPerKind = minPositive(dst.ToolBudget.MaxGateToolsPerKind, src.ToolBudget.MaxGateToolsPerKind)
		dst.ToolBudget.MaxChecksTotal = minPositive(dst.ToolBudget.MaxChecksTotal, src.ToolBudget.MaxChecksTotal)
	}
}

func unionSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func minPositive(a, b int) int {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	if b < a {
		return b
	}
	return a
}

func loadQualityContract(repoRoot string, cfg *RepoConfig) error {
	path := filepath.Join(repoRoot, QualityContractFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// quality_contract.toml is optional: a repo with no governance
			// contract can still warn/strict validate, it just never
			// ratchets and can never write a baseline (see
			// qualitydelta.ValidateBaselineWrite / config.ErrQualityContractMissing,
			// both enforced at write time, not load time).
			return nil
		}
		return &ApiError{Code: ErrParseFailed, Message: fmt.Sprintf("%s: %v", path, err)}
	}
	var qc QualityContract
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&qc); err != nil {
		return parseErr(path, err)
	}
	cfg.QualityContract = &qc
	return nil
}

func loadEnvRegistry(repoRoot string, cfg *RepoConfig) error {
	path := filepath.Join(repoRoot, EnvRegistryFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.EnvRegistryPresent = false
			return nil // absence is handled by the env_registry check, not the loader.
		}
		return &ApiError{Code: ErrParseFailed, Message: fmt.Sprintf("%s: %v", path, err)}
	}
	cfg.EnvRegistryPresent = true
	var doc struct {
		Entries []EnvRegistryEntry `toml:"entries"`
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		cfg.EnvRegistryValid = false
		return nil // malformed registry surfaces as env_registry.registry_invalid, not a load abort.
	}
	cfg.EnvRegistryValid = true
	for _, e := range doc.Entries {
		cfg.EnvRegistry[e.Name] = e
	}
	return nil
}

func loadAllowlist(repoRoot string, cfg *RepoConfig) error {
	path := filepath.Join(repoRoot, AllowlistFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &ApiError{Code: ErrParseFailed, Message: fmt.Sprintf("%s: %v", path, err)}
	}
	var doc struct {
		Exceptions []ExceptionEntry `toml:"exceptions"`
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		// An invalid allowlist is reported as exception.allowlist_invalid by
		// validate.Run, not a load-time abort: a malformed
		// allowlist should suppress nothing, not crash validate().
		cfg.Allowlist = nil
		cfg.AllowlistValid = false
		return nil
	}
	cfg.Allowlist = doc.Exceptions
	return nil
}

func loadFailureModes(repoRoot string, cfg *RepoConfig) error {
	path := filepath.Join(repoRoot, FailureModesFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &ApiError{Code: ErrParseFailed, Message: fmt.Sprintf("%s: %v", path, err)}
	}
	var doc struct {
		Modes []FailureMode `toml:"modes"`
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return &ApiError{Code: ErrFailureModesInvalid, Message: fmt.Sprintf("%s: %v", path, err)}
	}
	for _, m := range doc.Modes {
		if err := validateID(m.ID); err != nil {
			return &ApiError{Code: ErrFailureModesInvalid, Message: fmt.Sprintf("%s: mode id %q: %v", path, m.ID, err)}
		}
		cfg.FailureModesCatalog[m.ID] = m
	}
	return nil
}

// ConfigHash computes the SHA-256 of the canonically serialized checks
// model: the SHA-256 of the canonical serialized RepoConfig.checks
// model, not the raw TOML bytes.
func (c *RepoConfig) ConfigHash() (string, error) {
	return configHash(c.Checks)
}
