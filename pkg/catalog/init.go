package catalog

import (
	"os"
	"path/filepath"

	"github.com/AmirTlinov/compas/pkg/hashutil"
)

// BootstrapPack is one starter plugin.toml the init operation can
// write into a fresh repository's plugins directory.
type BootstrapPack struct {
	PluginID string
	Path     string // relative to <repo>/.agents/mcp/compas/plugins/<PluginID>/
	Content  string
}

// DefaultBootstrapPacks returns the built-in starter packs a fresh
// repo gets on `compas init`: a single minimal LOC/duplicates pack
// (BuildInitPlan adds the starter quality_contract.toml separately).
// Kept intentionally small; most repos will add their own plugins
// after init.
func DefaultBootstrapPacks() []BootstrapPack {
	return []BootstrapPack{
		{
			PluginID: "core-hygiene",
			Path:     "plugin.toml",
			Content: `[plugin]
id = "core-hygiene"
description = "Baseline LOC and duplicate-file checks for a freshly bootstrapped repository."

[tool_policy]
mode = "allowlist"
allow_commands = []

[checks.loc]
include_globs = ["src/**/*.rs", "src/**/*.go", "src/**/*.ts"]
max_loc = 400

[checks.duplicates]
include_globs = ["src/**/*"]
max_file_bytes = 1048576
`,
		},
	}
}

// Plan describes where init would write files, without writing them —
// callers apply it (Apply) or print it dry-run.
type Plan struct {
	Writes []PlannedWrite
}

type PlannedWrite struct {
	AbsPath string
	Content []byte
}

// defaultQualityContract is staged by init so a fresh repo can ratchet
// and write a baseline immediately, rather than discovering
// config.quality_contract_missing on its first `validate --write-baseline`.
const defaultQualityContract = `min_trust_score = 60
allow_trust_drop = false
allow_coverage_drop = false
max_weighted_risk_increase = 5
max_scope_narrowing = 0.2

[baseline]
snapshot_path = ".agents/mcp/compas/baselines/quality_snapshot.json"
`

// BuildInitPlan stages DefaultBootstrapPacks() under repoRoot's
// managed plugins directory, plus a starter quality_contract.toml.
func BuildInitPlan(repoRoot string) Plan {
	base := filepath.Join(repoRoot, ".agents", "mcp", "compas", "plugins")
	var plan Plan
	for _, pack := range DefaultBootstrapPacks() {
		plan.Writes = append(plan.Writes, PlannedWrite{
			AbsPath: filepath.Join(base, pack.PluginID, pack.Path),
			Content: []byte(pack.Content),
		})
	}
	plan.Writes = append(plan.Writes, PlannedWrite{
		AbsPath: filepath.Join(repoRoot, ".agents", "mcp", "compas", "quality_contract.toml"),
		Content: []byte(defaultQualityContract),
	})
	return plan
}

// Apply writes every planned file via tmp+rename. Existing files are
// left untouched unless overwrite is true, keeping init idempotent and
// non-destructive by default.
func (p Plan) Apply(overwrite bool) error {
	for _, w := range p.Writes {
		if !overwrite {
			if _, err := os.Stat(w.AbsPath); err == nil {
				continue
			}
		}
		if err := hashutil.WriteFileAtomic(w.AbsPath, w.Content, 0o644); err != nil {
			return err
		}
	}
	return nil
}
