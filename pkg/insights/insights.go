// Package insights turns raw violations into the user-facing and
// ratchet-facing analytics Compas reports: Finding v2 records, risk
// summaries, weighted risk, trust score, and failure-mode coverage.
//
// It folds a slice of violations into one report with aggregate
// severity-weighted scoring and per-severity tallies.
package insights

import (
	"sort"
	"strings"

	"github.com/AmirTlinov/compas/pkg/checks"
)

// Severity is a Finding's risk band.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityUnknown  Severity = "unknown"
)

// Finding is the v2 record produced per raw violation.
type Finding struct {
	Code       string   `json:"code"`
	Category   string   `json:"category"`
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"`
	FixRecipe  string   `json:"fix_recipe"`
	SourcePath string   `json:"source_path,omitempty"`
}

// mapping is one entry in the deterministic code -> (severity, category,
// confidence, fix_recipe) table. Families are matched by prefix, most
// specific first; classify consults a per-exact-code table before
// prefix matching so one-off codes can override their family.
type mapping struct {
	severity   Severity
	category   string
	confidence float64
	fixRecipe  string
}

var exactMappings = map[string]mapping{
	"security.allow_any_policy":         {SeverityCritical, "security", 0.95, "scope tool_policy.mode back to allowlist and declare explicit allow_commands"},
	"supply_chain.lockfile_missing":     {SeverityCritical, "security", 0.9, "commit the ecosystem's canonical lockfile alongside the manifest"},
	"supply_chain.prerelease_dependency": {SeverityMedium, "security", 0.7, "pin the dependency to a stable released version"},
	"exception.allowlist_invalid":       {SeverityHigh, "schema_config", 0.9, "fix allowlist.toml's schema; no suppression is applied while it is invalid"},
	"exception.expired":                {SeverityMedium, "contract_break", 0.95, "renew or remove the expired allowlist entry"},
	"exception.budget_exceeded":         {SeverityHigh, "contract_break", 0.9, "reduce the number of suppressed violations or raise max_exceptions deliberately"},
	"config.duplicate_tool_id":          {SeverityHigh, "schema_config", 0.95, "rename the colliding tool id in one of the plugins"},
	"config.unknown_gate_tool":          {SeverityHigh, "schema_config", 0.95, "declare the missing tool or remove it from the gate sequence"},
	"boundary.rule_violation":           {SeverityHigh, "contract_break", 0.85, "remove or rewrite the code matching the forbidden pattern"},
	"duplicates.found":                  {SeverityLow, "contract_break", 0.7, "deduplicate the identical files or factor out a shared module"},
	"surface.max_exceeded":              {SeverityLow, "contract_break", 0.6, "trim the public surface or raise max_pub_items deliberately"},
	"loc.max_exceeded":                  {SeverityLow, "contract_break", 0.6, "split the file or raise max_loc deliberately"},
	"env_registry.unregistered_usage":   {SeverityLow, "contract_break", 0.6, "register the variable in env_registry.toml"},
	"env_registry.required_missing":     {SeverityMedium, "contract_break", 0.8, "set the variable or its default in env_registry.toml"},
	"tool_budget.tools_total_exceeded":  {SeverityLow, "contract_break", 0.6, "reduce tool count or raise max_tools_total deliberately"},
}

var prefixMappings = []struct {
	prefix string
	m      mapping
}{
	{"config.", mapping{SeverityHigh, "schema_config", 0.9, "fix the manifest field named in the violation message"}},
	{"failure_modes.", mapping{SeverityHigh, "schema_config", 0.9, "fix failure_modes.toml's schema"}},
	{"supply_chain.", mapping{SeverityHigh, "security", 0.8, "address the supply-chain manifest issue named in the violation"}},
	{"quality_delta.", mapping{SeverityHigh, "quality_regression", 0.85, "investigate the regression against the quality snapshot baseline"}},
	{"boundary.", mapping{SeverityHigh, "contract_break", 0.8, "review the matched boundary rule"}},
	{"gate.receipt_contract", mapping{SeverityHigh, "runtime_risk", 0.85, "investigate why the tool's receipt did not satisfy its contract"}},
	{"gate.run_failed", mapping{SeverityMedium, "transient_tool", 0.6, "retry the gate; the tool process itself failed to run"}},
	{"gate.tool_failed", mapping{SeverityHigh, "contract_break", 0.8, "investigate the failing tool's non-zero exit"}},
	{"gate.", mapping{SeverityHigh, "schema_config", 0.8, "review the gate configuration"}},
	{"witness.", mapping{SeverityHigh, "runtime_risk", 0.85, "investigate witness write or chain-verification failure"}},
	{"loc.", mapping{SeverityLow, "contract_break", 0.5, "review the LOC check's I/O failure"}},
	{"surface.", mapping{SeverityLow, "contract_break", 0.5, "review the public surface check's I/O failure"}},
	{"duplicates.", mapping{SeverityLow, "contract_break", 0.5, "review the duplicates check's I/O failure"}},
	{"env_registry.", mapping{SeverityMedium, "contract_break", 0.6, "review the env registry"}},
	{"tool_budget.", mapping{SeverityLow, "contract_break", 0.5, "review the tool/check budget configuration"}},
}

func classify(code string) mapping {
	if m, ok := exactMappings[code]; ok {
		return m
	}
	for _, p := range prefixMappings {
		if strings.HasPrefix(code, p.prefix) {
			return p.m
		}
	}
	return mapping{SeverityUnknown, "unknown", 0.3, "investigate the unrecognized violation code"}
}

// ToFindings maps each raw violation to a Finding v2 record.
func ToFindings(violations []checks.Violation) []Finding {
	findings := make([]Finding, 0, len(violations))
	for _, v := range violations {
		m := classify(v.Code)
		findings = append(findings, Finding{
			Code:       v.Code,
			Category:   m.category,
			Severity:   m.severity,
			Confidence: m.confidence,
			FixRecipe:  m.fixRecipe,
			SourcePath: v.Path,
		})
	}
	return findings
}

// RiskSummary aggregates findings by severity.
type RiskSummary struct {
	FindingsTotal int                `json:"findings_total"`
	BySeverity    map[Severity]int   `json:"by_severity"`
}

func Summarize(findings []Finding) RiskSummary {
	rs := RiskSummary{FindingsTotal: len(findings), BySeverity: make(map[Severity]int)}
	for _, f := range findings {
		rs.BySeverity[f.Severity]++
	}
	return rs
}

// severityWeights sets how much each severity contributes to weighted risk.
var severityWeights = map[Severity]int{
	SeverityCritical: 25,
	SeverityHigh:     10,
	SeverityMedium:   4,
	SeverityLow:      1,
}

func weight(s Severity) int {
	if w, ok := severityWeights[s]; ok {
		return w
	}
	return 1
}

// WeightedRisk computes Σ count(sev) · weight(sev).
func WeightedRisk(rs RiskSummary) int {
	total := 0
	for sev, count := range rs.BySeverity {
		total += count * weight(sev)
	}
	return total
}

// TrustScore computes a deterministic, monotone (non-increasing in
// finding count) score in [0, 100] and its letter grade:
// trust = clamp(100 - weighted_risk - 2*floor(findings_total/10), 0, 100).
func TrustScore(rs RiskSummary) (int, string) {
	weighted := WeightedRisk(rs)
	penalty := weighted + 2*(rs.FindingsTotal/10)
	score := 100 - penalty
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, grade(score)
}

func grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}

// Coverage reports how many of the failure-mode catalog's entries are
// "covered" by at least one active check or finding.
type Coverage struct {
	Covered int `json:"coverage_covered"`
	Total   int `json:"coverage_total"`
}

// ComputeCoverage marks a failure mode covered if its id is named
// directly among activeCheckIDs, or equals the category/code of at
// least one finding, or is a plain string prefix of one (or has one as
// a prefix).
func ComputeCoverage(failureModeIDs []string, findings []Finding, activeCheckIDs []string) Coverage {
	active := make(map[string]bool, len(activeCheckIDs))
	for _, id := range activeCheckIDs {
		active[id] = true
	}
	findingCodes := make(map[string]bool, len(findings))
	for _, f := range findings {
		findingCodes[f.Code] = true
		findingCodes[f.Category] = true
	}

	covered := 0
	ids := append([]string(nil), failureModeIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		if active[id] || findingCodes[id] || matchesAnyPrefix(id, findingCodes) {
			covered++
		}
	}
	return Coverage{Covered: covered, Total: len(ids)}
}

func matchesAnyPrefix(id string, codes map[string]bool) bool {
	for code := range codes {
		if strings.HasPrefix(code, id) || strings.HasPrefix(id, code) {
			return true
		}
	}
	return false
}

// Posture bundles the raw-side computation that feeds quality delta:
// trust/coverage/risk computed from insights_raw (pre-suppression),
// kept separate from the display-side computation so allowlist
// suppression can't be used to game the ratchet.
type Posture struct {
	Trust        int
	Coverage     Coverage
	WeightedRisk int
}

func ComputePosture(rawViolations []checks.Violation, failureModeIDs []string, activeCheckIDs []string) Posture {
	findings := ToFindings(rawViolations)
	rs := Summarize(findings)
	trust, _ := TrustScore(rs)
	return Posture{
		Trust:        trust,
		Coverage:     ComputeCoverage(failureModeIDs, findings, activeCheckIDs),
		WeightedRisk: WeightedRisk(rs),
	}
}
