// Package validate wires the config loader, the checks battery, the
// allowlist's exception protocol, insights, the quality-delta ratchet,
// and the judge into the single `validate` operation's data flow:
// load_config -> raw checks -> (insights_raw) -> allowlist suppression
// -> (insights_display) -> quality_delta(raw_snapshot, baseline) ->
// judge -> Output.
//
// This package owns the "load configuration, run every registered
// check, fold results into one report, classify with a judge" shape —
// it is the one place that sequences every other package in this
// module.
package validate

import (
	"time"

	"github.com/AmirTlinov/compas/pkg/allowlist"
	"github.com/AmirTlinov/compas/pkg/checks"
	"github.com/AmirTlinov/compas/pkg/config"
	"github.com/AmirTlinov/compas/pkg/insights"
	"github.com/AmirTlinov/compas/pkg/judge"
	"github.com/AmirTlinov/compas/pkg/qualitydelta"
)

// Request describes one validate invocation.
type Request struct {
	RepoRoot            string
	Mode                judge.Mode
	WriteBaseline       bool
	BaselineMaintenance *config.BaselineMaintenance
}

// Output is the full result of one validate invocation.
type Output struct {
	OK              bool                      `json:"ok"`
	Error           *config.ApiError          `json:"error,omitempty"`
	SchemaVersion   string                    `json:"schema_version"`
	RepoRoot        string                    `json:"repo_root"`
	Mode            judge.Mode                `json:"mode"`
	Violations      []checks.Violation        `json:"violations"`
	Suppressed      []checks.Violation        `json:"suppressed"`
	FindingsV2      []insights.Finding        `json:"findings_v2"`
	LOC             map[string]any            `json:"loc,omitempty"`
	Boundary        map[string]any            `json:"boundary,omitempty"`
	PublicSurface   map[string]any            `json:"public_surface,omitempty"`
	Duplicates      map[string]any            `json:"duplicates,omitempty"`
	EffectiveConfig []checks.EffectiveEnvEntry `json:"effective_config,omitempty"`
	RiskSummary     *insights.RiskSummary     `json:"risk_summary,omitempty"`
	Coverage        *insights.Coverage        `json:"coverage,omitempty"`
	TrustScore      *TrustScoreOutput         `json:"trust_score,omitempty"`
	QualityPosture  *insights.Posture         `json:"quality_posture,omitempty"`
	Verdict         *judge.Decision           `json:"verdict,omitempty"`
}

// TrustScoreOutput pairs the numeric score with its letter grade.
type TrustScoreOutput struct {
	Score int    `json:"score"`
	Grade string `json:"grade"`
}

// canonicalCheckOrder fixes the deterministic order checks run in and
// violations are emitted in.
func canonicalCheckOrder(cfg *config.RepoConfig) []checks.Runner {
	var runners []checks.Runner
	if cfg.Checks.LOC != nil {
		runners = append(runners, checks.LOCCheck{Cfg: *cfg.Checks.LOC})
	}
	if cfg.Checks.Boundary != nil {
		runners = append(runners, checks.BoundaryCheck{Cfg: *cfg.Checks.Boundary})
	}
	if cfg.Checks.PublicSurface != nil {
		runners = append(runners, checks.PublicSurfaceCheck{Cfg: *cfg.Checks.PublicSurface})
	}
	if cfg.Checks.Duplicates != nil {
		runners = append(runners, checks.DuplicatesCheck{Cfg: *cfg.Checks.Duplicates})
	}
	runners = append(runners, checks.EnvRegistryCheck{
		Tools:           cfg.Tools,
		Registry:        cfg.EnvRegistry,
		RegistryPresent: cfg.EnvRegistryPresent,
		RegistryValid:   cfg.EnvRegistryValid,
	})
	if cfg.Checks.SupplyChain != nil {
		runners = append(runners, checks.SupplyChainCheck{Cfg: *cfg.Checks.SupplyChain})
	}
	runners = append(runners, toolBudgetRunner(cfg))
	runners = append(runners, checks.AllowAnyCheck{PluginIDs: cfg.AllowAnyPlugins})
	return runners
}

func toolBudgetRunner(cfg *config.RepoConfig) checks.ToolBudgetCheck {
	perPlugin := make(map[string]int, len(cfg.Plugins))
	for id, p := range cfg.Plugins {
		perPlugin[id] = len(p.Tools)
	}
	gateCounts := make(map[config.GateKind]int, len(cfg.Gates))
	for kind, ids := range cfg.Gates {
		gateCounts[kind] = len(ids)
	}
	tb := config.ToolBudgetCheckConfig{}
	if cfg.Checks.ToolBudget != nil {
		tb = *cfg.Checks.ToolBudget
	}
	return checks.ToolBudgetCheck{
		Cfg:             tb,
		ToolsTotal:      len(cfg.Tools),
		ToolsPerPlugin:  perPlugin,
		GateToolsByKind: gateCounts,
		ChecksTotal:     len(canonicalCheckIDsOnly(cfg)),
	}
}

func canonicalCheckIDsOnly(cfg *config.RepoConfig) []string {
	var ids []string
	if cfg.Checks.LOC != nil {
		ids = append(ids, "loc")
	}
	if cfg.Checks.Boundary != nil {
		ids = append(ids, "boundary")
	}
	if cfg.Checks.PublicSurface != nil {
		ids = append(ids, "public_surface")
	}
	if cfg.Checks.Duplicates != nil {
		ids = append(ids, "duplicates")
	}
	if cfg.Checks.SupplyChain != nil {
		ids = append(ids, "supply_chain")
	}
	return ids
}

func failureModeIDs(cfg *config.RepoConfig) []string {
	ids := make([]string, 0, len(cfg.FailureModesCatalog))
	for id := range cfg.FailureModesCatalog {
		ids = append(ids, id)
	}
	return ids
}

// Run executes the full validate pipeline against req.RepoRoot.
func Run(req Request, clock func() time.Time) Output {
	out := Output{SchemaVersion: "3", RepoRoot: req.RepoRoot, Mode: req.Mode}

	cfg, err := config.Load(req.RepoRoot)
	if err != nil {
		if apiErr, ok := err.(*config.ApiError); ok {
			out.Error = apiErr
		}
		return out
	}

	runners := canonicalCheckOrder(cfg)
	results := checks.RunAll(checks.RepoFS{Root: req.RepoRoot}, runners)

	var raw []checks.Violation
	byCheck := make(map[string]checks.Result, len(results))
	for _, r := range results {
		raw = append(raw, r.Violations...)
		byCheck[r.CheckID] = r
	}

	if !cfg.AllowlistValid {
		raw = append(raw, checks.Violation{Code: "exception.allowlist_invalid", Message: "allowlist.toml failed to parse; no suppression applied"})
	}

	activeIDs := canonicalCheckIDsOnly(cfg)
	rawFindings := insights.ToFindings(raw)
	rawRisk := insights.Summarize(rawFindings)
	rawTrust, _ := insights.TrustScore(rawRisk)
	rawCoverage := insights.ComputeCoverage(failureModeIDs(cfg), rawFindings, activeIDs)

	maxExceptions := 0
	if cfg.QualityContract != nil {
		maxExceptions = cfg.QualityContract.Exceptions.MaxExceptions
	}
	outcome := allowlist.Apply(raw, cfg.Allowlist, maxExceptions, clock())

	findingsDisplay := insights.ToFindings(outcome.Display)
	riskDisplay := insights.Summarize(findingsDisplay)
	trustDisplay, gradeDisplay := insights.TrustScore(riskDisplay)
	coverageDisplay := insights.ComputeCoverage(failureModeIDs(cfg), findingsDisplay, activeIDs)

	current := buildSnapshot(cfg, byCheck, rawRisk, rawTrust, rawCoverage)

	var deltaViolations []checks.Violation
	if req.Mode == judge.ModeRatchet && cfg.QualityContract != nil {
		baseline, err := loadBaseline(req.RepoRoot, cfg.QualityContract)
		if err != nil {
			if apiErr, ok := err.(*config.ApiError); ok {
				out.Error = apiErr
			} else {
				out.Error = &config.ApiError{Code: config.ErrParseFailed, Message: err.Error()}
			}
			return out
		}
		thresholds := qualitydelta.Thresholds{
			AllowTrustDrop:          cfg.QualityContract.AllowTrustDrop,
			AllowCoverageDrop:       cfg.QualityContract.AllowCoverageDrop,
			MaxWeightedRiskIncrease: cfg.QualityContract.MaxWeightedRiskIncrease,
			MaxScopeNarrowing:       cfg.QualityContract.MaxScopeNarrowing,
			MinTrustScore:           cfg.QualityContract.MinTrustScore,
		}
		deltaViolations = qualitydelta.Compare(current, baseline, thresholds)
	}

	var judged []checks.Violation
	judged = append(judged, outcome.Display...)
	judged = append(judged, deltaViolations...)

	registry := judge.NewRegistry()
	inputs := make([]judge.ViolationInput, 0, len(judged))
	for _, v := range judged {
		inputs = append(inputs, judge.ViolationInput{Code: v.Code, Message: v.Message, Path: v.Path})
	}
	reasons := registry.ClassifyAll(inputs)
	decision := judge.DecideValidate(reasons, req.Mode)

	out.Violations = judged
	out.Suppressed = outcome.Suppressed
	out.FindingsV2 = findingsDisplay
	out.LOC = summaryOf(byCheck, "loc")
	out.Boundary = summaryOf(byCheck, "boundary")
	out.PublicSurface = summaryOf(byCheck, "public_surface")
	out.Duplicates = summaryOf(byCheck, "duplicates")
	out.EffectiveConfig = effectiveConfigOf(byCheck)
	out.RiskSummary = &riskDisplay
	out.Coverage = &coverageDisplay
	out.TrustScore = &TrustScoreOutput{Score: trustDisplay, Grade: gradeDisplay}
	posture := insights.Posture{Trust: rawTrust, Coverage: rawCoverage, WeightedRisk: insights.WeightedRisk(rawRisk)}
	out.QualityPosture = &posture
	out.Verdict = &decision
	out.OK = decision.Status == judge.Pass

	if req.WriteBaseline {
		if err := maybeWriteBaseline(req, cfg, current, clock); err != nil {
			out.OK = false
			if apiErr, ok := err.(*config.ApiError); ok {
				out.Error = apiErr
			}
		}
	}

	return out
}

func summaryOf(byCheck map[string]checks.Result, id string) map[string]any {
	r, ok := byCheck[id]
	if !ok {
		return nil
	}
	return r.Summary
}

func effectiveConfigOf(byCheck map[string]checks.Result) []checks.EffectiveEnvEntry {
	r, ok := byCheck["env_registry"]
	if !ok || r.Summary == nil {
		return nil
	}
	entries, ok := r.Summary["effective_config"].([]checks.EffectiveEnvEntry)
	if !ok {
		return nil
	}
	return entries
}
