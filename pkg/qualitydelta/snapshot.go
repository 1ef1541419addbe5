// Package qualitydelta implements the unified quality ratchet: it
// compares a freshly computed QualitySnapshot against a baseline
// snapshot file and reports regressions as Blocking violations across
// trust, coverage, risk, LOC, surface, duplicates, and scan-universe
// ratios.
package qualitydelta

import (
	"sort"
	"strconv"
	"time"

	"github.com/AmirTlinov/compas/pkg/checks"
)

// SupportedSnapshotVersion is the highest QualitySnapshot.Version this
// build knows how to compare against. Loading a snapshot newer than
// this must fail closed rather than compare it anyway.
const SupportedSnapshotVersion = 1

// FileUniverse records, for one scannable domain, how many files were
// actually scanned versus how many exist in the domain's universe —
// the ratio is what scope_narrowed compares across snapshots.
type FileUniverse struct {
	Scanned  int `json:"scanned"`
	Universe int `json:"universe"`
}

func (f FileUniverse) ratio() float64 {
	if f.Universe == 0 {
		return 1
	}
	return float64(f.Scanned) / float64(f.Universe)
}

// WrittenBy records the baseline_maintenance record that authorized a
// baseline write.
type WrittenBy struct {
	Reason string `json:"reason"`
	Owner  string `json:"owner"`
}

// QualitySnapshot is the unified baseline record written by a validate
// run that requests a baseline write, and compared against on every
// later run.
type QualitySnapshot struct {
	Version         int                     `json:"version"`
	TrustScore      int                     `json:"trust_score"`
	CoverageCovered int                     `json:"coverage_covered"`
	CoverageTotal   int                     `json:"coverage_total"`
	WeightedRisk    int                     `json:"weighted_risk"`
	FindingsTotal   int                     `json:"findings_total"`
	RiskBySeverity  map[string]int          `json:"risk_by_severity"`
	LOCPerFile      map[string]int          `json:"loc_per_file"`
	SurfaceItems    []string                `json:"surface_items"`
	DuplicateGroups [][]string              `json:"duplicate_groups"`
	FileUniverse    map[string]FileUniverse `json:"file_universe"`
	WrittenAt       string                  `json:"written_at"`
	WrittenBy       *WrittenBy              `json:"written_by,omitempty"`
	ConfigHash      string                  `json:"config_hash"`
}

// Thresholds bundles the quality_contract.toml knobs the ratchet reads.
type Thresholds struct {
	AllowTrustDrop          bool
	AllowCoverageDrop       bool
	MaxWeightedRiskIncrease float64
	MaxScopeNarrowing       float64
	MinTrustScore           int
}

// Compare runs every ratchet rule against current and baseline and
// returns the resulting Blocking, class QualityRegression violations.
// baseline == nil models "snapshot absent": first-run behavior passes
// silently.
func Compare(current QualitySnapshot, baseline *QualitySnapshot, t Thresholds) []checks.Violation {
	if baseline == nil {
		return nil
	}

	var out []checks.Violation
	add := func(code, msg string) {
		out = append(out, checks.Violation{Code: code, Message: msg})
	}

	if current.TrustScore < baseline.TrustScore && !t.AllowTrustDrop {
		add("quality_delta.trust_regression", "trust score dropped from baseline")
	}
	if current.TrustScore < t.MinTrustScore {
		add("quality_delta.trust_below_minimum", "trust score is below the configured minimum")
	}
	if current.CoverageCovered < baseline.CoverageCovered && !t.AllowCoverageDrop {
		add("quality_delta.coverage_regression", "failure-mode coverage dropped from baseline")
	}
	if float64(current.WeightedRisk-baseline.WeightedRisk) > t.MaxWeightedRiskIncrease {
		add("quality_delta.risk_profile_regression", "weighted risk increased beyond the configured ceiling")
	}
	locPaths := make([]string, 0, len(current.LOCPerFile))
	for path := range current.LOCPerFile {
		locPaths = append(locPaths, path)
	}
	sort.Strings(locPaths)
	for _, path := range locPaths {
		loc := current.LOCPerFile[path]
		if baseLOC, ok := baseline.LOCPerFile[path]; ok && loc > baseLOC {
			add("quality_delta.loc_regression", "file "+path+" grew from "+strconv.Itoa(baseLOC)+" to "+strconv.Itoa(loc)+" lines")
			break
		}
	}
	if newItems := setDiff(current.SurfaceItems, baseline.SurfaceItems); len(newItems) > 0 {
		add("quality_delta.surface_regression", "public surface gained items not present in baseline")
	}
	if newGroups := groupDiff(current.DuplicateGroups, baseline.DuplicateGroups); len(newGroups) > 0 {
		add("quality_delta.duplicates_regression", "new duplicate file group(s) not present in baseline")
	}
	for _, domain := range []string{"loc", "surface", "boundary", "duplicates"} {
		cur, curOK := current.FileUniverse[domain]
		base, baseOK := baseline.FileUniverse[domain]
		if !curOK || !baseOK {
			continue
		}
		if base.ratio()-cur.ratio() > t.MaxScopeNarrowing {
			add("quality_delta.scope_narrowed", "scan coverage for domain "+domain+" narrowed beyond the configured ceiling")
		}
	}
	if current.ConfigHash != baseline.ConfigHash {
		add("quality_delta.config_changed", "checks configuration changed since the baseline was written")
	}

	return out
}

func setDiff(current, baseline []string) []string {
	baseSet := make(map[string]bool, len(baseline))
	for _, s := range baseline {
		baseSet[s] = true
	}
	var diff []string
	for _, s := range current {
		if !baseSet[s] {
			diff = append(diff, s)
		}
	}
	return diff
}

func groupKey(group []string) string {
	key := ""
	for _, p := range group {
		key += p + "\x00"
	}
	return key
}

func groupDiff(current, baseline [][]string) [][]string {
	baseSet := make(map[string]bool, len(baseline))
	for _, g := range baseline {
		baseSet[groupKey(g)] = true
	}
	var diff [][]string
	for _, g := range current {
		if !baseSet[groupKey(g)] {
			diff = append(diff, g)
		}
	}
	return diff
}

// Now stamps WrittenAt in RFC 3339 form; callers pass the clock so the
// package has no dependency on wall-clock time internally.
func Now(clock func() time.Time) string {
	return clock().UTC().Format(time.RFC3339)
}
