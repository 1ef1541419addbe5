package validate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AmirTlinov/compas/pkg/checks"
	"github.com/AmirTlinov/compas/pkg/config"
	"github.com/AmirTlinov/compas/pkg/hashutil"
	"github.com/AmirTlinov/compas/pkg/insights"
	"github.com/AmirTlinov/compas/pkg/judge"
	"github.com/AmirTlinov/compas/pkg/qualitydelta"
)

// buildSnapshot assembles the current QualitySnapshot from the raw
// (pre-suppression) posture and each check's Summary bundle.
func buildSnapshot(cfg *config.RepoConfig, byCheck map[string]checks.Result, rawRisk insights.RiskSummary, rawTrust int, rawCoverage insights.Coverage) qualitydelta.QualitySnapshot {
	snap := qualitydelta.QualitySnapshot{
		Version:         1,
		TrustScore:      rawTrust,
		CoverageCovered: rawCoverage.Covered,
		CoverageTotal:   rawCoverage.Total,
		WeightedRisk:    insights.WeightedRisk(rawRisk),
		FindingsTotal:   rawRisk.FindingsTotal,
		RiskBySeverity:  make(map[string]int, len(rawRisk.BySeverity)),
		LOCPerFile:      map[string]int{},
		FileUniverse:    map[string]qualitydelta.FileUniverse{},
	}
	for sev, count := range rawRisk.BySeverity {
		snap.RiskBySeverity[string(sev)] = count
	}

	if r, ok := byCheck["loc"]; ok && r.Summary != nil {
		if m, ok := r.Summary["loc_per_file"].(map[string]int); ok {
			snap.LOCPerFile = m
		}
		snap.FileUniverse["loc"] = universeOf(r.Summary)
	}
	if r, ok := byCheck["boundary"]; ok && r.Summary != nil {
		snap.FileUniverse["boundary"] = universeOf(r.Summary)
	}
	if r, ok := byCheck["public_surface"]; ok && r.Summary != nil {
		if items, ok := r.Summary["items"].([]string); ok {
			snap.SurfaceItems = items
		}
		snap.FileUniverse["surface"] = universeOf(r.Summary)
	}
	if r, ok := byCheck["duplicates"]; ok && r.Summary != nil {
		if groups, ok := r.Summary["duplicate_groups"].([][]string); ok {
			snap.DuplicateGroups = groups
		}
		snap.FileUniverse["duplicates"] = universeOf(r.Summary)
	}

	if hash, err := cfg.ConfigHash(); err == nil {
		snap.ConfigHash = hash
	}

	return snap
}

func universeOf(summary map[string]any) qualitydelta.FileUniverse {
	fu := qualitydelta.FileUniverse{}
	if v, ok := summary["files_scanned"].(int); ok {
		fu.Scanned = v
	}
	if v, ok := summary["universe"].(int); ok {
		fu.Universe = v
	}
	return fu
}

// loadBaseline reads the snapshot file at the quality contract's
// configured path, if present.
func loadBaseline(repoRoot string, qc *config.QualityContract) (*qualitydelta.QualitySnapshot, error) {
	path := snapshotPath(repoRoot, qc)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var snap qualitydelta.QualitySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if snap.Version > qualitydelta.SupportedSnapshotVersion {
		return nil, &config.ApiError{
			Code:    config.ErrBaselineVersionUnsupported,
			Message: fmt.Sprintf("baseline snapshot version %d exceeds the supported version %d", snap.Version, qualitydelta.SupportedSnapshotVersion),
		}
	}
	return &snap, nil
}

func snapshotPath(repoRoot string, qc *config.QualityContract) string {
	p := qc.Baseline.SnapshotPath
	if p == "" {
		p = ".agents/mcp/compas/baselines/quality_snapshot.json"
	}
	return filepath.Join(repoRoot, p)
}

// maybeWriteBaseline applies the ratchet-mode baseline-write guard
// (write_baseline in ratchet mode requires a BaselineMaintenance
// record with reason >= 20 chars) before stamping and persisting the
// snapshot.
func maybeWriteBaseline(req Request, cfg *config.RepoConfig, current qualitydelta.QualitySnapshot, clock func() time.Time) error {
	if req.Mode == judge.ModeRatchet {
		if err := qualitydelta.ValidateBaselineWrite(true, req.BaselineMaintenance); err != nil {
			return err
		}
	}
	if cfg.QualityContract == nil {
		return &config.ApiError{Code: config.ErrQualityContractMissing, Message: "cannot write baseline without a loaded quality_contract.toml"}
	}

	current.WrittenAt = qualitydelta.Now(clock)
	if req.BaselineMaintenance != nil {
		current.WrittenBy = &qualitydelta.WrittenBy{Reason: req.BaselineMaintenance.Reason, Owner: req.BaselineMaintenance.Owner}
	}

	data, err := hashutil.CanonicalMarshal(current)
	if err != nil {
		return err
	}
	return hashutil.WriteFileAtomic(snapshotPath(req.RepoRoot, cfg.QualityContract), data, 0o644)
}
