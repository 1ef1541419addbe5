package validate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AmirTlinov/compas/pkg/config"
	"github.com/AmirTlinov/compas/pkg/judge"
)

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC) }
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// minimalRepo lays out a repo with one plugin and a quality contract,
// the smallest configuration config.Load accepts.
func minimalRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".agents/mcp/compas/plugins/core/plugin.toml"), `[plugin]
id = "core"
description = "core hygiene checks for the fixture repo"

[tool_policy]
mode = "allowlist"

[checks.loc]
include_globs = ["src/**/*.go"]
max_loc = 100

[[checks.boundary.rules]]
name = "no-todo"
include_globs = ["src/**/*.go"]
deny_regex = "TODO"
`)
	writeFile(t, filepath.Join(root, ".agents/mcp/compas/quality_contract.toml"), `min_trust_score = 0
allow_trust_drop = true
allow_coverage_drop = true
max_weighted_risk_increase = 1000
max_scope_narrowing = 1.0

[baseline]
snapshot_path = ".agents/mcp/compas/baselines/quality_snapshot.json"
`)
	writeFile(t, filepath.Join(root, "src/main.go"), "package main\n\nfunc main() {}\n\nfunc helper() {}\n\nfunc another() {}\n")
	return root
}

func TestRunPassesOnCleanRepoInWarnMode(t *testing.T) {
	root := minimalRepo(t)
	out := Run(Request{RepoRoot: root, Mode: judge.ModeWarn}, fixedClock())
	if out.Error != nil {
		t.Fatalf("unexpected load error: %+v", out.Error)
	}
	if !out.OK {
		t.Fatalf("expected warn mode to always pass, got %+v", out.Verdict)
	}
}

func TestRunPassesCleanRepoInStrictMode(t *testing.T) {
	root := minimalRepo(t)
	out := Run(Request{RepoRoot: root, Mode: judge.ModeStrict}, fixedClock())
	if out.Error != nil {
		t.Fatalf("unexpected load error: %+v", out.Error)
	}
	if !out.OK {
		t.Fatalf("expected a clean repo to pass strict mode, got verdict %+v violations %+v", out.Verdict, out.Violations)
	}
}

func TestRunBlocksOnBoundaryViolationInStrictMode(t *testing.T) {
	root := minimalRepo(t)
	writeFile(t, filepath.Join(root, "src/leftover.go"), "package main\n\n// TODO: remove before merge\nfunc stub() {}\n")

	out := Run(Request{RepoRoot: root, Mode: judge.ModeStrict}, fixedClock())
	if out.Error != nil {
		t.Fatalf("unexpected load error: %+v", out.Error)
	}
	if out.OK {
		t.Fatalf("expected strict mode to block on a boundary rule violation")
	}
	found := false
	for _, v := range out.Violations {
		if v.Code == "boundary.rule_violation" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected boundary.rule_violation among violations, got %+v", out.Violations)
	}
}

func TestRunWarnModePassesDespiteBoundaryViolation(t *testing.T) {
	root := minimalRepo(t)
	writeFile(t, filepath.Join(root, "src/leftover.go"), "package main\n\n// TODO: remove before merge\nfunc stub() {}\n")

	out := Run(Request{RepoRoot: root, Mode: judge.ModeWarn}, fixedClock())
	if !out.OK {
		t.Fatalf("expected warn mode to pass regardless of blocking violations, got verdict %+v", out.Verdict)
	}
}

func TestRunReportsLoadErrorForMissingPluginsDir(t *testing.T) {
	root := t.TempDir()
	out := Run(Request{RepoRoot: root, Mode: judge.ModeWarn}, fixedClock())
	if out.Error == nil {
		t.Fatalf("expected a config load error for an empty repo root")
	}
}

func TestRunWritesBaselineAndRatchetsOnSecondRun(t *testing.T) {
	root := minimalRepo(t)

	first := Run(Request{
		RepoRoot:            root,
		Mode:                judge.ModeRatchet,
		WriteBaseline:       true,
		BaselineMaintenance: &config.BaselineMaintenance{Reason: "seeding the initial baseline for this fixture", Owner: "fixture"},
	}, fixedClock())
	if first.Error != nil {
		t.Fatalf("unexpected load error: %+v", first.Error)
	}
	if !first.OK {
		t.Fatalf("expected first run (no prior baseline) to pass, got verdict %+v violations %+v", first.Verdict, first.Violations)
	}

	snapPath := filepath.Join(root, ".agents/mcp/compas/baselines/quality_snapshot.json")
	if _, err := os.Stat(snapPath); err != nil {
		t.Fatalf("expected baseline snapshot to be written: %v", err)
	}

	second := Run(Request{RepoRoot: root, Mode: judge.ModeRatchet}, fixedClock())
	if second.Error != nil {
		t.Fatalf("unexpected load error on second run: %+v", second.Error)
	}
	if !second.OK {
		t.Fatalf("expected an unchanged repo to ratchet cleanly against its own baseline, got verdict %+v violations %+v", second.Verdict, second.Violations)
	}
}

func TestRunRejectsBaselineWithUnsupportedVersion(t *testing.T) {
	root := minimalRepo(t)
	snapPath := filepath.Join(root, ".agents/mcp/compas/baselines/quality_snapshot.json")
	writeFile(t, snapPath, `{"version": 99, "trust_score": 100}`)

	out := Run(Request{RepoRoot: root, Mode: judge.ModeRatchet}, fixedClock())
	if out.Error == nil {
		t.Fatalf("expected a fail-closed error for a baseline snapshot with an unsupported version")
	}
	if out.Error.Code != config.ErrBaselineVersionUnsupported {
		t.Fatalf("expected code %s, got %s", config.ErrBaselineVersionUnsupported, out.Error.Code)
	}
}

func TestRunRejectsBaselineWriteWithoutMaintenanceReason(t *testing.T) {
	root := minimalRepo(t)
	out := Run(Request{
		RepoRoot:            root,
		Mode:                judge.ModeRatchet,
		WriteBaseline:       true,
		BaselineMaintenance: &config.BaselineMaintenance{Reason: "too short", Owner: "fixture"},
	}, fixedClock())
	if out.OK {
		t.Fatalf("expected a too-short maintenance reason to reject the baseline write")
	}
	if out.Error == nil {
		t.Fatalf("expected an ApiError for the rejected baseline write")
	}
}
