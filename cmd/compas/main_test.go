package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func cliFixtureRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".agents/mcp/compas/plugins/core/plugin.toml"), `[plugin]
id = "core"
description = "basic checks and an echo tool for the CLI fixture"

[tool_policy]
mode = "allowlist"

[[tools]]
id = "hello"
description = "says hello for the fixture gate"
command = "/bin/echo"
args = ["hello"]

[gate.ci_fast]
tools = ["hello"]

[checks.loc]
include_globs = ["src/**/*.go"]
max_loc = 1000
`)
	writeFile(t, filepath.Join(root, "src/main.go"), "package main\n\nfunc main() {}\n")
	return root
}

func TestRunValidateWarnPassesOnFixtureRepo(t *testing.T) {
	root := cliFixtureRepo(t)
	var stdout, stderr bytes.Buffer
	code := Run([]string{"compas", "validate", "warn", "--repo-root", root}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d; stderr=%s", code, stderr.String())
	}
	if !bytes.Contains(stdout.Bytes(), []byte("PASS")) {
		t.Fatalf("expected PASS in output, got %q", stdout.String())
	}
}

func TestRunValidateRejectsUnknownMode(t *testing.T) {
	root := cliFixtureRepo(t)
	var stdout, stderr bytes.Buffer
	code := Run([]string{"compas", "validate", "bogus", "--repo-root", root}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit 2 for an unknown mode, got %d", code)
	}
}

func TestRunGateCiFastDryRunPasses(t *testing.T) {
	root := cliFixtureRepo(t)
	writeFile(t, filepath.Join(root, ".agents/mcp/compas/quality_contract.toml"), `min_trust_score = 0
allow_trust_drop = true
allow_coverage_drop = true
max_weighted_risk_increase = 1000
max_scope_narrowing = 1.0
`)
	var stdout, stderr bytes.Buffer
	code := Run([]string{"compas", "gate", "ci_fast", "--repo-root", root, "--dry-run"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d; stdout=%s stderr=%s", code, stdout.String(), stderr.String())
	}
}

func TestRunCatalogListsFixtureTool(t *testing.T) {
	root := cliFixtureRepo(t)
	var stdout, stderr bytes.Buffer
	code := Run([]string{"compas", "catalog", "--repo-root", root, "--json"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d; stderr=%s", code, stderr.String())
	}
	if !bytes.Contains(stdout.Bytes(), []byte(`"hello"`)) {
		t.Fatalf("expected catalog JSON to list the hello tool, got %q", stdout.String())
	}
}

func TestRunCatalogYamlFormatListsFixtureTool(t *testing.T) {
	root := cliFixtureRepo(t)
	var stdout, stderr bytes.Buffer
	code := Run([]string{"compas", "catalog", "--repo-root", root, "--format", "yaml"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d; stderr=%s", code, stderr.String())
	}
	if !bytes.Contains(stdout.Bytes(), []byte("hello")) {
		t.Fatalf("expected yaml catalog output to list the hello tool, got %q", stdout.String())
	}
}

func TestRunExecRunsKnownTool(t *testing.T) {
	root := cliFixtureRepo(t)
	var stdout, stderr bytes.Buffer
	code := Run([]string{"compas", "exec", "hello", "--repo-root", root}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d; stderr=%s", code, stderr.String())
	}
	if !bytes.Contains(stdout.Bytes(), []byte(`"success": true`)) {
		t.Fatalf("expected a successful receipt, got %q", stdout.String())
	}
}

func TestRunInitDryRunPrintsPlanWithoutWriting(t *testing.T) {
	root := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := Run([]string{"compas", "init", "--repo-root", root}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d; stderr=%s", code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(root, ".agents", "mcp", "compas", "plugins")); err == nil {
		t.Fatalf("expected dry-run init not to write any files")
	}
}

func TestRunInitApplyWritesBootstrapFiles(t *testing.T) {
	root := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := Run([]string{"compas", "init", "--repo-root", root, "--apply"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d; stderr=%s", code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(root, ".agents/mcp/compas/quality_contract.toml")); err != nil {
		t.Fatalf("expected init --apply to write quality_contract.toml: %v", err)
	}
}

func TestRunPluginInstallDoctorUninstallRoundTrip(t *testing.T) {
	root := t.TempDir()
	sourceDir := filepath.Join(root, "staged", "sample")
	writeFile(t, filepath.Join(sourceDir, "plugin.toml"), "[plugin]\nid = \"sample\"\ndescription = \"fixture\"\n")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"compas", "plugin", "install", "sample", "--source-dir", sourceDir, "--repo-root", root}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d; stderr=%s", code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(root, ".agents/mcp/compas/plugins/sample/plugin.toml")); err != nil {
		t.Fatalf("expected plugin install to stage plugin.toml: %v", err)
	}

	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"compas", "plugin", "doctor", "--repo-root", root, "--json"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected doctor exit 0 on a healthy install, got %d; stdout=%s stderr=%s", code, stdout.String(), stderr.String())
	}
	if !bytes.Contains(stdout.Bytes(), []byte(`"missing_files": null`)) {
		t.Fatalf("expected a clean doctor report, got %q", stdout.String())
	}

	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"compas", "plugin", "uninstall", "sample", "--repo-root", root}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d; stderr=%s", code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(root, ".agents/mcp/compas/plugins/sample/plugin.toml")); err == nil {
		t.Fatalf("expected plugin uninstall to remove the staged file")
	}
}

func TestRunPluginListInfoUpdateRoundTrip(t *testing.T) {
	root := t.TempDir()
	sourceDirV1 := filepath.Join(root, "staged", "v1")
	writeFile(t, filepath.Join(sourceDirV1, "plugin.toml"), "[plugin]\nid = \"sample\"\ndescription = \"fixture v1\"\n")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"compas", "plugin", "install", "sample", "--source-dir", sourceDirV1, "--repo-root", root}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d; stderr=%s", code, stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"compas", "plugin", "list", "--repo-root", root, "--json"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d; stderr=%s", code, stderr.String())
	}
	if !bytes.Contains(stdout.Bytes(), []byte(`"sample"`)) {
		t.Fatalf("expected plugin list to include sample, got %q", stdout.String())
	}

	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"compas", "plugin", "info", "sample", "--repo-root", root, "--json"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d; stderr=%s", code, stderr.String())
	}
	if !bytes.Contains(stdout.Bytes(), []byte(`"plugin.toml"`)) {
		t.Fatalf("expected plugin info to list plugin.toml, got %q", stdout.String())
	}

	sourceDirV2 := filepath.Join(root, "staged", "v2")
	writeFile(t, filepath.Join(sourceDirV2, "plugin.toml"), "[plugin]\nid = \"sample\"\ndescription = \"fixture v2\"\n")

	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"compas", "plugin", "update", "sample", "--source-dir", sourceDirV2, "--repo-root", root}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d; stderr=%s", code, stderr.String())
	}
	data, err := os.ReadFile(filepath.Join(root, ".agents/mcp/compas/plugins/sample/plugin.toml"))
	if err != nil {
		t.Fatalf("expected plugin.toml to remain after update: %v", err)
	}
	if !bytes.Contains(data, []byte("fixture v2")) {
		t.Fatalf("expected plugin.toml to be refreshed to v2 content, got %q", data)
	}
}

func TestRunWithNoArgsPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"compas"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}
