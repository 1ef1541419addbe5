package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/AmirTlinov/compas/pkg/catalog"
	"github.com/AmirTlinov/compas/pkg/config"
	"github.com/AmirTlinov/compas/pkg/gate"
	"github.com/AmirTlinov/compas/pkg/judge"
	"github.com/AmirTlinov/compas/pkg/pluginmanager"
	"github.com/AmirTlinov/compas/pkg/validate"
	"gopkg.in/yaml.v3"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "gate":
		return runGateCmd(args[2:], stdout, stderr)
	case "init":
		return runInitCmd(args[2:], stdout, stderr)
	case "catalog":
		return runCatalogCmd(args[2:], stdout, stderr)
	case "exec":
		return runExecCmd(args[2:], stdout, stderr)
	case "plugin":
		return runPluginCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "compas: a fail-closed quality gate for AI-agent-edited repositories")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  compas validate {warn|ratchet|strict} [--repo-root DIR] [--write-baseline] [--maintenance-reason R] [--maintenance-owner O] [--json]")
	fmt.Fprintln(w, "  compas gate {ci_fast|ci|flagship} [--repo-root DIR] [--dry-run] [--write-witness] [--json]")
	fmt.Fprintln(w, "  compas init [--repo-root DIR] [--apply]")
	fmt.Fprintln(w, "  compas catalog [--repo-root DIR] [--json] [--format yaml]")
	fmt.Fprintln(w, "  compas exec TOOL_ID [--repo-root DIR]")
	fmt.Fprintln(w, "  compas plugin list [--repo-root DIR] [--json]")
	fmt.Fprintln(w, "  compas plugin info PLUGIN_ID [--repo-root DIR] [--json]")
	fmt.Fprintln(w, "  compas plugin install --source-dir DIR PLUGIN_ID [--repo-root DIR] [--force]")
	fmt.Fprintln(w, "  compas plugin update --source-dir DIR PLUGIN_ID [--repo-root DIR] [--force]")
	fmt.Fprintln(w, "  compas plugin uninstall PLUGIN_ID [--repo-root DIR]")
	fmt.Fprintln(w, "  compas plugin doctor [--repo-root DIR] [--json]")
	fmt.Fprintln(w, "  compas help")
}

func loadRepoRootFlag(cmd *flag.FlagSet) *string {
	wd, _ := os.Getwd()
	return cmd.String("repo-root", wd, "repository root to operate on")
}

func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	repoRoot := loadRepoRootFlag(cmd)
	writeBaseline := cmd.Bool("write-baseline", false, "write the current posture as the new quality baseline")
	maintReason := cmd.String("maintenance-reason", "", "reason authorizing a baseline write (>= 20 chars)")
	maintOwner := cmd.String("maintenance-owner", "", "owner authorizing a baseline write")
	jsonOutput := cmd.Bool("json", false, "emit the full ValidateOutput as JSON")

	if len(args) == 0 || args[0][0] == '-' {
		_, _ = fmt.Fprintln(stderr, "Usage: compas validate {warn|ratchet|strict} [flags]")
		return 2
	}
	mode := judge.Mode(args[0])
	if mode != judge.ModeWarn && mode != judge.ModeRatchet && mode != judge.ModeStrict {
		_, _ = fmt.Fprintf(stderr, "Error: unknown mode %q (valid: warn, ratchet, strict)\n", args[0])
		return 2
	}
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}

	req := validate.Request{RepoRoot: *repoRoot, Mode: mode, WriteBaseline: *writeBaseline}
	if *maintReason != "" || *maintOwner != "" {
		req.BaselineMaintenance = &config.BaselineMaintenance{Reason: *maintReason, Owner: *maintOwner}
	}

	out := validate.Run(req, time.Now)
	return printValidateResult(out, *jsonOutput, stdout, stderr)
}

func printValidateResult(out validate.Output, jsonOutput bool, stdout, stderr io.Writer) int {
	if jsonOutput {
		data, _ := json.MarshalIndent(out, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if out.Error != nil {
		_, _ = fmt.Fprintf(stderr, "validate: %s: %s\n", out.Error.Code, out.Error.Message)
	} else {
		status := "PASS"
		if !out.OK {
			status = "BLOCKED"
		}
		_, _ = fmt.Fprintf(stdout, "validate %s: %s (%d violations", out.Mode, status, len(out.Violations))
		if out.TrustScore != nil {
			_, _ = fmt.Fprintf(stdout, ", trust %d/%s", out.TrustScore.Score, out.TrustScore.Grade)
		}
		_, _ = fmt.Fprintln(stdout, ")")
		if out.Verdict != nil {
			for _, r := range out.Verdict.Reasons {
				_, _ = fmt.Fprintf(stdout, "  - [%s/%s] %s: %s\n", r.Tier, r.Class, r.Code, r.Message)
			}
		}
	}
	if out.Error != nil {
		return 2
	}
	if !out.OK {
		return 1
	}
	return 0
}

func runGateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("gate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	repoRoot := loadRepoRootFlag(cmd)
	dryRun := cmd.Bool("dry-run", false, "resolve and validate the tool chain without executing it")
	writeWitness := cmd.Bool("write-witness", false, "write a witness artifact and append it to the witness chain")
	jsonOutput := cmd.Bool("json", false, "emit the full GateOutput as JSON")

	if len(args) == 0 || args[0][0] == '-' {
		_, _ = fmt.Fprintln(stderr, "Usage: compas gate {ci_fast|ci|flagship} [flags]")
		return 2
	}
	kind := config.GateKind(args[0])
	valid := false
	for _, k := range config.AllGateKinds() {
		if k == kind {
			valid = true
		}
	}
	if !valid {
		_, _ = fmt.Fprintf(stderr, "Error: unknown gate kind %q (valid: ci_fast, ci, flagship)\n", args[0])
		return 2
	}
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}

	cfg, err := config.Load(*repoRoot)
	if err != nil {
		if apiErr, ok := err.(*config.ApiError); ok {
			_, _ = fmt.Fprintf(stderr, "gate: %s: %s\n", apiErr.Code, apiErr.Message)
		} else {
			_, _ = fmt.Fprintf(stderr, "gate: %v\n", err)
		}
		return 2
	}

	ratchetValidator := func(ctx context.Context, root string) (bool, []judge.Reason, error) {
		out := validate.Run(validate.Request{RepoRoot: root, Mode: judge.ModeRatchet}, time.Now)
		if out.Error != nil {
			return false, nil, fmt.Errorf("%s: %s", out.Error.Code, out.Error.Message)
		}
		var reasons []judge.Reason
		if out.Verdict != nil {
			reasons = out.Verdict.Reasons
		}
		return out.OK, reasons, nil
	}

	out, err := gate.Run(context.Background(), cfg, gate.Options{
		Kind:         kind,
		RepoRoot:     *repoRoot,
		DryRun:       *dryRun,
		WriteWitness: *writeWitness,
	}, ratchetValidator, time.Now)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "gate: %v\n", err)
		return 2
	}

	if *jsonOutput {
		data, _ := json.MarshalIndent(out, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		status := "PASS"
		if out.Verdict != nil {
			switch {
			case out.OK:
				status = "PASS"
			case out.Verdict.Status == judge.Retryable:
				status = "RETRYABLE"
			default:
				status = "BLOCKED"
			}
		}
		_, _ = fmt.Fprintf(stdout, "gate %s: %s (%d tools run)\n", out.Kind, status, len(out.Receipts))
		if out.Witness != nil {
			_, _ = fmt.Fprintf(stdout, "  witness: %s\n", out.Witness.Path)
		}
	}

	if out.OK {
		return 0
	}
	if out.Verdict != nil && out.Verdict.Status == judge.Retryable {
		return 3
	}
	return 1
}

func runInitCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("init", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	repoRoot := loadRepoRootFlag(cmd)
	apply := cmd.Bool("apply", false, "write the bootstrap plan to disk (default: dry-run, print the plan)")
	overwrite := cmd.Bool("overwrite", false, "replace existing bootstrap files instead of leaving them untouched")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	plan := catalog.BuildInitPlan(*repoRoot)
	if !*apply {
		for _, w := range plan.Writes {
			_, _ = fmt.Fprintf(stdout, "would write %s (%d bytes)\n", w.AbsPath, len(w.Content))
		}
		_, _ = fmt.Fprintln(stdout, "(dry run: pass --apply to write these files)")
		return 0
	}

	if err := plan.Apply(*overwrite); err != nil {
		_, _ = fmt.Fprintf(stderr, "init: %v\n", err)
		return 2
	}
	for _, w := range plan.Writes {
		_, _ = fmt.Fprintf(stdout, "wrote %s\n", w.AbsPath)
	}
	return 0
}

func runCatalogCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("catalog", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	repoRoot := loadRepoRootFlag(cmd)
	jsonOutput := cmd.Bool("json", false, "emit the catalog as JSON")
	format := cmd.String("format", "", "emit the catalog as \"yaml\" instead of the default text/JSON rendering")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*repoRoot)
	if err != nil {
		if apiErr, ok := err.(*config.ApiError); ok {
			_, _ = fmt.Fprintf(stderr, "catalog: %s: %s\n", apiErr.Code, apiErr.Message)
		} else {
			_, _ = fmt.Fprintf(stderr, "catalog: %v\n", err)
		}
		return 2
	}

	cat := catalog.Build(cfg)
	if *format == "yaml" {
		data, err := yaml.Marshal(cat)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "catalog: yaml marshal: %v\n", err)
			return 2
		}
		_, _ = stdout.Write(data)
		return 0
	}
	if *jsonOutput {
		data, _ := json.MarshalIndent(cat, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	for _, p := range cat.Plugins {
		_, _ = fmt.Fprintf(stdout, "plugin %s (%s): %v\n", p.ID, p.ToolPolicy, p.ToolIDs)
	}
	for _, t := range cat.Tools {
		_, _ = fmt.Fprintf(stdout, "tool %s: %s (owner %s)\n", t.ID, t.Command, t.OwnerPluginID)
	}
	for kind, ids := range cat.Gates {
		_, _ = fmt.Fprintf(stdout, "gate %s: %v\n", kind, ids)
	}
	return 0
}

func runExecCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("exec", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	repoRoot := loadRepoRootFlag(cmd)

	if len(args) == 0 || args[0][0] == '-' {
		_, _ = fmt.Fprintln(stderr, "Usage: compas exec TOOL_ID [flags]")
		return 2
	}
	toolID := args[0]
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}

	cfg, err := config.Load(*repoRoot)
	if err != nil {
		if apiErr, ok := err.(*config.ApiError); ok {
			_, _ = fmt.Fprintf(stderr, "exec: %s: %s\n", apiErr.Code, apiErr.Message)
		} else {
			_, _ = fmt.Fprintf(stderr, "exec: %v\n", err)
		}
		return 2
	}

	receipt, err := catalog.Exec(context.Background(), cfg, toolID, *repoRoot)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "exec: %v\n", err)
		return 2
	}

	data, _ := json.MarshalIndent(receipt, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(data))
	if !receipt.Success {
		return 1
	}
	return 0
}

func lockfilePath(repoRoot string) string {
	return repoRoot + "/.agents/mcp/compas/plugins.lock.json"
}

func runPluginCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: compas plugin {list|info|install|update|uninstall|doctor} [flags]")
		return 2
	}
	switch args[0] {
	case "list":
		return runPluginListCmd(args[1:], stdout, stderr)
	case "info":
		return runPluginInfoCmd(args[1:], stdout, stderr)
	case "install":
		return runPluginInstallCmd(args[1:], stdout, stderr)
	case "update":
		return runPluginUpdateCmd(args[1:], stdout, stderr)
	case "uninstall":
		return runPluginUninstallCmd(args[1:], stdout, stderr)
	case "doctor":
		return runPluginDoctorCmd(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown plugin subcommand: %s\n", args[0])
		return 2
	}
}

func runPluginListCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("plugin list", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	repoRoot := loadRepoRootFlag(cmd)
	jsonOutput := cmd.Bool("json", false, "emit the plugin list as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	mgr := pluginmanager.NewManager(*repoRoot, nil)
	lf, err := pluginmanager.LoadLockfile(lockfilePath(*repoRoot))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "plugin list: %v\n", err)
		return 2
	}
	summaries := mgr.List(lf)

	if *jsonOutput {
		data, _ := json.MarshalIndent(summaries, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	for _, s := range summaries {
		_, _ = fmt.Fprintf(stdout, "%s (%d files)\n", s.PluginID, s.FileCount)
	}
	return 0
}

func runPluginInfoCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("plugin info", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	repoRoot := loadRepoRootFlag(cmd)
	jsonOutput := cmd.Bool("json", false, "emit the plugin info as JSON")

	if len(args) == 0 || args[0][0] == '-' {
		_, _ = fmt.Fprintln(stderr, "Usage: compas plugin info PLUGIN_ID [flags]")
		return 2
	}
	pluginID := args[0]
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}

	mgr := pluginmanager.NewManager(*repoRoot, nil)
	lf, err := pluginmanager.LoadLockfile(lockfilePath(*repoRoot))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "plugin info: %v\n", err)
		return 2
	}
	info, err := mgr.Info(lf, pluginID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "plugin info: %v\n", err)
		return 2
	}

	if *jsonOutput {
		data, _ := json.MarshalIndent(info, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "%s:\n", info.PluginID)
	for _, f := range info.Files {
		_, _ = fmt.Fprintf(stdout, "  %s %s\n", f.SHA256, f.Path)
	}
	return 0
}

func runPluginInstallCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("plugin install", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	repoRoot := loadRepoRootFlag(cmd)
	sourceDir := cmd.String("source-dir", "", "extracted plugin directory to stage into the managed plugins tree")
	force := cmd.Bool("force", false, "overwrite files that already exist with a differing hash")

	if len(args) == 0 || args[0][0] == '-' {
		_, _ = fmt.Fprintln(stderr, "Usage: compas plugin install --source-dir DIR PLUGIN_ID [flags]")
		return 2
	}
	pluginID := args[0]
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}
	if *sourceDir == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --source-dir is required")
		return 2
	}

	mgr := pluginmanager.NewManager(*repoRoot, nil)
	lf, err := pluginmanager.LoadLockfile(lockfilePath(*repoRoot))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "plugin install: %v\n", err)
		return 2
	}

	plan, err := pluginmanager.BuildInstallPlan(pluginID, *sourceDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "plugin install: %v\n", err)
		return 2
	}
	if err := mgr.Install(plan, lf, *force); err != nil {
		_, _ = fmt.Fprintf(stderr, "plugin install: %v\n", err)
		return 2
	}
	if err := lf.Save(lockfilePath(*repoRoot)); err != nil {
		_, _ = fmt.Fprintf(stderr, "plugin install: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "installed %s (%d files)\n", pluginID, len(plan.FileHashes))
	return 0
}

func runPluginUpdateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("plugin update", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	repoRoot := loadRepoRootFlag(cmd)
	sourceDir := cmd.String("source-dir", "", "extracted plugin directory holding the new version's files")
	force := cmd.Bool("force", false, "overwrite files whose on-disk sha256 has drifted from the lockfile")

	if len(args) == 0 || args[0][0] == '-' {
		_, _ = fmt.Fprintln(stderr, "Usage: compas plugin update --source-dir DIR PLUGIN_ID [flags]")
		return 2
	}
	pluginID := args[0]
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}
	if *sourceDir == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --source-dir is required")
		return 2
	}

	mgr := pluginmanager.NewManager(*repoRoot, nil)
	lf, err := pluginmanager.LoadLockfile(lockfilePath(*repoRoot))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "plugin update: %v\n", err)
		return 2
	}

	plan, err := pluginmanager.BuildInstallPlan(pluginID, *sourceDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "plugin update: %v\n", err)
		return 2
	}
	if err := mgr.Update(plan, lf, *force); err != nil {
		_, _ = fmt.Fprintf(stderr, "plugin update: %v\n", err)
		return 2
	}
	if err := lf.Save(lockfilePath(*repoRoot)); err != nil {
		_, _ = fmt.Fprintf(stderr, "plugin update: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "updated %s (%d files)\n", pluginID, len(plan.FileHashes))
	return 0
}

func runPluginUninstallCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("plugin uninstall", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	repoRoot := loadRepoRootFlag(cmd)

	if len(args) == 0 || args[0][0] == '-' {
		_, _ = fmt.Fprintln(stderr, "Usage: compas plugin uninstall PLUGIN_ID [flags]")
		return 2
	}
	pluginID := args[0]
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}

	mgr := pluginmanager.NewManager(*repoRoot, nil)
	lf, err := pluginmanager.LoadLockfile(lockfilePath(*repoRoot))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "plugin uninstall: %v\n", err)
		return 2
	}
	if err := mgr.Uninstall(lf, pluginID); err != nil {
		_, _ = fmt.Fprintf(stderr, "plugin uninstall: %v\n", err)
		return 2
	}
	if err := lf.Save(lockfilePath(*repoRoot)); err != nil {
		_, _ = fmt.Fprintf(stderr, "plugin uninstall: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "uninstalled %s\n", pluginID)
	return 0
}

func runPluginDoctorCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("plugin doctor", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	repoRoot := loadRepoRootFlag(cmd)
	jsonOutput := cmd.Bool("json", false, "emit the doctor report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	mgr := pluginmanager.NewManager(*repoRoot, nil)
	lf, err := pluginmanager.LoadLockfile(lockfilePath(*repoRoot))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "plugin doctor: %v\n", err)
		return 2
	}
	report, err := mgr.Doctor(lf)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "plugin doctor: %v\n", err)
		return 2
	}

	if *jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "missing: %v\n", report.MissingFiles)
		_, _ = fmt.Fprintf(stdout, "modified: %v\n", report.ModifiedFiles)
		_, _ = fmt.Fprintf(stdout, "unknown: %v\n", report.UnknownFiles)
	}
	if len(report.MissingFiles) > 0 || len(report.ModifiedFiles) > 0 {
		return 1
	}
	return 0
}
