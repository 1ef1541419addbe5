// Package gate sequences a gate kind's ordered tool chain after a
// successful ratchet validate, applies each tool's receipt contract,
// and writes the rotated witness artifact plus its chain entry.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/AmirTlinov/compas/pkg/config"
	"github.com/AmirTlinov/compas/pkg/judge"
	"github.com/AmirTlinov/compas/pkg/procrunner"
	"github.com/AmirTlinov/compas/pkg/witness"
)

var logger = slog.Default().With("component", "gate")

// Clock lets tests fix the timestamp stamped into witness artifacts.
type Clock func() time.Time

// Validator is the subset of pkg/validate the gate runner depends on:
// a ratchet-mode validate call that must pass before any tool runs.
type Validator func(ctx context.Context, repoRoot string) (ok bool, reasons []judge.Reason, err error)

// Options controls one gate invocation.
type Options struct {
	Kind          config.GateKind
	RepoRoot      string
	DryRun        bool
	WriteWitness  bool
	WitnessDir    string // defaults to <RepoRoot>/.agents/mcp/compas/witness
}

// Output is the result of one gate invocation.
type Output struct {
	OK           bool                `json:"ok"`
	SchemaVersion string             `json:"schema_version"`
	Kind         config.GateKind      `json:"kind"`
	Receipts     []procrunner.Receipt `json:"receipts"`
	WitnessPath  string               `json:"witness_path,omitempty"`
	Witness      *witness.Info        `json:"witness,omitempty"`
	Verdict      *judge.Decision      `json:"verdict,omitempty"`
}

// Run executes Options.Kind's tool chain against cfg.
func Run(ctx context.Context, cfg *config.RepoConfig, opts Options, validate Validator, clock Clock) (Output, error) {
	out := Output{SchemaVersion: "3", Kind: opts.Kind}
	runLog := logger.With("gate_kind", string(opts.Kind), "repo_root", opts.RepoRoot, "dry_run", opts.DryRun)
	runLog.Info("gate run starting")

	var reasons []judge.Reason

	ok, validateReasons, err := validate(ctx, opts.RepoRoot)
	if err != nil {
		runLog.Error("gate run aborted: validate failed to run", "error", err)
		return out, fmt.Errorf("gate: validate failed to run: %w", err)
	}
	if !ok {
		runLog.Warn("gate run blocked: ratchet validate did not pass")
		reasons = append(reasons, judge.Reason{Code: "gate.validate_failed", Message: "validate(ratchet) did not pass", Class: judge.SchemaConfig, Tier: judge.Blocking})
		reasons = append(reasons, validateReasons...)
		return finish(out, reasons, clock)
	}

	toolIDs, seqReasons := resolveSequence(cfg, opts.Kind)
	if len(seqReasons) > 0 {
		runLog.Warn("gate run blocked: tool sequence did not resolve")
		reasons = append(reasons, seqReasons...)
		return finish(out, reasons, clock)
	}

	var receipts []procrunner.Receipt
	if !opts.DryRun {
		for _, id := range toolIDs {
			tool := cfg.Tools[id]
			req := procrunner.Request{
				ToolID:         tool.ID,
				Command:        tool.Command,
				Args:           tool.Args,
				Env:            tool.Env,
				Cwd:            opts.RepoRoot,
				TimeoutMs:      tool.TimeoutMs,
				MaxStdoutBytes: tool.MaxStdoutBytes,
				MaxStderrBytes: tool.MaxStderrBytes,
			}
			receipt := procrunner.Run(ctx, req)
			receipts = append(receipts, receipt)
			toolReasons := classifyReceipt(tool, receipt, cfg.QualityContract)
			if len(toolReasons) > 0 {
				runLog.Warn("tool run produced blocking reasons", "tool_id", id, "exit_code", receipt.ExitCode, "timed_out", receipt.TimedOut)
			}
			reasons = append(reasons, toolReasons...)
		}
	}
	out.Receipts = receipts

	decision := judge.DecideGate(reasons)
	out.Verdict = &decision
	out.OK = decision.Status == judge.Pass
	runLog.Info("gate run finished", "status", decision.Status, "tools_run", len(receipts))

	if opts.WriteWitness {
		dir := opts.WitnessDir
		if dir == "" {
			dir = opts.RepoRoot + "/.agents/mcp/compas/witness"
		}
		info, _, err := witness.Write(dir, string(opts.Kind), out, out.OK, clock())
		if err != nil {
			runLog.Error("witness write failed", "error", err)
			decision.Reasons = append(decision.Reasons, judge.Reason{Code: "witness.write_failed", Message: err.Error(), Class: judge.RuntimeRisk, Tier: judge.Blocking})
			decision.BlockingCount++
			decision.Status = judge.Blocked
			out.OK = false
			out.Verdict = &decision
			return out, nil
		}
		out.Witness = &info
		out.WitnessPath = info.Path
	}

	return out, nil
}

func finish(out Output, reasons []judge.Reason, clock Clock) (Output, error) {
	decision := judge.DecideGate(reasons)
	out.Verdict = &decision
	out.OK = decision.Status == judge.Pass
	return out, nil
}

// resolveSequence validates the gate's declared tool sequence: non-
// empty, no duplicates, every id resolves.
func resolveSequence(cfg *config.RepoConfig, kind config.GateKind) ([]string, []judge.Reason) {
	ids := cfg.Gates[kind]
	if len(ids) == 0 {
		return nil, []judge.Reason{{Code: "gate.empty_sequence", Message: "gate " + string(kind) + " has no tools configured", Class: judge.SchemaConfig, Tier: judge.Blocking}}
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, []judge.Reason{{Code: "gate.duplicate_tool_id", Message: "tool id " + id + " appears twice in gate " + string(kind), Class: judge.SchemaConfig, Tier: judge.Blocking}}
		}
		seen[id] = true
		if _, ok := cfg.Tools[id]; !ok {
			return nil, []judge.Reason{{Code: "gate.unknown_tool_id", Message: "tool id " + id + " does not resolve", Class: judge.SchemaConfig, Tier: judge.Blocking}}
		}
	}
	return ids, nil
}

// classifyReceipt applies the per-tool receipt contract (falling back
// to the quality contract's default), the run-failed/tool-failed
// split, and the structural receipt invariant check.
func classifyReceipt(tool *config.ToolConfig, r procrunner.Receipt, qc *config.QualityContract) []judge.Reason {
	var reasons []judge.Reason

	if r.StdoutSHA256 == "" || r.StdoutBytes < 0 {
		reasons = append(reasons, judge.Reason{Code: "gate.receipt_invariant_failed", Path: tool.ID, Message: "receipt missing required structural fields", Class: judge.RuntimeRisk, Tier: judge.Blocking})
	}

	if r.SpawnError != "" || r.TimedOut {
		reasons = append(reasons, judge.Reason{Code: "gate.run_failed", Path: tool.ID, Message: "tool process failed to run", Class: judge.TransientTool, Tier: judge.Blocking})
	} else if r.ExitCode != 0 {
		reasons = append(reasons, judge.Reason{Code: "gate.tool_failed." + tool.ID, Path: tool.ID, Message: "tool exited non-zero", Class: judge.ContractBreak, Tier: judge.Blocking})
	}

	contract := tool.ReceiptContract
	if contract == nil && qc != nil {
		contract = qc.Receipts
	}
	if contract != nil && !r.TimedOut && r.SpawnError == "" {
		if contract.MinDurationMs > 0 && r.DurationMs < contract.MinDurationMs {
			reasons = append(reasons, judge.Reason{Code: "gate.receipt_contract_violated", Path: tool.ID, Message: "duration below min_duration_ms", Class: judge.RuntimeRisk, Tier: judge.Blocking})
		}
		if contract.MinStdoutBytes > 0 && r.StdoutBytes < contract.MinStdoutBytes {
			reasons = append(reasons, judge.Reason{Code: "gate.receipt_contract_violated", Path: tool.ID, Message: "stdout below min_stdout_bytes", Class: judge.RuntimeRisk, Tier: judge.Blocking})
		}
		if contract.ExpectStdoutPattern != "" {
			if re, err := regexp.Compile(contract.ExpectStdoutPattern); err == nil {
				if !re.MatchString(r.StdoutTail) {
					reasons = append(reasons, judge.Reason{Code: "gate.receipt_contract_violated", Path: tool.ID, Message: "stdout did not match expect_stdout_pattern", Class: judge.RuntimeRisk, Tier: judge.Blocking})
				}
			}
		}
	}

	return reasons
}
