package judge

import "testing"

func TestClassifyUnknownCodeFailsClosed(t *testing.T) {
	r := NewRegistry()
	class, tier := r.Classify("totally.unrecognized")
	if class != Unknown || tier != Blocking {
		t.Fatalf("expected (Unknown, Blocking), got (%s, %s)", class, tier)
	}
}

func TestClassifySuffixBeatsPrefix(t *testing.T) {
	r := NewRegistry()
	// "loc." is a registered prefix (ContractBreak, Observation) but
	// ".check_failed" is a registered suffix (RuntimeRisk, Blocking);
	// suffix must win.
	class, tier := r.Classify("loc.check_failed")
	if class != RuntimeRisk || tier != Blocking {
		t.Fatalf("expected suffix rule to win: got (%s, %s)", class, tier)
	}
}

func TestClassifyExactBeatsPrefix(t *testing.T) {
	r := NewRegistry()
	class, tier := r.Classify("exception.expired")
	if class != ContractBreak || tier != Blocking {
		t.Fatalf("expected exact rule (ContractBreak, Blocking), got (%s, %s)", class, tier)
	}
}

func TestObservationTierCodesDoNotCountAsBlocking(t *testing.T) {
	r := NewRegistry()
	for _, code := range []string{"loc.max_exceeded", "surface.item_added", "duplicates.group_found", "env_registry.undeclared", "tool_budget.exceeded"} {
		class, tier := r.Classify(code)
		if class != ContractBreak || tier != Observation {
			t.Fatalf("%s: expected (ContractBreak, Observation), got (%s, %s)", code, class, tier)
		}
	}
}

func TestDecideValidateWarnModeAlwaysPasses(t *testing.T) {
	reasons := []Reason{{Code: "boundary.rule_violation", Class: ContractBreak, Tier: Blocking}}
	d := DecideValidate(reasons, ModeWarn)
	if d.Status != Pass {
		t.Fatalf("expected Pass in warn mode regardless of blocking reasons, got %s", d.Status)
	}
}

func TestDecideValidateStrictModeBlocksOnBlockingReason(t *testing.T) {
	reasons := []Reason{{Code: "boundary.rule_violation", Class: ContractBreak, Tier: Blocking}}
	d := DecideValidate(reasons, ModeStrict)
	if d.Status != Blocked {
		t.Fatalf("expected Blocked, got %s", d.Status)
	}
	if d.BlockingCount != 1 {
		t.Fatalf("expected BlockingCount 1, got %d", d.BlockingCount)
	}
}

func TestDecideValidateNeverReturnsRetryable(t *testing.T) {
	reasons := []Reason{{Code: "gate.run_failed", Class: TransientTool, Tier: Blocking}}
	d := DecideValidate(reasons, ModeStrict)
	if d.Status == Retryable {
		t.Fatalf("validate must never return Retryable, got %s", d.Status)
	}
}

func TestDecideValidatePassesWhenOnlyObservationsPresent(t *testing.T) {
	reasons := []Reason{{Code: "loc.max_exceeded", Class: ContractBreak, Tier: Observation}}
	d := DecideValidate(reasons, ModeStrict)
	if d.Status != Pass {
		t.Fatalf("expected Pass when no reason is Blocking, got %s", d.Status)
	}
	if d.ObservationCount != 1 {
		t.Fatalf("expected ObservationCount 1, got %d", d.ObservationCount)
	}
}

func TestDecideGateRetryableWhenAllBlockingAreTransient(t *testing.T) {
	reasons := []Reason{{Code: "gate.run_failed", Class: TransientTool, Tier: Blocking}}
	d := DecideGate(reasons)
	if d.Status != Retryable {
		t.Fatalf("expected Retryable, got %s", d.Status)
	}
}

func TestDecideGateBlockedWhenAnyNonTransientBlockingReasonPresent(t *testing.T) {
	reasons := []Reason{
		{Code: "gate.run_failed", Class: TransientTool, Tier: Blocking},
		{Code: "gate.tool_failed.lint", Class: ContractBreak, Tier: Blocking},
	}
	d := DecideGate(reasons)
	if d.Status != Blocked {
		t.Fatalf("expected Blocked, got %s", d.Status)
	}
}

func TestDecideGatePassesWithNoBlockingReasons(t *testing.T) {
	d := DecideGate(nil)
	if d.Status != Pass {
		t.Fatalf("expected Pass on an empty reason set, got %s", d.Status)
	}
}

func TestSeverityRankIsMonotonic(t *testing.T) {
	if !(SeverityRank(Pass) < SeverityRank(Retryable) && SeverityRank(Retryable) < SeverityRank(Blocked)) {
		t.Fatalf("expected Pass < Retryable < Blocked")
	}
}

func TestClassifyAllPreservesOrderAndFields(t *testing.T) {
	r := NewRegistry()
	in := []ViolationInput{
		{Code: "boundary.rule_violation", Message: "no TODO", Path: "src/leftover.go"},
		{Code: "loc.max_exceeded", Message: "too long", Path: "src/big.go"},
	}
	out := r.ClassifyAll(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 reasons, got %d", len(out))
	}
	if out[0].Code != "boundary.rule_violation" || out[0].Tier != Blocking {
		t.Fatalf("unexpected first reason: %+v", out[0])
	}
	if out[1].Code != "loc.max_exceeded" || out[1].Tier != Observation {
		t.Fatalf("unexpected second reason: %+v", out[1])
	}
	if out[0].Path != "src/leftover.go" {
		t.Fatalf("expected Path to carry through, got %q", out[0].Path)
	}
}
