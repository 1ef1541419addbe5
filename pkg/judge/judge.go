// Package judge classifies Violations into a structured Verdict using
// a static, table-driven registry: ordered (pattern, class, tier)
// rules matched Suffix -> Exact -> Prefix, because violation codes are
// families ("loc.*", "gate.tool_failed.<id>") rather than a fixed enum.
package judge

// Tier is the severity band of a single violation.
type Tier string

const (
	Blocking    Tier = "blocking"
	Observation Tier = "observation"
)

// Class is the taxonomy bucket a violation's code classifies into.
type Class string

const (
	SchemaConfig      Class = "schema_config"
	ContractBreak     Class = "contract_break"
	RuntimeRisk       Class = "runtime_risk"
	Security          Class = "security"
	QualityRegression Class = "quality_regression"
	TransientTool     Class = "transient_tool"
	Unknown           Class = "unknown"
)

// Status is the final decision for a validate or gate call.
type Status string

const (
	Pass      Status = "pass"
	Retryable Status = "retryable"
	Blocked   Status = "blocked"
)

// rank gives the monotonicity ordering: Pass < Retryable < Blocked.
func (s Status) rank() int {
	switch s {
	case Pass:
		return 0
	case Retryable:
		return 1
	default:
		return 2
	}
}

// Reason is a classified violation: its code plus the (class, tier) the
// registry assigned it.
type Reason struct {
	Code    string
	Message string
	Path    string
	Class   Class
	Tier    Tier
}

// Decision is the judge's structured output for one validate or gate call.
type Decision struct {
	Status            Status
	Reasons           []Reason
	BlockingCount     int
	ObservationCount  int
}

type patternKind int

const (
	kindExact patternKind = iota
	kindPrefix
	kindSuffix
)

type rule struct {
	kind  patternKind
	value string
	class Class
	tier  Tier
}

// Registry is the static classification table. Lookup order within a
// single call to Classify is always Suffix -> Exact -> Prefix,
// regardless of the order rules were registered in.
type Registry struct {
	rules []rule
}

// NewRegistry builds the canonical Compas classification table.
func NewRegistry() *Registry {
	r := &Registry{}

	// Suffix rules: runtime-risk "could not run the check" family.
	r.Suffix(".check_failed", RuntimeRisk, Blocking)
	r.Suffix(".read_failed", RuntimeRisk, Blocking)
	r.Suffix(".stat_failed", RuntimeRisk, Blocking)
	r.Suffix(".manifest_parse_failed", RuntimeRisk, Blocking)

	// Exact rules.
	r.Exact("exception.allowlist_invalid", SchemaConfig, Blocking)
	r.Exact("security.allow_any_policy", Security, Blocking)
	r.Exact("exception.expired", ContractBreak, Blocking)
	r.Exact("exception.budget_exceeded", ContractBreak, Blocking)

	// Prefix rules.
	r.Prefix("config.", SchemaConfig, Blocking)
	r.Prefix("failure_modes.", SchemaConfig, Blocking)
	r.Prefix("pack.", SchemaConfig, Blocking)
	r.Prefix("supply_chain.", Security, Blocking)
	r.Prefix("quality_delta.", QualityRegression, Blocking)
	r.Prefix("boundary.", ContractBreak, Blocking)
	r.Prefix("loc.", ContractBreak, Observation)
	r.Prefix("surface.", ContractBreak, Observation)
	r.Prefix("duplicates.", ContractBreak, Observation)
	r.Prefix("env_registry.", ContractBreak, Observation)
	r.Prefix("tool_budget.", ContractBreak, Observation)
	r.Prefix("gate.receipt_contract", RuntimeRisk, Blocking)
	r.Prefix("gate.run_failed", TransientTool, Blocking)
	r.Prefix("gate.receipt_invariant_failed", RuntimeRisk, Blocking)
	r.Prefix("witness.", RuntimeRisk, Blocking)
	r.Prefix("gate.tool_failed", ContractBreak, Blocking)
	r.Prefix("gate.", SchemaConfig, Blocking)

	return r
}

// Exact registers an exact-match rule.
func (r *Registry) Exact(code string, class Class, tier Tier) {
	r.rules = append(r.rules, rule{kind: kindExact, value: code, class: class, tier: tier})
}

// Prefix registers a prefix-match rule.
func (r *Registry) Prefix(prefix string, class Class, tier Tier) {
	r.rules = append(r.rules, rule{kind: kindPrefix, value: prefix, class: class, tier: tier})
}

// Suffix registers a suffix-match rule.
func (r *Registry) Suffix(suffix string, class Class, tier Tier) {
	r.rules = append(r.rules, rule{kind: kindSuffix, value: suffix, class: class, tier: tier})
}

// Classify looks up a violation code's (class, tier). Unknown codes are
// fail-closed: (Unknown, Blocking).
func (r *Registry) Classify(code string) (Class, Tier) {
	for _, rl := range r.rules {
		if rl.kind == kindSuffix && hasSuffix(code, rl.value) {
			return rl.class, rl.tier
		}
	}
	for _, rl := range r.rules {
		if rl.kind == kindExact && code == rl.value {
			return rl.class, rl.tier
		}
	}
	for _, rl := range r.rules {
		if rl.kind == kindPrefix && hasPrefix(code, rl.value) {
			return rl.class, rl.tier
		}
	}
	return Unknown, Blocking
}

func hasSuffix(s, suf string) bool {
	return len(s) >= len(suf) && s[len(s)-len(suf):] == suf
}

func hasPrefix(s, pre string) bool {
	return len(s) >= len(pre) && s[:len(pre)] == pre
}

// ViolationInput is the minimal shape ClassifyAll needs from a
// violation, decoupling judge from the checks package.
type ViolationInput struct {
	Code    string
	Message string
	Path    string
}

// ClassifyAll converts raw violations into classified Reasons.
func (r *Registry) ClassifyAll(violations []ViolationInput) []Reason {
	reasons := make([]Reason, 0, len(violations))
	for _, v := range violations {
		class, tier := r.Classify(v.Code)
		reasons = append(reasons, Reason{
			Code:    v.Code,
			Message: v.Message,
			Path:    v.Path,
			Class:   class,
			Tier:    tier,
		})
	}
	return reasons
}

// Mode controls validate's pass/fail posture.
type Mode string

const (
	ModeWarn   Mode = "warn"
	ModeRatchet Mode = "ratchet"
	ModeStrict Mode = "strict"
)

// DecideValidate decides a validate call's final status: it never
// returns Retryable.
func DecideValidate(reasons []Reason, mode Mode) Decision {
	d := tally(reasons)
	if mode == ModeWarn {
		d.Status = Pass
		return d
	}
	if d.BlockingCount == 0 {
		d.Status = Pass
	} else {
		d.Status = Blocked
	}
	return d
}

// DecideGate decides a gate run's final status: Retryable only when
// every Blocking reason is class TransientTool.
func DecideGate(reasons []Reason) Decision {
	d := tally(reasons)
	if d.BlockingCount == 0 {
		d.Status = Pass
		return d
	}
	allTransient := true
	for _, r := range reasons {
		if r.Tier == Blocking && r.Class != TransientTool {
			allTransient = false
			break
		}
	}
	if allTransient {
		d.Status = Retryable
	} else {
		d.Status = Blocked
	}
	return d
}

func tally(reasons []Reason) Decision {
	d := Decision{Reasons: reasons}
	for _, r := range reasons {
		if r.Tier == Blocking {
			d.BlockingCount++
		} else {
			d.ObservationCount++
		}
	}
	return d
}

// SeverityRank exposes the Pass < Retryable < Blocked ordering so callers
// (and property tests) can assert decide's monotonicity.
func SeverityRank(s Status) int { return s.rank() }
