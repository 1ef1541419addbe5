package checks

import (
	"github.com/AmirTlinov/compas/pkg/config"
)

// ToolBudgetCheck enforces the tool and check count ceilings a repo's
// merged ToolBudgetCheckConfig declares.
type ToolBudgetCheck struct {
	Cfg             config.ToolBudgetCheckConfig
	ToolsTotal      int
	ToolsPerPlugin  map[string]int
	GateToolsByKind map[config.GateKind]int
	ChecksTotal     int
}

func (c ToolBudgetCheck) ID() string { return "tool_budget" }

func (c ToolBudgetCheck) Run(_ FS) Result {
	res := Result{CheckID: c.ID()}

	if c.Cfg.MaxToolsTotal > 0 && c.ToolsTotal > c.Cfg.MaxToolsTotal {
		res.Violations = append(res.Violations, newViolation("tool_budget.tools_total_exceeded", "", "%d tools exceeds budget %d", c.ToolsTotal, c.Cfg.MaxToolsTotal))
	}

	if c.Cfg.MaxToolsPerPlugin > 0 {
		for pluginID, count := range c.ToolsPerPlugin {
			if count > c.Cfg.MaxToolsPerPlugin {
				res.Violations = append(res.Violations, newViolation("tool_budget.tools_per_plugin_exceeded", pluginID, "plugin %q has %d tools, exceeds budget %d", pluginID, count, c.Cfg.MaxToolsPerPlugin))
			}
		}
	}

	if c.Cfg.MaxGateToolsPerKind > 0 {
		for kind, count := range c.GateToolsByKind {
			if count > c.Cfg.MaxGateToolsPerKind {
				res.Violations = append(res.Violations, newViolation("tool_budget.gate_tools_per_kind_exceeded", string(kind), "gate %q has %d tools, exceeds budget %d", kind, count, c.Cfg.MaxGateToolsPerKind))
			}
		}
	}

	if c.Cfg.MaxChecksTotal > 0 && c.ChecksTotal > c.Cfg.MaxChecksTotal {
		res.Violations = append(res.Violations, newViolation("tool_budget.checks_total_exceeded", "", "%d checks exceeds budget %d", c.ChecksTotal, c.Cfg.MaxChecksTotal))
	}

	res.Summary = map[string]any{
		"tools_total":  c.ToolsTotal,
		"checks_total": c.ChecksTotal,
	}
	return res
}
