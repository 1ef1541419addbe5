package checks

import (
	"sort"

	"github.com/AmirTlinov/compas/pkg/config"
)

// EnvRegistryCheck cross-references every tool-declared environment
// variable against the repo's env_registry.toml, surfacing unregistered
// usage and missing required values, and builds the redacted effective
// configuration view surfaced in ValidateOutput.
type EnvRegistryCheck struct {
	Tools    map[string]*config.ToolConfig
	Registry map[string]config.EnvRegistryEntry
	// RegistryPresent is false when env_registry.toml does not exist;
	// RegistryValid is false when it exists but fails to parse.
	// loadEnvRegistry in pkg/config leaves the registry map empty in
	// both cases, so this check needs the distinction explicitly.
	RegistryPresent bool
	RegistryValid   bool
}

type EffectiveEnvEntry struct {
	Name   string `json:"name"`
	Source string `json:"source"` // env | default | unset
	Value  string `json:"value,omitempty"`
}

func (c EnvRegistryCheck) ID() string { return "env_registry" }

func (c EnvRegistryCheck) Run(_ FS) Result {
	res := Result{CheckID: c.ID()}

	if !c.RegistryPresent {
		res.Violations = append(res.Violations, newViolation("env_registry.registry_missing", "", "env_registry.toml not found"))
	} else if !c.RegistryValid {
		res.Violations = append(res.Violations, newViolation("env_registry.registry_invalid", "", "env_registry.toml failed to parse"))
	}

	declared := make(map[string]bool)
	toolNames := make([]string, 0, len(c.Tools))
	for id := range c.Tools {
		toolNames = append(toolNames, id)
	}
	sort.Strings(toolNames)

	for _, id := range toolNames {
		tool := c.Tools[id]
		names := make([]string, 0, len(tool.Env))
		for name := range tool.Env {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			declared[name] = true
			if _, ok := c.Registry[name]; !ok {
				res.Violations = append(res.Violations, newViolation("env_registry.unregistered_usage", id, "env var %q is not registered", name))
			}
		}
	}

	regNames := make([]string, 0, len(c.Registry))
	for name := range c.Registry {
		regNames = append(regNames, name)
	}
	sort.Strings(regNames)

	effective := make([]EffectiveEnvEntry, 0, len(regNames))
	for _, name := range regNames {
		entry := c.Registry[name]
		e := EffectiveEnvEntry{Name: name}
		usedByAny := declared[name]
		switch {
		case usedByAny:
			e.Source = "env"
			if !entry.Sensitive {
				e.Value = "<set>"
			} else {
				e.Value = "<redacted>"
			}
		case entry.Default != "":
			e.Source = "default"
			if entry.Sensitive {
				e.Value = "<redacted>"
			} else {
				e.Value = entry.Default
			}
		default:
			e.Source = "unset"
		}
		if entry.Required && e.Source == "unset" {
			res.Violations = append(res.Violations, newViolation("env_registry.required_missing", "", "required env var %q has no source", name))
		}
		effective = append(effective, e)
	}

	res.Summary = map[string]any{
		"effective_config": effective,
	}
	return res
}
