package checks

import "sort"

// AllowAnyCheck flags every plugin that opted its tool policy into
// unrestricted command execution. Unlike the other checks this has no
// glob scope: it reads the already-loaded plugin set directly.
type AllowAnyCheck struct {
	PluginIDs []string
}

func (c AllowAnyCheck) ID() string { return "allow_any_policy" }

func (c AllowAnyCheck) Run(_ FS) Result {
	res := Result{CheckID: c.ID()}
	ids := append([]string(nil), c.PluginIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		res.Violations = append(res.Violations, newViolation("security.allow_any_policy", id, "plugin %q has tool_policy.mode = allow_any", id))
	}
	res.Summary = map[string]any{"allow_any_plugins": ids}
	return res
}
