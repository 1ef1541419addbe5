package checks

import (
	"regexp"
	"unicode/utf8"

	"github.com/AmirTlinov/compas/pkg/config"
)

// BoundaryCheck scans a set of named rules, each pairing an include
// glob scope with a deny regex, over matching file content: "does
// this file's bytes match a forbidden pattern", generalized from one
// fixed pattern set to N named rules.
type BoundaryCheck struct {
	Cfg config.BoundaryCheckConfig
}

func (c BoundaryCheck) ID() string { return "boundary" }

func (c BoundaryCheck) Run(fsys FS) Result {
	res := Result{CheckID: c.ID()}
	filesScanned := 0
	universe := 0
	hits := 0

	for _, rule := range c.Cfg.Rules {
		re, err := regexp.Compile(rule.DenyRegex)
		if err != nil {
			res.Violations = append(res.Violations, newViolation("boundary.check_failed", "", "rule %q has invalid deny_regex: %v", rule.Name, err))
			continue
		}
		files, err := matchIncludeExclude(fsys, rule.IncludeGlobs, nil)
		if err != nil {
			res.Violations = append(res.Violations, newViolation("boundary.check_failed", "", "rule %q glob evaluation failed: %v", rule.Name, err))
			continue
		}
		universe += len(files)
		for _, path := range files {
			b, err := fsys.ReadFile(path)
			if err != nil {
				res.Violations = append(res.Violations, newViolation("boundary.read_failed", path, "read failed: %v", err))
				continue
			}
			filesScanned++
			if !utf8.Valid(b) {
				res.Violations = append(res.Violations, newViolation("boundary.read_failed", path, "file is not valid UTF-8"))
				continue
			}
			content := stripIfConfigured(c.Cfg.StripRustCfgTestBlocks, string(b))
			if loc := re.FindStringIndex(content); loc != nil {
				hits++
				res.Violations = append(res.Violations, newViolation("boundary.rule_violation", path, "matched rule %q at byte offset %d", rule.Name, loc[0]))
			}
		}
	}

	res.Summary = map[string]any{
		"files_scanned": filesScanned,
		"universe":      universe,
		"hits":          hits,
		"rules":         len(c.Cfg.Rules),
	}
	return res
}

// cfgTestAttr matches a line holding only a Rust #[cfg(test)]
// attribute. Stripping removes that attribute line alone; the module
// body that follows it is not removed and is scanned like any other
// code. A plugin that wants test modules fully exempted should scope
// them out via include_globs instead.
var cfgTestAttr = regexp.MustCompile(`(?m)^\s*#\[cfg\(test\)\]\s*$`)

func stripIfConfigured(enabled bool, content string) string {
	if !enabled {
		return content
	}
	return cfgTestAttr.ReplaceAllString(content, "")
}
