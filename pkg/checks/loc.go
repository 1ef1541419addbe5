package checks

import (
	"bytes"
	"unicode/utf8"

	"github.com/AmirTlinov/compas/pkg/config"
)

// LOCCheck enforces a per-file lines-of-code ceiling over a glob scope.
// Grounded on buildguard.Scanner's include-glob walk, generalized from
// pattern-matching to line counting.
type LOCCheck struct {
	Cfg config.LOCCheckConfig
}

func (c LOCCheck) ID() string { return "loc" }

func (c LOCCheck) Run(fsys FS) Result {
	res := Result{CheckID: c.ID()}
	locPerFile := make(map[string]int)
	scanned := 0

	files, err := matchIncludeExclude(fsys, c.Cfg.IncludeGlobs, c.Cfg.ExcludeGlobs)
	if err != nil {
		res.Violations = append(res.Violations, newViolation("loc.check_failed", "", "glob evaluation failed: %v", err))
		return res
	}

	for _, path := range files {
		b, err := fsys.ReadFile(path)
		if err != nil {
			res.Violations = append(res.Violations, newViolation("loc.read_failed", path, "read failed: %v", err))
			continue
		}
		if !utf8.Valid(b) {
			res.Violations = append(res.Violations, newViolation("loc.read_failed", path, "file is not valid UTF-8"))
			continue
		}
		count := countLines(b)
		locPerFile[path] = count
		scanned++
		if c.Cfg.MaxLOC > 0 && count > c.Cfg.MaxLOC {
			res.Violations = append(res.Violations, newViolation("loc.max_exceeded", path, "file has %d lines, exceeds budget %d", count, c.Cfg.MaxLOC))
		}
	}

	res.Summary = map[string]any{
		"loc_per_file":  locPerFile,
		"files_scanned": scanned,
		"max_loc":       c.Cfg.MaxLOC,
		"universe":      len(files),
	}
	return res
}

func countLines(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	n := bytes.Count(b, []byte("\n"))
	if b[len(b)-1] != '\n' {
		n++
	}
	return n
}

// matchIncludeExclude unions every include glob's matches, then drops
// anything matching an exclude glob.
func matchIncludeExclude(fsys FS, include, exclude []string) ([]string, error) {
	seen := make(map[string]bool)
	var ordered []string
	for _, pattern := range include {
		matches, err := fsys.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				ordered = append(ordered, m)
			}
		}
	}
	if len(exclude) == 0 {
		return ordered, nil
	}
	excluded := make(map[string]bool)
	for _, pattern := range exclude {
		matches, err := fsys.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			excluded[m] = true
		}
	}
	out := ordered[:0:0]
	for _, m := range ordered {
		if !excluded[m] {
			out = append(out, m)
		}
	}
	return out, nil
}
