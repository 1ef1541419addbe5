package checks

import (
	"sort"

	"github.com/AmirTlinov/compas/pkg/config"
	"github.com/AmirTlinov/compas/pkg/hashutil"
)

// DuplicatesCheck hashes every matched file, in a sorted walk, and
// groups identical content. Every file's hash is kept (rather than
// folded into one manifest hash) so duplicate groups can be reported
// individually.
type DuplicatesCheck struct {
	Cfg config.DuplicatesCheckConfig
}

func (c DuplicatesCheck) ID() string { return "duplicates" }

func (c DuplicatesCheck) Run(fsys FS) Result {
	res := Result{CheckID: c.ID()}

	files, err := matchIncludeExclude(fsys, c.Cfg.IncludeGlobs, nil)
	if err != nil {
		res.Violations = append(res.Violations, newViolation("duplicates.check_failed", "", "glob evaluation failed: %v", err))
		return res
	}

	byHash := make(map[string][]string)
	scanned := 0
	for _, path := range files {
		size, ok, err := fsys.Stat(path)
		if err != nil {
			res.Violations = append(res.Violations, newViolation("duplicates.stat_failed", path, "stat failed: %v", err))
			continue
		}
		if !ok {
			continue
		}
		if c.Cfg.MaxFileBytes > 0 && size > c.Cfg.MaxFileBytes {
			continue
		}
		b, err := fsys.ReadFile(path)
		if err != nil {
			res.Violations = append(res.Violations, newViolation("duplicates.read_failed", path, "read failed: %v", err))
			continue
		}
		scanned++
		h := hashutil.SHA256Hex(b)
		byHash[h] = append(byHash[h], path)
	}

	var groups [][]string
	for _, paths := range byHash {
		if len(paths) >= 2 {
			sorted := append([]string(nil), paths...)
			sort.Strings(sorted)
			groups = append(groups, sorted)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })

	res.Summary = map[string]any{
		"duplicate_groups": groups,
		"files_scanned":    scanned,
		"universe":         len(files),
	}

	if len(groups) > 0 {
		res.Violations = append(res.Violations, newViolation("duplicates.found", "", "%d duplicate group(s) found", len(groups)))
	}
	return res
}
