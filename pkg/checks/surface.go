package checks

import (
	"regexp"
	"sort"
	"unicode/utf8"

	"github.com/AmirTlinov/compas/pkg/config"
)

// PublicSurfaceCheck tokenizes source files to census public
// declarations: a line-scan loop asking "does this line declare a
// public item, and if so what is its identifier."
type PublicSurfaceCheck struct {
	Cfg config.PublicSurfaceCheckConfig
}

func (c PublicSurfaceCheck) ID() string { return "public_surface" }

// pubDeclRe matches a `pub` declaration keyword followed by an
// identifier.
var pubDeclRe = regexp.MustCompile(`\bpub\s+(mod|use|fn|struct|enum|trait|const|static|type)\s+([A-Za-z_][A-Za-z0-9_]*)`)

func (c PublicSurfaceCheck) Run(fsys FS) Result {
	res := Result{CheckID: c.ID()}
	itemSet := make(map[string]bool)

	files, err := matchIncludeExclude(fsys, c.Cfg.IncludeGlobs, nil)
	if err != nil {
		res.Violations = append(res.Violations, newViolation("surface.check_failed", "", "glob evaluation failed: %v", err))
		return res
	}

	scanned := 0
	for _, path := range files {
		b, err := fsys.ReadFile(path)
		if err != nil {
			res.Violations = append(res.Violations, newViolation("surface.read_failed", path, "read failed: %v", err))
			continue
		}
		if !utf8.Valid(b) {
			res.Violations = append(res.Violations, newViolation("surface.read_failed", path, "file is not valid UTF-8"))
			continue
		}
		scanned++
		for _, m := range pubDeclRe.FindAllStringSubmatch(string(b), -1) {
			itemSet[path+"::"+m[1]+" "+m[2]] = true
		}
	}

	items := make([]string, 0, len(itemSet))
	for k := range itemSet {
		items = append(items, k)
	}
	sort.Strings(items)

	res.Summary = map[string]any{
		"items":         items,
		"items_total":   len(items),
		"files_scanned": scanned,
		"universe":      len(files),
	}

	if c.Cfg.MaxPubItems > 0 && len(items) > c.Cfg.MaxPubItems {
		res.Violations = append(res.Violations, newViolation("surface.max_exceeded", "", "public surface has %d items, exceeds budget %d", len(items), c.Cfg.MaxPubItems))
	}
	return res
}
