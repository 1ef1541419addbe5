package checks

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/AmirTlinov/compas/pkg/config"
)

// SupplyChainCheck walks dependency manifests and confirms each has its
// ecosystem's canonical lockfile alongside it, and flags pre-release
// dependency version strings.
type SupplyChainCheck struct {
	Cfg config.SupplyChainCheckConfig
}

func (c SupplyChainCheck) ID() string { return "supply_chain" }

type ecosystemRule struct {
	manifestBase string
	lockNames    []string
	prereleaseRE *regexp.Regexp
}

var ecosystems = []ecosystemRule{
	{
		manifestBase: "Cargo.toml",
		lockNames:    []string{"Cargo.lock"},
		prereleaseRE: regexp.MustCompile(`=\s*"[^"]*-(alpha|beta|rc|pre|dev)[^"]*"`),
	},
	{
		manifestBase: "package.json",
		lockNames:    []string{"package-lock.json", "pnpm-lock.yaml", "yarn.lock", "bun.lock"},
		prereleaseRE: regexp.MustCompile(`"[~^]?\d+\.\d+\.\d+-(alpha|beta|rc|canary|next)[^"]*"`),
	},
	{
		manifestBase: "pyproject.toml",
		lockNames:    []string{"poetry.lock", "uv.lock", "Pipfile.lock", "requirements.txt"},
		prereleaseRE: regexp.MustCompile(`==\s*[^\s]*(a|b|rc)\d+`),
	},
	{
		manifestBase: "requirements.txt",
		lockNames:    []string{"poetry.lock", "uv.lock", "Pipfile.lock"},
		prereleaseRE: regexp.MustCompile(`==\s*[^\s]*(a|b|rc)\d+`),
	},
}

func (c SupplyChainCheck) Run(fsys FS) Result {
	res := Result{CheckID: c.ID()}

	globs := c.Cfg.ManifestGlobs
	if len(globs) == 0 {
		globs = []string{"**/Cargo.toml", "**/package.json", "**/pyproject.toml", "**/requirements.txt"}
	}

	manifests, err := matchIncludeExclude(fsys, globs, nil)
	if err != nil {
		res.Violations = append(res.Violations, newViolation("supply_chain.check_failed", "", "glob evaluation failed: %v", err))
		return res
	}

	checked := 0
	for _, path := range manifests {
		base := filepath.Base(path)
		dir := filepath.Dir(path)
		rule := ecosystemForBase(base)
		if rule == nil {
			continue
		}
		checked++

		found := false
		for _, lockName := range rule.lockNames {
			if _, ok, _ := fsys.Stat(filepath.ToSlash(filepath.Join(dir, lockName))); ok {
				found = true
				break
			}
		}
		if !found {
			res.Violations = append(res.Violations, newViolation("supply_chain.lockfile_missing", path, "no lockfile found for %s among %s", base, strings.Join(rule.lockNames, ", ")))
		}

		content, err := fsys.ReadFile(path)
		if err != nil {
			continue
		}
		if rule.prereleaseRE.Match(content) {
			res.Violations = append(res.Violations, newViolation("supply_chain.prerelease_dependency", path, "manifest declares a pre-release dependency version"))
		}
	}

	res.Summary = map[string]any{
		"manifests_checked": checked,
		"universe":          len(manifests),
	}
	return res
}

func ecosystemForBase(base string) *ecosystemRule {
	for i := range ecosystems {
		if ecosystems[i].manifestBase == base {
			return &ecosystems[i]
		}
	}
	return nil
}
