// Package checks implements the fixed battery of repository-quality
// checks Compas runs during validate: lines-of-code budgets, boundary
// pattern scans, public-surface census, duplicate-file detection, env
// registry coverage, supply-chain manifest/lockfile pairing, and tool/
// check budget ceilings.
//
// Each check is a small struct configured with globs and patterns,
// whose Run method walks matching files and returns a flat
// []Violation. The same walk-and-match loop covers eight independent
// check kinds, each returning the same Violation shape so judge can
// classify all of them uniformly.
package checks

import "fmt"

// Violation carries no class or tier, so checks has no dependency on
// the classification registry; judge's Registry.ClassifyAll assigns
// the authoritative class and tier from the Code alone.
type Violation struct {
	Code    string
	Message string
	Path    string
	Details map[string]any
}

func newViolation(code, path, format string, args ...any) Violation {
	return Violation{Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Result is the outcome of running one check: its violations plus a
// small summary of what was scanned, consumed both by the user-facing
// report and by the quality snapshot for ratchet comparison.
type Result struct {
	CheckID    string
	Violations []Violation
	Summary    map[string]any
}

// Runner is a single check kind, implemented by LOC, Boundary,
// PublicSurface, Duplicates, EnvRegistry, SupplyChain, ToolBudget, and
// AllowAny.
type Runner interface {
	ID() string
	Run(fsys FS) Result
}

// FS is the minimal filesystem surface checks need: list matching
// files and read their bytes. Implementations walk a real repo root;
// tests use an in-memory fake.
type FS interface {
	// Glob returns repo-relative paths matching the doublestar pattern,
	// sorted lexically.
	Glob(pattern string) ([]string, error)
	// ReadFile returns the raw bytes of a repo-relative path.
	ReadFile(path string) ([]byte, error)
	// Stat reports whether path exists and, if so, its size in bytes.
	Stat(path string) (size int64, ok bool, err error)
}

// RunAll executes every configured runner and concatenates their
// results. Order is the order of runners, which callers fix to a
// canonical check order so output is deterministic.
func RunAll(fsys FS, runners []Runner) []Result {
	results := make([]Result, 0, len(runners))
	for _, r := range runners {
		results = append(results, r.Run(fsys))
	}
	return results
}
