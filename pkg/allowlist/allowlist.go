// Package allowlist applies the exception protocol: suppressing
// violations that match a time-bounded allowlist entry, flagging
// expired entries, and enforcing a configured exception budget.
//
// Matching separates "does this entry apply" from "is this entry
// still trustworthy" (threshold/expiry checks), applied here to
// rule/path exceptions rather than signature trust.
package allowlist

import (
	"time"

	"github.com/AmirTlinov/compas/pkg/checks"
	"github.com/AmirTlinov/compas/pkg/config"
)

// Outcome is the result of applying an allowlist to one set of raw
// violations: which survived (insights_display feeds from these plus
// the synthetic exception.* violations), which were suppressed, and
// which expired entries or budget overruns were found along the way.
type Outcome struct {
	Display       []checks.Violation
	Suppressed    []checks.Violation
	Synthetic     []checks.Violation
	SuppressedIDs []string
}

// Apply suppresses entries in raw whose (rule, path) matches a live
// allowlist entry. Malformed entries never reach this function: the
// loader already degrades a malformed allowlist.toml to an empty slice
// and validate.Run itself emits exception.allowlist_invalid as
// part of raw so it survives into insights_raw untouched (suppression
// is never applied to that code, even if some other entry matches it).
func Apply(raw []checks.Violation, entries []config.ExceptionEntry, maxExceptions int, now time.Time) Outcome {
	out := Outcome{}

	type key struct{ rule, path string }
	live := make(map[key]config.ExceptionEntry)
	for _, e := range entries {
		if e.ExpiresAt != nil && e.ExpiresAt.Before(now) {
			out.Synthetic = append(out.Synthetic, checks.Violation{
				Code:    "exception.expired",
				Path:    e.Path,
				Message: "allowlist entry " + e.ID + " for rule " + e.Rule + " expired at " + e.ExpiresAt.Format(time.RFC3339),
			})
			continue
		}
		live[key{e.Rule, e.Path}] = e
	}

	for _, v := range raw {
		if v.Code == "exception.allowlist_invalid" {
			out.Display = append(out.Display, v)
			continue
		}
		if entry, ok := live[key{v.Code, v.Path}]; ok {
			out.Suppressed = append(out.Suppressed, v)
			out.SuppressedIDs = append(out.SuppressedIDs, entry.ID)
			continue
		}
		out.Display = append(out.Display, v)
	}

	if maxExceptions > 0 && len(out.Suppressed) > maxExceptions {
		out.Synthetic = append(out.Synthetic, checks.Violation{
			Code:    "exception.budget_exceeded",
			Message: "suppressed violation count exceeds max_exceptions",
		})
	}

	out.Display = append(out.Display, out.Synthetic...)
	return out
}
