package ics

import (
	"sort"
	"time"
)

// QueryMode selects how the window filters occurrences.
type QueryMode string

const (
	// ModeOverlap keeps occurrences whose span intersects the window:
	// start < window end and end > window start.
	ModeOverlap QueryMode = "overlap"
	// ModeContains keeps occurrences lying entirely inside the window,
	// end inclusive.
	ModeContains QueryMode = "contains"
)

// Query describes one occurrence lookup over a parsed calendar.
type Query struct {
	// Start and End bound the window. End must be after Start.
	Start time.Time
	End   time.Time

	// Mode defaults to ModeOverlap.
	Mode QueryMode

	// Dedup collapses duplicate (uid, start) keys, keeping the last
	// resolved instance.
	Dedup bool
}

func inWindow(o *Occurrence, q Query) bool {
	switch q.Mode {
	case ModeContains:
		return !o.Start.Before(q.Start) && !o.End.After(q.End)
	default:
		return o.Start.Before(q.End) && o.End.After(q.Start)
	}
}

// sortOccurrences orders ascending by start, ties by uid, overrides after
// base instances at the same key so last-wins dedup keeps the override.
func sortOccurrences(occs []Occurrence) {
	sort.SliceStable(occs, func(i, j int) bool {
		a, b := &occs[i], &occs[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.UID != b.UID {
			return a.UID < b.UID
		}
		if a.IsOverride != b.IsOverride {
			return !a.IsOverride
		}
		return false
	})
}

// dedupOccurrences collapses identical (uid, start) keys in sorted input,
// keeping the last instance.
func dedupOccurrences(occs []Occurrence) []Occurrence {
	if len(occs) < 2 {
		return occs
	}
	out := occs[:0]
	for i := range occs {
		if i+1 < len(occs) && occs[i+1].UID == occs[i].UID && occs[i+1].Start.Equal(occs[i].Start) {
			continue
		}
		out = append(out, occs[i])
	}
	return out
}

// Merge combines occurrence lists from independent calendars into one
// canonically ordered result, optionally collapsing (uid, start) duplicates
// across them. The ordering is stable, so on duplicates later lists win,
// matching the per-calendar last-wins rule.
func Merge(dedup bool, lists ...[]Occurrence) []Occurrence {
	var all []Occurrence
	for _, l := range lists {
		all = append(all, l...)
	}
	sortOccurrences(all)
	if dedup {
		all = dedupOccurrences(all)
	}
	return all
}

// runQuery filters, orders and optionally dedups resolved occurrences.
func runQuery(occs []Occurrence, q Query) []Occurrence {
	out := make([]Occurrence, 0, len(occs))
	for i := range occs {
		if inWindow(&occs[i], q) {
			out = append(out, occs[i])
		}
	}
	sortOccurrences(out)
	if q.Dedup {
		out = dedupOccurrences(out)
	}
	return out
}
