// Package ics parses iCalendar (RFC 5545) data and answers time-window
// queries over it: recurring events are expanded into concrete occurrences,
// single-instance overrides applied, and the results filtered, ordered and
// deduplicated.
//
// The package is pure: it does no I/O and resolves timezone identifiers only
// through embedded VTIMEZONE definitions and the injected TimezoneResolver.
// Parsing is lenient by default, skipping broken blocks and recording what
// was skipped as warnings; strict mode turns the first violation into an
// error instead.
package ics

import (
	"fmt"
	"strings"
	"time"
)

// Options configures one parse.
type Options struct {
	// Strict aborts on the first structural or semantic violation instead
	// of skipping the offending block with a warning.
	Strict bool

	// FixQuirks repairs known vendor deviations: malformed UTC offsets in
	// timezone rules, doubled blank lines, and UNTIL values whose precision
	// does not match the event.
	FixQuirks bool

	// Floating names the zone floating values are interpreted in. When nil
	// the calendar's own declaration applies, then a lone embedded timezone
	// definition, then UTC.
	Floating *time.Location

	// Resolver maps timezone identifiers that are not embedded in the
	// calendar. Defaults to DefaultResolver.
	Resolver TimezoneResolver

	// MaxOccurrences caps per-event candidate generation per query.
	// Defaults to DefaultMaxOccurrences.
	MaxOccurrences int
}

// Calendar is a parsed calendar ready for occurrence queries. A Calendar is
// immutable once parsed; queries may run concurrently.
type Calendar struct {
	// Name is the declared display name (X-WR-CALNAME), may be empty.
	Name string

	// Timezone names the zone floating values were interpreted in.
	Timezone string

	// Events holds every normalized event, overrides included.
	Events []Event

	// Warnings collects everything the parse skipped or repaired.
	Warnings []Warning

	tz  *tzTable
	max int
}

// ParseCalendar parses raw iCalendar text. In lenient mode (the default)
// broken event blocks and unparsable values degrade to warnings on the
// result; document-level structural violations are errors in both modes.
func ParseCalendar(data []byte, opts Options) (*Calendar, error) {
	if opts.Resolver == nil {
		opts.Resolver = DefaultResolver()
	}
	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = DefaultMaxOccurrences
	}
	if opts.FixQuirks {
		data = applyVendorFixes(data)
	}

	root, warnings, err := ReadCalendar(string(data), opts.Strict)
	if err != nil {
		return nil, err
	}

	table, tzWarnings := newTZTable(root, opts.Resolver)
	warnings = append(warnings, tzWarnings...)

	n := newNormalizer(root, opts, table)
	events := n.normalizeAll(root)
	warnings = append(warnings, n.warnings...)

	cal := &Calendar{
		Timezone: n.zoneName(),
		Events:   events,
		Warnings: warnings,
		tz:       table,
		max:      opts.MaxOccurrences,
	}
	if p := root.Prop("X-WR-CALNAME"); p != nil {
		cal.Name = strings.TrimSpace(unescapeText(p.Value))
	}
	return cal, nil
}

// Occurrences answers one window query. The returned warnings carry
// query-time degradations; a non-nil error aggregates per-event expansion
// overflows, and the occurrences returned alongside it are still the valid
// in-window results.
func (c *Calendar) Occurrences(q Query) ([]Occurrence, []Warning, error) {
	if q.Start.IsZero() || q.End.IsZero() || !q.End.After(q.Start) {
		return nil, nil, fmt.Errorf("invalid query window [%s, %s)",
			q.Start.Format(time.RFC3339), q.End.Format(time.RFC3339))
	}
	occs, warnings, err := resolveOccurrences(c.Events, c.tz, q.Start, q.End, c.max)
	return runQuery(occs, q), warnings, err
}
