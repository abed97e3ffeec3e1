package ics

import (
	"errors"
	"fmt"
	"time"
)

// eventGroup is every event sharing one UID: the base series plus its
// single-instance overrides.
type eventGroup struct {
	bases     []*Event
	overrides []*Event
}

// groupByUID splits events into per-UID groups, preserving feed order both
// across groups and within them.
func groupByUID(events []Event) []*eventGroup {
	index := make(map[string]int)
	var groups []*eventGroup
	for i := range events {
		ev := &events[i]
		gi, ok := index[ev.UID]
		if !ok {
			gi = len(groups)
			index[ev.UID] = gi
			groups = append(groups, &eventGroup{})
		}
		if ev.IsOverride() {
			groups[gi].overrides = append(groups[gi].overrides, ev)
		} else {
			groups[gi].bases = append(groups[gi].bases, ev)
		}
	}
	return groups
}

// resolver materializes occurrences for a window: expansion of the base
// series, then single-instance overrides applied on top.
type resolver struct {
	table       *tzTable
	windowStart time.Time
	windowEnd   time.Time
	max         int
}

// resolveOccurrences runs every UID group through the resolver. Warnings
// carry expansion degradations; the error aggregates per-event overflow
// failures while the returned occurrences stay valid.
func resolveOccurrences(events []Event, table *tzTable, windowStart, windowEnd time.Time, max int) ([]Occurrence, []Warning, error) {
	r := &resolver{table: table, windowStart: windowStart, windowEnd: windowEnd, max: max}
	var (
		occs     []Occurrence
		warnings []Warning
		errs     []error
	)
	for _, g := range groupByUID(events) {
		o, w, err := r.resolveGroup(g)
		occs = append(occs, o...)
		warnings = append(warnings, w...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return occs, warnings, errors.Join(errs...)
}

func (r *resolver) resolveGroup(g *eventGroup) ([]Occurrence, []Warning, error) {
	type slot struct {
		ev       *Event
		start    Instant
		override *Event
		removed  bool
	}

	var (
		slots    []slot
		occs     []Occurrence
		warnings []Warning
		errs     []error
	)

	for _, base := range g.bases {
		widen := base.Duration()
		if base.Start.Precision == PrecisionDate {
			// Nominal day arithmetic can outrun the exact interval across
			// transitions; the query filter trims the overshoot.
			widen += 24 * time.Hour
		}
		cfg := expandConfig{
			windowStart: r.windowStart.Add(-widen),
			windowEnd:   r.windowEnd,
			max:         r.max,
			zone:        r.table.zoneFor(base.Start.Time.Location().String()),
		}
		starts, err := expandEvent(base, cfg)
		if err != nil {
			var overflow *RecurrenceOverflowError
			if errors.As(err, &overflow) {
				warnings = append(warnings, Warning{Kind: WarnTruncatedExpansion, UID: base.UID, Msg: err.Error()})
				errs = append(errs, err)
			} else {
				warnings = append(warnings, Warning{Kind: WarnInvalidEvent, UID: base.UID, Msg: fmt.Sprintf("recurrence expansion failed: %v", err)})
				continue
			}
		}
		for _, s := range starts {
			slots = append(slots, slot{ev: base, start: s})
		}
	}

	// Winning override per original instant: highest SEQUENCE, later in the
	// feed on ties.
	best := make(map[int64]*Event)
	var order []int64
	for _, ov := range g.overrides {
		key := ov.RecurrenceID.Time.UnixNano()
		cur, ok := best[key]
		if !ok {
			order = append(order, key)
		}
		if !ok || ov.Sequence >= cur.Sequence {
			best[key] = ov
		}
	}

	for _, key := range order {
		ov := best[key]
		matched := false
		for i := range slots {
			if slots[i].start.Time.UnixNano() != key {
				continue
			}
			matched = true
			if ov.Status == StatusCancelled {
				slots[i].removed = true
			} else {
				slots[i].override = ov
			}
			break
		}
		if matched {
			continue
		}
		// Nothing was generated at that instant. Cancelling nothing is a
		// no-op, an excluded instant stays excluded, and any other unmatched
		// override stands on its own start.
		if ov.Status == StatusCancelled || excludedByBase(g.bases, ov.RecurrenceID) {
			continue
		}
		occs = append(occs, makeOccurrence(ov, ov.Start, ov.RecurrenceID.Time, true))
	}

	for i := range slots {
		s := &slots[i]
		switch {
		case s.removed:
		case s.override != nil:
			occs = append(occs, makeOccurrence(s.override, s.override.Start, s.start.Time, true))
		default:
			occs = append(occs, makeOccurrence(s.ev, s.start, s.start.Time, false))
		}
	}
	return occs, warnings, errors.Join(errs...)
}

func excludedByBase(bases []*Event, id Instant) bool {
	for _, b := range bases {
		for _, ex := range b.ExceptionDates {
			if ex.Time.Equal(id.Time) {
				return true
			}
		}
	}
	return false
}

// makeOccurrence projects an event onto one start instant. original is the
// instant the series generated for the slot, which differs from the start
// only for moved overrides.
func makeOccurrence(ev *Event, start Instant, original time.Time, override bool) Occurrence {
	return Occurrence{
		UID:           ev.UID,
		Summary:       ev.Summary,
		Description:   ev.Description,
		Location:      ev.Location,
		URL:           ev.URL,
		Start:         start.Time,
		End:           occurrenceEnd(ev, start),
		Precision:     start.Precision,
		OriginalStart: original,
		Floating:      ev.Floating,
		Recurring:     ev.Recurring(),
		IsOverride:    override,
		Status:        ev.Status,
		Transparency:  ev.Transparency,
		Sequence:      ev.Sequence,
	}
}

// occurrenceEnd projects the event's span onto a generated start: nominal
// calendar days for date precision, the exact interval otherwise.
func occurrenceEnd(ev *Event, start Instant) time.Time {
	if ev.Start.Precision == PrecisionDate {
		return start.Time.AddDate(0, 0, nominalDays(ev))
	}
	return start.Time.Add(ev.Duration())
}

// nominalDays is the event's span in whole calendar days, robust to
// transitions shifting the exact interval by an hour or two.
func nominalDays(ev *Event) int {
	d := ev.Duration()
	return int((d + 12*time.Hour) / (24 * time.Hour))
}
