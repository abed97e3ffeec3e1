package ics

import (
	"time"

	"github.com/teambition/rrule-go"
)

// DefaultMaxOccurrences caps how many candidate instants a single event's
// rule may generate per query when Options does not set its own limit.
const DefaultMaxOccurrences = 5000

// expandConfig bounds one event's expansion. The window start is pre-widened
// by the event's duration so already-running occurrences are not cut off.
// zone is the embedded timezone definition the event was resolved against,
// nil when a real location is in play.
type expandConfig struct {
	windowStart time.Time
	windowEnd   time.Time
	max         int
	zone        *vtimezone
}

// expandEvent generates the start instants of ev inside the window:
//
//  1. the series is DTSTART plus whatever the rule generates from it
//  2. recurrence dates are unioned in, duplicates collapsed
//  3. exception dates remove exact instants, DTSTART included
//
// COUNT and UNTIL bound the series itself; the window only filters what is
// returned, so out-of-window candidates still consume the rule's count.
// Generation stops early once candidates pass the window end, and the safety
// cap turns runaway rules into a RecurrenceOverflowError with the in-window
// prefix still returned.
func expandEvent(ev *Event, cfg expandConfig) ([]Instant, error) {
	candidates := []Instant{ev.Start}
	var overflow error

	if ev.Rule != nil {
		r, err := rruleFromRule(ev.Rule, ev.Start.Time)
		if err != nil {
			return nil, err
		}
		// Rebasing embedded-zone instants can move them by the offset delta,
		// so keep generating briefly past the window end before stopping.
		var grace time.Duration
		if cfg.zone != nil {
			grace = 24 * time.Hour
		}
		next := r.Iterator()
		generated := 0
		for {
			t, ok := next()
			if !ok {
				break
			}
			generated++
			if generated > cfg.max {
				overflow = &RecurrenceOverflowError{UID: ev.UID, Cap: cfg.max}
				break
			}
			if cfg.zone != nil {
				t = cfg.zone.rebase(t)
			}
			if !t.Before(cfg.windowEnd) {
				if t.Sub(cfg.windowEnd) >= grace {
					break
				}
				continue
			}
			candidates = append(candidates, Instant{Time: t, Precision: ev.Start.Precision})
		}
	}

	candidates = append(candidates, ev.RecurrenceDates...)

	starts := make([]Instant, 0, len(candidates))
	seen := make(map[int64]bool, len(candidates))
	for _, c := range candidates {
		if c.Time.Before(cfg.windowStart) || !c.Time.Before(cfg.windowEnd) {
			continue
		}
		if containsInstant(ev.ExceptionDates, c) {
			continue
		}
		if key := c.Time.UnixNano(); !seen[key] {
			seen[key] = true
			starts = append(starts, c)
		}
	}
	return starts, overflow
}

func containsInstant(set []Instant, ins Instant) bool {
	for _, s := range set {
		if s.Equal(ins) {
			return true
		}
	}
	return false
}

// rruleFromRule converts the structured rule into the recurrence library's
// options, anchored at dtstart. Library semantics match the calendar model:
// a BYMONTHDAY past a month's end skips that month, and a Feb 29 anchor
// yields nothing in common years.
func rruleFromRule(rule *RecurrenceRule, dtstart time.Time) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Freq:       rruleFreq(rule.Freq),
		Dtstart:    dtstart,
		Interval:   rule.Interval,
		Wkst:       rruleWeekday(rule.WeekStart, 0),
		Count:      rule.Count,
		Bymonthday: rule.ByMonthDay,
		Byyearday:  rule.ByYearDay,
		Byweekno:   rule.ByWeekNo,
		Byhour:     rule.ByHour,
		Byminute:   rule.ByMinute,
		Bysecond:   rule.BySecond,
		Bysetpos:   rule.BySetPos,
	}
	if !rule.Until.IsZero() {
		opt.Until = rule.Until.Time
	}
	for _, sel := range rule.ByDay {
		opt.Byweekday = append(opt.Byweekday, rruleWeekday(sel.Weekday, sel.Ordinal))
	}
	for _, m := range rule.ByMonth {
		opt.Bymonth = append(opt.Bymonth, int(m))
	}
	return rrule.NewRRule(opt)
}

func rruleFreq(f Frequency) rrule.Frequency {
	switch f {
	case FreqYearly:
		return rrule.YEARLY
	case FreqMonthly:
		return rrule.MONTHLY
	case FreqWeekly:
		return rrule.WEEKLY
	case FreqDaily:
		return rrule.DAILY
	case FreqHourly:
		return rrule.HOURLY
	case FreqMinutely:
		return rrule.MINUTELY
	default:
		return rrule.SECONDLY
	}
}

func rruleWeekday(w time.Weekday, ordinal int) rrule.Weekday {
	var wd rrule.Weekday
	switch w {
	case time.Monday:
		wd = rrule.MO
	case time.Tuesday:
		wd = rrule.TU
	case time.Wednesday:
		wd = rrule.WE
	case time.Thursday:
		wd = rrule.TH
	case time.Friday:
		wd = rrule.FR
	case time.Saturday:
		wd = rrule.SA
	default:
		wd = rrule.SU
	}
	if ordinal != 0 {
		wd = wd.Nth(ordinal)
	}
	return wd
}
