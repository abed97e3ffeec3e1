package ics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Layouts for the date and date-time value forms.
const (
	layoutDate        = "20060102"
	layoutDateTime    = "20060102T150405"
	layoutDateTimeUTC = "20060102T150405Z"
)

// inZone rebuilds a wall-clock value in the given location.
func inZone(wall time.Time, loc *time.Location) time.Time {
	return time.Date(wall.Year(), wall.Month(), wall.Day(),
		wall.Hour(), wall.Minute(), wall.Second(), wall.Nanosecond(), loc)
}

// normalizer turns raw VEVENT components into canonical events. It owns the
// timezone table for the parse and records degradations as warnings.
type normalizer struct {
	tz        *tzTable
	strict    bool
	fixQuirks bool

	// Floating designation, in priority order: the consumer's zone, the
	// calendar-declared zone, a lone embedded definition, UTC.
	floatLoc  *time.Location
	floatTZID string

	warnings []Warning
	warned   map[string]bool // one fallback warning per TZID
}

func newNormalizer(root *RawComponent, opts Options, tz *tzTable) *normalizer {
	n := &normalizer{
		tz:        tz,
		strict:    opts.Strict,
		fixQuirks: opts.FixQuirks,
		floatLoc:  opts.Floating,
		warned:    make(map[string]bool),
	}
	if n.floatLoc == nil {
		if p := root.Prop("X-WR-TIMEZONE"); p != nil && strings.TrimSpace(p.Value) != "" {
			n.floatTZID = strings.TrimSpace(p.Value)
		} else if len(tz.embedded) == 1 {
			for id := range tz.embedded {
				n.floatTZID = id
			}
		}
	}
	return n
}

// normalizeAll maps every VEVENT under root. Invalid events are skipped with
// a warning in both modes; the event taxonomy never aborts the parse.
func (n *normalizer) normalizeAll(root *RawComponent) []Event {
	var events []Event
	for _, comp := range root.Sub(compEvent) {
		ev, err := n.event(comp)
		if err != nil {
			n.warnings = append(n.warnings, Warning{Kind: WarnInvalidEvent, UID: ev.UID, Msg: err.Error()})
			continue
		}
		events = append(events, ev)
	}
	return events
}

func (n *normalizer) event(comp *RawComponent) (Event, error) {
	var ev Event

	uid := comp.Prop("UID")
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return ev, &InvalidEventError{Msg: "missing UID"}
	}
	ev.UID = strings.TrimSpace(uid.Value)

	dtstart := comp.Prop("DTSTART")
	if dtstart == nil {
		return ev, &InvalidEventError{UID: ev.UID, Msg: "missing DTSTART"}
	}
	start, floating, err := n.instant(dtstart, ev.UID)
	if err != nil {
		return ev, &InvalidEventError{UID: ev.UID, Msg: fmt.Sprintf("bad DTSTART: %v", err)}
	}
	ev.Start = start
	ev.Floating = floating

	if err := n.eventEnd(comp, &ev); err != nil {
		return ev, err
	}

	if p := comp.Prop("SUMMARY"); p != nil {
		ev.Summary = unescapeText(p.Value)
	}
	if p := comp.Prop("DESCRIPTION"); p != nil {
		ev.Description = unescapeText(p.Value)
	}
	if p := comp.Prop("LOCATION"); p != nil {
		ev.Location = unescapeText(p.Value)
	}
	if p := comp.Prop("URL"); p != nil {
		ev.URL = strings.TrimSpace(p.Value)
	}
	if p := comp.Prop("ORGANIZER"); p != nil {
		ev.Organizer = strings.TrimSpace(p.Value)
	}
	for _, p := range comp.Props("ATTENDEE") {
		if v := strings.TrimSpace(p.Value); v != "" {
			ev.Attendees = append(ev.Attendees, v)
		}
	}
	for _, p := range comp.Props("CATEGORIES") {
		for _, c := range splitList(p.Value) {
			if c = strings.TrimSpace(unescapeText(c)); c != "" {
				ev.Categories = append(ev.Categories, c)
			}
		}
	}

	ev.Status = Status(strings.ToUpper(strings.TrimSpace(propValue(comp, "STATUS"))))
	ev.Transparency = TranspOpaque
	if strings.EqualFold(propValue(comp, "TRANSP"), string(TranspTransparent)) {
		ev.Transparency = TranspTransparent
	}
	if v := propValue(comp, "SEQUENCE"); v != "" {
		if seq, serr := strconv.Atoi(v); serr == nil && seq >= 0 {
			ev.Sequence = seq
		}
	}
	ev.Created = parseUTCStamp(propValue(comp, "CREATED"))
	ev.LastModified = parseUTCStamp(propValue(comp, "LAST-MODIFIED"))
	ev.DTStamp = parseUTCStamp(propValue(comp, "DTSTAMP"))

	if err := n.recurrenceID(comp, &ev); err != nil {
		return ev, err
	}
	if err := n.recurrence(comp, &ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// eventEnd derives the exclusive end instant: DTEND, else DURATION, else the
// implicit default (one day for date precision, zero length otherwise).
func (n *normalizer) eventEnd(comp *RawComponent, ev *Event) error {
	dtend := comp.Prop("DTEND")
	duration := comp.Prop("DURATION")
	switch {
	case dtend != nil:
		end, _, err := n.instant(dtend, ev.UID)
		if err != nil {
			return &InvalidEventError{UID: ev.UID, Msg: fmt.Sprintf("bad DTEND: %v", err)}
		}
		if end.Precision != ev.Start.Precision {
			return &InvalidEventError{UID: ev.UID, Msg: "DTSTART and DTEND precision mismatch"}
		}
		if end.Time.Before(ev.Start.Time) {
			return &InvalidEventError{UID: ev.UID, Msg: "DTEND before DTSTART"}
		}
		ev.End = end
	case duration != nil:
		d, err := parseICSDuration(duration.Value)
		if err != nil {
			return &InvalidEventError{UID: ev.UID, Msg: fmt.Sprintf("bad DURATION: %v", err)}
		}
		if d.Negative {
			return &InvalidEventError{UID: ev.UID, Msg: "negative DURATION"}
		}
		if ev.Start.Precision == PrecisionDate && d.Clock != 0 {
			return &InvalidEventError{UID: ev.UID, Msg: "DURATION with a time part on a date-only event"}
		}
		ev.End = Instant{Time: d.addTo(ev.Start), Precision: ev.Start.Precision}
	case ev.Start.Precision == PrecisionDate:
		ev.End = Instant{Time: ev.Start.Time.AddDate(0, 0, 1), Precision: PrecisionDate}
	default:
		ev.End = ev.Start
	}
	return nil
}

func (n *normalizer) recurrenceID(comp *RawComponent, ev *Event) error {
	p := comp.Prop("RECURRENCE-ID")
	if p == nil {
		return nil
	}
	if r := p.Param("RANGE"); r != "" {
		if n.strict {
			return &InvalidEventError{UID: ev.UID, Msg: fmt.Sprintf("unsupported RECURRENCE-ID range %q", r)}
		}
		n.warnings = append(n.warnings, Warning{
			Kind: WarnRuleRepaired,
			UID:  ev.UID,
			Msg:  fmt.Sprintf("RECURRENCE-ID range %q not supported; treated as a single-instance override", r),
		})
	}
	id, _, err := n.instant(p, ev.UID)
	if err != nil {
		return &InvalidEventError{UID: ev.UID, Msg: fmt.Sprintf("bad RECURRENCE-ID: %v", err)}
	}
	ev.RecurrenceID = id
	return nil
}

// recurrence parses RRULE, RDATE and EXDATE. A broken rule drops the event
// in strict mode; lenient parsing downgrades it to a single occurrence.
func (n *normalizer) recurrence(comp *RawComponent, ev *Event) error {
	rules := comp.Props("RRULE")
	if len(rules) > 1 {
		if n.strict {
			return &InvalidEventError{UID: ev.UID, Msg: "multiple RRULE properties"}
		}
		n.warnings = append(n.warnings, Warning{
			Kind: WarnRuleRepaired, UID: ev.UID,
			Msg: "multiple RRULE properties; keeping the first",
		})
	}
	if len(rules) > 0 {
		rule, warns, err := parseRecurrenceRule(rules[0].Value, ev.Start.Time.Location(), n.strict)
		for _, w := range warns {
			w.UID = ev.UID
			n.warnings = append(n.warnings, w)
		}
		switch {
		case err != nil && n.strict:
			return &InvalidEventError{UID: ev.UID, Msg: fmt.Sprintf("bad RRULE: %v", err)}
		case err != nil:
			n.warnings = append(n.warnings, Warning{
				Kind: WarnRuleRepaired, UID: ev.UID,
				Msg: fmt.Sprintf("unparsable RRULE dropped, event treated as non-recurring: %v", err),
			})
		case ev.IsOverride():
			if n.strict {
				return &InvalidEventError{UID: ev.UID, Msg: "RRULE on a RECURRENCE-ID override"}
			}
			n.warnings = append(n.warnings, Warning{
				Kind: WarnRuleRepaired, UID: ev.UID,
				Msg: "RRULE on a RECURRENCE-ID override ignored",
			})
		default:
			n.coerceUntil(rule, ev)
			ev.Rule = rule
		}
	}

	var err error
	if ev.RecurrenceDates, err = n.instantList(comp, "RDATE", ev.UID); err != nil {
		return err
	}
	if ev.ExceptionDates, err = n.instantList(comp, "EXDATE", ev.UID); err != nil {
		return err
	}
	return nil
}

// coerceUntil repairs UNTIL precision against the event when quirk fixing is
// on: a date-only UNTIL on a timed series stretches to the end of that day,
// a timed UNTIL on a date series truncates to that day.
func (n *normalizer) coerceUntil(rule *RecurrenceRule, ev *Event) {
	if !n.fixQuirks || rule.Until.IsZero() {
		return
	}
	loc := ev.Start.Time.Location()
	u := rule.Until.Time
	switch {
	case ev.Start.Precision == PrecisionDateTime && rule.Until.Precision == PrecisionDate:
		rule.Until = Instant{
			Time:      time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 0, loc),
			Precision: PrecisionDateTime,
		}
	case ev.Start.Precision == PrecisionDate && rule.Until.Precision == PrecisionDateTime:
		u = u.In(loc)
		rule.Until = Instant{
			Time:      time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, loc),
			Precision: PrecisionDate,
		}
	}
}

// instantList collects the values of every property named name. RDATE PERIOD
// values contribute their start instant. Bad list members drop the event in
// strict mode and are skipped with a warning otherwise.
func (n *normalizer) instantList(comp *RawComponent, name, uid string) ([]Instant, error) {
	var out []Instant
	for _, p := range comp.Props(name) {
		for _, piece := range strings.Split(p.Value, ",") {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			if slash := strings.IndexByte(piece, '/'); slash >= 0 {
				piece = piece[:slash]
			}
			ins, _, err := n.instantValue(p, piece, uid)
			if err != nil {
				if n.strict {
					return nil, &InvalidEventError{UID: uid, Msg: fmt.Sprintf("bad %s: %v", name, err)}
				}
				n.warnings = append(n.warnings, Warning{
					Kind: WarnRuleRepaired, UID: uid,
					Msg: fmt.Sprintf("unparsable %s value %q skipped", name, piece),
				})
				continue
			}
			out = append(out, ins)
		}
	}
	return out, nil
}

// instant parses a single-valued date or date-time property.
func (n *normalizer) instant(p *RawProperty, uid string) (Instant, bool, error) {
	return n.instantValue(p, p.Value, uid)
}

// instantValue parses one value using p's parameters, applying the zone
// priority: TZID parameter (embedded definitions first), trailing Z, then
// floating. The boolean reports floating interpretation.
func (n *normalizer) instantValue(p *RawProperty, v string, uid string) (Instant, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Instant{}, false, errors.New("empty value")
	}

	isDate := strings.EqualFold(p.Param("VALUE"), "DATE")
	if !isDate && len(v) == len(layoutDate) && !strings.ContainsRune(v, 'T') {
		isDate = true
	}
	if isDate {
		wall, err := time.ParseInLocation(layoutDate, v, time.UTC)
		if err != nil {
			return Instant{}, false, fmt.Errorf("bad date %q", v)
		}
		return Instant{Time: n.floating(wall, uid), Precision: PrecisionDate}, false, nil
	}

	if tzid := p.Param("TZID"); tzid != "" {
		wall, err := time.ParseInLocation(layoutDateTime, strings.TrimSuffix(v, "Z"), time.UTC)
		if err != nil {
			return Instant{}, false, fmt.Errorf("bad date-time %q", v)
		}
		t, rerr := n.tz.resolveLocal(wall, tzid)
		if rerr != nil {
			if n.strict {
				return Instant{}, false, rerr
			}
			n.fallbackWarning(tzid, uid)
			return Instant{Time: n.floating(wall, uid), Precision: PrecisionDateTime}, true, nil
		}
		return Instant{Time: t, Precision: PrecisionDateTime}, false, nil
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.ParseInLocation(layoutDateTimeUTC, v, time.UTC)
		if err != nil {
			return Instant{}, false, fmt.Errorf("bad UTC date-time %q", v)
		}
		return Instant{Time: t, Precision: PrecisionDateTime}, false, nil
	}

	wall, err := time.ParseInLocation(layoutDateTime, v, time.UTC)
	if err != nil {
		return Instant{}, false, fmt.Errorf("bad date-time %q", v)
	}
	return Instant{Time: n.floating(wall, uid), Precision: PrecisionDateTime}, true, nil
}

// floating places a wall-clock value in the zone floating values are read in.
func (n *normalizer) floating(wall time.Time, uid string) time.Time {
	if n.floatLoc != nil {
		return inZone(wall, n.floatLoc)
	}
	if n.floatTZID != "" {
		t, err := n.tz.resolveLocal(wall, n.floatTZID)
		if err == nil {
			return t
		}
		n.fallbackWarning(n.floatTZID, uid)
	}
	return inZone(wall, time.UTC)
}

// zoneName names the floating designation for reporting.
func (n *normalizer) zoneName() string {
	switch {
	case n.floatLoc != nil:
		return n.floatLoc.String()
	case n.floatTZID != "":
		return n.floatTZID
	default:
		return "UTC"
	}
}

func (n *normalizer) fallbackWarning(tzid, uid string) {
	if n.warned[tzid] {
		return
	}
	n.warned[tzid] = true
	n.warnings = append(n.warnings, Warning{
		Kind: WarnTimezoneFallback,
		UID:  uid,
		Msg:  fmt.Sprintf("timezone %q could not be resolved, values treated as floating", tzid),
	})
}

func propValue(comp *RawComponent, name string) string {
	if p := comp.Prop(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

// parseUTCStamp reads metadata stamps like DTSTAMP and CREATED. They are
// informational only, so parse failures yield a zero time.
func parseUTCStamp(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if t, err := time.ParseInLocation(layoutDateTimeUTC, v, time.UTC); err == nil {
		return t
	}
	if t, err := time.ParseInLocation(layoutDateTime, v, time.UTC); err == nil {
		return t
	}
	return time.Time{}
}

// unescapeText reverses TEXT value escaping: \n for newline, plus literal
// backslash, comma and semicolon.
func unescapeText(v string) string {
	if !strings.ContainsRune(v, '\\') {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	esc := false
	for _, r := range v {
		if esc {
			switch r {
			case 'n', 'N':
				b.WriteByte('\n')
			case '\\', ';', ',':
				b.WriteRune(r)
			default:
				b.WriteByte('\\')
				b.WriteRune(r)
			}
			esc = false
			continue
		}
		if r == '\\' {
			esc = true
			continue
		}
		b.WriteRune(r)
	}
	if esc {
		b.WriteByte('\\')
	}
	return b.String()
}

// splitList splits a comma-separated TEXT list, honoring backslash escapes.
func splitList(v string) []string {
	var out []string
	start := 0
	esc := false
	for i, r := range v {
		switch {
		case esc:
			esc = false
		case r == '\\':
			esc = true
		case r == ',':
			out = append(out, v[start:i])
			start = i + 1
		}
	}
	return append(out, v[start:])
}
