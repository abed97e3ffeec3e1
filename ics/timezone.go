package ics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// TimezoneResolver maps a timezone identifier to a concrete zone. The engine
// performs no system lookups of its own: embedded VTIMEZONE definitions take
// priority and the injected resolver covers everything else.
type TimezoneResolver interface {
	Resolve(tzid string) (*time.Location, error)
}

// TimezoneResolverFunc adapts a plain function to the TimezoneResolver
// interface.
type TimezoneResolverFunc func(tzid string) (*time.Location, error)

// Resolve calls f.
func (f TimezoneResolverFunc) Resolve(tzid string) (*time.Location, error) {
	return f(tzid)
}

// DefaultResolver resolves identifiers against the IANA database available
// to the runtime, translating Windows display names and globally unique
// (leading slash) identifiers first.
func DefaultResolver() TimezoneResolver {
	return TimezoneResolverFunc(func(tzid string) (*time.Location, error) {
		loc, err := time.LoadLocation(normalizeTZID(tzid))
		if err != nil {
			return nil, &UnresolvableTimezoneError{TZID: tzid}
		}
		return loc, nil
	})
}

// normalizeTZID maps vendor spellings of a zone identifier to an IANA name.
func normalizeTZID(tzid string) string {
	tzid = strings.TrimSpace(tzid)
	if mapped, ok := windowsZones[tzid]; ok {
		return mapped
	}
	// Globally unique TZIDs such as "/mozilla.org/20070129_1/Europe/Berlin"
	// end in the region/city pair.
	if strings.HasPrefix(tzid, "/") {
		parts := strings.Split(strings.TrimPrefix(tzid, "/"), "/")
		if len(parts) >= 2 {
			tail := strings.Join(parts[len(parts)-2:], "/")
			if mapped, ok := windowsZones[tail]; ok {
				return mapped
			}
			return tail
		}
	}
	return tzid
}

// tzShift is one STANDARD or DAYLIGHT rule of an embedded VTIMEZONE: the
// offset in force from each onset the rule generates.
type tzShift struct {
	name       string       // TZNAME, may be empty
	offset     int          // TZOFFSETTO in seconds east of UTC
	offsetFrom int          // TZOFFSETFROM in seconds east of UTC
	start      time.Time    // first onset, wall clock
	rule       *rrule.RRule // onset recurrence; nil for a single transition
	rdates     []time.Time  // extra onsets, wall clock
}

// lastOnsetBefore returns the latest onset of this shift at or before the
// given wall time.
func (s *tzShift) lastOnsetBefore(wall time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	if s.rule != nil {
		if t := s.rule.Before(wall, true); !t.IsZero() {
			best, found = t, true
		}
	} else if !s.start.After(wall) {
		best, found = s.start, true
	}
	for _, rd := range s.rdates {
		if !rd.After(wall) && (!found || rd.After(best)) {
			best, found = rd, true
		}
	}
	return best, found
}

// vtimezone is an embedded VTIMEZONE definition. Offsets are derived per
// value from the STANDARD/DAYLIGHT rules, so values on either side of a
// transition get the offset that was actually in force.
//
// All onsets and queries live in a uniform wall-clock frame (parsed as if
// UTC); the small skew this leaves around the transition instant itself is
// the usual trade for not materializing a full zone database entry.
type vtimezone struct {
	id     string
	shifts []tzShift
}

// offsetAt returns the UTC offset in force at the given wall-clock time.
func (v *vtimezone) offsetAt(wall time.Time) (int, bool) {
	var bestOnset time.Time
	bestOffset := 0
	found := false
	for i := range v.shifts {
		if onset, ok := v.shifts[i].lastOnsetBefore(wall); ok {
			if !found || onset.After(bestOnset) {
				bestOnset, bestOffset, found = onset, v.shifts[i].offset, true
			}
		}
	}
	if found {
		return bestOffset, true
	}
	// Before the first recorded transition: the frame the earliest rule
	// shifted away from.
	var first time.Time
	offset := 0
	ok := false
	for i := range v.shifts {
		if !ok || v.shifts[i].start.Before(first) {
			first, offset, ok = v.shifts[i].start, v.shifts[i].offsetFrom, true
		}
	}
	return offset, ok
}

// place puts a wall-clock value in this zone at the offset in force then.
func (v *vtimezone) place(wall time.Time) time.Time {
	off, ok := v.offsetAt(wall)
	if !ok {
		return wall
	}
	return time.Date(wall.Year(), wall.Month(), wall.Day(),
		wall.Hour(), wall.Minute(), wall.Second(), wall.Nanosecond(),
		time.FixedZone(v.id, off))
}

// rebase re-derives the offset for a generated instant so an expanded series
// crossing a transition keeps its wall-clock time.
func (v *vtimezone) rebase(t time.Time) time.Time {
	wall := time.Date(t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	off, ok := v.offsetAt(wall)
	if !ok {
		return t
	}
	if _, cur := t.Zone(); cur == off {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(),
		time.FixedZone(v.id, off))
}

// parseVTimezone builds a vtimezone from an embedded component. A component
// without usable transition rules yields nil plus warnings.
func parseVTimezone(comp *RawComponent) (*vtimezone, []Warning) {
	var tzid string
	if p := comp.Prop("TZID"); p != nil {
		tzid = strings.TrimSpace(p.Value)
	}
	if tzid == "" {
		return nil, []Warning{{Kind: WarnTimezoneFallback, Msg: "VTIMEZONE without TZID ignored"}}
	}

	v := &vtimezone{id: tzid}
	var warnings []Warning
	for _, sub := range comp.Components {
		if sub.Name != compStandard && sub.Name != compDaylight {
			continue
		}
		shift, err := parseTZShift(sub)
		if err != nil {
			warnings = append(warnings, Warning{
				Kind: WarnTimezoneFallback,
				Msg:  fmt.Sprintf("unusable %s rule in VTIMEZONE %s: %v", sub.Name, tzid, err),
			})
			continue
		}
		v.shifts = append(v.shifts, shift)
	}
	if len(v.shifts) == 0 {
		return nil, append(warnings, Warning{
			Kind: WarnTimezoneFallback,
			Msg:  fmt.Sprintf("VTIMEZONE %s has no usable transition rules", tzid),
		})
	}
	return v, warnings
}

func parseTZShift(comp *RawComponent) (tzShift, error) {
	var s tzShift
	offTo := comp.Prop("TZOFFSETTO")
	dtstart := comp.Prop("DTSTART")
	if offTo == nil || dtstart == nil {
		return s, errors.New("missing TZOFFSETTO or DTSTART")
	}

	var err error
	if s.offset, err = parseUTCOffset(offTo.Value); err != nil {
		return s, err
	}
	if offFrom := comp.Prop("TZOFFSETFROM"); offFrom != nil {
		if s.offsetFrom, err = parseUTCOffset(offFrom.Value); err != nil {
			return s, err
		}
	} else {
		s.offsetFrom = s.offset
	}
	if p := comp.Prop("TZNAME"); p != nil {
		s.name = p.Value
	}

	onset := strings.TrimSuffix(strings.TrimSpace(dtstart.Value), "Z")
	if s.start, err = time.ParseInLocation(layoutDateTime, onset, time.UTC); err != nil {
		if s.start, err = time.ParseInLocation(layoutDate, onset, time.UTC); err != nil {
			return s, fmt.Errorf("bad onset %q", dtstart.Value)
		}
	}

	if p := comp.Prop("RRULE"); p != nil {
		parsed, _, rerr := parseRecurrenceRule(p.Value, time.UTC, false)
		if rerr != nil {
			return s, fmt.Errorf("bad onset rule: %w", rerr)
		}
		r, rerr := rruleFromRule(parsed, s.start)
		if rerr != nil {
			return s, fmt.Errorf("bad onset rule: %w", rerr)
		}
		s.rule = r
	}
	for _, p := range comp.Props("RDATE") {
		for _, one := range strings.Split(p.Value, ",") {
			one = strings.TrimSuffix(strings.TrimSpace(one), "Z")
			if one == "" {
				continue
			}
			if t, terr := time.ParseInLocation(layoutDateTime, one, time.UTC); terr == nil {
				s.rdates = append(s.rdates, t)
			}
		}
	}
	return s, nil
}

// parseUTCOffset parses "+HHMM" / "-HHMM" (optionally with seconds) into
// seconds east of UTC.
func parseUTCOffset(v string) (int, error) {
	v = strings.TrimSpace(v)
	if len(v) < 5 {
		return 0, fmt.Errorf("bad UTC offset %q", v)
	}
	sign := 1
	switch v[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, fmt.Errorf("bad UTC offset %q", v)
	}
	digits := v[1:]
	if len(digits) != 4 && len(digits) != 6 {
		return 0, fmt.Errorf("bad UTC offset %q", v)
	}
	hh, err1 := strconv.Atoi(digits[0:2])
	mm, err2 := strconv.Atoi(digits[2:4])
	ss := 0
	var err3 error
	if len(digits) == 6 {
		ss, err3 = strconv.Atoi(digits[4:6])
	}
	if err1 != nil || err2 != nil || err3 != nil || hh > 23 || mm > 59 || ss > 59 {
		return 0, fmt.Errorf("bad UTC offset %q", v)
	}
	return sign * (hh*3600 + mm*60 + ss), nil
}

// tzTable is the per-parse timezone table: embedded definitions first, the
// injected resolver for everything else. Resolver results, including misses,
// are cached for the life of the parse.
type tzTable struct {
	embedded map[string]*vtimezone
	resolver TimezoneResolver
	cache    map[string]*time.Location
}

func newTZTable(root *RawComponent, resolver TimezoneResolver) (*tzTable, []Warning) {
	t := &tzTable{
		embedded: make(map[string]*vtimezone),
		resolver: resolver,
		cache:    make(map[string]*time.Location),
	}
	var warnings []Warning
	for _, comp := range root.Sub(compTimezone) {
		v, w := parseVTimezone(comp)
		warnings = append(warnings, w...)
		if v != nil {
			t.embedded[v.id] = v
		}
	}
	return t, warnings
}

// resolveLocal places a wall-clock value in the zone named by tzid, embedded
// definitions winning over the resolver. On failure the value comes back
// unchanged for the caller to reinterpret as floating.
func (t *tzTable) resolveLocal(wall time.Time, tzid string) (time.Time, error) {
	if v, ok := t.embedded[tzid]; ok {
		return v.place(wall), nil
	}
	loc, err := t.locate(tzid)
	if err != nil {
		return wall, err
	}
	return time.Date(wall.Year(), wall.Month(), wall.Day(),
		wall.Hour(), wall.Minute(), wall.Second(), wall.Nanosecond(), loc), nil
}

// locate resolves tzid to a reusable location via the resolver. Embedded-only
// zones have no single location; resolveLocal handles those.
func (t *tzTable) locate(tzid string) (*time.Location, error) {
	if loc, ok := t.cache[tzid]; ok {
		if loc == nil {
			return nil, &UnresolvableTimezoneError{TZID: tzid}
		}
		return loc, nil
	}
	if t.resolver == nil {
		t.cache[tzid] = nil
		return nil, &UnresolvableTimezoneError{TZID: tzid}
	}
	loc, err := t.resolver.Resolve(tzid)
	if err != nil || loc == nil {
		t.cache[tzid] = nil
		return nil, &UnresolvableTimezoneError{TZID: tzid}
	}
	t.cache[tzid] = loc
	return loc, nil
}

// zoneFor returns the embedded definition an event in the named zone was
// resolved against, if any. Expansion uses it to rebase generated instants.
func (t *tzTable) zoneFor(tzid string) *vtimezone {
	return t.embedded[tzid]
}
