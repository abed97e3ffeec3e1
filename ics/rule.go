package ics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency is the base period of a recurrence rule.
type Frequency int

const (
	FreqSecondly Frequency = iota
	FreqMinutely
	FreqHourly
	FreqDaily
	FreqWeekly
	FreqMonthly
	FreqYearly
)

var freqNames = map[string]Frequency{
	"SECONDLY": FreqSecondly,
	"MINUTELY": FreqMinutely,
	"HOURLY":   FreqHourly,
	"DAILY":    FreqDaily,
	"WEEKLY":   FreqWeekly,
	"MONTHLY":  FreqMonthly,
	"YEARLY":   FreqYearly,
}

var freqStrings = [...]string{
	FreqSecondly: "SECONDLY",
	FreqMinutely: "MINUTELY",
	FreqHourly:   "HOURLY",
	FreqDaily:    "DAILY",
	FreqWeekly:   "WEEKLY",
	FreqMonthly:  "MONTHLY",
	FreqYearly:   "YEARLY",
}

func (f Frequency) String() string {
	if f >= 0 && int(f) < len(freqStrings) {
		return freqStrings[f]
	}
	return fmt.Sprintf("Frequency(%d)", int(f))
}

// WeekdaySelector is one BYDAY entry: a weekday, optionally restricted to the
// nth (positive ordinal) or nth-from-last (negative ordinal) matching day of
// the enclosing period. Ordinal 0 selects every matching day.
type WeekdaySelector struct {
	Weekday time.Weekday
	Ordinal int
}

// RecurrenceRule is the structured form of an RRULE value. Count and Until
// are mutually exclusive; their zero values mean unbounded. The by-rules
// restrict or pick instants inside each frequency period.
type RecurrenceRule struct {
	Freq     Frequency
	Interval int     // step between periods, always >= 1
	Count    int     // instances of the unbounded series; 0 = no bound
	Until    Instant // last permitted instant; zero = no bound

	ByDay      []WeekdaySelector
	ByMonthDay []int
	ByYearDay  []int
	ByWeekNo   []int
	ByMonth    []time.Month
	ByHour     []int
	ByMinute   []int
	BySecond   []int
	BySetPos   []int
	WeekStart  time.Weekday
}

var weekdayTokens = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

// parseRecurrenceRule decodes an RRULE value into its structured form.
// Floating and date-only UNTIL values are interpreted in loc. Unknown parts
// fail a strict parse and are dropped with a warning otherwise. COUNT and
// UNTIL together violate the grammar: strict rejects the rule, lenient keeps
// COUNT and drops UNTIL since COUNT terminates deterministically.
func parseRecurrenceRule(value string, loc *time.Location, strict bool) (*RecurrenceRule, []Warning, error) {
	rule := &RecurrenceRule{Interval: 1, WeekStart: time.Monday}
	var warnings []Warning
	seenFreq := false

	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, warnings, fmt.Errorf("recurrence rule part %q has no value", part)
		}
		k = strings.ToUpper(k)

		var err error
		switch k {
		case "FREQ":
			f, found := freqNames[strings.ToUpper(v)]
			if !found {
				return nil, warnings, fmt.Errorf("unknown recurrence frequency %q", v)
			}
			rule.Freq = f
			seenFreq = true
		case "INTERVAL":
			rule.Interval, err = parsePositiveInt(k, v)
		case "COUNT":
			rule.Count, err = parsePositiveInt(k, v)
		case "UNTIL":
			rule.Until, err = parseUntil(v, loc)
		case "BYDAY":
			rule.ByDay, err = parseByDay(v)
		case "BYMONTHDAY":
			rule.ByMonthDay, err = parseIntList(k, v, 1, 31, true)
		case "BYYEARDAY":
			rule.ByYearDay, err = parseIntList(k, v, 1, 366, true)
		case "BYWEEKNO":
			rule.ByWeekNo, err = parseIntList(k, v, 1, 53, true)
		case "BYMONTH":
			var months []int
			if months, err = parseIntList(k, v, 1, 12, false); err == nil {
				for _, m := range months {
					rule.ByMonth = append(rule.ByMonth, time.Month(m))
				}
			}
		case "BYHOUR":
			rule.ByHour, err = parseIntList(k, v, 0, 23, false)
		case "BYMINUTE":
			rule.ByMinute, err = parseIntList(k, v, 0, 59, false)
		case "BYSECOND":
			rule.BySecond, err = parseIntList(k, v, 0, 60, false)
		case "BYSETPOS":
			rule.BySetPos, err = parseIntList(k, v, 1, 366, true)
		case "WKST":
			rule.WeekStart, err = parseWeekdayToken(v)
		default:
			if strict {
				return nil, warnings, fmt.Errorf("unsupported recurrence rule part %q", k)
			}
			warnings = append(warnings, Warning{
				Kind: WarnRuleRepaired,
				Msg:  fmt.Sprintf("dropped unsupported recurrence rule part %s", k),
			})
		}
		if err != nil {
			return nil, warnings, err
		}
	}

	if !seenFreq {
		return nil, warnings, errors.New("recurrence rule has no FREQ")
	}
	if rule.Count > 0 && !rule.Until.IsZero() {
		if strict {
			return nil, warnings, errors.New("recurrence rule carries both COUNT and UNTIL")
		}
		warnings = append(warnings, Warning{
			Kind: WarnRuleRepaired,
			Msg:  "rule carries both COUNT and UNTIL; UNTIL dropped",
		})
		rule.Until = Instant{}
	}
	return rule, warnings, nil
}

// parseUntil parses the UNTIL bound: a UTC date-time, a floating date-time
// interpreted in loc, or a date-only value at midnight in loc.
func parseUntil(v string, loc *time.Location) (Instant, error) {
	v = strings.TrimSpace(v)
	switch {
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse(layoutDateTimeUTC, v)
		if err != nil {
			return Instant{}, fmt.Errorf("bad UNTIL value %q", v)
		}
		return Instant{Time: t, Precision: PrecisionDateTime}, nil
	case strings.Contains(v, "T"):
		t, err := time.ParseInLocation(layoutDateTime, v, loc)
		if err != nil {
			return Instant{}, fmt.Errorf("bad UNTIL value %q", v)
		}
		return Instant{Time: t, Precision: PrecisionDateTime}, nil
	default:
		t, err := time.ParseInLocation(layoutDate, v, loc)
		if err != nil {
			return Instant{}, fmt.Errorf("bad UNTIL value %q", v)
		}
		return Instant{Time: t, Precision: PrecisionDate}, nil
	}
}

func parseByDay(v string) ([]WeekdaySelector, error) {
	var out []WeekdaySelector
	for _, tok := range strings.Split(v, ",") {
		tok = strings.ToUpper(strings.TrimSpace(tok))
		if len(tok) < 2 {
			return nil, fmt.Errorf("bad BYDAY entry %q", tok)
		}
		day, ok := weekdayTokens[tok[len(tok)-2:]]
		if !ok {
			return nil, fmt.Errorf("bad BYDAY entry %q", tok)
		}
		sel := WeekdaySelector{Weekday: day}
		if ord := tok[:len(tok)-2]; ord != "" {
			n, err := strconv.Atoi(ord)
			if err != nil || n == 0 || n < -53 || n > 53 {
				return nil, fmt.Errorf("bad BYDAY ordinal in %q", tok)
			}
			sel.Ordinal = n
		}
		out = append(out, sel)
	}
	return out, nil
}

func parseWeekdayToken(v string) (time.Weekday, error) {
	day, ok := weekdayTokens[strings.ToUpper(strings.TrimSpace(v))]
	if !ok {
		return 0, fmt.Errorf("bad weekday %q", v)
	}
	return day, nil
}

func parsePositiveInt(name, v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("bad %s value %q", name, v)
	}
	return n, nil
}

// parseIntList parses a comma-separated integer list, checking each entry's
// magnitude against [min, max]. Negative entries are allowed only for parts
// that count from the end of a period.
func parseIntList(name, v string, min, max int, signed bool) ([]int, error) {
	var out []int
	for _, tok := range strings.Split(v, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil {
			return nil, fmt.Errorf("bad %s entry %q", name, tok)
		}
		mag := n
		if mag < 0 {
			if !signed {
				return nil, fmt.Errorf("%s entry %d out of range", name, n)
			}
			mag = -mag
		}
		if mag < min || mag > max {
			return nil, fmt.Errorf("%s entry %d out of range", name, n)
		}
		out = append(out, n)
	}
	return out, nil
}
