package ics

import (
	"errors"
	"fmt"
	"time"
)

// icsDuration is a parsed DURATION value. Weeks and days stay nominal so
// date-precision arithmetic can remain calendar-aware; Clock holds the exact
// sub-day portion.
type icsDuration struct {
	Negative bool
	Days     int           // nominal days, weeks folded in
	Clock    time.Duration // hours, minutes, seconds
}

// addTo applies the duration to a start instant. Date-precision starts use
// calendar day arithmetic, which keeps all-day ends on a midnight boundary;
// date-time starts use absolute arithmetic, matching how producers reckon
// timed spans.
func (d icsDuration) addTo(start Instant) time.Time {
	sign := 1
	if d.Negative {
		sign = -1
	}
	if start.Precision == PrecisionDate {
		t := start.Time.AddDate(0, 0, sign*d.Days)
		return t.Add(time.Duration(sign) * d.Clock)
	}
	total := time.Duration(d.Days)*24*time.Hour + d.Clock
	return start.Time.Add(time.Duration(sign) * total)
}

// parseICSDuration parses an RFC 5545 DURATION value such as "P15DT5H0M20S",
// "-PT15M" or "P1W".
func parseICSDuration(s string) (icsDuration, error) {
	var d icsDuration
	orig := s
	if s == "" {
		return d, errors.New("empty duration")
	}
	switch s[0] {
	case '-':
		d.Negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if len(s) == 0 || (s[0] != 'P' && s[0] != 'p') {
		return d, fmt.Errorf("duration %q does not start with P", orig)
	}
	s = s[1:]

	inTime := false
	haveNum := false
	seenPart := false
	num := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			num = num*10 + int(c-'0')
			if num > 1<<30 {
				return d, fmt.Errorf("duration %q too large", orig)
			}
			haveNum = true
		case c == 'T' || c == 't':
			if haveNum {
				return d, fmt.Errorf("misplaced T in duration %q", orig)
			}
			inTime = true
		default:
			if !haveNum {
				return d, fmt.Errorf("missing digits before %q in duration %q", string(c), orig)
			}
			switch {
			case (c == 'W' || c == 'w') && !inTime:
				d.Days += num * 7
			case (c == 'D' || c == 'd') && !inTime:
				d.Days += num
			case (c == 'H' || c == 'h') && inTime:
				d.Clock += time.Duration(num) * time.Hour
			case (c == 'M' || c == 'm') && inTime:
				d.Clock += time.Duration(num) * time.Minute
			case (c == 'S' || c == 's') && inTime:
				d.Clock += time.Duration(num) * time.Second
			default:
				return d, fmt.Errorf("unexpected %q in duration %q", string(c), orig)
			}
			num = 0
			haveNum = false
			seenPart = true
		}
	}
	if haveNum {
		return d, fmt.Errorf("trailing digits in duration %q", orig)
	}
	if !seenPart {
		return d, fmt.Errorf("duration %q has no components", orig)
	}
	return d, nil
}
