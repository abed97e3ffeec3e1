package ics

import "fmt"

// MalformedInputError reports a structural violation of the iCalendar text:
// a broken content line, a missing BEGIN/END pairing, or an unterminated
// component. In lenient mode the reader skips the enclosing block and records
// a warning instead; document-level violations fail the parse in both modes.
type MalformedInputError struct {
	Line int // logical line after unfolding, 1-based; 0 when unknown
	Msg  string
}

func (e *MalformedInputError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed input at line %d: %s", e.Line, e.Msg)
	}
	return "malformed input: " + e.Msg
}

// InvalidEventError reports a VEVENT that is structurally fine but violates
// calendar semantics, such as a missing UID or DTSTART. Invalid events are
// always skipped; one bad event never voids the rest of the calendar.
type InvalidEventError struct {
	UID string // empty when the event carried none
	Msg string
}

func (e *InvalidEventError) Error() string {
	if e.UID != "" {
		return fmt.Sprintf("invalid event %q: %s", e.UID, e.Msg)
	}
	return "invalid event: " + e.Msg
}

// UnresolvableTimezoneError reports a timezone identifier that neither the
// embedded definitions nor the resolver could map to a zone. Values that
// referenced it are reinterpreted as floating time and a warning is recorded.
type UnresolvableTimezoneError struct {
	TZID string
}

func (e *UnresolvableTimezoneError) Error() string {
	return fmt.Sprintf("unresolvable timezone %q", e.TZID)
}

// RecurrenceOverflowError reports a recurrence expansion that hit the
// occurrence safety cap before reaching the end of the window. It is fatal
// for that single event only; occurrences generated before the cap are still
// returned.
type RecurrenceOverflowError struct {
	UID string
	Cap int
}

func (e *RecurrenceOverflowError) Error() string {
	return fmt.Sprintf("recurrence expansion for %q exceeded %d occurrences", e.UID, e.Cap)
}

// WarningKind classifies the degradations the engine works around instead of
// failing on.
type WarningKind string

const (
	WarnSkippedComponent   WarningKind = "skipped_component"
	WarnInvalidEvent       WarningKind = "invalid_event"
	WarnTimezoneFallback   WarningKind = "timezone_fallback"
	WarnRuleRepaired       WarningKind = "rule_repaired"
	WarnTruncatedExpansion WarningKind = "truncated_expansion"
)

// Warning records one non-fatal degradation encountered while parsing or
// expanding. Warnings accumulate on the result instead of aborting it.
type Warning struct {
	Kind WarningKind `json:"kind"`
	UID  string      `json:"uid,omitempty"`
	Msg  string      `json:"msg"`
}

func (w Warning) String() string {
	if w.UID != "" {
		return fmt.Sprintf("%s (%s): %s", w.Kind, w.UID, w.Msg)
	}
	return fmt.Sprintf("%s: %s", w.Kind, w.Msg)
}
