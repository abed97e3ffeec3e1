package ics

import "time"

// Precision distinguishes date-only values from full date-time values.
type Precision string

const (
	PrecisionDateTime Precision = "date-time"
	PrecisionDate     Precision = "date"
)

// Instant is a resolved point in time together with the precision it was
// written at. Exclusion matching treats two instants as equal only when both
// the absolute time and the precision agree.
type Instant struct {
	Time      time.Time
	Precision Precision
}

// IsZero reports whether the instant is unset.
func (i Instant) IsZero() bool {
	return i.Time.IsZero()
}

// Equal reports exact-instant equality: same absolute time, same precision.
func (i Instant) Equal(o Instant) bool {
	return i.Precision == o.Precision && i.Time.Equal(o.Time)
}

// Status is the VEVENT status. Unknown values are preserved verbatim,
// uppercased.
type Status string

const (
	StatusConfirmed Status = "CONFIRMED"
	StatusTentative Status = "TENTATIVE"
	StatusCancelled Status = "CANCELLED"
)

// Transparency is the VEVENT busy-time transparency.
type Transparency string

const (
	TranspOpaque      Transparency = "OPAQUE"
	TranspTransparent Transparency = "TRANSPARENT"
)

// Event is the canonical form of a VEVENT as produced by normalization.
// Events are immutable once produced; expansion and resolution only read
// them.
type Event struct {
	UID         string
	Summary     string
	Description string
	Location    string
	URL         string
	Organizer   string
	Attendees   []string
	Categories  []string

	// Start and End carry the precision they were written at. End is always
	// set: a missing DTEND yields start+1day for date precision and a
	// zero-length interval otherwise.
	Start Instant
	End   Instant

	// Floating is set when a date-time value carried no zone information at
	// all and was rendered in the calendar's floating zone.
	Floating bool

	Status       Status
	Transparency Transparency
	Sequence     int
	Created      time.Time
	LastModified time.Time
	DTStamp      time.Time

	// Rule is nil for non-recurring events.
	Rule *RecurrenceRule

	// RecurrenceDates are explicit additional instants, unioned with the
	// rule output during expansion. ExceptionDates suppress generated
	// instants on exact match.
	RecurrenceDates []Instant
	ExceptionDates  []Instant

	// RecurrenceID identifies the original occurrence instant this event
	// overrides. Set only on overrides; an override is never itself
	// recurrence-expanded.
	RecurrenceID Instant
}

// IsOverride reports whether the event replaces a single occurrence of a
// recurring event with the same UID.
func (e *Event) IsOverride() bool {
	return !e.RecurrenceID.IsZero()
}

// AllDay reports whether the event start was written at date precision.
func (e *Event) AllDay() bool {
	return e.Start.Precision == PrecisionDate
}

// Recurring reports whether the event expands to more than a fixed instant
// set by itself.
func (e *Event) Recurring() bool {
	return e.Rule != nil || len(e.RecurrenceDates) > 0
}

// Duration returns the interval between start and end.
func (e *Event) Duration() time.Duration {
	return e.End.Time.Sub(e.Start.Time)
}

// Occurrence is one materialized instance of an event. Occurrences are
// created by expansion and resolution, then ordered and filtered by the query
// stage; they are never mutated afterwards.
type Occurrence struct {
	UID         string `json:"uid"`
	Summary     string `json:"summary,omitempty"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	URL         string `json:"url,omitempty"`

	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Precision Precision `json:"precision"`

	// OriginalStart is the instant the series generated for this slot. It
	// differs from Start only when an override moved the occurrence.
	OriginalStart time.Time `json:"original_start"`

	Floating   bool `json:"floating,omitempty"`
	Recurring  bool `json:"recurring"`
	IsOverride bool `json:"is_override,omitempty"`

	Status       Status       `json:"status,omitempty"`
	Transparency Transparency `json:"transparency,omitempty"`
	Sequence     int          `json:"sequence,omitempty"`
}

// AllDay reports whether the occurrence is a date-precision (whole day)
// instance.
func (o Occurrence) AllDay() bool {
	return o.Precision == PrecisionDate
}

// Duration returns the interval between start and end.
func (o Occurrence) Duration() time.Duration {
	return o.End.Sub(o.Start)
}
