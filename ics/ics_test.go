package ics

import (
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOccurrences_DailyWindow(t *testing.T) {
	cal := parseFixture(t, Options{},
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VEVENT",
		"UID:daily@test",
		"DTSTART:20260301T100000Z",
		"DTEND:20260301T110000Z",
		"RRULE:FREQ=DAILY;COUNT=5",
		"SUMMARY:Standup",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	occs, warnings, err := cal.Occurrences(Query{
		Start: time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC),
		Dedup: true,
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, occs, 2)
	assert.True(t, occs[0].Start.Equal(time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)))
	assert.True(t, occs[1].Start.Equal(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Standup", occs[0].Summary)
	assert.True(t, occs[0].Recurring)
}

func TestOccurrences_InvalidWindow(t *testing.T) {
	cal := parseFixture(t, Options{},
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"END:VCALENDAR",
	)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, q := range []Query{
		{},
		{Start: now},
		{End: now},
		{Start: now, End: now},
		{Start: now, End: now.Add(-time.Hour)},
	} {
		_, _, err := cal.Occurrences(q)
		assert.Error(t, err)
	}
}

func TestOccurrences_UntilDateQuirk(t *testing.T) {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VEVENT",
		"UID:until@test",
		"DTSTART:20260301T100000Z",
		"RRULE:FREQ=DAILY;UNTIL=20260304",
		"END:VEVENT",
		"END:VCALENDAR",
	}
	q := Query{
		Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}

	// Repaired, the date-only bound covers the whole of March 4th.
	cal := parseFixture(t, Options{FixQuirks: true}, lines...)
	occs, _, err := cal.Occurrences(q)
	require.NoError(t, err)
	assert.Len(t, occs, 4)

	// Taken literally it ends at midnight, cutting the last instance off.
	cal = parseFixture(t, Options{}, lines...)
	occs, _, err = cal.Occurrences(q)
	require.NoError(t, err)
	assert.Len(t, occs, 3)
}

func TestOccurrences_OverrideEndToEnd(t *testing.T) {
	cal := parseFixture(t, Options{},
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VEVENT",
		"UID:series@test",
		"DTSTART:20260302T100000Z",
		"DTEND:20260302T103000Z",
		"RRULE:FREQ=DAILY;COUNT=3",
		"SUMMARY:Planning",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:series@test",
		"RECURRENCE-ID:20260303T100000Z",
		"DTSTART:20260303T140000Z",
		"DTEND:20260303T150000Z",
		"SUMMARY:Planning (moved)",
		"SEQUENCE:1",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	occs, warnings, err := cal.Occurrences(Query{
		Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Dedup: true,
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, occs, 3)

	assert.Equal(t, "Planning", occs[0].Summary)
	moved := occs[1]
	assert.Equal(t, "Planning (moved)", moved.Summary)
	assert.True(t, moved.IsOverride)
	assert.True(t, moved.Start.Equal(time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC)))
	assert.True(t, moved.End.Equal(time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)))
	assert.True(t, moved.OriginalStart.Equal(time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, moved.Sequence)
}

func TestOccurrences_DuplicateUIDLastWins(t *testing.T) {
	cal := parseFixture(t, Options{},
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VEVENT",
		"UID:dup@test",
		"DTSTART:20260302T100000Z",
		"SUMMARY:Stale copy",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:dup@test",
		"DTSTART:20260302T100000Z",
		"SUMMARY:Fresh copy",
		"SEQUENCE:2",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	q := Query{
		Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Dedup: true,
	}
	occs, _, err := cal.Occurrences(q)
	require.NoError(t, err)
	require.Len(t, occs, 1)
	assert.Equal(t, "Fresh copy", occs[0].Summary)

	q.Dedup = false
	occs, _, err = cal.Occurrences(q)
	require.NoError(t, err)
	assert.Len(t, occs, 2)
}

func TestOccurrences_StrictCountUntil(t *testing.T) {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VEVENT",
		"UID:conflict@test",
		"DTSTART:20260302T100000Z",
		"RRULE:FREQ=DAILY;COUNT=3;UNTIL=20260320T100000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	}
	q := Query{
		Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}

	cal := parseFixture(t, Options{Strict: true}, lines...)
	assert.Empty(t, cal.Events)
	occs, _, err := cal.Occurrences(q)
	require.NoError(t, err)
	assert.Empty(t, occs)

	cal = parseFixture(t, Options{}, lines...)
	occs, _, err = cal.Occurrences(q)
	require.NoError(t, err)
	assert.Len(t, occs, 3) // COUNT kept, UNTIL dropped
}

func TestOccurrences_OverflowPerEvent(t *testing.T) {
	cal := parseFixture(t, Options{MaxOccurrences: 10},
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VEVENT",
		"UID:minutely@test",
		"DTSTART:20260302T100000Z",
		"RRULE:FREQ=MINUTELY",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:fine@test",
		"DTSTART:20260302T090000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	occs, warnings, err := cal.Occurrences(Query{
		Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	var overflow *RecurrenceOverflowError
	require.ErrorAs(t, err, &overflow)
	assert.Equal(t, "minutely@test", overflow.UID)

	// The capped prefix and the unaffected sibling are both returned.
	assert.Len(t, occs, 11)
	assert.Equal(t, "fine@test", occs[0].UID)
	require.Len(t, warningsOfKind(warnings, WarnTruncatedExpansion), 1)
}

func TestOccurrences_AppleOffsetQuirk(t *testing.T) {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VTIMEZONE",
		"TZID:Custom/Quirk",
		"BEGIN:STANDARD",
		"TZOFFSETFROM:+5328",
		"TZOFFSETTO:+5328",
		"DTSTART:19700101T000000",
		"END:STANDARD",
		"END:VTIMEZONE",
		"BEGIN:VEVENT",
		"UID:quirk@test",
		"DTSTART;TZID=Custom/Quirk:20260310T100000",
		"END:VEVENT",
		"END:VCALENDAR",
	}

	// Repaired to +0053 the embedded zone works, placing 10:00 local at
	// 09:07 UTC.
	cal := parseFixture(t, Options{FixQuirks: true}, lines...)
	require.Len(t, cal.Events, 1)
	assert.Empty(t, cal.Warnings)
	assert.True(t, cal.Events[0].Start.Time.Equal(time.Date(2026, 3, 10, 9, 7, 0, 0, time.UTC)))

	// Untouched, the definition is unusable and the value degrades to
	// floating time.
	cal = parseFixture(t, Options{}, lines...)
	require.Len(t, cal.Events, 1)
	assert.True(t, cal.Events[0].Floating)
	assert.True(t, cal.Events[0].Start.Time.Equal(time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)))
	assert.NotEmpty(t, warningsOfKind(cal.Warnings, WarnTimezoneFallback))
}

func TestApplyVendorFixes(t *testing.T) {
	in := "BEGIN:VCALENDAR\r\n\r\nTZOFFSETFROM:+5328\r\nTZOFFSETTO:-0500\r\nEND:VCALENDAR\r\n"
	got := string(applyVendorFixes([]byte(in)))
	assert.NotContains(t, got, "\r\n\r\n")
	assert.Contains(t, got, "TZOFFSETFROM:+0053")
	// In-range offsets pass through untouched.
	assert.Contains(t, got, "TZOFFSETTO:-0500")
}

func TestOccurrences_GeneratedFeed(t *testing.T) {
	// A feed produced by an independent serializer, folding and all.
	src := ical.NewCalendar()
	src.SetProductId("-//icalq tests//EN")
	ev := src.AddEvent("generated@test")
	ev.SetSummary("Generated standup with a summary long enough to be folded across lines by the serializer")
	ev.SetDtStampTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ev.SetStartAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	ev.SetEndAt(time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC))
	ev.SetProperty(ical.ComponentPropertyRrule, "FREQ=DAILY;COUNT=3")

	cal, err := ParseCalendar([]byte(src.Serialize()), Options{})
	require.NoError(t, err)
	require.Len(t, cal.Events, 1)

	occs, warnings, err := cal.Occurrences(Query{
		Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Dedup: true,
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, occs, 3)
	for i, o := range occs {
		assert.True(t, o.Start.Equal(time.Date(2026, 3, 2+i, 9, 0, 0, 0, time.UTC)))
		assert.Equal(t, 30*time.Minute, o.End.Sub(o.Start))
	}
	assert.Contains(t, occs[0].Summary, "Generated standup")
}
