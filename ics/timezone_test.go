package ics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUTCOffset(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"+0100", 3600},
		{"-0500", -18000},
		{"+0000", 0},
		{"-0000", 0},
		{"+2359", 23*3600 + 59*60},
		{"+005330", 53*60 + 30},
		{"-103000", -(10*3600 + 30*60)},
	}
	for _, tc := range cases {
		got, err := parseUTCOffset(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, in := range []string{
		"", "Z", "0100", "+01", "+010", "+01000", "+0160", "+2459",
		"+5328", // hours out of range; the quirk repair rewrites this earlier
		"+00005", "+aa00",
	} {
		_, err := parseUTCOffset(in)
		assert.Error(t, err, in)
	}
}

func TestNormalizeTZID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Europe/Berlin", "Europe/Berlin"},
		{"Eastern Standard Time", "America/New_York"},
		{"W. Europe Standard Time", "Europe/Berlin"},
		{" Pacific Standard Time ", "America/Los_Angeles"},
		{"/mozilla.org/20070129_1/America/New_York", "America/New_York"},
		{"/freeassociation.sourceforge.net/Tzfile/Europe/Rome", "Europe/Rome"},
		{"/X", "/X"},
		{"UTC", "UTC"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeTZID(tc.in), tc.in)
	}
}

func TestDefaultResolver(t *testing.T) {
	r := DefaultResolver()

	loc, err := r.Resolve("Europe/Berlin")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())

	loc, err = r.Resolve("Eastern Standard Time")
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	_, err = r.Resolve("Not/AZone")
	require.Error(t, err)
	var tzErr *UnresolvableTimezoneError
	require.ErrorAs(t, err, &tzErr)
	assert.Equal(t, "Not/AZone", tzErr.TZID)
}

// berlinVTimezone is a faithful transcription of the rules most feeds embed
// for Central European time.
func berlinVTimezone(t *testing.T) *vtimezone {
	t.Helper()
	text := crlf(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VTIMEZONE",
		"TZID:Europe/Berlin",
		"BEGIN:DAYLIGHT",
		"TZOFFSETFROM:+0100",
		"TZOFFSETTO:+0200",
		"TZNAME:CEST",
		"DTSTART:19700329T020000",
		"RRULE:FREQ=YEARLY;BYMONTH=3;BYDAY=-1SU",
		"END:DAYLIGHT",
		"BEGIN:STANDARD",
		"TZOFFSETFROM:+0200",
		"TZOFFSETTO:+0100",
		"TZNAME:CET",
		"DTSTART:19701025T030000",
		"RRULE:FREQ=YEARLY;BYMONTH=10;BYDAY=-1SU",
		"END:STANDARD",
		"END:VTIMEZONE",
		"END:VCALENDAR",
	)
	root, warnings, err := ReadCalendar(text, true)
	require.NoError(t, err)
	require.Empty(t, warnings)

	table, warnings := newTZTable(root, nil)
	require.Empty(t, warnings)
	v := table.zoneFor("Europe/Berlin")
	require.NotNil(t, v)
	return v
}

func TestVTimezoneOffsetAt(t *testing.T) {
	v := berlinVTimezone(t)

	wall := func(y int, m time.Month, d, hh int) time.Time {
		return time.Date(y, m, d, hh, 0, 0, 0, time.UTC)
	}

	cases := []struct {
		name string
		wall time.Time
		want int
	}{
		{"winter", wall(2026, time.January, 15, 12), 3600},
		{"summer", wall(2026, time.July, 15, 12), 7200},
		{"at spring onset", wall(2026, time.March, 29, 2), 7200},
		{"just before spring onset", wall(2026, time.March, 29, 1), 3600},
		{"after autumn onset", wall(2026, time.October, 25, 4), 3600},
		{"before first transition", wall(1969, time.June, 1, 12), 3600},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			off, ok := v.offsetAt(tc.wall)
			require.True(t, ok)
			assert.Equal(t, tc.want, off)
		})
	}
}

func TestVTimezonePlaceAndRebase(t *testing.T) {
	v := berlinVTimezone(t)

	placed := v.place(time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, "Europe/Berlin", placed.Location().String())
	assert.True(t, placed.Equal(time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)))

	// A July instant still carrying the winter offset keeps its wall clock
	// and picks up the summer offset.
	stale := time.Date(2026, 7, 10, 9, 0, 0, 0, time.FixedZone("Europe/Berlin", 3600))
	rebased := v.rebase(stale)
	assert.Equal(t, 9, rebased.Hour())
	_, off := rebased.Zone()
	assert.Equal(t, 7200, off)
	assert.True(t, rebased.Equal(time.Date(2026, 7, 10, 7, 0, 0, 0, time.UTC)))

	// Already correct: untouched.
	fine := time.Date(2026, 1, 10, 9, 0, 0, 0, time.FixedZone("Europe/Berlin", 3600))
	assert.True(t, v.rebase(fine).Equal(fine))
}

func TestTZTableEmbeddedWins(t *testing.T) {
	// An embedded definition for a well-known TZID with a deliberately wrong
	// offset proves the embedded rules shadow the system database.
	text := crlf(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VTIMEZONE",
		"TZID:Europe/Berlin",
		"BEGIN:STANDARD",
		"TZOFFSETFROM:+0500",
		"TZOFFSETTO:+0500",
		"DTSTART:19700101T000000",
		"END:STANDARD",
		"END:VTIMEZONE",
		"END:VCALENDAR",
	)
	root, _, err := ReadCalendar(text, true)
	require.NoError(t, err)
	table, warnings := newTZTable(root, DefaultResolver())
	require.Empty(t, warnings)

	wall := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	got, err := table.resolveLocal(wall, "Europe/Berlin")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 6, 1, 5, 0, 0, 0, time.UTC)))
	assert.NotNil(t, table.zoneFor("Europe/Berlin"))

	// Zones without an embedded definition fall through to the resolver.
	got, err = table.resolveLocal(wall, "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", got.Location().String())
	assert.True(t, got.Equal(time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)))
	assert.Nil(t, table.zoneFor("America/New_York"))
}

func TestTZTableCachesResolverMisses(t *testing.T) {
	calls := 0
	resolver := TimezoneResolverFunc(func(tzid string) (*time.Location, error) {
		calls++
		return nil, errors.New("nope")
	})
	table := &tzTable{
		embedded: map[string]*vtimezone{},
		resolver: resolver,
		cache:    map[string]*time.Location{},
	}

	wall := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		got, err := table.resolveLocal(wall, "X-Private/Zone")
		require.Error(t, err)
		var tzErr *UnresolvableTimezoneError
		require.ErrorAs(t, err, &tzErr)
		assert.Equal(t, "X-Private/Zone", tzErr.TZID)
		assert.True(t, got.Equal(wall)) // value comes back unchanged
	}
	assert.Equal(t, 1, calls)
}

func TestTZTableNilResolver(t *testing.T) {
	table := &tzTable{
		embedded: map[string]*vtimezone{},
		cache:    map[string]*time.Location{},
	}
	_, err := table.resolveLocal(time.Now(), "Europe/Berlin")
	var tzErr *UnresolvableTimezoneError
	require.ErrorAs(t, err, &tzErr)
}

func TestParseVTimezone_Unusable(t *testing.T) {
	noID := &RawComponent{Name: compTimezone}
	v, warnings := parseVTimezone(noID)
	assert.Nil(t, v)
	require.Len(t, warnings, 1)
	assert.Equal(t, WarnTimezoneFallback, warnings[0].Kind)

	noShifts := &RawComponent{
		Name:       compTimezone,
		Properties: []RawProperty{{Name: "TZID", Value: "Broken"}},
		Components: []*RawComponent{{
			Name:       compStandard,
			Properties: []RawProperty{{Name: "DTSTART", Value: "19700101T000000"}},
		}},
	}
	v, warnings = parseVTimezone(noShifts)
	assert.Nil(t, v)
	require.NotEmpty(t, warnings)
	for _, w := range warnings {
		assert.Equal(t, WarnTimezoneFallback, w.Kind)
	}
}
