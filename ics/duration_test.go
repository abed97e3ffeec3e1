package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseICSDuration(t *testing.T) {
	tests := []struct {
		in       string
		negative bool
		days     int
		clock    time.Duration
	}{
		{"P15DT5H0M20S", false, 15, 5*time.Hour + 20*time.Second},
		{"PT1H30M", false, 0, 90 * time.Minute},
		{"-PT15M", true, 0, 15 * time.Minute},
		{"+PT15M", false, 0, 15 * time.Minute},
		{"P1W", false, 7, 0},
		{"P2W3D", false, 17, 0},
		{"P1D", false, 1, 0},
		{"pt30s", false, 0, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := parseICSDuration(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.negative, d.Negative)
			assert.Equal(t, tt.days, d.Days)
			assert.Equal(t, tt.clock, d.Clock)
		})
	}
}

func TestParseICSDuration_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"15D",
		"P",
		"PT",
		"P2X",
		"PT5",
		"P-1D",
		"P1H", // time units need the T designator
		"PD",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := parseICSDuration(in)
			assert.Error(t, err)
		})
	}
}

func TestICSDurationAddTo_DatePrecision(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	// Spring-forward weekend: nominal day arithmetic keeps the end on a
	// midnight boundary even though only 47 absolute hours elapse.
	start := Instant{
		Time:      time.Date(2026, 3, 28, 0, 0, 0, 0, berlin),
		Precision: PrecisionDate,
	}
	d, err := parseICSDuration("P2D")
	require.NoError(t, err)

	end := d.addTo(start)
	assert.True(t, end.Equal(time.Date(2026, 3, 30, 0, 0, 0, 0, berlin)))
	assert.Equal(t, 47*time.Hour, end.Sub(start.Time))
}

func TestICSDurationAddTo_DateTimePrecision(t *testing.T) {
	start := Instant{
		Time:      time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Precision: PrecisionDateTime,
	}
	d, err := parseICSDuration("P1DT2H")
	require.NoError(t, err)

	assert.True(t, d.addTo(start).Equal(start.Time.Add(26*time.Hour)))
}
