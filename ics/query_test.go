package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func occ(uid string, start time.Time, d time.Duration) Occurrence {
	return Occurrence{
		UID:           uid,
		Start:         start,
		End:           start.Add(d),
		Precision:     PrecisionDateTime,
		OriginalStart: start,
	}
}

func uids(occs []Occurrence) []string {
	out := make([]string, len(occs))
	for i := range occs {
		out[i] = occs[i].UID
	}
	return out
}

func TestRunQuery_OverlapBoundaries(t *testing.T) {
	qStart := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	qEnd := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
	q := Query{Start: qStart, End: qEnd}

	occs := []Occurrence{
		occ("before", qStart.Add(-2*time.Hour), time.Hour),   // ends before the window
		occ("touch-start", qStart.Add(-time.Hour), time.Hour), // ends exactly at window start
		occ("straddle-start", qStart.Add(-30*time.Minute), time.Hour),
		occ("inside", qStart.Add(time.Hour), time.Hour),
		occ("straddle-end", qEnd.Add(-30*time.Minute), time.Hour),
		occ("touch-end", qEnd, time.Hour), // starts exactly at window end
		occ("spanning", qStart.Add(-time.Hour), 12*time.Hour),
	}

	got := runQuery(occs, q)
	assert.Equal(t, []string{"spanning", "straddle-start", "inside", "straddle-end"}, uids(got))
}

func TestRunQuery_ZeroLengthAtWindowStart(t *testing.T) {
	qStart := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	qEnd := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
	q := Query{Start: qStart, End: qEnd}

	// end > window start fails for a zero-length occurrence sitting exactly
	// on the boundary; strictly inside it qualifies.
	atEdge := occ("edge", qStart, 0)
	inside := occ("inside", qStart.Add(time.Minute), 0)

	got := runQuery([]Occurrence{atEdge, inside}, q)
	assert.Equal(t, []string{"inside"}, uids(got))
}

func TestRunQuery_ContainsMode(t *testing.T) {
	qStart := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	qEnd := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
	q := Query{Start: qStart, End: qEnd, Mode: ModeContains}

	occs := []Occurrence{
		occ("straddle-start", qStart.Add(-30*time.Minute), time.Hour),
		occ("at-start", qStart, time.Hour),
		occ("inside", qStart.Add(time.Hour), time.Hour),
		occ("ends-at-end", qEnd.Add(-time.Hour), time.Hour), // end == window end is in
		occ("past-end", qEnd.Add(-30*time.Minute), time.Hour),
	}

	got := runQuery(occs, q)
	assert.Equal(t, []string{"at-start", "inside", "ends-at-end"}, uids(got))
}

func TestSortOccurrences(t *testing.T) {
	t1 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	base := occ("b@test", t1, time.Hour)
	override := occ("b@test", t1, time.Hour)
	override.IsOverride = true
	occs := []Occurrence{
		occ("z@test", t2, time.Hour),
		override,
		occ("a@test", t2, time.Hour),
		base,
		occ("a@test", t1, time.Hour),
	}

	sortOccurrences(occs)
	assert.Equal(t, []string{"a@test", "b@test", "b@test", "a@test", "z@test"}, uids(occs))
	// Same start and uid: the base instance sorts ahead of the override.
	assert.False(t, occs[1].IsOverride)
	assert.True(t, occs[2].IsOverride)
}

func TestMerge_DedupAcrossCalendars(t *testing.T) {
	t1 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	first := occ("shared@test", t1, time.Hour)
	first.Summary = "from the first feed"
	second := occ("shared@test", t1, time.Hour)
	second.Summary = "from the second feed"
	solo := occ("solo@test", t1.Add(time.Hour), time.Hour)

	merged := Merge(true, []Occurrence{first}, []Occurrence{second, solo})
	require.Len(t, merged, 2)
	assert.Equal(t, "from the second feed", merged[0].Summary)
	assert.Equal(t, "solo@test", merged[1].UID)

	kept := Merge(false, []Occurrence{first}, []Occurrence{second, solo})
	assert.Len(t, kept, 3)
}

func TestDedupOccurrences_KeepsLast(t *testing.T) {
	t1 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	base := occ("dup@test", t1, time.Hour)
	base.Summary = "base"
	override := occ("dup@test", t1, time.Hour)
	override.Summary = "override"
	override.IsOverride = true

	got := runQuery([]Occurrence{override, base}, Query{
		Start: t1.Add(-time.Hour),
		End:   t1.Add(2 * time.Hour),
		Dedup: true,
	})
	require.Len(t, got, 1)
	// Overrides sort after base instances at the same key, so last-wins
	// keeps the override.
	assert.Equal(t, "override", got[0].Summary)

	// Different starts never collapse.
	later := occ("dup@test", t1.Add(time.Minute), time.Hour)
	got = runQuery([]Occurrence{base, later}, Query{
		Start: t1.Add(-time.Hour),
		End:   t1.Add(2 * time.Hour),
		Dedup: true,
	})
	assert.Len(t, got, 2)
}
