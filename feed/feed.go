// Package feed turns remote calendar sources into query results: HTTP(S)
// and webcal feeds fetched with conditional requests and a disk-backed
// cache, CalDAV collections re-serialized into plain iCalendar text, and an
// asynchronous registry for consumers that poll.
package feed

import (
	"context"
	"errors"
	"fmt"

	"icalq/ics"
	"icalq/internal/metrics"
)

// Source is one subscribed calendar feed.
type Source struct {
	// ID is the stable identifier used for cache keys, logs and metrics.
	ID string `yaml:"id"`

	// Name is the display name, defaulting to ID.
	Name string `yaml:"name,omitempty"`

	// URL is the feed endpoint. http, https and webcal schemes fetch a flat
	// iCalendar document; the caldav scheme fetches every object of a
	// collection over HTTPS.
	URL string `yaml:"url"`

	// Username and Password enable HTTP basic auth. Required for CalDAV
	// sources, optional otherwise.
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// Events is the one-call path for a single source: fetch, decode, parse,
// query. Parse warnings and query warnings come back merged. On expansion
// overflow the error is non-nil while the returned occurrences are still the
// valid in-window results.
func Events(ctx context.Context, f *Fetcher, src Source, opts ics.Options, q ics.Query) ([]ics.Occurrence, []ics.Warning, error) {
	res, err := f.FetchOne(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	body, err := Decode(res.Body, res.ContentType)
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", src.ID, err)
	}
	cal, err := ics.ParseCalendar(body, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", src.ID, err)
	}
	occs, warns, err := cal.Occurrences(q)
	warns = append(append([]ics.Warning{}, cal.Warnings...), warns...)
	for _, w := range warns {
		metrics.ParseWarnings.WithLabelValues(string(w.Kind)).Inc()
	}
	var overflow *ics.RecurrenceOverflowError
	if errors.As(err, &overflow) {
		metrics.ExpansionTruncations.Inc()
	}
	return occs, warns, err
}

// MergedResult is the union of several sources. Per-source failures never
// fail the batch; they are collected in Errors.
type MergedResult struct {
	Occurrences []ics.Occurrence
	Warnings    []ics.Warning
	Errors      []error
}

// Merged runs the query against every source and combines the results in
// canonical order, deduplicating across sources when the query asks for it.
func Merged(ctx context.Context, f *Fetcher, sources []Source, opts ics.Options, q ics.Query) MergedResult {
	var (
		out   MergedResult
		lists [][]ics.Occurrence
	)
	for _, src := range sources {
		occs, warns, err := Events(ctx, f, src, opts, q)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Errorf("%s: %w", src.ID, err))
		}
		lists = append(lists, occs)
		out.Warnings = append(out.Warnings, warns...)
	}
	out.Occurrences = ics.Merge(q.Dedup, lists...)
	return out
}
