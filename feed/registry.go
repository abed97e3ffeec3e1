package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"icalq/ics"
	appLog "icalq/internal/log"
)

// Update is the result of a completed background refresh.
type Update struct {
	Occurrences []ics.Occurrence
	Warnings    []ics.Warning
	Err         error
	At          time.Time
}

// request tracks one key's in-flight state and its last completed update.
type request struct {
	pending bool
	has     bool
	last    Update
}

// Registry runs feed refreshes in the background and keeps the most recent
// completed result per key. A new refresh for a key does not disturb the
// previous result until it finishes, so readers always see a full snapshot.
type Registry struct {
	fetcher *Fetcher

	mu   sync.Mutex
	reqs map[string]*request
}

// NewRegistry creates a Registry that fetches through f.
func NewRegistry(f *Fetcher) *Registry {
	return &Registry{
		fetcher: f,
		reqs:    make(map[string]*request),
	}
}

// Submit starts a background refresh for key. It returns an error without
// starting anything when a refresh for the same key is still running.
func (r *Registry) Submit(ctx context.Context, key string, src Source, opts ics.Options, q ics.Query) error {
	r.mu.Lock()
	req := r.reqs[key]
	if req == nil {
		req = &request{}
		r.reqs[key] = req
	}
	if req.pending {
		r.mu.Unlock()
		return fmt.Errorf("refresh for %q already in flight", key)
	}
	req.pending = true
	r.mu.Unlock()

	go func() {
		occs, warns, err := Events(ctx, r.fetcher, src, opts, q)
		if err != nil {
			appLog.Error("feed refresh failed", err, "key", key)
		} else {
			appLog.Debug("feed refresh done", "key", key, "occurrences", len(occs), "warnings", len(warns))
		}

		r.mu.Lock()
		req.pending = false
		req.has = true
		req.last = Update{
			Occurrences: occs,
			Warnings:    warns,
			Err:         err,
			At:          time.Now().UTC(),
		}
		r.mu.Unlock()
	}()

	return nil
}

// Done reports whether no refresh for key is currently running.
func (r *Registry) Done(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.reqs[key]
	return !ok || !req.pending
}

// Latest returns the most recent completed update for key. ok is false when
// no refresh for key has ever finished.
func (r *Registry) Latest(key string) (Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.reqs[key]
	if !ok || !req.has {
		return Update{}, false
	}
	return req.last, true
}

// Forget drops all state for key. An in-flight refresh for the key still
// completes but its result is discarded.
func (r *Registry) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reqs, key)
}
