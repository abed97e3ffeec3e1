package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "icalq/internal/log"
	"icalq/internal/metrics"
)

// FetchResult is the outcome of fetching a single source.
type FetchResult struct {
	Source      Source
	Body        []byte // raw payload, freshly fetched or from cache
	ContentType string // Content-Type header when known
	FromCache   bool   // true when a 304 or a fetch failure reused the cached body
}

// cacheEntry holds HTTP cache metadata for a single feed URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads feeds with HTTP caching (ETag / Last-Modified) backed by
// a disk cache, falling back to the cached body when the network fails.
// CalDAV sources bypass the cache; their backend assembles a fresh document
// per fetch.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher.
//
// cacheDir is the base directory for per-URL cache subdirectories and
// metadata, for example "/var/lib/icalq/feed-cache".
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		// Caller should set this explicitly; fall back to a relative dir so
		// development runs don't need root permissions.
		cacheDir = "./var/feed-cache"
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		cacheDir: cacheDir,
	}
}

// FetchAll fetches every source. Errors for individual sources are logged
// and collected; the returned results hold only the sources that produced a
// body, from network or cache.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(sources))
	errs := make([]error, 0)

	for _, src := range sources {
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			errs = append(errs, err)
			appLog.Error("feed fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		results = append(results, res)
	}

	return results, errs
}

// FetchOne fetches a single source, honoring ETag and Last-Modified for
// plain feeds and dispatching caldav URLs to the CalDAV backend.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}
	if isCalDAV(src.URL) {
		body, err := f.fetchCalDAV(ctx, src)
		if err != nil {
			metrics.FetchTotal.WithLabelValues("error").Inc()
			return FetchResult{}, err
		}
		metrics.FetchTotal.WithLabelValues("fresh").Inc()
		return FetchResult{Source: src, Body: body, ContentType: "text/calendar"}, nil
	}

	fetchURL := canonicalFetchURL(src.URL)

	cachePath, err := f.cachePathForURL(fetchURL)
	if err != nil {
		return FetchResult{}, err
	}
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := f.loadCacheBody(cachePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if src.Username != "" {
		req.SetBasicAuth(src.Username, src.Password)
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Info("feed fetch start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		// Network error; if we have a cached body, fall back to it.
		if len(cachedBody) > 0 {
			appLog.Error("feed fetch network error, using cached body", err, "id", src.ID, "url", redactURL(src.URL))
			metrics.FetchTotal.WithLabelValues("cached_fallback").Inc()
			return FetchResult{Source: src, Body: cachedBody, ContentType: meta.ContentType, FromCache: true}, nil
		}
		metrics.FetchTotal.WithLabelValues("error").Inc()
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			metrics.FetchTotal.WithLabelValues("error").Inc()
			return FetchResult{}, readErr
		}

		newMeta := cacheEntry{
			URL:          fetchURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			ContentType:  resp.Header.Get("Content-Type"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("feed cache save failed", err, "id", src.ID, "url", redactURL(src.URL))
		}

		appLog.Info("feed fetch success", "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode, "from_cache", false)
		metrics.FetchTotal.WithLabelValues("fresh").Inc()
		return FetchResult{Source: src, Body: body, ContentType: newMeta.ContentType}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			metrics.FetchTotal.WithLabelValues("error").Inc()
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("feed fetch not modified, using cache", "id", src.ID, "url", redactURL(src.URL))
		metrics.FetchTotal.WithLabelValues("not_modified").Inc()
		return FetchResult{Source: src, Body: cachedBody, ContentType: meta.ContentType, FromCache: true}, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("feed fetch non-OK, using cached body", errors.New(resp.Status), "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode)
			metrics.FetchTotal.WithLabelValues("cached_fallback").Inc()
			return FetchResult{Source: src, Body: cachedBody, ContentType: meta.ContentType, FromCache: true}, nil
		}
		metrics.FetchTotal.WithLabelValues("error").Inc()
		return FetchResult{}, errors.New(resp.Status)
	}
}

// canonicalFetchURL maps alias schemes onto the scheme actually fetched.
// webcal is the subscription alias for https.
func canonicalFetchURL(u string) string {
	if rest, ok := strings.CutPrefix(u, "webcal://"); ok {
		return "https://" + rest
	}
	return u
}

func (f *Fetcher) cachePathForURL(url string) (string, error) {
	if url == "" {
		return "", errors.New("empty url")
	}
	sum := sha256.Sum256([]byte(url))
	// First 16 hex chars as directory name.
	dir := hex.EncodeToString(sum[:8])
	return filepath.Join(f.cacheDir, dir), nil
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL hides sensitive parts of a feed URL for logging purposes.
// Subscription URLs routinely embed access tokens in the path or query.
func redactURL(u string) string {
	// Example:
	//   https://example.com/path/to/private.ics?token=abcd
	// -> https://example.com/...(redacted)
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i < 0 {
		return "feed://...(redacted)"
	}
	j := i + 3
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
