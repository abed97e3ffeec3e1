package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"icalq/feed"
	"icalq/ics"
	"icalq/internal/config"
	appLog "icalq/internal/log"
	"icalq/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	serve      bool
	watch      bool
	once       bool
	start      string
	end        string
	window     int
	backfill   int
	mode       string
	dedup      bool
	strict     bool
	fixQuirks  bool
	jsonOut    bool
	debug      bool

	set map[string]bool // flags explicitly passed on the command line
}

func main() {
	appLog.Info("icalq starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override the config file when explicitly passed.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.set["window"] && flags.window > 0 {
		conf.HorizonDays = flags.window
	}
	if flags.set["backfill"] && flags.backfill >= 0 {
		conf.BackfillDays = flags.backfill
	}
	if flags.set["mode"] {
		conf.Mode = flags.mode
	}
	if flags.set["dedup"] {
		conf.Dedup = flags.dedup
	}
	if flags.set["strict"] {
		conf.Strict = flags.strict
	}
	if flags.set["fix-quirks"] {
		conf.FixQuirks = flags.fixQuirks
	}
	conf.Normalize()

	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	} else {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"backfill_days", conf.BackfillDays,
		"mode", conf.Mode,
		"dedup", conf.Dedup,
		"strict", conf.Strict,
		"fix_quirks", conf.FixQuirks,
		"source_count", len(conf.Sources),
	)

	opts, err := conf.Options()
	if err != nil {
		appLog.Error("invalid timezone in config", err, "timezone", conf.Timezone)
		os.Exit(1)
	}
	fetcher := feed.NewFetcher(conf.CacheDir)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	switch {
	case flags.serve:
		if flags.watch {
			go runWatch(ctx, conf, opts, fetcher)
		}
		if err := runServe(ctx, conf, opts, fetcher); err != nil {
			appLog.Error("http server failed", err)
			os.Exit(1)
		}
	case flags.watch:
		runWatch(ctx, conf, opts, fetcher)
	default:
		os.Exit(runOnce(ctx, conf, opts, fetcher, flags))
	}

	appLog.Info("icalq exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/icalq/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.serve, "serve", false, "Serve the HTTP API")
	flag.BoolVar(&cfg.watch, "watch", false, "Refresh sources on the configured cron schedule")
	flag.BoolVar(&cfg.once, "once", false, "Run a single query and exit (default when neither -serve nor -watch)")
	flag.StringVar(&cfg.start, "start", "", "Query window start, RFC 3339 (overrides -backfill)")
	flag.StringVar(&cfg.end, "end", "", "Query window end, RFC 3339 (overrides -window)")
	flag.IntVar(&cfg.window, "window", 0, "Days ahead the query window covers (overrides config)")
	flag.IntVar(&cfg.backfill, "backfill", 0, "Days back the query window covers (overrides config)")
	flag.StringVar(&cfg.mode, "mode", "", `Window filter: "overlap" or "contains" (overrides config)`)
	flag.BoolVar(&cfg.dedup, "dedup", true, "Collapse duplicate (uid, start) pairs (overrides config)")
	flag.BoolVar(&cfg.strict, "strict", false, "Reject malformed feeds instead of repairing (overrides config)")
	flag.BoolVar(&cfg.fixQuirks, "fix-quirks", true, "Repair known vendor glitches before parsing (overrides config)")
	flag.BoolVar(&cfg.jsonOut, "json", false, "Print occurrences as JSON in -once mode")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	cfg.set = make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		cfg.set[f.Name] = true
	})

	return cfg
}

// runOnce fetches every source, answers one query, and prints the result.
// Returns the process exit code.
func runOnce(ctx context.Context, conf *config.Config, opts ics.Options, fetcher *feed.Fetcher, flags flagConfig) int {
	now := time.Now()
	start, end := conf.Window(now)
	if flags.start != "" {
		t, err := time.Parse(time.RFC3339, flags.start)
		if err != nil {
			appLog.Error("invalid -start", err)
			return 1
		}
		start = t
	}
	if flags.end != "" {
		t, err := time.Parse(time.RFC3339, flags.end)
		if err != nil {
			appLog.Error("invalid -end", err)
			return 1
		}
		end = t
	}

	q := ics.Query{Start: start, End: end, Mode: conf.QueryMode(), Dedup: conf.Dedup}
	res := feed.Merged(ctx, fetcher, conf.Sources, opts, q)

	for _, warn := range res.Warnings {
		appLog.Info("feed warning", "kind", string(warn.Kind), "uid", warn.UID, "msg", warn.Msg)
	}
	for _, err := range res.Errors {
		appLog.Error("source failed", err)
	}

	if flags.jsonOut {
		data, err := json.MarshalIndent(res.Occurrences, "", "  ")
		if err != nil {
			appLog.Error("failed to encode occurrences", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		for _, occ := range res.Occurrences {
			fmt.Println(formatOccurrence(occ))
		}
	}

	// Partial results are still results; fail only when every source failed.
	if len(conf.Sources) > 0 && len(res.Errors) == len(conf.Sources) {
		return 1
	}
	return 0
}

// runServe blocks serving the HTTP API until ctx is canceled or the
// listener fails.
func runServe(ctx context.Context, conf *config.Config, opts ics.Options, fetcher *feed.Fetcher) error {
	server := web.NewServer(conf, opts, fetcher)

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	appLog.Info("http server listening", "listen", "http://"+conf.Listen)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// runWatch refreshes every source on the configured cron schedule, logging a
// merged summary per tick. It blocks until ctx is canceled.
func runWatch(ctx context.Context, conf *config.Config, opts ics.Options, fetcher *feed.Fetcher) {
	registry := feed.NewRegistry(fetcher)

	refresh := func() {
		refreshAll(ctx, conf, opts, registry)
	}

	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, refresh); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		return
	}
	c.Start()

	// Prime the cache immediately instead of waiting for the first tick.
	refresh()

	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
}

// refreshAll submits a background refresh for every source, waits for all of
// them to settle, and logs the merged snapshot.
func refreshAll(ctx context.Context, conf *config.Config, opts ics.Options, registry *feed.Registry) {
	now := time.Now()
	start, end := conf.Window(now)
	q := ics.Query{Start: start, End: end, Mode: conf.QueryMode(), Dedup: conf.Dedup}

	for _, src := range conf.Sources {
		if err := registry.Submit(ctx, src.ID, src, opts, q); err != nil {
			appLog.Error("refresh submit failed", err, "id", src.ID)
		}
	}

	deadline := time.Now().Add(2 * time.Minute)
	for {
		allDone := true
		for _, src := range conf.Sources {
			if !registry.Done(src.ID) {
				allDone = false
				break
			}
		}
		if allDone {
			break
		}
		if time.Now().After(deadline) {
			appLog.Error("refresh still pending past deadline", errors.New("timeout"), "deadline", deadline.Format(time.RFC3339))
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}

	lists := make([][]ics.Occurrence, 0, len(conf.Sources))
	warnings := 0
	failed := 0
	for _, src := range conf.Sources {
		update, ok := registry.Latest(src.ID)
		if !ok {
			continue
		}
		if update.Err != nil {
			failed++
		}
		warnings += len(update.Warnings)
		lists = append(lists, update.Occurrences)
	}
	merged := ics.Merge(q.Dedup, lists...)

	appLog.Info("refresh complete",
		"window_start", start.Format(time.RFC3339),
		"window_end", end.Format(time.RFC3339),
		"occurrences", len(merged),
		"warnings", warnings,
		"failed_sources", failed,
	)
}

// formatOccurrence renders one occurrence as a single report line:
//
//	2026-03-02T10:00:00+01:00  1h30m  Team sync  (Room 4)
//	2026-03-02..2026-03-04  all-day  Offsite
func formatOccurrence(o ics.Occurrence) string {
	location := ""
	if o.Location != "" {
		location = "  (" + o.Location + ")"
	}

	if o.AllDay() {
		lastDay := o.End.AddDate(0, 0, -1)
		if lastDay.After(o.Start) {
			return fmt.Sprintf("%s..%s  all-day  %s%s",
				o.Start.Format("2006-01-02"), lastDay.Format("2006-01-02"), o.Summary, location)
		}
		return fmt.Sprintf("%s  all-day  %s%s", o.Start.Format("2006-01-02"), o.Summary, location)
	}

	return fmt.Sprintf("%s  %s  %s%s",
		o.Start.Format(time.RFC3339), formatDuration(o.End.Sub(o.Start)), o.Summary, location)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	switch {
	case h == 0:
		return fmt.Sprintf("%dm", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dh%02dm", h, m)
	}
}
