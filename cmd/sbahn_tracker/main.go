// Command-line entry point for the S-Bahn delay tracker.
//
// Usage:
//
//	sbahn_tracker add "S4 +5 09:30"        record a manual delay entry
//	sbahn_tracker fetch [-station NAME]    poll the departures feed once
//	sbahn_tracker stats                    show store statistics
//	sbahn_tracker report -daily [DATE]     daily report
//	sbahn_tracker report -weekly [DATE]    weekly report from DATE
//	sbahn_tracker report -weekday          weekday averages
//	sbahn_tracker export                   dump the training export as CSV
//	sbahn_tracker ingest                   consume departures from NATS
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/jonboulle/clockwork"

	"sbahn_tracker/internal/collector"
	"sbahn_tracker/internal/config"
	"sbahn_tracker/internal/ingest"
	"sbahn_tracker/internal/normalize"
	"sbahn_tracker/internal/observability"
	"sbahn_tracker/internal/report"
	"sbahn_tracker/internal/storage"
	"sbahn_tracker/internal/transit"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "sbahn_tracker - S-Bahn delay tracker")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  add \"S4 +5 09:30\"       record a manual delay entry")
	fmt.Fprintln(w, "  fetch [-station NAME]   poll the departures feed once")
	fmt.Fprintln(w, "  stats                   show store statistics")
	fmt.Fprintln(w, "  report -daily [DATE]    daily report (default: today)")
	fmt.Fprintln(w, "  report -weekly [DATE]   weekly report from DATE")
	fmt.Fprintln(w, "  report -weekday         weekday averages")
	fmt.Fprintln(w, "  export                  dump the training export as CSV")
	fmt.Fprintln(w, "  ingest                  consume departures from NATS")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Lines: %s\n", strings.Join(transit.Lines, ", "))
	fmt.Fprintf(w, "Stations: %s\n", strings.Join(transit.Stations, ", "))
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	clk := clockwork.NewRealClock()
	ctx := context.Background()

	cmd := strings.ToLower(os.Args[1])
	args := os.Args[2:]

	switch cmd {
	case "add":
		runAdd(ctx, cfg, clk, args)
	case "fetch":
		runFetch(ctx, cfg, clk, logger, args)
	case "stats":
		runStats(ctx, cfg, clk)
	case "report":
		runReport(ctx, cfg, clk, args)
	case "export":
		runExport(ctx, cfg, clk)
	case "ingest":
		runIngest(cfg, clk, logger)
	case "-h", "--help", "help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func openStore(ctx context.Context, cfg *config.Config, clk clockwork.Clock) storage.Store {
	store, err := storage.Open(ctx, cfg.Storage, clk)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	return store
}

func runAdd(ctx context.Context, cfg *config.Config, clk clockwork.Clock, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: sbahn_tracker add \"S4 +5 09:30\"")
		os.Exit(2)
	}

	ev, err := normalize.ManualEvent(strings.Join(args, " "), clk.Now())
	if err != nil {
		if errors.Is(err, normalize.ErrMissingLine) || errors.Is(err, normalize.ErrMissingTime) {
			fmt.Fprintf(os.Stderr, "Rejected: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Failed to parse entry: %v\n", err)
		os.Exit(1)
	}

	store := openStore(ctx, cfg, clk)
	defer func() { _ = store.Close() }()

	id, err := store.Upsert(ctx, ev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to store entry: %v\n", err)
		os.Exit(1)
	}

	directionStr := ""
	if ev.Direction != "" {
		directionStr = " toward " + ev.Direction
	}
	fmt.Printf("[OK] Stored #%d: %s at %s%s @ %s, delay %+d min\n",
		id, ev.Line, ev.ScheduledTime, directionStr, ev.Station, ev.DelayMinutes)
}

func runFetch(ctx context.Context, cfg *config.Config, clk clockwork.Clock, logger *slog.Logger, args []string) {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	station := fs.String("station", "", "Fetch a single station instead of all")
	_ = fs.Parse(args)

	store := openStore(ctx, cfg, clk)
	defer func() { _ = store.Close() }()

	c := collector.New(collector.NewClient(cfg.FeedBaseURL), store, clk, logger, observability.NewMetrics())
	switch {
	case *station != "":
		c = c.WithStations([]string{*station})
	case len(cfg.Stations) > 0:
		c = c.WithStations(cfg.Stations)
	}

	if cfg.Storage.MirrorOn {
		mirror, err := storage.OpenClickHouse(ctx, cfg.Storage.ClickHouse)
		if err != nil {
			logger.Warn("mirror unavailable, continuing without it", slog.Any("error", err))
		} else {
			defer func() { _ = mirror.Close() }()
			c = c.WithMirror(mirror)
		}
	}

	fmt.Println("Polling departures feed...")
	stored, err := c.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fetch aborted: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[OK] %d entries stored\n", stored)
}

func runStats(ctx context.Context, cfg *config.Config, clk clockwork.Clock) {
	store := openStore(ctx, cfg, clk)
	defer func() { _ = store.Close() }()

	count, err := store.Count(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read store: %v\n", err)
		os.Exit(1)
	}
	records, err := store.AllDelays(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read store: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Statistics ===")
	fmt.Printf("  Total entries: %d\n", count)

	if len(records) > 0 {
		sum, max := 0, records[0].DelayMinutes
		byLine := make(map[string][]int)
		for _, r := range records {
			sum += r.DelayMinutes
			if r.DelayMinutes > max {
				max = r.DelayMinutes
			}
			byLine[r.Line] = append(byLine[r.Line], r.DelayMinutes)
		}

		fmt.Printf("  Average delay: %.1f min\n", float64(sum)/float64(len(records)))
		fmt.Printf("  Maximum: %d min\n", max)
		fmt.Println("  By line:")
		for _, line := range transit.Lines {
			delays := byLine[line]
			if len(delays) == 0 {
				continue
			}
			lineSum := 0
			for _, d := range delays {
				lineSum += d
			}
			fmt.Printf("    %s: %d entries, avg %.1f min\n",
				line, len(delays), float64(lineSum)/float64(len(delays)))
		}
	}

	fmt.Println("  Last 5 entries:")
	for i, r := range records {
		if i == 5 {
			break
		}
		directionStr := ""
		if r.Direction != "" {
			directionStr = " (" + r.Direction + ")"
		}
		fmt.Printf("    %s %s @ %s%s: %+d min (%s)\n",
			r.Line, r.ScheduledTime, r.Station, directionStr, r.DelayMinutes, r.Source)
	}

	if cfg.Storage.MirrorOn {
		mirror, err := storage.OpenClickHouse(ctx, cfg.Storage.ClickHouse)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Mirror unavailable: %v\n", err)
			return
		}
		defer func() { _ = mirror.Close() }()

		averages, err := mirror.LineAverages(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read mirror: %v\n", err)
			return
		}
		fmt.Println(report.LineTable(averages))
	}
}

func runReport(ctx context.Context, cfg *config.Config, clk clockwork.Clock, args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	daily := fs.Bool("daily", false, "Daily report")
	weekly := fs.Bool("weekly", false, "Weekly report")
	weekday := fs.Bool("weekday", false, "Weekday averages")
	_ = fs.Parse(args)

	store := openStore(ctx, cfg, clk)
	defer func() { _ = store.Close() }()
	gen := report.NewGenerator(store)

	date := clk.Now().Format("2006-01-02")
	if rest := fs.Args(); len(rest) > 0 {
		date = rest[0]
	}

	var out string
	var err error
	switch {
	case *daily:
		out, err = gen.Daily(ctx, date)
	case *weekly:
		if len(fs.Args()) == 0 {
			// Default to the last seven days.
			date = clk.Now().AddDate(0, 0, -6).Format("2006-01-02")
		}
		out, err = gen.Weekly(ctx, date)
	case *weekday:
		out, err = gen.WeekdayTable(ctx)
	default:
		fmt.Fprintln(os.Stderr, "Usage: sbahn_tracker report -daily|-weekly|-weekday [DATE]")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate report: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
}

func runExport(ctx context.Context, cfg *config.Config, clk clockwork.Clock) {
	store := openStore(ctx, cfg, clk)
	defer func() { _ = store.Close() }()

	samples, err := store.TrainingData(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to export: %v\n", err)
		os.Exit(1)
	}

	w := csv.NewWriter(os.Stdout)
	_ = w.Write([]string{"line", "station", "weekday", "hour", "minute", "delay_minutes"})
	for _, s := range samples {
		_ = w.Write([]string{
			s.Line, s.Station,
			strconv.Itoa(s.Weekday), strconv.Itoa(s.Hour), strconv.Itoa(s.Minute),
			strconv.Itoa(s.DelayMinutes),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write CSV: %v\n", err)
		os.Exit(1)
	}
}

func runIngest(cfg *config.Config, clk clockwork.Clock, logger *slog.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := openStore(ctx, cfg, clk)
	defer func() { _ = store.Close() }()

	consumer, err := ingest.NewConsumer(cfg.NATSURL, cfg.NATSSubject, store, clk, logger, observability.NewMetrics())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer consumer.Close()

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Ingest stopped: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Ingest stopped.")
}
