// Package report formats store aggregates into human-readable text.
// It is pure formatting over Store query results and holds no state of
// its own.
package report

import (
	"context"
	"fmt"
	"strings"

	"sbahn_tracker/internal/storage"
)

var weekdayNames = [7]string{
	"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
}

// Generator renders text reports from store queries.
type Generator struct {
	store storage.Store
}

// NewGenerator creates a report generator over the given store.
func NewGenerator(store storage.Store) *Generator {
	return &Generator{store: store}
}

func pct(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// Daily renders the report for one date. A date with no rows yields an
// explicit no-data line, not an error.
func (g *Generator) Daily(ctx context.Context, date string) (string, error) {
	summary, err := g.store.DailySummary(ctx, date)
	if err != nil {
		return "", err
	}
	if summary == nil {
		return fmt.Sprintf("No data found for %s.", date), nil
	}

	lines := []string{
		fmt.Sprintf("=== DAILY REPORT: %s ===", date),
		fmt.Sprintf("Total departures: %d", summary.Total),
		fmt.Sprintf("On time (<5min): %d (%.1f%%)", summary.OnTime, pct(summary.OnTime, summary.Total)),
		fmt.Sprintf("Late (>=5min): %d (%.1f%%)", summary.Late, pct(summary.Late, summary.Total)),
		fmt.Sprintf("Cancelled: %d (%.1f%%)", summary.Cancelled, pct(summary.Cancelled, summary.Total)),
		fmt.Sprintf("Average delay: %.2f minutes", summary.AvgDelay),
		"================================",
	}
	return strings.Join(lines, "\n"), nil
}

// Weekly renders per-day lines plus weekly totals for up to seven
// dates from start forward.
func (g *Generator) Weekly(ctx context.Context, start string) (string, error) {
	summaries, err := g.store.WeeklySummary(ctx, start)
	if err != nil {
		return "", err
	}
	if len(summaries) == 0 {
		return fmt.Sprintf("No data found from %s on.", start), nil
	}

	lines := []string{fmt.Sprintf("=== WEEKLY REPORT from %s ===", start)}

	totalTrains := 0
	totalDelay := 0.0
	totalCancelled := 0

	for _, s := range summaries {
		lines = append(lines, fmt.Sprintf("%s: %d departures, avg %.1f min delay, %d cancelled",
			s.Date, s.Total, s.AvgDelay, s.Cancelled))
		totalTrains += s.Total
		totalDelay += s.AvgDelay * float64(s.Total)
		totalCancelled += s.Cancelled
	}

	avgWeekDelay := 0.0
	if totalTrains > 0 {
		avgWeekDelay = totalDelay / float64(totalTrains)
	}
	lines = append(lines,
		"----------------------------",
		fmt.Sprintf("Week total: %d departures", totalTrains),
		fmt.Sprintf("Average delay: %.2f minutes", avgWeekDelay),
		fmt.Sprintf("Total cancelled: %d", totalCancelled),
		"================================",
	)
	return strings.Join(lines, "\n"), nil
}

// LineTable renders the per-line averages read back from the analytics
// mirror.
func LineTable(averages []storage.LineAverage) string {
	if len(averages) == 0 {
		return "No mirror data yet."
	}

	lines := []string{"=== LINE AVERAGES (mirror, all history) ==="}
	for _, a := range averages {
		lines = append(lines, fmt.Sprintf("%s: %.2f min avg, %d observed, %d cancelled",
			a.Line, a.AvgDelay, a.Observed, a.Cancelled))
	}
	lines = append(lines, "==============================")
	return strings.Join(lines, "\n")
}

// WeekdayTable renders the per-weekday averages, Monday first. Every
// weekday appears even with no data.
func (g *Generator) WeekdayTable(ctx context.Context) (string, error) {
	averages, err := g.store.WeekdayAverages(ctx)
	if err != nil {
		return "", err
	}

	lines := []string{"=== WEEKDAY AVERAGES ==="}
	for i, avg := range averages {
		lines = append(lines, fmt.Sprintf("%s: %.2f min (%d samples)", weekdayNames[i], avg.AvgDelay, avg.Count))
	}
	lines = append(lines, "==============================")
	return strings.Join(lines, "\n"), nil
}
