// Package storage provides persistent storage for normalized delay events.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"sbahn_tracker/internal/transit"
)

// ErrUnavailable marks unrecoverable I/O or connection failures. A row
// lookup that finds nothing is never an error.
var ErrUnavailable = errors.New("storage unavailable")

// Record is a stored delay observation: a transit.DelayEvent plus the
// store-assigned id and the last-write timestamp.
type Record struct {
	ID            int64
	Line          string
	Station       string
	ScheduledTime string
	Date          string
	Weekday       int
	Hour          int
	Minute        int
	DelayMinutes  int
	Cancelled     bool
	Direction     string
	Source        string
	CreatedAt     time.Time
}

// Event converts the record back to its transient event form.
func (r Record) Event() transit.DelayEvent {
	return transit.DelayEvent{
		Line:          r.Line,
		Station:       r.Station,
		ScheduledTime: r.ScheduledTime,
		Date:          r.Date,
		Weekday:       r.Weekday,
		Hour:          r.Hour,
		Minute:        r.Minute,
		DelayMinutes:  r.DelayMinutes,
		Cancelled:     r.Cancelled,
		Direction:     r.Direction,
		Source:        r.Source,
	}
}

// TrainingSample is one flattened row of the training export.
type TrainingSample struct {
	Line         string
	Station      string
	Weekday      int
	Hour         int
	Minute       int
	DelayMinutes int
}

// WeekdayAverage is the mean delay and row count for one weekday among
// non-cancelled rows. Weekdays with no rows report 0/0, never absence.
type WeekdayAverage struct {
	AvgDelay float64
	Count    int
}

// DailySummary aggregates one calendar date. On-time means delay < 5
// minutes and not cancelled; late means delay >= 5 and not cancelled.
type DailySummary struct {
	Date      string
	Total     int
	OnTime    int
	Late      int
	Cancelled int
	AvgDelay  float64 // mean among non-cancelled rows
}

// DaySummary is one per-date rollup line of a weekly summary.
type DaySummary struct {
	Date      string
	Total     int
	AvgDelay  float64
	Cancelled int
}

// Store is the delay record store: idempotent upsert keyed on the
// natural key plus the read/aggregate queries the report and training
// collaborators consume.
type Store interface {
	// Upsert inserts a new row for a never-seen natural key or updates
	// the mutable fields of the matching row. The returned id is stable
	// across updates; identical resubmissions are no-ops.
	Upsert(ctx context.Context, ev transit.DelayEvent) (int64, error)

	// AllDelays returns every record, most recently modified first.
	AllDelays(ctx context.Context) ([]Record, error)

	// TrainingData returns the flattened per-row export.
	TrainingData(ctx context.Context) ([]TrainingSample, error)

	// WeekdayAverages returns the per-weekday mean delay, Monday first.
	WeekdayAverages(ctx context.Context) ([7]WeekdayAverage, error)

	// DailySummary aggregates one date, or returns (nil, nil) when the
	// date has no rows.
	DailySummary(ctx context.Context, date string) (*DailySummary, error)

	// WeeklySummary returns per-date rollups for at most 7 distinct
	// dates from start forward, ascending.
	WeeklySummary(ctx context.Context, start string) ([]DaySummary, error)

	// Count returns the total number of records.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Config holds storage settings for the selectable backends and the
// optional ClickHouse analytics mirror.
type Config struct {
	Backend    string // "sqlite" (default) or "postgres"
	SQLitePath string
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	MirrorOn   bool // mirror upserted rows into ClickHouse
}

// DefaultConfig returns a configuration with default local settings.
func DefaultConfig() Config {
	return Config{
		Backend:    "sqlite",
		SQLitePath: "sbahn_delays.db",
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "sbahn_delays",
			User:     "sbahn",
			Password: "sbahn",
		},
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "sbahn",
			User:     "default",
			Password: "",
		},
	}
}

// Open opens the configured store backend. Schema creation and
// migration run before Open returns; a migration failure is fatal.
func Open(ctx context.Context, cfg Config, clk clockwork.Clock) (Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return OpenSQLite(cfg.SQLitePath, clk)
	case "postgres":
		return OpenPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
