package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"sbahn_tracker/internal/transit"
)

// SQLiteDB is the default single-file store backend.
type SQLiteDB struct {
	db  *sql.DB
	mu  sync.Mutex // serializes the upsert check-then-write critical section
	clk clockwork.Clock
}

// OpenSQLite opens or creates the delay database at the given path.
// Schema creation and migrations run before it returns; any migration
// failure is fatal because later upserts could not be trusted.
func OpenSQLite(path string, clk clockwork.Clock) (*SQLiteDB, error) {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := createSchema(db, clk); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteDB{db: db, clk: clk}, nil
}

// Close closes the database connection.
func (d *SQLiteDB) Close() error {
	return d.db.Close()
}

// createSchema creates the base table and applies migrations.
func createSchema(db *sql.DB, clk clockwork.Clock) error {
	// The base schema predates the cancelled, date and direction
	// columns; those are added by the migration steps below so that
	// fresh and legacy databases go through the same path.
	schema := `
	CREATE TABLE IF NOT EXISTS delays (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		line TEXT NOT NULL,
		station TEXT NOT NULL,
		scheduled_time TEXT NOT NULL,
		delay_minutes INTEGER NOT NULL,
		source TEXT DEFAULT 'manual',
		weekday INTEGER NOT NULL,
		hour INTEGER NOT NULL,
		minute INTEGER NOT NULL,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return err
	}

	return migrateSchema(db, clk)
}

// migrateSchema applies the ordered, idempotent migration steps. Each
// step probes pragma_table_info for its column before acting, so
// re-opening an already-migrated database performs no work.
func migrateSchema(db *sql.DB, clk clockwork.Clock) error {
	steps := []struct {
		column string
		ddl    string
	}{
		{"cancelled", `ALTER TABLE delays ADD COLUMN cancelled INTEGER DEFAULT 0`},
		{"date", `ALTER TABLE delays ADD COLUMN date TEXT DEFAULT ''`},
		{"direction", `ALTER TABLE delays ADD COLUMN direction TEXT DEFAULT ''`},
	}

	for _, step := range steps {
		var count int
		err := db.QueryRow(
			`SELECT COUNT(*) FROM pragma_table_info('delays') WHERE name=?`, step.column,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("probe column %s: %w", step.column, err)
		}
		if count > 0 {
			continue
		}

		if _, err := db.Exec(step.ddl); err != nil {
			// Tolerate races between concurrent openers.
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("add column %s: %w", step.column, err)
			}
		}

		// Rows created before date tracking have no recoverable date;
		// best effort is the current date.
		if step.column == "date" {
			today := clk.Now().Format("2006-01-02")
			if _, err := db.Exec(`UPDATE delays SET date = ? WHERE date = ''`, today); err != nil {
				return fmt.Errorf("backfill date: %w", err)
			}
		}
	}

	// Natural-key index. Not a uniqueness constraint: legacy rows from
	// before the direction column may share a 4-field key.
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_delays_natural_key
		ON delays(line, station, scheduled_time, date, direction)
	`)
	if err != nil {
		return fmt.Errorf("create natural key index: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Upsert implements the insert-or-update protocol. Matching uses the
// 5-field natural key, degrading to the 4-field key when the incoming
// direction is empty. The whole check-then-write sequence runs under
// the store mutex so concurrent callers cannot create duplicate rows.
func (d *SQLiteDB) Upsert(ctx context.Context, ev transit.DelayEvent) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	line := strings.ToUpper(ev.Line)

	var row *sql.Row
	if ev.Direction != "" {
		row = d.db.QueryRowContext(ctx, `
			SELECT id, delay_minutes, cancelled, direction FROM delays
			WHERE line=? AND station=? AND scheduled_time=? AND date=? AND direction=?
		`, line, ev.Station, ev.ScheduledTime, ev.Date, ev.Direction)
	} else {
		row = d.db.QueryRowContext(ctx, `
			SELECT id, delay_minutes, cancelled, direction FROM delays
			WHERE line=? AND station=? AND scheduled_time=? AND date=?
		`, line, ev.Station, ev.ScheduledTime, ev.Date)
	}

	var (
		id           int64
		delayMinutes int
		cancelled    int
		direction    string
	)
	err := row.Scan(&id, &delayMinutes, &cancelled, &direction)
	switch {
	case err == sql.ErrNoRows:
		result, err := d.db.ExecContext(ctx, `
			INSERT INTO delays (line, station, scheduled_time, delay_minutes, cancelled,
			                    source, weekday, date, hour, minute, direction)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, line, ev.Station, ev.ScheduledTime, ev.DelayMinutes, boolToInt(ev.Cancelled),
			ev.Source, ev.Weekday, ev.Date, ev.Hour, ev.Minute, ev.Direction)
		if err != nil {
			return 0, fmt.Errorf("insert delay: %w (%w)", err, ErrUnavailable)
		}
		return result.LastInsertId()

	case err != nil:
		return 0, fmt.Errorf("lookup delay: %w (%w)", err, ErrUnavailable)
	}

	// A later observation may fill in or correct a previously-unknown
	// direction; an empty incoming direction never triggers an update
	// by itself.
	needsUpdate := delayMinutes != ev.DelayMinutes ||
		cancelled != boolToInt(ev.Cancelled) ||
		(ev.Direction != "" && direction != ev.Direction)
	if !needsUpdate {
		return id, nil
	}

	_, err = d.db.ExecContext(ctx, `
		UPDATE delays
		SET delay_minutes=?, cancelled=?, source=?, direction=?, created_at=CURRENT_TIMESTAMP
		WHERE id=?
	`, ev.DelayMinutes, boolToInt(ev.Cancelled), ev.Source, ev.Direction, id)
	if err != nil {
		return 0, fmt.Errorf("update delay: %w (%w)", err, ErrUnavailable)
	}
	return id, nil
}

const recordColumns = `id, line, station, scheduled_time, date, weekday, hour, minute,
	delay_minutes, cancelled, direction, source, created_at`

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		r         Record
		cancelled int
		createdAt sql.NullString
		direction sql.NullString
		date      sql.NullString
	)
	err := rows.Scan(&r.ID, &r.Line, &r.Station, &r.ScheduledTime, &date, &r.Weekday,
		&r.Hour, &r.Minute, &r.DelayMinutes, &cancelled, &direction, &r.Source, &createdAt)
	if err != nil {
		return Record{}, err
	}
	r.Cancelled = cancelled == 1
	if direction.Valid {
		r.Direction = direction.String
	}
	if date.Valid {
		r.Date = date.String
	}
	if createdAt.Valid {
		r.CreatedAt = parseTimestamp(createdAt.String)
	}
	return r, nil
}

// AllDelays returns every record ordered by most recent modification.
func (d *SQLiteDB) AllDelays(ctx context.Context) ([]Record, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM delays ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query delays: %w (%w)", err, ErrUnavailable)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// TrainingData returns the flattened export consumed by the training
// pipeline.
func (d *SQLiteDB) TrainingData(ctx context.Context) ([]TrainingSample, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT line, station, weekday, hour, minute, delay_minutes FROM delays
	`)
	if err != nil {
		return nil, fmt.Errorf("query training data: %w (%w)", err, ErrUnavailable)
	}
	defer func() { _ = rows.Close() }()

	var samples []TrainingSample
	for rows.Next() {
		var s TrainingSample
		if err := rows.Scan(&s.Line, &s.Station, &s.Weekday, &s.Hour, &s.Minute, &s.DelayMinutes); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// WeekdayAverages returns the mean delay and count per weekday among
// non-cancelled rows, Monday first. Empty weekdays report 0/0.
func (d *SQLiteDB) WeekdayAverages(ctx context.Context) ([7]WeekdayAverage, error) {
	var averages [7]WeekdayAverage

	rows, err := d.db.QueryContext(ctx, `
		SELECT weekday, AVG(delay_minutes) AS avg_delay, COUNT(*) AS count
		FROM delays
		WHERE cancelled = 0
		GROUP BY weekday
		ORDER BY weekday
	`)
	if err != nil {
		return averages, fmt.Errorf("query weekday averages: %w (%w)", err, ErrUnavailable)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			weekday int
			avg     float64
			count   int
		)
		if err := rows.Scan(&weekday, &avg, &count); err != nil {
			return averages, fmt.Errorf("scan row: %w", err)
		}
		if weekday < 0 || weekday > 6 {
			continue
		}
		averages[weekday] = WeekdayAverage{AvgDelay: round2(avg), Count: count}
	}
	return averages, rows.Err()
}

// DailySummary aggregates one date. Returns (nil, nil) when the date
// has no rows.
func (d *SQLiteDB) DailySummary(ctx context.Context, date string) (*DailySummary, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) AS total,
			SUM(CASE WHEN delay_minutes < 5 AND cancelled = 0 THEN 1 ELSE 0 END) AS on_time,
			SUM(CASE WHEN delay_minutes >= 5 AND cancelled = 0 THEN 1 ELSE 0 END) AS late,
			SUM(cancelled) AS cancelled,
			AVG(CASE WHEN cancelled = 0 THEN delay_minutes ELSE NULL END) AS avg_delay
		FROM delays
		WHERE date = ?
	`, date)

	var (
		total     int
		onTime    sql.NullInt64
		late      sql.NullInt64
		cancelled sql.NullInt64
		avgDelay  sql.NullFloat64
	)
	if err := row.Scan(&total, &onTime, &late, &cancelled, &avgDelay); err != nil {
		return nil, fmt.Errorf("query daily summary: %w (%w)", err, ErrUnavailable)
	}
	if total == 0 {
		return nil, nil
	}

	return &DailySummary{
		Date:      date,
		Total:     total,
		OnTime:    int(onTime.Int64),
		Late:      int(late.Int64),
		Cancelled: int(cancelled.Int64),
		AvgDelay:  round2(avgDelay.Float64),
	}, nil
}

// WeeklySummary returns per-date rollups for at most 7 dates from
// start forward, ascending.
func (d *SQLiteDB) WeeklySummary(ctx context.Context, start string) ([]DaySummary, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT
			date,
			COUNT(*) AS total,
			AVG(CASE WHEN cancelled = 0 THEN delay_minutes ELSE NULL END) AS avg_delay,
			SUM(cancelled) AS cancelled
		FROM delays
		WHERE date >= ?
		GROUP BY date
		ORDER BY date
		LIMIT 7
	`, start)
	if err != nil {
		return nil, fmt.Errorf("query weekly summary: %w (%w)", err, ErrUnavailable)
	}
	defer func() { _ = rows.Close() }()

	var summaries []DaySummary
	for rows.Next() {
		var (
			s         DaySummary
			avgDelay  sql.NullFloat64
			cancelled sql.NullInt64
		)
		if err := rows.Scan(&s.Date, &s.Total, &avgDelay, &cancelled); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		s.AvgDelay = round2(avgDelay.Float64)
		s.Cancelled = int(cancelled.Int64)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Count returns the total number of records.
func (d *SQLiteDB) Count(ctx context.Context) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delays`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count delays: %w (%w)", err, ErrUnavailable)
	}
	return count, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// parseTimestamp accepts both SQLite's CURRENT_TIMESTAMP format and
// RFC 3339; a zero time is returned for anything else.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
