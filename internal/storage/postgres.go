package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sbahn_tracker/internal/transit"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// PostgresDB is the server-grade store backend for deployments where
// the single-file database is not enough.
type PostgresDB struct {
	pool *pgxpool.Pool
	mu   sync.Mutex // serializes the upsert check-then-write critical section
}

// OpenPostgres opens a connection pool and applies schema and
// migrations. A migration failure is fatal.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresDB, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	d := &PostgresDB{pool: pool}
	if err := d.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return d, nil
}

// Close closes the connection pool.
func (d *PostgresDB) Close() error {
	d.pool.Close()
	return nil
}

func (d *PostgresDB) createSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS delays (
		id              BIGSERIAL PRIMARY KEY,
		line            TEXT NOT NULL,
		station         TEXT NOT NULL,
		scheduled_time  TEXT NOT NULL,
		delay_minutes   INTEGER NOT NULL,
		source          TEXT DEFAULT 'manual',
		weekday         INTEGER NOT NULL,
		hour            INTEGER NOT NULL,
		minute          INTEGER NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`
	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return err
	}

	// Same ordered migration steps as the SQLite backend; Postgres has
	// the existence check built into the DDL.
	migrations := []string{
		`ALTER TABLE delays ADD COLUMN IF NOT EXISTS cancelled INTEGER DEFAULT 0`,
		`ALTER TABLE delays ADD COLUMN IF NOT EXISTS date TEXT DEFAULT ''`,
		`ALTER TABLE delays ADD COLUMN IF NOT EXISTS direction TEXT DEFAULT ''`,
	}
	for _, m := range migrations {
		if _, err := d.pool.Exec(ctx, m); err != nil {
			return err
		}
	}

	// Rows from before date tracking get today's date as a best effort.
	if _, err := d.pool.Exec(ctx,
		`UPDATE delays SET date = TO_CHAR(NOW(), 'YYYY-MM-DD') WHERE date = ''`); err != nil {
		return err
	}

	_, err := d.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_delays_natural_key
		ON delays(line, station, scheduled_time, date, direction)
	`)
	return err
}

// Upsert implements the same insert-or-update protocol as the SQLite
// backend.
func (d *PostgresDB) Upsert(ctx context.Context, ev transit.DelayEvent) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	line := strings.ToUpper(ev.Line)

	var row pgx.Row
	if ev.Direction != "" {
		row = d.pool.QueryRow(ctx, `
			SELECT id, delay_minutes, cancelled, direction FROM delays
			WHERE line=$1 AND station=$2 AND scheduled_time=$3 AND date=$4 AND direction=$5
		`, line, ev.Station, ev.ScheduledTime, ev.Date, ev.Direction)
	} else {
		row = d.pool.QueryRow(ctx, `
			SELECT id, delay_minutes, cancelled, direction FROM delays
			WHERE line=$1 AND station=$2 AND scheduled_time=$3 AND date=$4
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
	case errors.Is(err, pgx.ErrNoRows):
		err := d.pool.QueryRow(ctx, `
			INSERT INTO delays (line, station, scheduled_time, delay_minutes, cancelled,
			                    source, weekday, date, hour, minute, direction)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`, line, ev.Station, ev.ScheduledTime, ev.DelayMinutes, boolToInt(ev.Cancelled),
			ev.Source, ev.Weekday, ev.Date, ev.Hour, ev.Minute, ev.Direction).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert delay: %w (%w)", err, ErrUnavailable)
		}
		return id, nil

	case err != nil:
		return 0, fmt.Errorf("lookup delay: %w (%w)", err, ErrUnavailable)
	}

	needsUpdate := delayMinutes != ev.DelayMinutes ||
		cancelled != boolToInt(ev.Cancelled) ||
		(ev.Direction != "" && direction != ev.Direction)
	if !needsUpdate {
		return id, nil
	}

	_, err = d.pool.Exec(ctx, `
		UPDATE delays
		SET delay_minutes=$1, cancelled=$2, source=$3, direction=$4, created_at=NOW()
		WHERE id=$5
	`, ev.DelayMinutes, boolToInt(ev.Cancelled), ev.Source, ev.Direction, id)
	if err != nil {
		return 0, fmt.Errorf("update delay: %w (%w)", err, ErrUnavailable)
	}
	return id, nil
}

// AllDelays returns every record ordered by most recent modification.
func (d *PostgresDB) AllDelays(ctx context.Context) ([]Record, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, line, station, scheduled_time, date, weekday, hour, minute,
		       delay_minutes, cancelled, direction, source, created_at
		FROM delays ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query delays: %w (%w)", err, ErrUnavailable)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r         Record
			cancelled int
		)
		err := rows.Scan(&r.ID, &r.Line, &r.Station, &r.ScheduledTime, &r.Date, &r.Weekday,
			&r.Hour, &r.Minute, &r.DelayMinutes, &cancelled, &r.Direction, &r.Source, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Cancelled = cancelled == 1
		records = append(records, r)
	}
	return records, rows.Err()
}

// TrainingData returns the flattened export consumed by the training
// pipeline.
func (d *PostgresDB) TrainingData(ctx context.Context) ([]TrainingSample, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT line, station, weekday, hour, minute, delay_minutes FROM delays`)
	if err != nil {
		return nil, fmt.Errorf("query training data: %w (%w)", err, ErrUnavailable)
	}
	defer rows.Close()

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

// WeekdayAverages returns the mean delay per weekday among
// non-cancelled rows, Monday first.
func (d *PostgresDB) WeekdayAverages(ctx context.Context) ([7]WeekdayAverage, error) {
	var averages [7]WeekdayAverage

	rows, err := d.pool.Query(ctx, `
		SELECT weekday, AVG(delay_minutes)::float8 AS avg_delay, COUNT(*) AS count
		FROM delays
		WHERE cancelled = 0
		GROUP BY weekday
		ORDER BY weekday
	`)
	if err != nil {
		return averages, fmt.Errorf("query weekday averages: %w (%w)", err, ErrUnavailable)
	}
	defer rows.Close()

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

// DailySummary aggregates one date; (nil, nil) when the date has no rows.
func (d *PostgresDB) DailySummary(ctx context.Context, date string) (*DailySummary, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			SUM(CASE WHEN delay_minutes < 5 AND cancelled = 0 THEN 1 ELSE 0 END) AS on_time,
			SUM(CASE WHEN delay_minutes >= 5 AND cancelled = 0 THEN 1 ELSE 0 END) AS late,
			SUM(cancelled) AS cancelled,
			AVG(CASE WHEN cancelled = 0 THEN delay_minutes ELSE NULL END)::float8 AS avg_delay
		FROM delays
		WHERE date = $1
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
func (d *PostgresDB) WeeklySummary(ctx context.Context, start string) ([]DaySummary, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT
			date,
			COUNT(*) AS total,
			AVG(CASE WHEN cancelled = 0 THEN delay_minutes ELSE NULL END)::float8 AS avg_delay,
			SUM(cancelled) AS cancelled
		FROM delays
		WHERE date >= $1
		GROUP BY date
		ORDER BY date
		LIMIT 7
	`, start)
	if err != nil {
		return nil, fmt.Errorf("query weekly summary: %w (%w)", err, ErrUnavailable)
	}
	defer rows.Close()

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
func (d *PostgresDB) Count(ctx context.Context) (int, error) {
	var count int
	if err := d.pool.QueryRow(ctx, `SELECT COUNT(*) FROM delays`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count delays: %w (%w)", err, ErrUnavailable)
	}
	return count, nil
}
