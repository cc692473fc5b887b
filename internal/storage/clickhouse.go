package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// ClickHouseDB is an append-only analytics mirror. The collector writes
// every upserted row here so long-horizon aggregates do not load the
// primary store. It is not a Store: it has no upsert semantics and no
// natural-key identity.
type ClickHouseDB struct {
	conn driver.Conn
}

// OpenClickHouse opens a connection and creates the mirror schema.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	d := &ClickHouseDB{conn: conn}
	if err := d.createSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the ClickHouse connection.
func (d *ClickHouseDB) Close() error {
	return d.conn.Close()
}

func (d *ClickHouseDB) createSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS delay_observations (
		record_id       UInt64,
		line            LowCardinality(String),
		station         LowCardinality(String),
		scheduled_time  String,
		date            Date,
		weekday         UInt8,
		hour            UInt8,
		minute          UInt8,
		delay_minutes   Int32,
		cancelled       UInt8,
		direction       LowCardinality(String),
		source          LowCardinality(String),
		observed_at     DateTime64(3) DEFAULT now64(3)
	)
	ENGINE = MergeTree()
	PARTITION BY toYYYYMM(date)
	ORDER BY (line, station, date, record_id)
	SETTINGS index_granularity = 8192`

	if err := d.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// InsertRecords appends a batch of observations to the mirror.
func (d *ClickHouseDB) InsertRecords(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := d.conn.PrepareBatch(ctx, `
		INSERT INTO delay_observations
		(record_id, line, station, scheduled_time, date, weekday, hour, minute,
		 delay_minutes, cancelled, direction, source)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		date, err := time.Parse("2006-01-02", r.Date)
		if err != nil {
			date = time.Unix(0, 0).UTC()
		}
		err = batch.Append(
			uint64(r.ID),
			r.Line,
			r.Station,
			r.ScheduledTime,
			date,
			uint8(r.Weekday),
			uint8(r.Hour),
			uint8(r.Minute),
			int32(r.DelayMinutes),
			uint8(boolToInt(r.Cancelled)),
			r.Direction,
			r.Source,
		)
		if err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// LineAverage is the long-horizon mean delay for one line.
type LineAverage struct {
	Line      string
	AvgDelay  float64
	Observed  uint64
	Cancelled uint64
}

// LineAverages computes per-line averages over the whole mirror,
// excluding cancelled departures from the delay mean.
func (d *ClickHouseDB) LineAverages(ctx context.Context) ([]LineAverage, error) {
	rows, err := d.conn.Query(ctx, `
		SELECT
			line,
			avgIf(delay_minutes, cancelled = 0) AS avg_delay,
			count() AS observed,
			countIf(cancelled = 1) AS cancelled
		FROM delay_observations
		GROUP BY line
		ORDER BY line
	`)
	if err != nil {
		return nil, fmt.Errorf("query line averages: %w", err)
	}
	defer rows.Close()

	var averages []LineAverage
	for rows.Next() {
		var a LineAverage
		if err := rows.Scan(&a.Line, &a.AvgDelay, &a.Observed, &a.Cancelled); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		averages = append(averages, a)
	}
	return averages, rows.Err()
}
