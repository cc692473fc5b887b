package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sbahn_tracker/internal/transit"
)

func testClock(t *testing.T) *clockwork.FakeClock {
	t.Helper()
	return clockwork.NewFakeClockAt(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
}

func openTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "delays.db"), testClock(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testEvent() transit.DelayEvent {
	return transit.DelayEvent{
		Line:          "S4",
		Station:       "Buchenau",
		ScheduledTime: "09:30",
		Date:          "2026-03-04",
		Weekday:       2,
		Hour:          9,
		Minute:        30,
		DelayMinutes:  5,
		Direction:     transit.DirectionInbound,
		Source:        transit.SourceManual,
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id1, err := db.Upsert(ctx, testEvent())
	require.NoError(t, err)

	id2, err := db.Upsert(ctx, testEvent())
	require.NoError(t, err)

	assert.Equal(t, id1, id2)

	count, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpsert_UpdateKeepsID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ev := testEvent()
	id1, err := db.Upsert(ctx, ev)
	require.NoError(t, err)

	ev.DelayMinutes = 12
	ev.Cancelled = true
	id2, err := db.Upsert(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	records, err := db.AllDelays(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 12, records[0].DelayMinutes)
	assert.True(t, records[0].Cancelled)
}

func TestUpsert_DirectionBackfill(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ev := testEvent()
	ev.Direction = ""
	id1, err := db.Upsert(ctx, ev)
	require.NoError(t, err)

	// Same key, now with a direction: must update the row, not add one.
	ev.Direction = transit.DirectionOutbound
	id2, err := db.Upsert(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	records, err := db.AllDelays(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, transit.DirectionOutbound, records[0].Direction)
}

func TestUpsert_NoOpLeavesTimestamp(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Upsert(ctx, testEvent())
	require.NoError(t, err)

	var before string
	require.NoError(t, db.db.QueryRow(`SELECT created_at FROM delays`).Scan(&before))

	// Identical mutable fields: no write happens at all.
	_, err = db.Upsert(ctx, testEvent())
	require.NoError(t, err)

	var after string
	require.NoError(t, db.db.QueryRow(`SELECT created_at FROM delays`).Scan(&after))
	assert.Equal(t, before, after)
}

func TestUpsert_DistinctDirectionsAreDistinctRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ev := testEvent()
	ev.Direction = transit.DirectionInbound
	_, err := db.Upsert(ctx, ev)
	require.NoError(t, err)

	ev.Direction = transit.DirectionOutbound
	_, err = db.Upsert(ctx, ev)
	require.NoError(t, err)

	count, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRecordEventRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Upsert(ctx, testEvent())
	require.NoError(t, err)

	records, err := db.AllDelays(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	// A stored record converts back to the event that produced it.
	assert.Equal(t, testEvent(), records[0].Event())
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Close())

	_, err := db.Upsert(context.Background(), testEvent())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = db.Count(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = db.AllDelays(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestWeekdayAverages(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ev := testEvent() // Wednesday, weekday 2
	ev.DelayMinutes = 4
	_, err := db.Upsert(ctx, ev)
	require.NoError(t, err)

	ev.ScheduledTime = "10:30"
	ev.DelayMinutes = 8
	_, err = db.Upsert(ctx, ev)
	require.NoError(t, err)

	// Cancelled rows are excluded from the averages.
	ev.ScheduledTime = "11:30"
	ev.Cancelled = true
	_, err = db.Upsert(ctx, ev)
	require.NoError(t, err)

	averages, err := db.WeekdayAverages(ctx)
	require.NoError(t, err)

	assert.Equal(t, WeekdayAverage{AvgDelay: 6, Count: 2}, averages[2])

	// Weekdays with no rows report 0/0, not absence.
	for _, day := range []int{0, 1, 3, 4, 5, 6} {
		assert.Equal(t, WeekdayAverage{}, averages[day], "weekday %d", day)
	}
}

func TestDailySummary(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ev := testEvent()
	ev.DelayMinutes = 2 // on time
	_, err := db.Upsert(ctx, ev)
	require.NoError(t, err)

	ev.ScheduledTime = "10:30"
	ev.DelayMinutes = 8 // late
	_, err = db.Upsert(ctx, ev)
	require.NoError(t, err)

	ev.ScheduledTime = "11:30"
	ev.DelayMinutes = 0
	ev.Cancelled = true
	_, err = db.Upsert(ctx, ev)
	require.NoError(t, err)

	summary, err := db.DailySummary(ctx, "2026-03-04")
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.OnTime)
	assert.Equal(t, 1, summary.Late)
	assert.Equal(t, 1, summary.Cancelled)
	assert.Equal(t, 5.0, summary.AvgDelay)
}

func TestDailySummary_NoData(t *testing.T) {
	db := openTestDB(t)

	summary, err := db.DailySummary(context.Background(), "2099-01-01")
	require.NoError(t, err)
	assert.Nil(t, summary)
}

func TestWeeklySummary(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// Nine consecutive dates; the summary must cap at seven.
	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 9; i++ {
		at := base.AddDate(0, 0, i)
		ev := transit.NewEvent("S4", "Buchenau", at, i, false, "", transit.SourceAPI)
		_, err := db.Upsert(ctx, ev)
		require.NoError(t, err)
	}

	summaries, err := db.WeeklySummary(ctx, "2026-03-02")
	require.NoError(t, err)
	require.Len(t, summaries, 7)

	assert.Equal(t, "2026-03-02", summaries[0].Date)
	assert.Equal(t, "2026-03-08", summaries[6].Date)
	assert.Equal(t, 1, summaries[0].Total)
	assert.Equal(t, 3.0, summaries[3].AvgDelay)
}

func TestTrainingData(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Upsert(ctx, testEvent())
	require.NoError(t, err)

	samples, err := db.TrainingData(ctx)
	require.NoError(t, err)
	require.Len(t, samples, 1)

	assert.Equal(t, TrainingSample{
		Line:         "S4",
		Station:      "Buchenau",
		Weekday:      2,
		Hour:         9,
		Minute:       30,
		DelayMinutes: 5,
	}, samples[0])
}

func TestMigration_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delays.db")
	clk := testClock(t)

	db1, err := OpenSQLite(path, clk)
	require.NoError(t, err)
	_, err = db1.Upsert(context.Background(), testEvent())
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	// Reopening runs the same migration steps; none may act twice.
	db2, err := OpenSQLite(path, clk)
	require.NoError(t, err)
	defer func() { _ = db2.Close() }()

	records, err := db2.AllDelays(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "2026-03-04", records[0].Date)
	assert.Equal(t, 5, records[0].DelayMinutes)
}

func TestMigration_LegacyRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delays.db")

	// Build a pre-migration database by hand: no cancelled, date or
	// direction columns.
	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec(`
		CREATE TABLE delays (
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
		)
	`)
	require.NoError(t, err)
	_, err = raw.Exec(`
		INSERT INTO delays (line, station, scheduled_time, delay_minutes, source, weekday, hour, minute)
		VALUES ('S4', 'Buchenau', '08:15', 3, 'manual', 0, 8, 15)
	`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	db, err := OpenSQLite(path, testClock(t))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	records, err := db.AllDelays(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	// Added columns got their defaults; the unrecoverable date was
	// backfilled with the (injected) current date.
	assert.False(t, records[0].Cancelled)
	assert.Equal(t, "", records[0].Direction)
	assert.Equal(t, "2026-03-04", records[0].Date)
}
