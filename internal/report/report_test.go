package report

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sbahn_tracker/internal/storage"
	"sbahn_tracker/internal/transit"
)

func testGenerator(t *testing.T) (*Generator, storage.Store) {
	t.Helper()

	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "delays.db"), clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewGenerator(store), store
}

func seed(t *testing.T, store storage.Store) {
	t.Helper()
	ctx := context.Background()

	base := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)
	for i, delay := range []int{2, 8, 0} {
		ev := transit.NewEvent("S4", "Buchenau", base.Add(time.Duration(i)*time.Hour), delay, i == 2, "", transit.SourceManual)
		_, err := store.Upsert(ctx, ev)
		require.NoError(t, err)
	}
}

func TestDaily(t *testing.T) {
	g, store := testGenerator(t)
	seed(t, store)

	out, err := g.Daily(context.Background(), "2026-03-04")
	require.NoError(t, err)

	assert.Contains(t, out, "DAILY REPORT: 2026-03-04")
	assert.Contains(t, out, "Total departures: 3")
	assert.Contains(t, out, "On time (<5min): 1 (33.3%)")
	assert.Contains(t, out, "Late (>=5min): 1 (33.3%)")
	assert.Contains(t, out, "Cancelled: 1 (33.3%)")
	assert.Contains(t, out, "Average delay: 5.00 minutes")
}

func TestDaily_NoData(t *testing.T) {
	g, _ := testGenerator(t)

	out, err := g.Daily(context.Background(), "2099-01-01")
	require.NoError(t, err)
	assert.Equal(t, "No data found for 2099-01-01.", out)
}

func TestWeekly(t *testing.T) {
	g, store := testGenerator(t)
	seed(t, store)

	out, err := g.Weekly(context.Background(), "2026-03-01")
	require.NoError(t, err)

	assert.Contains(t, out, "WEEKLY REPORT from 2026-03-01")
	assert.Contains(t, out, "2026-03-04: 3 departures, avg 5.0 min delay, 1 cancelled")
	assert.Contains(t, out, "Week total: 3 departures")
	assert.Contains(t, out, "Total cancelled: 1")
}

func TestWeekly_NoData(t *testing.T) {
	g, _ := testGenerator(t)

	out, err := g.Weekly(context.Background(), "2099-01-01")
	require.NoError(t, err)
	assert.Equal(t, "No data found from 2099-01-01 on.", out)
}

func TestLineTable(t *testing.T) {
	out := LineTable([]storage.LineAverage{
		{Line: "S4", AvgDelay: 3.25, Observed: 120, Cancelled: 4},
		{Line: "S20", AvgDelay: 1.5, Observed: 30, Cancelled: 0},
	})

	assert.Contains(t, out, "LINE AVERAGES")
	assert.Contains(t, out, "S4: 3.25 min avg, 120 observed, 4 cancelled")
	assert.Contains(t, out, "S20: 1.50 min avg, 30 observed, 0 cancelled")

	assert.Equal(t, "No mirror data yet.", LineTable(nil))
}

func TestWeekdayTable(t *testing.T) {
	g, store := testGenerator(t)
	seed(t, store)

	out, err := g.WeekdayTable(context.Background())
	require.NoError(t, err)

	// Wednesday has the two non-cancelled rows; every other weekday
	// still appears with zeros.
	assert.Contains(t, out, "Wednesday: 5.00 min (2 samples)")
	assert.Contains(t, out, "Monday: 0.00 min (0 samples)")
	assert.Equal(t, 9, len(strings.Split(out, "\n")))
}
