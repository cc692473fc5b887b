package collector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"sbahn_tracker/internal/normalize"
	"sbahn_tracker/internal/observability"
	"sbahn_tracker/internal/storage"
	"sbahn_tracker/internal/transit"
)

// Collector fetches departures for the configured stations, normalizes
// them and upserts them into the store.
type Collector struct {
	client   *Client
	store    storage.Store
	mirror   *storage.ClickHouseDB // optional analytics mirror
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	stations []string
}

// New creates a collector over all known stations.
func New(client *Client, store storage.Store, clk clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Collector {
	return &Collector{
		client:   client,
		store:    store,
		clock:    clk,
		logger:   logger,
		metrics:  metrics,
		stations: transit.Stations,
	}
}

// WithStations restricts the collector to the given stations.
func (c *Collector) WithStations(stations []string) *Collector {
	c.stations = stations
	return c
}

// WithMirror enables mirroring of upserted rows into ClickHouse.
func (c *Collector) WithMirror(mirror *storage.ClickHouseDB) *Collector {
	c.mirror = mirror
	return c
}

// FetchStation fetches and normalizes the current departures for one
// station. Departures for untracked lines are dropped.
func (c *Collector) FetchStation(ctx context.Context, station string) ([]transit.DelayEvent, error) {
	globalID, err := c.client.StationID(ctx, station)
	if err != nil {
		return nil, err
	}

	departures, err := c.client.Departures(ctx, globalID)
	if err != nil {
		return nil, err
	}
	c.metrics.DeparturesFetched.Add(float64(len(departures)))

	now := c.clock.Now()
	events := make([]transit.DelayEvent, 0, len(departures))
	for _, dep := range departures {
		ev, ok := normalize.DepartureEvent(dep, station, now)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Run fetches all configured stations once and stores the results.
// A failure at one station is logged and skipped; a store failure
// aborts, leaving already-upserted rows intact. Returns the number of
// events stored.
func (c *Collector) Run(ctx context.Context) (int, error) {
	var mirrored []storage.Record
	stored := 0

	for _, station := range c.stations {
		events, err := c.FetchStation(ctx, station)
		if err != nil {
			c.logger.Warn("station fetch failed, skipping",
				slog.String("station", station), slog.Any("error", err))
			c.metrics.FetchErrors.WithLabelValues(station).Inc()
			continue
		}

		for _, ev := range events {
			id, err := c.store.Upsert(ctx, ev)
			if err != nil {
				return stored, fmt.Errorf("store departure: %w", err)
			}
			stored++
			c.metrics.DeparturesStored.Inc()

			if c.mirror != nil {
				mirrored = append(mirrored, eventRecord(id, ev))
			}
		}
	}

	if c.mirror != nil && len(mirrored) > 0 {
		if err := c.mirror.InsertRecords(ctx, mirrored); err != nil {
			// The mirror is best-effort; the primary store already
			// holds the rows.
			c.logger.Warn("mirror insert failed", slog.Any("error", err))
		}
	}

	return stored, nil
}

func eventRecord(id int64, ev transit.DelayEvent) storage.Record {
	return storage.Record{
		ID:            id,
		Line:          ev.Line,
		Station:       ev.Station,
		ScheduledTime: ev.ScheduledTime,
		Date:          ev.Date,
		Weekday:       ev.Weekday,
		Hour:          ev.Hour,
		Minute:        ev.Minute,
		DelayMinutes:  ev.DelayMinutes,
		Cancelled:     ev.Cancelled,
		Direction:     ev.Direction,
		Source:        ev.Source,
	}
}
