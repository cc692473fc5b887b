// Package ingest receives departure payloads from remote collectors
// over NATS and feeds them through the normalizer into the store.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"

	"sbahn_tracker/internal/normalize"
	"sbahn_tracker/internal/observability"
	"sbahn_tracker/internal/storage"
	"sbahn_tracker/internal/transit"
)

// DefaultSubject is the subject remote collectors publish to.
const DefaultSubject = "sbahn.departures"

// Payload is the wire format of one observed departure.
type Payload struct {
	Station   string              `json:"station"`
	Departure normalize.Departure `json:"departure"`
}

// Consumer subscribes to a departure subject and upserts every
// normalized event.
type Consumer struct {
	conn    *nats.Conn
	subject string
	store   storage.Store
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewConsumer connects to the NATS server. An empty subject selects
// DefaultSubject.
func NewConsumer(url, subject string, store storage.Store, clk clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) (*Consumer, error) {
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(url, nats.Name("sbahn_tracker ingest"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &Consumer{
		conn:    conn,
		subject: subject,
		store:   store,
		clock:   clk,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Run subscribes and processes payloads until the context is
// cancelled. A bad payload is logged and dropped; a store failure is
// logged and the payload dropped, since NATS core gives no replay.
func (c *Consumer) Run(ctx context.Context) error {
	sub, err := c.conn.Subscribe(c.subject, func(msg *nats.Msg) {
		c.metrics.IngestMessages.Inc()
		if err := c.handle(ctx, msg.Data); err != nil {
			c.metrics.IngestErrors.Inc()
			c.logger.Warn("ingest payload dropped", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	c.logger.Info("ingest running", slog.String("subject", c.subject))
	<-ctx.Done()
	return ctx.Err()
}

func (c *Consumer) handle(ctx context.Context, data []byte) error {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if !transit.KnownStation(p.Station) {
		return fmt.Errorf("unknown station: %q", p.Station)
	}

	ev, ok := normalize.DepartureEvent(p.Departure, p.Station, c.clock.Now())
	if !ok {
		// Untracked line; normal filtering, not an error.
		return nil
	}

	if _, err := c.store.Upsert(ctx, ev); err != nil {
		return fmt.Errorf("store departure: %w", err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (c *Consumer) Close() {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
