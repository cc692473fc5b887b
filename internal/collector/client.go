// Package collector polls the MVG departures feed and stores the
// normalized events. Fetch failures are isolated per station: one
// unreachable station never aborts the rest of the batch.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sbahn_tracker/internal/normalize"
)

// DefaultBaseURL is the public MVG endpoint.
const DefaultBaseURL = "https://www.mvg.de"

// Client is a thin HTTP wrapper around the MVG location and departure
// endpoints.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient creates a feed client for the given base URL. An empty
// base URL selects the public endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type location struct {
	GlobalID string `json:"globalId"`
	Name     string `json:"name"`
	Type     string `json:"type"`
}

// apiDeparture is the wire shape of one departure in the feed.
type apiDeparture struct {
	Label                string `json:"label"`
	Destination          string `json:"destination"`
	TransportType        string `json:"transportType"`
	DelayInMinutes       *int   `json:"delayInMinutes"`
	Cancelled            bool   `json:"cancelled"`
	PlannedDepartureTime int64  `json:"plannedDepartureTime"` // unix milliseconds, 0 when absent
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

// StationID resolves a station name to its global id.
func (c *Client) StationID(ctx context.Context, name string) (string, error) {
	u := fmt.Sprintf("%s/api/bgw-pt/v3/locations?query=%s", c.baseURL, url.QueryEscape(name))

	var locations []location
	if err := c.getJSON(ctx, u, &locations); err != nil {
		return "", err
	}

	for _, loc := range locations {
		if loc.Type == "STATION" {
			return loc.GlobalID, nil
		}
	}
	return "", fmt.Errorf("station not found: %s", name)
}

// Departures fetches the current departures for a station and keeps
// only the S-Bahn ones, converted to the normalizer's payload shape.
// Line filtering against the tracked enumeration happens later in the
// normalizer.
func (c *Client) Departures(ctx context.Context, globalID string) ([]normalize.Departure, error) {
	u := fmt.Sprintf("%s/api/bgw-pt/v3/departures?globalId=%s&limit=40", c.baseURL, url.QueryEscape(globalID))

	var raw []apiDeparture
	if err := c.getJSON(ctx, u, &raw); err != nil {
		return nil, err
	}

	departures := make([]normalize.Departure, 0, len(raw))
	for _, dep := range raw {
		if dep.TransportType != "SBAHN" && !strings.HasPrefix(dep.Label, "S") {
			continue
		}

		d := normalize.Departure{
			Line:         dep.Label,
			Destination:  dep.Destination,
			DelayMinutes: dep.DelayInMinutes,
			Cancelled:    dep.Cancelled,
		}
		if dep.PlannedDepartureTime != 0 {
			planned := time.UnixMilli(dep.PlannedDepartureTime)
			d.Planned = &planned
		}
		departures = append(departures, d)
	}
	return departures, nil
}
