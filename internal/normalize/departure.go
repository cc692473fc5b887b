package normalize

import (
	"strings"
	"time"

	"sbahn_tracker/internal/schedule"
	"sbahn_tracker/internal/transit"
)

// Departure is one raw record from the polling feed, already decoded
// from the wire format by the collector.
type Departure struct {
	Line         string     `json:"line"`
	Destination  string     `json:"destination"`
	DelayMinutes *int       `json:"delay_minutes"` // nil when the feed omits it
	Cancelled    bool       `json:"cancelled"`
	Planned      *time.Time `json:"planned"` // nil when the feed omits it
}

// destinationKeywords maps each direction to destination-text fragments
// that identify it. Matching is upper-cased substring containment.
var destinationKeywords = map[string][]string{
	transit.DirectionOutbound: {"GELTENDORF", "TÜRKENFELD", "GRAFRATH", "BUCHENAU"},
	transit.DirectionInbound:  {"MÜNCHEN", "OSTBAHNHOF", "LEUCHTENBERGRING", "TRUDERING", "PASING"},
}

// directionFromDestination matches the destination text against the
// keyword groups. Outbound is checked first; the groups share no
// keywords, so check order does not change the result.
func directionFromDestination(destination string) string {
	text := strings.ToUpper(destination)
	for _, dir := range []string{transit.DirectionOutbound, transit.DirectionInbound} {
		for _, kw := range destinationKeywords[dir] {
			if strings.Contains(text, kw) {
				return dir
			}
		}
	}
	return ""
}

// DepartureEvent normalizes one feed departure observed at a station.
// Records for lines outside the tracked enumeration are dropped: the
// second return value is false and the event must be discarded. A nil
// delay becomes 0. A nil planned instant yields the sentinel "00:00"
// scheduled time with now's date; the collision risk across unrelated
// records sharing the sentinel is a known property of the feed and is
// preserved as-is.
func DepartureEvent(dep Departure, station string, now time.Time) (transit.DelayEvent, bool) {
	if !transit.KnownLine(dep.Line) {
		return transit.DelayEvent{}, false
	}

	delay := 0
	if dep.DelayMinutes != nil {
		delay = *dep.DelayMinutes
	}

	at := now
	if dep.Planned != nil {
		at = *dep.Planned
	}

	ev := transit.NewEvent(dep.Line, station, at, delay, dep.Cancelled, "", transit.SourceAPI)
	if dep.Planned == nil {
		ev.ScheduledTime = "00:00"
		ev.Hour = 0
		ev.Minute = 0
	}

	ev.Direction = directionFromDestination(dep.Destination)
	if ev.Direction == "" {
		ev.Direction = schedule.DirectionFor(ev.Line, station, ev.Minute)
	}

	return ev, true
}
