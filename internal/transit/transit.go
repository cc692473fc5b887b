// Package transit provides the line and station enumerations and the
// canonical delay event produced by the normalizer and consumed by storage.
package transit

import (
	"fmt"
	"strings"
	"time"
)

// Lines lists the tracked S-Bahn lines in declared priority order.
var Lines = []string{"S4", "S20"}

// Stations lists the known stations in declared priority order.
// The first entry is the default station for manual entries that
// do not name one.
var Stations = []string{
	"Buchenau",
	"Fürstenfeldbruck",
	"Eichenau",
	"Puchheim",
	"Aubing",
	"Pasing",
	"Grafrath",
	"Türkenfeld",
	"Geltendorf",
}

// Terminus labels used as direction values.
const (
	DirectionOutbound = "Geltendorf" // westbound, away from the city
	DirectionInbound  = "München"    // eastbound, toward the city
)

// Provenance tags for stored records.
const (
	SourceManual = "manual"
	SourceAPI    = "api"
)

// DefaultStation returns the station assumed when input names none.
func DefaultStation() string {
	return Stations[0]
}

// KnownLine reports whether name is a tracked line. Comparison is
// case-insensitive; stored lines are always upper-case.
func KnownLine(name string) bool {
	for _, l := range Lines {
		if strings.EqualFold(l, name) {
			return true
		}
	}
	return false
}

// KnownStation reports whether name is a known station.
func KnownStation(name string) bool {
	for _, s := range Stations {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// DelayEvent is a normalized delay observation. The tuple
// (Line, Station, ScheduledTime, Date, Direction) identifies the
// real-world scheduled departure; an empty Direction means unknown.
type DelayEvent struct {
	Line          string // upper-case line identifier, e.g. "S4"
	Station       string
	ScheduledTime string // "HH:MM"
	Date          string // "2006-01-02"
	Weekday       int    // 0=Monday .. 6=Sunday
	Hour          int
	Minute        int
	DelayMinutes  int
	Cancelled     bool
	Direction     string // terminus label, or "" when undeterminable
	Source        string // SourceManual or SourceAPI
}

// WeekdayOf converts a time to the Monday-based weekday index used
// throughout the stored data.
func WeekdayOf(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// NewEvent builds a DelayEvent for a departure scheduled at the given
// instant. Date, weekday and the clock fields are all derived from at.
func NewEvent(line, station string, at time.Time, delayMinutes int, cancelled bool, direction, source string) DelayEvent {
	return DelayEvent{
		Line:          strings.ToUpper(line),
		Station:       station,
		ScheduledTime: fmt.Sprintf("%02d:%02d", at.Hour(), at.Minute()),
		Date:          at.Format("2006-01-02"),
		Weekday:       WeekdayOf(at),
		Hour:          at.Hour(),
		Minute:        at.Minute(),
		DelayMinutes:  delayMinutes,
		Cancelled:     cancelled,
		Direction:     direction,
		Source:        source,
	}
}
