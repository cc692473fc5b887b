// Package normalize turns raw manual text and raw API departure payloads
// into canonical transit.DelayEvent values.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"sbahn_tracker/internal/schedule"
	"sbahn_tracker/internal/transit"
)

// Validation failures for manual entries. Station absence is not fatal;
// it falls back to the default station.
var (
	ErrMissingLine = errors.New("no line recognized (S4 or S20)")
	ErrMissingTime = errors.New("no time recognized (e.g. 09:30)")
)

var (
	// +5, -3, 5min, 5 min — bounded by word edges. A bare unsigned
	// number is deliberately not a delay so it cannot collide with the
	// clock-time token.
	delayRe = regexp.MustCompile(`(?:^|\s)([+\-]\d+|\d+\s*MIN)(?:\s|$)`)

	// 9:30 or 09:30; first match wins.
	timeRe = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
)

// Parsed carries the fields extracted from one line of manual input.
// Zero values mean "not found" except DelayMinutes, which defaults to 0.
type Parsed struct {
	Line         string
	Station      string
	DelayMinutes int
	Hour         int
	Minute       int
	HasTime      bool
	Direction    string
}

// matchToken scans text for any candidate appearing as a substring.
// Longest candidate wins; declared order breaks length ties. Both sides
// are compared upper-cased.
func matchToken(text string, candidates []string) string {
	ordered := make([]string, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i]) > len(ordered[j])
	})

	for _, c := range ordered {
		if strings.Contains(text, strings.ToUpper(c)) {
			return c
		}
	}
	return ""
}

// ParseInput extracts line, station, delay and clock time from a free-form
// entry such as "S4 +5 09:30" or "s4 buchenau 5min 09:00". Scanning is
// order-independent and case-insensitive. When line, time and a station
// (defaulted if absent) are all known, the direction is resolved from the
// timetable.
func ParseInput(text string) Parsed {
	text = strings.ToUpper(strings.TrimSpace(text))
	var p Parsed

	p.Line = matchToken(text, transit.Lines)
	p.Station = matchToken(text, transit.Stations)

	if m := delayRe.FindStringSubmatch(text); m != nil {
		token := m[1]
		digits := strings.TrimLeft(strings.TrimSuffix(strings.TrimSpace(token), "MIN"), "+-")
		val, _ := strconv.Atoi(strings.TrimSpace(digits))
		if strings.HasPrefix(token, "-") {
			val = -val
		}
		p.DelayMinutes = val
	}

	if m := timeRe.FindStringSubmatch(text); m != nil {
		p.Hour, _ = strconv.Atoi(m[1])
		p.Minute, _ = strconv.Atoi(m[2])
		p.HasTime = true
	}

	if p.Line != "" && p.HasTime {
		station := p.Station
		if station == "" {
			station = transit.DefaultStation()
		}
		p.Direction = schedule.DirectionFor(p.Line, station, p.Minute)
	}

	return p
}

// ManualEvent parses a manual entry and validates it into a DelayEvent.
// The caller supplies the current time; the entry's date defaults to
// now's date. Returns ErrMissingLine or ErrMissingTime on rejection.
func ManualEvent(text string, now time.Time) (transit.DelayEvent, error) {
	p := ParseInput(text)

	if p.Line == "" {
		return transit.DelayEvent{}, ErrMissingLine
	}
	if !p.HasTime {
		return transit.DelayEvent{}, ErrMissingTime
	}

	station := p.Station
	if station == "" {
		station = transit.DefaultStation()
	}

	return transit.DelayEvent{
		Line:          p.Line,
		Station:       station,
		ScheduledTime: fmt.Sprintf("%02d:%02d", p.Hour, p.Minute),
		Date:          now.Format("2006-01-02"),
		Weekday:       transit.WeekdayOf(now),
		Hour:          p.Hour,
		Minute:        p.Minute,
		DelayMinutes:  p.DelayMinutes,
		Direction:     p.Direction,
		Source:        transit.SourceManual,
	}, nil
}
