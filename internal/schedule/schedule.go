// Package schedule holds the static departure timetable and answers
// which direction a scheduled minute belongs to.
package schedule

import (
	"sort"
	"strings"

	"sbahn_tracker/internal/transit"
)

type stopKey struct {
	line    string
	station string
}

// timetable maps (line, station) to the sorted departure-minute offsets
// per direction. Offsets repeat every hour; the S4 west branch runs a
// 20-minute base cadence. Data is configuration, not derived state.
var timetable = map[stopKey]map[string][]int{
	{"S4", "Buchenau"}: {
		transit.DirectionOutbound: {8, 28, 48},
		transit.DirectionInbound:  {2, 22, 42},
	},
	{"S4", "Fürstenfeldbruck"}: {
		transit.DirectionOutbound: {12, 32, 52},
		transit.DirectionInbound:  {18, 38, 58},
	},
	{"S4", "Eichenau"}: {
		transit.DirectionOutbound: {3, 23, 43},
		transit.DirectionInbound:  {7, 27, 47},
	},
	{"S4", "Puchheim"}: {
		transit.DirectionOutbound: {6, 26, 46},
		transit.DirectionInbound:  {4, 24, 44},
	},
	{"S4", "Aubing"}: {
		transit.DirectionOutbound: {10, 30, 50},
		transit.DirectionInbound:  {0, 20, 40},
	},
	{"S4", "Pasing"}: {
		transit.DirectionOutbound: {16, 36, 56},
		transit.DirectionInbound:  {14, 34, 54},
	},
	{"S4", "Grafrath"}: {
		transit.DirectionOutbound: {15, 35, 55},
		transit.DirectionInbound:  {9, 29, 49},
	},
	{"S4", "Türkenfeld"}: {
		transit.DirectionOutbound: {1, 21, 41},
		transit.DirectionInbound:  {13, 33, 53},
	},
	// Geltendorf is the western terminus; only inbound departures exist.
	{"S4", "Geltendorf"}: {
		transit.DirectionInbound: {6, 26, 46},
	},
	{"S20", "Pasing"}: {
		transit.DirectionInbound: {11, 31, 51},
	},
}

// DirectionFor returns the direction whose timetable lists the given
// minute for this line and station, or "" when the stop is unknown or
// the minute matches no listed offset. Exact membership only; absence
// of data is a normal outcome, never an error.
func DirectionFor(line, station string, minute int) string {
	stop, ok := timetable[stopKey{strings.ToUpper(line), station}]
	if !ok {
		return ""
	}

	// Iterate directions in a fixed order so ties are impossible to
	// introduce silently when the table changes.
	for _, dir := range []string{transit.DirectionOutbound, transit.DirectionInbound} {
		offsets, ok := stop[dir]
		if !ok {
			continue
		}
		i := sort.SearchInts(offsets, minute)
		if i < len(offsets) && offsets[i] == minute {
			return dir
		}
	}
	return ""
}
