package normalize

import (
	"errors"
	"testing"
	"time"

	"sbahn_tracker/internal/transit"
)

func TestParseInput(t *testing.T) {
	tests := []struct {
		text    string
		line    string
		station string
		delay   int
		hour    int
		minute  int
		hasTime bool
	}{
		{"S4 +5 09:30", "S4", "", 5, 9, 30, true},
		{"S20 Buchenau +3 10:15", "S20", "Buchenau", 3, 10, 15, true},
		{"s4 -2 08:00", "S4", "", -2, 8, 0, true},
		{"s4 buchenau 5min 09:00", "S4", "Buchenau", 5, 9, 0, true},
		{"S4 PUCHHEIM 5 MIN 17:26", "S4", "Puchheim", 5, 17, 26, true},
		{"+7 S4 Fürstenfeldbruck 09:45", "S4", "Fürstenfeldbruck", 7, 9, 45, true},
		// A bare number is not a delay; it must not be confused with
		// the clock-time token either.
		{"S4 5 09:30", "S4", "", 0, 9, 30, true},
		{"S4 Pasing", "S4", "Pasing", 0, 0, 0, false},
		{"+5 09:30", "", "", 5, 9, 30, true},
		{"nonsense", "", "", 0, 0, 0, false},
	}

	for _, tt := range tests {
		p := ParseInput(tt.text)
		if p.Line != tt.line {
			t.Errorf("ParseInput(%q).Line = %q, want %q", tt.text, p.Line, tt.line)
		}
		if p.Station != tt.station {
			t.Errorf("ParseInput(%q).Station = %q, want %q", tt.text, p.Station, tt.station)
		}
		if p.DelayMinutes != tt.delay {
			t.Errorf("ParseInput(%q).DelayMinutes = %d, want %d", tt.text, p.DelayMinutes, tt.delay)
		}
		if p.HasTime != tt.hasTime {
			t.Errorf("ParseInput(%q).HasTime = %v, want %v", tt.text, p.HasTime, tt.hasTime)
		}
		if tt.hasTime && (p.Hour != tt.hour || p.Minute != tt.minute) {
			t.Errorf("ParseInput(%q) time = %d:%d, want %d:%d",
				tt.text, p.Hour, p.Minute, tt.hour, tt.minute)
		}
	}
}

func TestParseInput_LongestStationWins(t *testing.T) {
	// Both stations appear; the longer name must win regardless of
	// declared order.
	p := ParseInput("S4 Pasing Fürstenfeldbruck 09:30")
	if p.Station != "Fürstenfeldbruck" {
		t.Errorf("Station = %q, want %q", p.Station, "Fürstenfeldbruck")
	}
}

func TestParseInput_DirectionFromTimetable(t *testing.T) {
	// Minute 48 at Buchenau is an outbound departure. No station in the
	// text, so the default station is substituted before the lookup.
	p := ParseInput("S4 15:48")
	if p.Direction != transit.DirectionOutbound {
		t.Errorf("Direction = %q, want %q", p.Direction, transit.DirectionOutbound)
	}

	// Minute 49 is not in the timetable at all.
	p = ParseInput("S4 15:49")
	if p.Direction != "" {
		t.Errorf("Direction = %q, want empty", p.Direction)
	}
}

func TestManualEvent(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) // a Wednesday

	ev, err := ManualEvent("S4 +5 09:30", now)
	if err != nil {
		t.Fatalf("ManualEvent: %v", err)
	}
	if ev.Line != "S4" {
		t.Errorf("Line = %q, want %q", ev.Line, "S4")
	}
	if ev.Station != "Buchenau" {
		t.Errorf("Station = %q, want default %q", ev.Station, "Buchenau")
	}
	if ev.ScheduledTime != "09:30" {
		t.Errorf("ScheduledTime = %q, want %q", ev.ScheduledTime, "09:30")
	}
	if ev.Date != "2026-03-04" {
		t.Errorf("Date = %q, want %q", ev.Date, "2026-03-04")
	}
	if ev.Weekday != 2 {
		t.Errorf("Weekday = %d, want 2", ev.Weekday)
	}
	if ev.DelayMinutes != 5 {
		t.Errorf("DelayMinutes = %d, want 5", ev.DelayMinutes)
	}
	if ev.Source != transit.SourceManual {
		t.Errorf("Source = %q, want %q", ev.Source, transit.SourceManual)
	}
}

func TestManualEvent_Validation(t *testing.T) {
	now := time.Now()

	if _, err := ManualEvent("+5 09:30", now); !errors.Is(err, ErrMissingLine) {
		t.Errorf("missing line: err = %v, want ErrMissingLine", err)
	}
	if _, err := ManualEvent("S4 +5", now); !errors.Is(err, ErrMissingTime) {
		t.Errorf("missing time: err = %v, want ErrMissingTime", err)
	}
}
