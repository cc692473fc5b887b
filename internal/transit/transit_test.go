package transit

import (
	"testing"
	"time"
)

func TestWeekdayOf(t *testing.T) {
	tests := []struct {
		date string
		want int
	}{
		{"2026-03-02", 0}, // Monday
		{"2026-03-04", 2}, // Wednesday
		{"2026-03-08", 6}, // Sunday
	}

	for _, tt := range tests {
		day, err := time.Parse("2006-01-02", tt.date)
		if err != nil {
			t.Fatal(err)
		}
		if got := WeekdayOf(day); got != tt.want {
			t.Errorf("WeekdayOf(%s) = %d, want %d", tt.date, got, tt.want)
		}
	}
}

func TestKnownLine(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"S4", true},
		{"s4", true},
		{"S20", true},
		{"S3", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := KnownLine(tt.name); got != tt.want {
			t.Errorf("KnownLine(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2026, 3, 4, 9, 5, 0, 0, time.UTC)
	ev := NewEvent("s4", "Buchenau", at, 3, false, DirectionInbound, SourceAPI)

	if ev.Line != "S4" {
		t.Errorf("Line = %q, want %q", ev.Line, "S4")
	}
	if ev.ScheduledTime != "09:05" {
		t.Errorf("ScheduledTime = %q, want %q", ev.ScheduledTime, "09:05")
	}
	if ev.Date != "2026-03-04" {
		t.Errorf("Date = %q, want %q", ev.Date, "2026-03-04")
	}
	if ev.Weekday != 2 {
		t.Errorf("Weekday = %d, want 2", ev.Weekday)
	}
}
