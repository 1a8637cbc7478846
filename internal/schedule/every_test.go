package schedule

import (
	"strings"
	"testing"
	"time"
)

func TestParseEveryHourly(t *testing.T) {
	ev, err := ParseEvery("@hourly")
	if err != nil {
		t.Fatalf("ParseEvery error: %v", err)
	}
	if ev.Kind != EveryHourly {
		t.Errorf("kind = %v, want hourly", ev.Kind)
	}
	if ev.Raw != "@hourly" {
		t.Errorf("raw = %q, want %q", ev.Raw, "@hourly")
	}
}

func TestParseEveryDaily(t *testing.T) {
	tests := []struct {
		input  string
		hour   int
		minute int
	}{
		{"@daily", 0, 0},
		{"@daily:9am", 9, 0},
		{"@daily:9:30am", 9, 30},
		{"@daily:12pm", 12, 0},
		{"@daily:9pm", 21, 0},
		{"@daily:12am", 0, 0},
		{"@daily:14:00", 14, 0},
		{"@daily:23:59", 23, 59},
		{"@DAILY:9AM", 9, 0}, // case insensitive
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ev, err := ParseEvery(tt.input)
			if err != nil {
				t.Fatalf("ParseEvery(%q) error: %v", tt.input, err)
			}
			if ev.Kind != EveryDaily {
				t.Errorf("kind = %v, want daily", ev.Kind)
			}
			hour, minute := ev.clock()
			if hour != tt.hour || minute != tt.minute {
				t.Errorf("clock = %02d:%02d, want %02d:%02d", hour, minute, tt.hour, tt.minute)
			}
		})
	}
}

func TestParseEveryWeekly(t *testing.T) {
	tests := []struct {
		input  string
		day    time.Weekday
		hour   int
		minute int
	}{
		{"@weekly", time.Monday, 0, 0},
		{"@weekly:mon", time.Monday, 0, 0},
		{"@weekly:friday", time.Friday, 0, 0},
		{"@weekly:sun:9am", time.Sunday, 9, 0},
		{"@weekly:wed:9:30pm", time.Wednesday, 21, 30},
		{"@weekly:thu:14:00", time.Thursday, 14, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ev, err := ParseEvery(tt.input)
			if err != nil {
				t.Fatalf("ParseEvery(%q) error: %v", tt.input, err)
			}
			if ev.Kind != EveryWeekly {
				t.Errorf("kind = %v, want weekly", ev.Kind)
			}
			if ev.Day != tt.day {
				t.Errorf("day = %v, want %v", ev.Day, tt.day)
			}
			hour, minute := ev.clock()
			if hour != tt.hour || minute != tt.minute {
				t.Errorf("clock = %02d:%02d, want %02d:%02d", hour, minute, tt.hour, tt.minute)
			}
		})
	}
}

func TestParseEveryInterval(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"@30m", 30 * time.Minute},
		{"@1m", time.Minute},
		{"@2h", 2 * time.Hour},
		{"@12h", 12 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ev, err := ParseEvery(tt.input)
			if err != nil {
				t.Fatalf("ParseEvery(%q) error: %v", tt.input, err)
			}
			if ev.Kind != EveryInterval {
				t.Errorf("kind = %v, want interval", ev.Kind)
			}
			if ev.Interval != tt.want {
				t.Errorf("interval = %v, want %v", ev.Interval, tt.want)
			}
		})
	}
}

func TestParseEveryErrors(t *testing.T) {
	tests := []struct {
		input   string
		wantErr string
	}{
		{"daily", "must start with @"},
		{"@", "empty schedule"},
		{"@fortnightly", "unrecognized schedule"},
		{"@daily:25pm", "bad time of day"},
		{"@daily:9:99am", "bad time of day"},
		{"@weekly:funday", "unknown weekday"},
		{"@weekly:mon:13pm", "bad time of day"},
		{"@0m", "interval must be positive"},
		{"@5s", "unrecognized schedule"},
		{"", "must start with @"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := ParseEvery(tt.input)
			if err == nil {
				t.Fatalf("ParseEvery(%q) expected error", tt.input)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestEveryNext(t *testing.T) {
	// A Wednesday, mid-morning.
	now := time.Date(2026, time.March, 4, 10, 30, 15, 0, time.UTC)

	tests := []struct {
		input string
		want  time.Time
	}{
		{"@30m", time.Date(2026, time.March, 4, 11, 0, 15, 0, time.UTC)},
		{"@2h", time.Date(2026, time.March, 4, 12, 30, 15, 0, time.UTC)},
		{"@hourly", time.Date(2026, time.March, 4, 11, 0, 0, 0, time.UTC)},
		{"@daily", time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)},
		{"@daily:9am", time.Date(2026, time.March, 5, 9, 0, 0, 0, time.UTC)},
		{"@daily:11am", time.Date(2026, time.March, 4, 11, 0, 0, 0, time.UTC)},
		{"@weekly:wed:9am", time.Date(2026, time.March, 11, 9, 0, 0, 0, time.UTC)},
		{"@weekly:wed:11am", time.Date(2026, time.March, 4, 11, 0, 0, 0, time.UTC)},
		{"@weekly:fri", time.Date(2026, time.March, 6, 0, 0, 0, 0, time.UTC)},
		{"@weekly:mon:9am", time.Date(2026, time.March, 9, 9, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ev, err := ParseEvery(tt.input)
			if err != nil {
				t.Fatalf("ParseEvery(%q) error: %v", tt.input, err)
			}
			got := ev.Next(now, time.UTC)
			if !got.Equal(tt.want) {
				t.Errorf("Next = %v, want %v", got, tt.want)
			}
			if !got.After(now) {
				t.Errorf("Next = %v is not strictly after now %v", got, now)
			}
		})
	}
}

func TestEveryNextOnExactBoundary(t *testing.T) {
	// At exactly 9am the 9am slot counts as passed.
	now := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)

	ev, err := ParseEvery("@daily:9am")
	if err != nil {
		t.Fatalf("ParseEvery error: %v", err)
	}

	got := ev.Next(now, time.UTC)
	want := time.Date(2026, time.March, 5, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}

	// Same for the top of the hour.
	hourly, _ := ParseEvery("@hourly")
	got = hourly.Next(now, time.UTC)
	want = time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("hourly Next = %v, want %v", got, want)
	}
}

func TestEveryKindString(t *testing.T) {
	tests := []struct {
		kind EveryKind
		want string
	}{
		{EveryInterval, "interval"},
		{EveryHourly, "hourly"},
		{EveryDaily, "daily"},
		{EveryWeekly, "weekly"},
		{EveryKind(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestClockString(t *testing.T) {
	c := &Clock{Hour: 9, Minute: 5}
	if got := c.String(); got != "09:05" {
		t.Errorf("String() = %q, want %q", got, "09:05")
	}

	var nilClock *Clock
	if got := nilClock.String(); got != "" {
		t.Errorf("nil String() = %q, want empty", got)
	}
}
