// Package schedule delivers periodic signup digests to configured outputs.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EveryKind indicates the shape of a digest schedule.
type EveryKind int

const (
	EveryInterval EveryKind = iota // @30m, @2h
	EveryHourly                    // @hourly
	EveryDaily                     // @daily, @daily:9am
	EveryWeekly                    // @weekly, @weekly:mon, @weekly:mon:9am
)

// Clock is a time of day.
type Clock struct {
	Hour   int
	Minute int
}

// Every is a parsed digest schedule.
type Every struct {
	Raw      string
	Kind     EveryKind
	Interval time.Duration // EveryInterval only
	Day      time.Weekday  // EveryWeekly only
	At       *Clock        // EveryDaily and EveryWeekly; nil means midnight
}

var (
	intervalRe = regexp.MustCompile(`^(\d+)([mh])$`)
	clock12Re  = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?(am|pm)$`)
	clock24Re  = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseEvery parses a digest schedule such as "@daily:9am", "@hourly",
// "@weekly:mon:9am" or "@30m".
func ParseEvery(s string) (*Every, error) {
	raw := strings.TrimSpace(s)
	if !strings.HasPrefix(raw, "@") {
		return nil, fmt.Errorf("schedule %q must start with @", s)
	}

	rest := strings.ToLower(strings.TrimPrefix(raw, "@"))
	if rest == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	ev := &Every{Raw: raw}

	switch {
	case rest == "hourly":
		ev.Kind = EveryHourly
		return ev, nil

	case rest == "daily":
		ev.Kind = EveryDaily
		return ev, nil

	case strings.HasPrefix(rest, "daily:"):
		at, ok := parseClock(rest[len("daily:"):])
		if !ok {
			return nil, fmt.Errorf("schedule %q: bad time of day (want e.g. 9am, 9:30pm or 14:00)", s)
		}
		ev.Kind = EveryDaily
		ev.At = at
		return ev, nil

	case rest == "weekly":
		ev.Kind = EveryWeekly
		ev.Day = time.Monday
		return ev, nil

	case strings.HasPrefix(rest, "weekly:"):
		day, at, err := parseWeekly(s, rest[len("weekly:"):])
		if err != nil {
			return nil, err
		}
		ev.Kind = EveryWeekly
		ev.Day = day
		ev.At = at
		return ev, nil
	}

	if m := intervalRe.FindStringSubmatch(rest); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n == 0 {
			return nil, fmt.Errorf("schedule %q: interval must be positive", s)
		}
		ev.Kind = EveryInterval
		if m[2] == "h" {
			ev.Interval = time.Duration(n) * time.Hour
		} else {
			ev.Interval = time.Duration(n) * time.Minute
		}
		return ev, nil
	}

	return nil, fmt.Errorf("unrecognized schedule %q (want @hourly, @daily:9am, @weekly:mon:9am or an interval like @30m)", s)
}

// parseWeekly handles the part after "weekly:": a weekday with an
// optional time of day, e.g. "mon" or "mon:9am".
func parseWeekly(raw, rest string) (time.Weekday, *Clock, error) {
	dayPart := rest
	var clockPart string
	if idx := strings.Index(rest, ":"); idx != -1 {
		dayPart, clockPart = rest[:idx], rest[idx+1:]
	}

	day, ok := weekdays[dayPart]
	if !ok {
		return 0, nil, fmt.Errorf("schedule %q: unknown weekday %q", raw, dayPart)
	}
	if clockPart == "" {
		return day, nil, nil
	}

	at, ok := parseClock(clockPart)
	if !ok {
		return 0, nil, fmt.Errorf("schedule %q: bad time of day (want e.g. 9am, 9:30pm or 14:00)", raw)
	}
	return day, at, nil
}

// parseClock accepts 12-hour (9am, 9:30pm) and 24-hour (14:00) forms.
func parseClock(s string) (*Clock, bool) {
	if m := clock12Re.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}

		if m[3] == "pm" && hour != 12 {
			hour += 12
		} else if m[3] == "am" && hour == 12 {
			hour = 0
		}

		if hour >= 0 && hour < 24 && minute >= 0 && minute < 60 {
			return &Clock{Hour: hour, Minute: minute}, true
		}
		return nil, false
	}

	if m := clock24Re.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour < 24 && minute < 60 {
			return &Clock{Hour: hour, Minute: minute}, true
		}
	}

	return nil, false
}

// Next returns the first time after now at which the schedule fires.
// The result is always strictly after now, so rescheduling from the
// execution time can never re-trigger the same run.
func (e *Every) Next(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)

	switch e.Kind {
	case EveryInterval:
		return now.Add(e.Interval)

	case EveryHourly:
		return time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, loc).Add(time.Hour)

	case EveryDaily:
		hour, minute := e.clock()
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next

	case EveryWeekly:
		hour, minute := e.clock()
		days := (int(e.Day) - int(now.Weekday()) + 7) % 7
		next := time.Date(now.Year(), now.Month(), now.Day()+days, hour, minute, 0, 0, loc)
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
		return next
	}

	return now.Add(time.Minute)
}

func (e *Every) clock() (hour, minute int) {
	if e.At != nil {
		return e.At.Hour, e.At.Minute
	}
	return 0, 0
}

// String returns the schedule as it appeared in configuration.
func (e *Every) String() string {
	return e.Raw
}

// String returns a human-readable representation of the kind.
func (k EveryKind) String() string {
	switch k {
	case EveryInterval:
		return "interval"
	case EveryHourly:
		return "hourly"
	case EveryDaily:
		return "daily"
	case EveryWeekly:
		return "weekly"
	default:
		return "unknown"
	}
}

// String returns a human-readable representation of the clock time.
func (c *Clock) String() string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}
