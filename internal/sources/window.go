package sources

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type clock struct {
	hour, minute, second int
}

func (c clock) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.minute, c.second, 0, day.Location())
}

// parseClock accepts "HH:MM" or "HH:MM:SS"
func parseClock(s string) (clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return clock{}, errors.Errorf("invalid time of day %q", s)
	}

	var vals [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return clock{}, errors.Wrapf(err, "invalid time of day %q", s)
		}
		vals[i] = n
	}

	c := clock{hour: vals[0], minute: vals[1], second: vals[2]}
	if c.hour < 0 || c.hour > 23 || c.minute < 0 || c.minute > 59 || c.second < 0 || c.second > 59 {
		return clock{}, errors.Errorf("time of day out of range %q", s)
	}
	return c, nil
}

// parseDays parses a CSV of weekday numbers (0 = Sunday). Empty means every day.
func parseDays(csv string) ([]time.Weekday, error) {
	var days []time.Weekday
	seen := make(map[time.Weekday]bool)

	for _, field := range strings.Split(csv, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil || n < 0 || n > 6 {
			return nil, errors.Errorf("invalid weekday %q", field)
		}
		if d := time.Weekday(n); !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}

	sort.Slice(days, func(a, b int) bool { return days[a] < days[b] })
	return days, nil
}

// weeklyWindow is a time-of-day window recurring on selected weekdays.
// A window whose end is not after its start runs past midnight.
type weeklyWindow struct {
	days     []time.Weekday
	start    clock
	end      clock
	schedule cron.Schedule
}

func newWeeklyWindow(days []time.Weekday, start, end string) (*weeklyWindow, error) {
	startClock, err := parseClock(start)
	if err != nil {
		return nil, err
	}
	endClock, err := parseClock(end)
	if err != nil {
		return nil, err
	}

	dow := "*"
	if len(days) > 0 {
		fields := make([]string, len(days))
		for i, d := range days {
			fields[i] = strconv.Itoa(int(d))
		}
		dow = strings.Join(fields, ",")
	}

	cronSpec := fmt.Sprintf("%d %d %d * * %s", startClock.second, startClock.minute, startClock.hour, dow)
	schedule, err := scheduleParser.Parse(cronSpec)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid window schedule %q", cronSpec)
	}

	return &weeklyWindow{days: days, start: startClock, end: endClock, schedule: schedule}, nil
}

func (w *weeklyWindow) onDay(d time.Weekday) bool {
	if len(w.days) == 0 {
		return true
	}
	for _, day := range w.days {
		if day == d {
			return true
		}
	}
	return false
}

// Current returns the start of the occurrence containing t, if any
func (w *weeklyWindow) Current(t time.Time) (time.Time, bool) {
	today := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())

	for _, day := range []time.Time{today, today.AddDate(0, 0, -1)} {
		if !w.onDay(day.Weekday()) {
			continue
		}
		start := w.start.on(day)
		end := w.end.on(day)
		if !end.After(start) {
			end = end.AddDate(0, 0, 1)
		}
		if !t.Before(start) && t.Before(end) {
			return start, true
		}
	}
	return time.Time{}, false
}

// NextStart returns the first occurrence start at or after t
func (w *weeklyWindow) NextStart(t time.Time) time.Time {
	return w.schedule.Next(t.Add(-time.Nanosecond))
}
