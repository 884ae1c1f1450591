package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind selects how a rule's schedule is interpreted.
type Kind string

const (
	KindAlways     Kind = "always"
	KindTimeWindow Kind = "time_window"
	KindDateRange  Kind = "date_range"
)

// ErrInvalidScheduleConfig indicates an unknown kind or malformed config.
var ErrInvalidScheduleConfig = errors.New("schedule: invalid config")

const dateLayout = "2006-01-02"

// TimeWindow is a daily wall-clock window in the tenant timezone.
type TimeWindow struct {
	StartTime  string            `json:"start_time"`
	EndTime    string            `json:"end_time"`
	DaysOfWeek []json.RawMessage `json:"days_of_week"`
}

// DateRange is an inclusive range of tenant-local dates.
type DateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// InScope reports whether a rule with the given schedule may fire at now.
// Malformed configuration yields (false, ErrInvalidScheduleConfig).
func InScope(kind Kind, config json.RawMessage, now time.Time, loc *time.Location) (bool, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	switch kind {
	case KindAlways, "":
		return true, nil
	case KindTimeWindow:
		var window TimeWindow
		if err := decodeConfig(config, &window); err != nil {
			return false, err
		}
		return window.contains(local)
	case KindDateRange:
		var dates DateRange
		if err := decodeConfig(config, &dates); err != nil {
			return false, err
		}
		return dates.contains(local)
	default:
		return false, fmt.Errorf("%w: unknown kind %q", ErrInvalidScheduleConfig, kind)
	}
}

// Lint reports time-window settings that are valid but easy to misread.
// Malformed or non-window configs yield no findings; InScope reports those.
func Lint(kind Kind, config json.RawMessage) []string {
	if kind != KindTimeWindow {
		return nil
	}
	var window TimeWindow
	if err := decodeConfig(config, &window); err != nil {
		return nil
	}
	start, startErr := parseClock(window.StartTime)
	end, endErr := parseClock(window.EndTime)
	var findings []string
	if len(window.DaysOfWeek) == 0 {
		findings = append(findings, "days_of_week empty, window applies every day")
	}
	if startErr == nil && endErr == nil && start == end {
		findings = append(findings, "start_time equals end_time, window covers the whole day")
	}
	return findings
}

func decodeConfig(config json.RawMessage, dst any) error {
	if len(config) == 0 {
		return fmt.Errorf("%w: empty config", ErrInvalidScheduleConfig)
	}
	if err := json.Unmarshal(config, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScheduleConfig, err)
	}
	return nil
}

func (w TimeWindow) contains(local time.Time) (bool, error) {
	start, err := parseClock(w.StartTime)
	if err != nil {
		return false, err
	}
	end, err := parseClock(w.EndTime)
	if err != nil {
		return false, err
	}
	days, err := parseDays(w.DaysOfWeek)
	if err != nil {
		return false, err
	}
	dayAllowed := func(day time.Weekday) bool {
		return len(days) == 0 || days[day]
	}

	offset := local.Hour()*3600 + local.Minute()*60 + local.Second()
	weekday := local.Weekday()
	switch {
	case start == end:
		return dayAllowed(weekday), nil
	case start < end:
		return offset >= start && offset < end && dayAllowed(weekday), nil
	case offset >= start:
		return dayAllowed(weekday), nil
	case offset < end:
		// The post-midnight part belongs to the window opened the previous day.
		return dayAllowed((weekday + 6) % 7), nil
	default:
		return false, nil
	}
}

func (d DateRange) contains(local time.Time) (bool, error) {
	start, err := time.Parse(dateLayout, strings.TrimSpace(d.StartDate))
	if err != nil {
		return false, fmt.Errorf("%w: start_date %q", ErrInvalidScheduleConfig, d.StartDate)
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(d.EndDate))
	if err != nil {
		return false, fmt.Errorf("%w: end_date %q", ErrInvalidScheduleConfig, d.EndDate)
	}
	if end.Before(start) {
		return false, fmt.Errorf("%w: end_date before start_date", ErrInvalidScheduleConfig)
	}
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return !today.Before(start) && !today.After(end), nil
}

func parseClock(value string) (int, error) {
	value = strings.TrimSpace(value)
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: time %q", ErrInvalidScheduleConfig, value)
	}
	limits := []int{23, 59, 59}
	scale := []int{3600, 60, 1}
	total := 0
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("%w: time %q", ErrInvalidScheduleConfig, value)
		}
		total += n * scale[i]
	}
	return total, nil
}

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// parseDays accepts day names or ISO numbers (1=Mon ... 7=Sun, 0 is also Sunday).
func parseDays(raw []json.RawMessage) (map[time.Weekday]bool, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	days := make(map[time.Weekday]bool, len(raw))
	for _, item := range raw {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			day, ok := dayNames[strings.ToLower(strings.TrimSpace(name))]
			if !ok {
				return nil, fmt.Errorf("%w: day %q", ErrInvalidScheduleConfig, name)
			}
			days[day] = true
			continue
		}
		var number int
		if err := json.Unmarshal(item, &number); err != nil || number < 0 || number > 7 {
			return nil, fmt.Errorf("%w: day %s", ErrInvalidScheduleConfig, string(item))
		}
		days[time.Weekday(number%7)] = true
	}
	return days, nil
}
