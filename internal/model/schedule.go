package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar date format used in the config file and on the CLI.
const DateLayout = "2006-01-02"

// Recurrence describes how often a scheduled job fires
type Recurrence string

const (
	RecurrenceDaily Recurrence = "DAILY"
	RecurrenceOnce  Recurrence = "ONCE"
)

// ParseRecurrence parses a recurrence name, case-insensitively
func ParseRecurrence(s string) (Recurrence, error) {
	switch Recurrence(strings.ToUpper(strings.TrimSpace(s))) {
	case RecurrenceDaily, "":
		return RecurrenceDaily, nil
	case RecurrenceOnce:
		return RecurrenceOnce, nil
	default:
		return "", fmt.Errorf("unknown recurrence: %q", s)
	}
}

// ClockTime is a 24-hour time of day with minute precision
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" (a trailing ":SS" is accepted and ignored)
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return ClockTime{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

// MustClockTime is ParseClockTime for constants; it panics on invalid input
func MustClockTime(s string) ClockTime {
	c, err := ParseClockTime(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// MarshalText encodes the time as "HH:MM"
func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// On returns the instant at this time of day on the given date, in the date's location
func (c ClockTime) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, date.Location())
}

// ParseDate parses a calendar date in DateLayout, in the local time zone
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want %s", s, DateLayout)
	}
	return t, nil
}

// SameDay reports whether a and b fall on the same calendar day in a's location
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ScheduleSpec is the contract between callers and the task registrar
type ScheduleSpec struct {
	JobName    string     `json:"job_name"`
	ScriptPath string     `json:"script_path"`
	Recurrence Recurrence `json:"recurrence"`
	TimeOfDay  ClockTime  `json:"time_of_day"`
	// StartDate is the single day a ONCE job fires; zero for DAILY jobs.
	StartDate time.Time `json:"start_date,omitempty"`
}

// Validate checks the fields that do not depend on the host
func (s ScheduleSpec) Validate() error {
	if strings.TrimSpace(s.JobName) == "" {
		return fmt.Errorf("job name is required")
	}
	if strings.TrimSpace(s.ScriptPath) == "" {
		return fmt.Errorf("script path is required")
	}
	switch s.Recurrence {
	case RecurrenceDaily:
	case RecurrenceOnce:
		if s.StartDate.IsZero() {
			return fmt.Errorf("start date is required for %s jobs", RecurrenceOnce)
		}
	default:
		return fmt.Errorf("unknown recurrence: %q", s.Recurrence)
	}
	if s.TimeOfDay.Hour < 0 || s.TimeOfDay.Hour > 23 || s.TimeOfDay.Minute < 0 || s.TimeOfDay.Minute > 59 {
		return fmt.Errorf("invalid time of day: %s", s.TimeOfDay)
	}
	return nil
}

// FireAt returns the single firing instant of a ONCE job
func (s ScheduleSpec) FireAt() time.Time {
	return s.TimeOfDay.On(s.StartDate)
}

// Expired reports whether a ONCE job's date lies before the day of now.
// A date of today is still accepted; the job then runs at load.
func (s ScheduleSpec) Expired(now time.Time) bool {
	return s.Recurrence == RecurrenceOnce && !SameDay(now, s.StartDate) && s.StartDate.Before(now)
}

// JobName derives the native job name for a group
func JobName(prefix, groupID string) string {
	return prefix + "_" + groupID
}

// GroupIDFromJobName recovers the group id from a job name by splitting on
// the separator and taking the second field.
func GroupIDFromJobName(jobName string) (string, error) {
	parts := strings.SplitN(jobName, "_", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", fmt.Errorf("invalid task name %q: want <prefix>_<group_id>", jobName)
	}
	return parts[1], nil
}
