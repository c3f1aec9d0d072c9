package model

import (
	"fmt"
	"time"
)

// DefaultTimeOfDay is used for groups that have no saved configuration
var DefaultTimeOfDay = ClockTime{Hour: 22, Minute: 0}

// Group is a messaging-platform group as returned by the directory
type Group struct {
	ID                  string `json:"id"`
	Subject             string `json:"subject"`
	SubjectOwner        string `json:"subjectOwner,omitempty"`
	SubjectTime         int64  `json:"subjectTime"`
	PictureURL          string `json:"pictureUrl,omitempty"`
	Size                int    `json:"size"`
	Creation            int64  `json:"creation"`
	Owner               string `json:"owner,omitempty"`
	Restrict            bool   `json:"restrict"`
	Announce            bool   `json:"announce"`
	IsCommunity         bool   `json:"isCommunity"`
	IsCommunityAnnounce bool   `json:"isCommunityAnnounce"`
}

// GroupSummaryConfig is one row of the group configuration store
type GroupSummaryConfig struct {
	GroupID      string    `json:"group_id"`
	TimeOfDay    ClockTime `json:"horario"`
	Enabled      bool      `json:"enabled"`
	IncludeLinks bool      `json:"is_links"`
	IncludeNames bool      `json:"is_names"`
	Script       string    `json:"script"`

	// One-time window, set only for ONCE schedules
	StartDate *time.Time `json:"start_date,omitempty"`
	StartTime *ClockTime `json:"start_time,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	EndTime   *ClockTime `json:"end_time,omitempty"`
}

// DefaultGroupSummaryConfig returns the configuration assumed for a group without a row
func DefaultGroupSummaryConfig(groupID string) GroupSummaryConfig {
	return GroupSummaryConfig{
		GroupID:   groupID,
		TimeOfDay: DefaultTimeOfDay,
	}
}

// Recurrence is ONCE when the row carries a one-time start date
func (c GroupSummaryConfig) Recurrence() Recurrence {
	if c.StartDate != nil {
		return RecurrenceOnce
	}
	return RecurrenceDaily
}

// ScheduleSpec builds the registrar spec for this row.
// Both recurrences fire at TimeOfDay; a ONCE job fires on StartDate.
func (c GroupSummaryConfig) ScheduleSpec(jobPrefix string) ScheduleSpec {
	spec := ScheduleSpec{
		JobName:    JobName(jobPrefix, c.GroupID),
		ScriptPath: c.Script,
		Recurrence: c.Recurrence(),
		TimeOfDay:  c.TimeOfDay,
	}
	if c.StartDate != nil {
		spec.StartDate = *c.StartDate
	}
	return spec
}

// Window returns the message window a run should summarise. One-time rows
// with a start and end date use it; everything else covers the day before now.
func (c GroupSummaryConfig) Window(now time.Time) (time.Time, time.Time) {
	if c.StartDate != nil && c.EndDate != nil {
		return c.oneTimeWindow()
	}
	return now.AddDate(0, 0, -1), now
}

// oneTimeWindow runs from StartTime (midnight when unset) on StartDate to
// EndTime on EndDate. Without EndTime it ends at the run on the fire day
// and at midnight after EndDate otherwise.
func (c GroupSummaryConfig) oneTimeWindow() (time.Time, time.Time) {
	start := *c.StartDate
	if c.StartTime != nil {
		start = c.StartTime.On(start)
	}
	fire := c.TimeOfDay.On(*c.StartDate)
	end := c.EndDate.AddDate(0, 0, 1)
	switch {
	case c.EndTime != nil:
		end = c.EndTime.On(*c.EndDate)
	case SameDay(fire, *c.EndDate):
		end = fire
	}
	return start, end
}

// ValidateWindow checks that a one-time window is ordered and closes no
// later than the run that summarises it
func (c GroupSummaryConfig) ValidateWindow() error {
	if c.StartDate == nil {
		if c.StartTime != nil || c.EndDate != nil || c.EndTime != nil {
			return fmt.Errorf("a one-time window needs a start date")
		}
		return nil
	}
	if c.EndDate == nil {
		if c.EndTime != nil {
			return fmt.Errorf("an end time needs an end date")
		}
		return nil
	}

	start, end := c.oneTimeWindow()
	if !end.After(start) {
		return fmt.Errorf("window end %s is not after its start %s",
			end.Format("2006-01-02 15:04"), start.Format("2006-01-02 15:04"))
	}
	if fire := c.TimeOfDay.On(*c.StartDate); end.After(fire) {
		return fmt.Errorf("window ends at %s, after the summary runs at %s",
			end.Format("2006-01-02 15:04"), fire.Format("2006-01-02 15:04"))
	}
	return nil
}

// GroupView is a directory group merged with its summary configuration
type GroupView struct {
	Group
	Config GroupSummaryConfig `json:"config"`
}
