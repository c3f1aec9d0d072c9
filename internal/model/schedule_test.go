package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClockTime(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "22:00", want: "22:00"},
		{in: "7:5", want: "07:05"},
		{in: " 09:30:00 ", want: "09:30"},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "noon", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClockTime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestClockTimeJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		At ClockTime `json:"at"`
	}{At: MustClockTime("08:15")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"at":"08:15"}`, string(data))

	var got struct {
		At *ClockTime `json:"at"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"at":"21:45"}`), &got))
	require.NotNil(t, got.At)
	assert.Equal(t, ClockTime{Hour: 21, Minute: 45}, *got.At)

	assert.Error(t, json.Unmarshal([]byte(`{"at":"99:99"}`), &got))
}

func TestParseRecurrence(t *testing.T) {
	r, err := ParseRecurrence("once")
	require.NoError(t, err)
	assert.Equal(t, RecurrenceOnce, r)

	r, err = ParseRecurrence("")
	require.NoError(t, err)
	assert.Equal(t, RecurrenceDaily, r)

	_, err = ParseRecurrence("weekly")
	assert.Error(t, err)
}

func TestJobName(t *testing.T) {
	name := JobName("ResumoGrupo", "123@g.us")
	assert.Equal(t, "ResumoGrupo_123@g.us", name)

	id, err := GroupIDFromJobName(name)
	require.NoError(t, err)
	assert.Equal(t, "123@g.us", id)

	_, err = GroupIDFromJobName("ResumoGrupo")
	assert.Error(t, err)
	_, err = GroupIDFromJobName("ResumoGrupo_")
	assert.Error(t, err)
}

func TestScheduleSpecValidate(t *testing.T) {
	valid := ScheduleSpec{
		JobName:    "ResumoGrupo_123@g.us",
		ScriptPath: "/opt/groupsummary/groupsummary",
		Recurrence: RecurrenceDaily,
		TimeOfDay:  MustClockTime("22:00"),
	}
	assert.NoError(t, valid.Validate())

	once := valid
	once.Recurrence = RecurrenceOnce
	assert.Error(t, once.Validate())
	once.StartDate = time.Date(2026, 3, 13, 0, 0, 0, 0, time.Local)
	assert.NoError(t, once.Validate())
	assert.Equal(t, time.Date(2026, 3, 13, 22, 0, 0, 0, time.Local), once.FireAt())

	noScript := valid
	noScript.ScriptPath = " "
	assert.Error(t, noScript.Validate())

	badTime := valid
	badTime.TimeOfDay = ClockTime{Hour: 25}
	assert.Error(t, badTime.Validate())
}

func TestGroupSummaryConfig(t *testing.T) {
	now := time.Date(2026, 3, 10, 22, 0, 0, 0, time.Local)

	t.Run("Daily", func(t *testing.T) {
		cfg := DefaultGroupSummaryConfig("123@g.us")
		assert.Equal(t, RecurrenceDaily, cfg.Recurrence())

		spec := cfg.ScheduleSpec("ResumoGrupo")
		assert.Equal(t, "ResumoGrupo_123@g.us", spec.JobName)
		assert.Equal(t, "22:00", spec.TimeOfDay.String())
		assert.True(t, spec.StartDate.IsZero())

		start, end := cfg.Window(now)
		assert.Equal(t, now.AddDate(0, 0, -1), start)
		assert.Equal(t, now, end)
	})

	t.Run("One-time", func(t *testing.T) {
		startDate := time.Date(2026, 3, 13, 0, 0, 0, 0, time.Local)
		at := MustClockTime("09:30")
		cfg := DefaultGroupSummaryConfig("123@g.us")
		cfg.StartDate = &startDate
		cfg.StartTime = &at
		cfg.EndDate = &startDate

		assert.Equal(t, RecurrenceOnce, cfg.Recurrence())
		spec := cfg.ScheduleSpec("ResumoGrupo")
		assert.Equal(t, RecurrenceOnce, spec.Recurrence)
		assert.Equal(t, "22:00", spec.TimeOfDay.String())
		assert.Equal(t, time.Date(2026, 3, 13, 22, 0, 0, 0, time.Local), spec.FireAt())

		start, end := cfg.Window(now)
		assert.Equal(t, time.Date(2026, 3, 13, 9, 30, 0, 0, time.Local), start)
		// no end time on the fire day closes the window at the run
		assert.Equal(t, time.Date(2026, 3, 13, 22, 0, 0, 0, time.Local), end)
		assert.NoError(t, cfg.ValidateWindow())
	})

	t.Run("Window validation", func(t *testing.T) {
		day := time.Date(2026, 3, 13, 0, 0, 0, 0, time.Local)
		nextDay := day.AddDate(0, 0, 1)
		morning := MustClockTime("09:30")
		evening := MustClockTime("18:00")

		valid := DefaultGroupSummaryConfig("123@g.us")
		valid.StartDate = &day
		valid.StartTime = &morning
		valid.EndDate = &day
		valid.EndTime = &evening
		assert.NoError(t, valid.ValidateWindow())

		assert.NoError(t, DefaultGroupSummaryConfig("123@g.us").ValidateWindow())

		startOnly := DefaultGroupSummaryConfig("123@g.us")
		startOnly.StartDate = &day
		assert.NoError(t, startOnly.ValidateWindow())

		afterRun := valid
		afterRun.TimeOfDay = MustClockTime("09:00")
		assert.ErrorContains(t, afterRun.ValidateWindow(), "after the summary runs")

		nextDayEnd := valid
		nextDayEnd.EndDate = &nextDay
		nextDayEnd.EndTime = nil
		assert.Error(t, nextDayEnd.ValidateWindow())

		backwards := valid
		backwards.StartTime = &evening
		backwards.EndTime = &morning
		assert.ErrorContains(t, backwards.ValidateWindow(), "not after its start")

		noEndDate := valid
		noEndDate.EndDate = nil
		assert.Error(t, noEndDate.ValidateWindow())

		noStartDate := valid
		noStartDate.StartDate = nil
		assert.ErrorContains(t, noStartDate.ValidateWindow(), "start date")
	})
}

func TestScheduleSpecExpired(t *testing.T) {
	now := time.Date(2026, 3, 10, 22, 0, 0, 0, time.Local)
	spec := ScheduleSpec{Recurrence: RecurrenceOnce, TimeOfDay: MustClockTime("08:00")}

	spec.StartDate = time.Date(2026, 3, 9, 0, 0, 0, 0, time.Local)
	assert.True(t, spec.Expired(now))

	// today is accepted even after its time has passed
	spec.StartDate = time.Date(2026, 3, 10, 0, 0, 0, 0, time.Local)
	assert.False(t, spec.Expired(now))

	spec.StartDate = time.Date(2026, 3, 11, 0, 0, 0, 0, time.Local)
	assert.False(t, spec.Expired(now))

	daily := ScheduleSpec{Recurrence: RecurrenceDaily, TimeOfDay: MustClockTime("08:00")}
	assert.False(t, daily.Expired(now))
}

func TestSameDay(t *testing.T) {
	a := time.Date(2026, 3, 10, 0, 5, 0, 0, time.Local)
	assert.True(t, SameDay(a, time.Date(2026, 3, 10, 23, 59, 0, 0, time.Local)))
	assert.False(t, SameDay(a, time.Date(2026, 3, 11, 0, 0, 0, 0, time.Local)))
}
