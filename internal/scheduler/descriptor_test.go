package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/groupsummary/internal/model"
)

func TestInvocationArgv(t *testing.T) {
	inv := Invocation{Script: "/opt/summary/summary.py"}
	assert.Equal(t, []string{"/opt/summary/summary.py", "--task_name=ResumoGrupo_1@g.us"}, inv.Argv("ResumoGrupo_1@g.us"))

	inv.Interpreter = "/usr/bin/python3"
	assert.Equal(t, []string{"/usr/bin/python3", "/opt/summary/summary.py", "--task_name=ResumoGrupo_1@g.us"}, inv.Argv("ResumoGrupo_1@g.us"))
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"/usr/bin/python3", "/usr/bin/python3"},
		{"--task_name=ResumoGrupo_1@g.us", "--task_name=ResumoGrupo_1@g.us"},
		{"/Users/me/My Scripts/s.py", "'/Users/me/My Scripts/s.py'"},
		{"it's", `'it'\''s'`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shellQuote(tt.in), tt.in)
	}
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "ResumoGrupo_123_g_us", SanitizeLabel("ResumoGrupo_123@g.us"))
	assert.Equal(t, "ResumoGrupo_120363-abc_g_us", SanitizeLabel("ResumoGrupo_120363-abc@g.us"))
	assert.Equal(t, "a_b_c", SanitizeLabel("a b/c"))
}

func TestCrontabLine(t *testing.T) {
	inv := Invocation{Script: "/opt/summary"}

	t.Run("Daily", func(t *testing.T) {
		line, err := CrontabLine(model.ScheduleSpec{
			JobName:    "ResumoGrupo_123@g.us",
			ScriptPath: "/opt/summary",
			Recurrence: model.RecurrenceDaily,
			TimeOfDay:  model.MustClockTime("22:00"),
		}, inv)
		require.NoError(t, err)
		assert.Equal(t, "0 22 * * * /opt/summary --task_name=ResumoGrupo_123@g.us", line)
	})

	t.Run("Once", func(t *testing.T) {
		line, err := CrontabLine(model.ScheduleSpec{
			JobName:    "ResumoGrupo_123@g.us",
			ScriptPath: "/opt/summary",
			Recurrence: model.RecurrenceOnce,
			TimeOfDay:  model.MustClockTime("09:30"),
			StartDate:  time.Date(2026, time.March, 13, 0, 0, 0, 0, time.Local),
		}, inv)
		require.NoError(t, err)
		assert.Equal(t, "30 9 13 3 * /opt/summary --task_name=ResumoGrupo_123@g.us", line)
	})

	t.Run("Percent signs are escaped", func(t *testing.T) {
		line, err := CrontabLine(model.ScheduleSpec{
			JobName:    "ResumoGrupo_123@g.us",
			ScriptPath: "/opt/100%/summary",
			Recurrence: model.RecurrenceDaily,
			TimeOfDay:  model.MustClockTime("22:00"),
		}, Invocation{Script: "/opt/100%/summary"})
		require.NoError(t, err)
		assert.Equal(t, `0 22 * * * /opt/100\%/summary --task_name=ResumoGrupo_123@g.us`, line)

		line, err = CrontabLine(model.ScheduleSpec{
			JobName:    "ResumoGrupo_123@g.us",
			ScriptPath: "/opt/my %d dir/summary",
			Recurrence: model.RecurrenceDaily,
			TimeOfDay:  model.MustClockTime("22:00"),
		}, Invocation{Script: "/opt/my %d dir/summary"})
		require.NoError(t, err)
		assert.Equal(t, `0 22 * * * '/opt/my \%d dir/summary' --task_name=ResumoGrupo_123@g.us`, line)
	})
}

func TestNextRun(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.Local)

	next, err := NextRun(model.ScheduleSpec{Recurrence: model.RecurrenceDaily, TimeOfDay: model.MustClockTime("22:00")}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 10, 22, 0, 0, 0, time.Local), next)

	next, err = NextRun(model.ScheduleSpec{Recurrence: model.RecurrenceDaily, TimeOfDay: model.MustClockTime("09:30")}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 11, 9, 30, 0, 0, time.Local), next)

	next, err = NextRun(model.ScheduleSpec{
		Recurrence: model.RecurrenceOnce,
		TimeOfDay:  model.MustClockTime("09:30"),
		StartDate:  time.Date(2026, time.March, 13, 0, 0, 0, 0, time.Local),
	}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 13, 9, 30, 0, 0, time.Local), next)
}

func TestLaunchdPlistEscapesArguments(t *testing.T) {
	spec := model.ScheduleSpec{
		JobName:    "ResumoGrupo_123@g.us",
		Recurrence: model.RecurrenceDaily,
		TimeOfDay:  model.MustClockTime("22:00"),
	}
	label, plist, runAtLoad, err := LaunchdPlist(spec, Invocation{Script: "/tmp/a&b/<s>.py"}, time.Now(), "/tmp/logs")
	require.NoError(t, err)
	assert.Equal(t, "ResumoGrupo_123_g_us", label)
	assert.False(t, runAtLoad)
	assert.Contains(t, string(plist), "<string>/tmp/a&amp;b/&lt;s&gt;.py</string>")
	assert.Contains(t, string(plist), "<string>/tmp/logs/ResumoGrupo_123_g_us.out.log</string>")
}
