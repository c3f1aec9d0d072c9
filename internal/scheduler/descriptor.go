package scheduler

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/t77yq/groupsummary/internal/model"
)

// Invocation is what a scheduled job executes
type Invocation struct {
	// Interpreter is empty when the script is executed directly
	Interpreter string
	Script      string
}

// Argv returns the command line a job runs for jobName
func (i Invocation) Argv(jobName string) []string {
	argv := make([]string, 0, 3)
	if i.Interpreter != "" {
		argv = append(argv, i.Interpreter)
	}
	return append(argv, i.Script, TaskNameArg(jobName))
}

// TaskNameArg renders the task name argument passed to the script
func TaskNameArg(jobName string) string {
	return TaskNameFlag + "=" + jobName
}

// Descriptor is the platform-specific artifact for one job
type Descriptor struct {
	Platform Platform
	JobName  string
	Spec     model.ScheduleSpec
	Argv     []string
	NextRun  time.Time

	// Windows: arguments to schtasks
	CreateArgs []string

	// Cron: the crontab entry
	CrontabLine string

	// Launchd: job label, property list and immediate trigger
	Label     string
	Plist     []byte
	RunAtLoad bool
}

// NextRun computes the next firing instant of spec after now
func NextRun(spec model.ScheduleSpec, now time.Time) (time.Time, error) {
	if spec.Recurrence == model.RecurrenceOnce {
		return spec.FireAt(), nil
	}
	sched, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", spec.TimeOfDay.Minute, spec.TimeOfDay.Hour))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse daily schedule: %w", err)
	}
	return sched.Next(now), nil
}

// WindowsCreateArgs builds the schtasks /Create arguments for spec
func WindowsCreateArgs(spec model.ScheduleSpec, inv Invocation, dateLayout string) []string {
	args := []string{
		"/Create",
		"/TN", spec.JobName,
		"/TR", windowsCommandLine(inv.Argv(spec.JobName)),
		"/SC", string(spec.Recurrence),
		"/ST", spec.TimeOfDay.String(),
	}
	if spec.Recurrence == model.RecurrenceOnce {
		args = append(args, "/SD", spec.StartDate.Format(dateLayout))
	}
	return append(args, "/F")
}

// windowsCommandLine quotes the executable paths, leaving the task argument bare
func windowsCommandLine(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if i == len(argv)-1 {
			parts[i] = a
			continue
		}
		parts[i] = `"` + a + `"`
	}
	return strings.Join(parts, " ")
}

// CrontabLine builds the crontab entry for spec
func CrontabLine(spec model.ScheduleSpec, inv Invocation) (string, error) {
	dayFields := "* * *"
	if spec.Recurrence == model.RecurrenceOnce {
		dayFields = fmt.Sprintf("%d %d *", spec.StartDate.Day(), int(spec.StartDate.Month()))
	}
	timing := fmt.Sprintf("%d %d %s", spec.TimeOfDay.Minute, spec.TimeOfDay.Hour, dayFields)
	if _, err := cron.ParseStandard(timing); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	argv := inv.Argv(spec.JobName)
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	// cron turns a bare % into a newline, even inside quotes
	command := strings.ReplaceAll(strings.Join(quoted, " "), "%", `\%`)
	return timing + " " + command, nil
}

// shellQuote single-quotes s unless it only contains characters the shell leaves alone
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("_@%+=:,./-", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// SanitizeLabel replaces characters that are not valid in a launchd label
func SanitizeLabel(jobName string) string {
	var b strings.Builder
	for _, r := range jobName {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}

type calendarEntry struct {
	Key   string
	Value int
}

type plistData struct {
	Label     string
	Args      []string
	Calendar  []calendarEntry
	RunAtLoad bool
	StdoutLog string
	StderrLog string
	PathEnv   string
	Lang      string
}

var plistTemplate = template.Must(template.New("plist").Funcs(template.FuncMap{
	"xml": xmlEscape,
}).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{xml .Label}}</string>
	<key>ProgramArguments</key>
	<array>
{{- range .Args}}
		<string>{{xml .}}</string>
{{- end}}
	</array>
{{- if .Calendar}}
	<key>StartCalendarInterval</key>
	<dict>
{{- range .Calendar}}
		<key>{{.Key}}</key>
		<integer>{{.Value}}</integer>
{{- end}}
	</dict>
{{- end}}
	<key>RunAtLoad</key>
	{{if .RunAtLoad}}<true/>{{else}}<false/>{{end}}
	<key>StandardOutPath</key>
	<string>{{xml .StdoutLog}}</string>
	<key>StandardErrorPath</key>
	<string>{{xml .StderrLog}}</string>
	<key>EnvironmentVariables</key>
	<dict>
		<key>PATH</key>
		<string>{{xml .PathEnv}}</string>
		<key>LANG</key>
		<string>{{xml .Lang}}</string>
	</dict>
</dict>
</plist>
`))

func xmlEscape(s string) (string, error) {
	var b bytes.Buffer
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", err
	}
	return b.String(), nil
}

// LaunchdPlist builds the property list for spec. A ONCE job dated today runs
// at load and keeps a full calendar trigger while its time is still ahead. A
// later ONCE job gets only the calendar trigger, a DAILY job hour and minute.
func LaunchdPlist(spec model.ScheduleSpec, inv Invocation, now time.Time, logDir string) (label string, plist []byte, runAtLoad bool, err error) {
	label = SanitizeLabel(spec.JobName)
	data := plistData{
		Label:     label,
		Args:      inv.Argv(spec.JobName),
		StdoutLog: filepath.Join(logDir, label+".out.log"),
		StderrLog: filepath.Join(logDir, label+".err.log"),
		PathEnv:   launchdPathEnv,
		Lang:      launchdLang,
	}

	switch {
	case spec.Recurrence == model.RecurrenceOnce && model.SameDay(now, spec.StartDate):
		data.RunAtLoad = true
		// a run at load before the time is skipped; the calendar entry makes the real one
		if spec.FireAt().After(now) {
			data.Calendar = onceCalendar(spec)
		}
	case spec.Recurrence == model.RecurrenceOnce:
		data.Calendar = onceCalendar(spec)
	default:
		data.Calendar = []calendarEntry{
			{Key: "Hour", Value: spec.TimeOfDay.Hour},
			{Key: "Minute", Value: spec.TimeOfDay.Minute},
		}
	}

	var buf bytes.Buffer
	if err := plistTemplate.Execute(&buf, data); err != nil {
		return "", nil, false, fmt.Errorf("failed to render plist: %w", err)
	}
	return label, buf.Bytes(), data.RunAtLoad, nil
}

func onceCalendar(spec model.ScheduleSpec) []calendarEntry {
	return []calendarEntry{
		{Key: "Year", Value: spec.StartDate.Year()},
		{Key: "Month", Value: int(spec.StartDate.Month())},
		{Key: "Day", Value: spec.StartDate.Day()},
		{Key: "Hour", Value: spec.TimeOfDay.Hour},
		{Key: "Minute", Value: spec.TimeOfDay.Minute},
	}
}
