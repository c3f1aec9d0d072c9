package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/groupsummary/internal/model"
	"github.com/t77yq/groupsummary/internal/service"
)

type scheduleFlags struct {
	at        string
	startDate string
	startTime string
	endDate   string
	endTime   string
	links     bool
	names     bool
	disabled  bool
}

func (f *scheduleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.at, "time", model.DefaultTimeOfDay.String(), "time the summary runs, daily or on --start-date (HH:MM)")
	cmd.Flags().StringVar(&f.startDate, "start-date", "", "run once on this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.startTime, "start-time", "", "start of the one-time summary window (HH:MM)")
	cmd.Flags().StringVar(&f.endDate, "end-date", "", "last day of the one-time window (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.endTime, "end-time", "", "end of the one-time window (HH:MM)")
	cmd.Flags().BoolVar(&f.links, "links", false, "include shared links in the summary")
	cmd.Flags().BoolVar(&f.names, "names", false, "include participant names in the summary")
	cmd.Flags().BoolVar(&f.disabled, "disabled", false, "save the settings without scheduling a job")
}

func (f *scheduleFlags) config(groupID string) (model.GroupSummaryConfig, error) {
	at, err := model.ParseClockTime(f.at)
	if err != nil {
		return model.GroupSummaryConfig{}, err
	}
	cfg := model.GroupSummaryConfig{
		GroupID:      groupID,
		TimeOfDay:    at,
		Enabled:      !f.disabled,
		IncludeLinks: f.links,
		IncludeNames: f.names,
	}

	if f.startDate == "" {
		if f.startTime != "" || f.endDate != "" || f.endTime != "" {
			return cfg, errors.New("--start-date is required for a one-time summary")
		}
		return cfg, nil
	}

	start, err := model.ParseDate(f.startDate)
	if err != nil {
		return cfg, err
	}
	cfg.StartDate = &start
	if f.startTime != "" {
		t, err := model.ParseClockTime(f.startTime)
		if err != nil {
			return cfg, err
		}
		cfg.StartTime = &t
	}
	if f.endDate != "" {
		end, err := model.ParseDate(f.endDate)
		if err != nil {
			return cfg, err
		}
		if end.Before(start) {
			return cfg, errors.New("--end-date must not be before --start-date")
		}
		cfg.EndDate = &end
	}
	if f.endTime != "" {
		t, err := model.ParseClockTime(f.endTime)
		if err != nil {
			return cfg, err
		}
		cfg.EndTime = &t
	}
	if err := cfg.ValidateWindow(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newScheduleCmd(a *app) *cobra.Command {
	var flags scheduleFlags

	cmd := &cobra.Command{
		Use:   "schedule <group_id>",
		Short: "Save a group's summary settings and register its job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config(args[0])
			if err != nil {
				return err
			}
			svc, err := a.scheduleService()
			if err != nil {
				return err
			}

			if existing, err := svc.Get(cfg.GroupID); err == nil {
				cfg.Script = existing.Script
			}

			if err := svc.Save(cmd.Context(), cfg); err != nil {
				if errors.Is(err, service.ErrScheduleDiverged) {
					fmt.Fprintf(cmd.ErrOrStderr(), "Settings for %s were saved but the scheduled job was not updated.\n", cfg.GroupID)
				}
				return err
			}

			if !cfg.Enabled {
				fmt.Fprintf(cmd.OutOrStdout(), "Summary disabled for %s; any scheduled job was removed.\n", cfg.GroupID)
				return nil
			}
			when := "daily at " + cfg.TimeOfDay.String()
			if cfg.StartDate != nil {
				spec := cfg.ScheduleSpec(a.cfg.Scheduler.JobPrefix)
				when = "once at " + spec.FireAt().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %s (%s) %s.\n", cfg.GroupID, svc.JobName(cfg.GroupID), when)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newUnscheduleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unschedule <group_id>",
		Short: "Remove a group's job and its settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.scheduleService()
			if err != nil {
				return err
			}
			if err := svc.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed the summary schedule for %s.\n", args[0])
			return nil
		},
	}
}

func newScheduledCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduled",
		Short: "List groups with summaries enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.scheduleService()
			if err != nil {
				return err
			}
			rows, err := svc.Scheduled()
			if err != nil {
				return err
			}

			names := make(map[string]string)
			if dir, err := a.groupDirectory(); err == nil {
				if views, err := dir.Fetch(cmd.Context(), false); err == nil {
					for _, v := range views {
						names[v.ID] = v.Subject
					}
				} else {
					a.logger.Debug("Group names unavailable", zap.Error(err))
				}
			}

			out := make([][]interface{}, 0, len(rows))
			for _, row := range rows {
				window := "last 24h"
				if row.StartDate != nil {
					start, end := row.Window(time.Now())
					window = start.Format("2006-01-02 15:04") + " → " + end.Format("2006-01-02 15:04")
				}
				out = append(out, []interface{}{
					row.GroupID,
					orDash(names[row.GroupID]),
					string(row.Recurrence()),
					row.ScheduleSpec(a.cfg.Scheduler.JobPrefix).TimeOfDay.String(),
					window,
					yesNo(row.IncludeLinks),
					yesNo(row.IncludeNames),
				})
			}
			renderTable(cmd.OutOrStdout(),
				[]string{"Group ID", "Name", "Recurrence", "Time", "Window", "Links", "Names"}, out)
			return nil
		},
	}
}

func newPreviewCmd(a *app) *cobra.Command {
	var flags scheduleFlags

	cmd := &cobra.Command{
		Use:   "preview <group_id>",
		Short: "Show the native job that schedule would register, without registering it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config(args[0])
			if err != nil {
				return err
			}
			registrar, err := a.nativeRegistrar()
			if err != nil {
				return err
			}
			script, err := a.scriptPath()
			if err != nil {
				return err
			}
			cfg.Script = script

			d, err := registrar.Describe(cfg.ScheduleSpec(a.cfg.Scheduler.JobPrefix))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Job:      %s\n", d.JobName)
			fmt.Fprintf(w, "Platform: %s\n", d.Platform)
			fmt.Fprintf(w, "Command:  %s\n", strings.Join(d.Argv, " "))
			fmt.Fprintf(w, "Next run: %s\n", d.NextRun.Format(time.RFC1123))
			switch {
			case len(d.CreateArgs) > 0:
				fmt.Fprintf(w, "\nschtasks %s\n", strings.Join(d.CreateArgs, " "))
			case d.CrontabLine != "":
				fmt.Fprintf(w, "\n%s\n", d.CrontabLine)
			case len(d.Plist) > 0:
				fmt.Fprintf(w, "\n%s.plist:\n%s", d.Label, d.Plist)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
