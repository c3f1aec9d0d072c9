package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/t77yq/groupsummary/internal/model"
	"github.com/t77yq/groupsummary/internal/monitor"
	"github.com/t77yq/groupsummary/internal/storage"
)

func newTasksCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "Print the host scheduler's job listing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.scheduleService()
			if err != nil {
				return err
			}
			out, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No scheduled jobs.")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newGroupsCmd(a *app) *cobra.Command {
	var (
		refresh bool
		owner   string
	)

	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List the instance's groups with their summary settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.groupDirectory()
			if err != nil {
				return err
			}
			views, err := dir.Fetch(cmd.Context(), refresh)
			if err != nil {
				return err
			}
			if owner != "" {
				views = dir.FilterByOwner(owner)
			}

			rows := make([][]interface{}, 0, len(views))
			for _, v := range views {
				rows = append(rows, []interface{}{
					v.ID,
					v.Subject,
					v.Size,
					yesNo(v.Config.Enabled),
					v.Config.TimeOfDay.String(),
					string(v.Config.Recurrence()),
				})
			}
			renderTable(cmd.OutOrStdout(),
				[]string{"Group ID", "Name", "Members", "Enabled", "Time", "Recurrence"}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch from the API instead of the cache")
	cmd.Flags().StringVar(&owner, "owner", "", "only groups owned by this JID")
	return cmd
}

func newReconcileCmd(a *app) *cobra.Command {
	var apply bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare saved settings with the host scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.scheduleService()
			if err != nil {
				return err
			}
			drifts, err := svc.Reconcile(cmd.Context(), apply)
			if err != nil {
				return err
			}
			if len(drifts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Settings and scheduled jobs agree.")
				return nil
			}

			rows := make([][]interface{}, 0, len(drifts))
			failed := 0
			for _, d := range drifts {
				if d.Error != "" {
					failed++
				}
				rows = append(rows, []interface{}{
					d.GroupID, d.JobName, yesNo(d.Enabled), yesNo(d.Installed), yesNo(d.Repaired), orDash(d.Error),
				})
			}
			renderTable(cmd.OutOrStdout(),
				[]string{"Group ID", "Job", "Enabled", "Installed", "Repaired", "Error"}, rows)
			if failed > 0 {
				return fmt.Errorf("%d schedules could not be repaired", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "install or remove jobs to match the settings")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		filter    storage.HistoryFilter
		action    string
		limit     int
		offset    int
		pruneDays int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show registration and run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h := a.registrationHistory()
			if h == nil {
				return errors.New("registration history is not available")
			}

			if pruneDays > 0 {
				n, err := h.DeleteBefore(cmd.Context(), time.Now().AddDate(0, 0, -pruneDays))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d records older than %d days.\n", n, pruneDays)
				return nil
			}

			filter.Action = storage.RegistrationAction(action)
			records, err := h.List(cmd.Context(), filter, offset, limit)
			if err != nil {
				return err
			}
			total, err := h.Count(cmd.Context(), filter)
			if err != nil {
				return err
			}

			rows := make([][]interface{}, 0, len(records))
			for _, r := range records {
				next := "-"
				if r.NextRun != nil {
					next = r.NextRun.Format("2006-01-02 15:04")
				}
				rows = append(rows, []interface{}{
					r.CreatedAt.Format("2006-01-02 15:04:05"),
					r.GroupID,
					string(r.Action),
					string(r.Outcome),
					orDash(r.Recurrence),
					orDash(r.TimeOfDay),
					next,
					orDash(r.Error),
				})
			}
			renderTable(cmd.OutOrStdout(),
				[]string{"When", "Group ID", "Action", "Outcome", "Recurrence", "Time", "Next run", "Error"}, rows)
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d records\n", len(records), total)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.GroupID, "group", "", "only this group")
	cmd.Flags().StringVar(&filter.JobName, "job", "", "only this job name")
	cmd.Flags().StringVar(&action, "action", "", "only create, delete or run")
	cmd.Flags().IntVar(&limit, "limit", 20, "records to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "records to skip")
	cmd.Flags().IntVar(&pruneDays, "prune-days", 0, "delete records older than this many days instead of listing")
	return cmd
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show host and scheduler details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := monitor.Collect(cmd.Context(), a.logger)
			if err != nil {
				return err
			}
			scheduler := string(info.Scheduler)
			if info.SchedulerError != "" {
				scheduler = info.SchedulerError
			}
			renderTable(cmd.OutOrStdout(), []string{"Property", "Value"}, [][]interface{}{
				{"Hostname", info.Hostname},
				{"OS", fmt.Sprintf("%s %s (%s)", info.Platform, info.PlatformVersion, info.OS)},
				{"Kernel", info.KernelVersion},
				{"Arch", info.Arch},
				{"Uptime", info.Uptime.String()},
				{"CPU", fmt.Sprintf("%.1f%%", info.CPUUsage)},
				{"Memory", fmt.Sprintf("%.1f%%", info.MemoryUsage)},
				{"Scheduler", scheduler},
				{"Job prefix", a.cfg.Scheduler.JobPrefix},
				{"Config file", a.cfg.Paths.ConfigCSV},
				{"Default time", model.DefaultTimeOfDay.String()},
			})
			return nil
		},
	}
}
