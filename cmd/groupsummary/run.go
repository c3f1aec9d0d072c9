package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/groupsummary/internal/model"
)

func newRunCmd(a *app) *cobra.Command {
	var taskName string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Summarise a group now, as its scheduled job does",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd, a, taskName)
		},
	}
	cmd.Flags().StringVar(&taskName, "task_name", "", "task name <prefix>_<group_id>")
	cmd.MarkFlagRequired("task_name")
	return cmd
}

// runTask is what a native job executes
func runTask(cmd *cobra.Command, a *app, taskName string) error {
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Running scheduled task", taskName)

	runner, err := a.summaryRunner()
	if err != nil {
		return err
	}
	svc, err := a.scheduleService()
	if err != nil {
		return err
	}

	res, runErr := runner.Run(cmd.Context(), taskName)
	if groupID, err := model.GroupIDFromJobName(taskName); err == nil {
		svc.RecordRun(cmd.Context(), groupID, runErr)
	}
	if runErr != nil {
		return runErr
	}

	fmt.Fprintf(w, "Group: %s\n", res.GroupName)
	if res.Skipped {
		fmt.Fprintf(w, "Nothing sent: %s.\n", res.Reason)
	} else {
		fmt.Fprintf(w, "Summary of %d messages sent.\n", res.Messages)
	}

	if res.Recurrence == model.RecurrenceOnce && !res.Early {
		if err := svc.Complete(cmd.Context(), res.GroupID); err != nil {
			a.logger.Warn("Failed to retire one-time schedule",
				zap.String("group_id", res.GroupID),
				zap.Error(err))
		}
	}
	return nil
}
